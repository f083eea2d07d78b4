package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Donghyun-Son/srtgo/internal/db"
	"github.com/Donghyun-Son/srtgo/internal/rail"
)

const selectCols = `id,user_id,rail_type,departure_station,arrival_station,departure_date,departure_time,
adults,children,seniors,disability1to3,disability4to6,train_numbers,seat_preference,auto_payment,
status,message,attempts,result,error_message,created_at,updated_at,completed_at`

// active lists the statuses a poll run may still write from.
const active = `('pending','searching')`

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func (r *Repo) Create(ctx context.Context, rec Record) (int64, error) {
	trains := rec.Trains
	if trains == nil {
		trains = []string{}
	}
	var id int64
	err := r.db.QueryRow(ctx, `
INSERT INTO reservations(user_id,rail_type,departure_station,arrival_station,departure_date,departure_time,
	adults,children,seniors,disability1to3,disability4to6,train_numbers,seat_preference,auto_payment,status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,'pending')
RETURNING id`,
		rec.UserID, string(rec.Rail), rec.Departure, rec.Arrival, rec.Date, rec.Time,
		rec.Passengers.Adult, rec.Passengers.Child, rec.Passengers.Senior, rec.Passengers.Disability1To3, rec.Passengers.Disability4To6,
		trains, string(rec.Seat), rec.AutoPay,
	).Scan(&id)
	return id, wrap(err)
}

func (r *Repo) Get(ctx context.Context, id int64) (Record, error) {
	return scanRecord(r.db.QueryRow(ctx, `SELECT `+selectCols+` FROM reservations WHERE id=$1`, id))
}

func (r *Repo) GetForUser(ctx context.Context, id, userID int64) (Record, error) {
	return scanRecord(r.db.QueryRow(ctx, `SELECT `+selectCols+` FROM reservations WHERE id=$1 AND user_id=$2`, id, userID))
}

func (r *Repo) ListByUser(ctx context.Context, userID int64) ([]Record, error) {
	return r.list(ctx, `SELECT `+selectCols+` FROM reservations WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *Repo) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	return r.list(ctx, `SELECT `+selectCols+` FROM reservations WHERE status=$1 ORDER BY id`, string(status))
}

func (r *Repo) Status(ctx context.Context, id int64) (Status, error) {
	var s string
	err := r.db.QueryRow(ctx, `SELECT status FROM reservations WHERE id=$1`, id).Scan(&s)
	if err != nil {
		return "", wrap(err)
	}
	return Status(s), nil
}

func (r *Repo) MarkSearching(ctx context.Context, id int64) error {
	return r.transition(ctx, id, `
UPDATE reservations SET status='searching', message='searching for seats', error_message='', updated_at=now()
WHERE id=$1 AND status IN `+active, id)
}

func (r *Repo) UpdateProgress(ctx context.Context, id int64, message string, attempts int) error {
	return r.transition(ctx, id, `
UPDATE reservations SET message=$2, attempts=$3, updated_at=now()
WHERE id=$1 AND status='searching'`, id, message, attempts)
}

func (r *Repo) MarkReserved(ctx context.Context, id int64, res Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("reservation: encode result: %w", err)
	}
	return r.transition(ctx, id, `
UPDATE reservations SET status='reserved', result=$2, message=$3, error_message='', completed_at=now(), updated_at=now()
WHERE id=$1 AND status IN `+active, id, b, res.Message)
}

// UpdateResult rewrites the payload of an already reserved record, e.g. with the payment outcome.
func (r *Repo) UpdateResult(ctx context.Context, id int64, res Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("reservation: encode result: %w", err)
	}
	return r.transition(ctx, id, `
UPDATE reservations SET result=$2, updated_at=now()
WHERE id=$1 AND status='reserved'`, id, b)
}

func (r *Repo) MarkFailed(ctx context.Context, id int64, message string) error {
	return r.transition(ctx, id, `
UPDATE reservations SET status='failed', error_message=$2, message=$2, completed_at=now(), updated_at=now()
WHERE id=$1 AND status IN `+active, id, message)
}

func (r *Repo) MarkCancelled(ctx context.Context, id int64) error {
	return r.transition(ctx, id, `
UPDATE reservations SET status='cancelled', message='cancelled', completed_at=now(), updated_at=now()
WHERE id=$1 AND status IN `+active, id)
}

// ResetForRepoll moves a terminal record back to pending so a new run can start from scratch.
func (r *Repo) ResetForRepoll(ctx context.Context, id int64) error {
	return r.transition(ctx, id, `
UPDATE reservations SET status='pending', result=NULL, message='', error_message='', attempts=0, completed_at=NULL, updated_at=now()
WHERE id=$1 AND status IN ('reserved','failed','cancelled')`, id)
}

func (r *Repo) transition(ctx context.Context, id int64, sql string, args ...any) error {
	n, err := r.db.ExecRows(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("reservation %d: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Status(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("reservation %d: %w", id, ErrInvalidTransition)
}

func (r *Repo) list(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row db.Row) (Record, error) {
	var (
		rec         Record
		railType    string
		seat        string
		status      string
		result      []byte
		completedAt *time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &railType, &rec.Departure, &rec.Arrival, &rec.Date, &rec.Time,
		&rec.Passengers.Adult, &rec.Passengers.Child, &rec.Passengers.Senior, &rec.Passengers.Disability1To3, &rec.Passengers.Disability4To6,
		&rec.Trains, &seat, &rec.AutoPay,
		&status, &rec.Message, &rec.Attempts, &result, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt, &completedAt,
	)
	if err != nil {
		return Record{}, wrap(err)
	}
	rec.Rail = rail.Variant(railType)
	rec.Seat = rail.SeatOption(seat)
	rec.Status = Status(status)
	rec.CompletedAt = completedAt
	if len(result) > 0 {
		var res Result
		if err := json.Unmarshal(result, &res); err != nil {
			return Record{}, fmt.Errorf("reservation %d: decode result: %w", rec.ID, err)
		}
		rec.Result = &res
	}
	return rec, nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if db.IsNotFound(err) {
		return ErrNotFound
	}
	return db.WrapNotFound(err)
}

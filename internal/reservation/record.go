package reservation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Donghyun-Son/srtgo/internal/rail"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSearching Status = "searching"
	StatusReserved  Status = "reserved"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusReserved || s == StatusFailed || s == StatusCancelled
}

var (
	ErrNotFound          = errors.New("reservation: not found")
	ErrInvalidTransition = errors.New("reservation: invalid status transition")
)

// CanTransition reports whether a record may move from one status to another. The only way
// out of a terminal status is the explicit re-poll reset back to pending.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusSearching:
		return from == StatusPending || from == StatusSearching
	case StatusReserved, StatusFailed, StatusCancelled:
		return from == StatusPending || from == StatusSearching
	case StatusPending:
		return from.Terminal()
	}
	return false
}

// MaxPassengers is the per-booking cap both backends enforce.
const MaxPassengers = 9

type PassengerCounts struct {
	Adult          int `json:"adult"`
	Child          int `json:"child"`
	Senior         int `json:"senior"`
	Disability1To3 int `json:"disability1to3"`
	Disability4To6 int `json:"disability4to6"`
}

func (p PassengerCounts) Total() int {
	return p.Adult + p.Child + p.Senior + p.Disability1To3 + p.Disability4To6
}

func (p PassengerCounts) Validate() error {
	for _, c := range []struct {
		name string
		n    int
	}{
		{"adult", p.Adult},
		{"child", p.Child},
		{"senior", p.Senior},
		{"disability1to3", p.Disability1To3},
		{"disability4to6", p.Disability4To6},
	} {
		if c.n < 0 || c.n > MaxPassengers {
			return fmt.Errorf("%s count must be between 0 and %d", c.name, MaxPassengers)
		}
	}
	total := p.Total()
	if total < 1 {
		return fmt.Errorf("at least one passenger required")
	}
	if total > MaxPassengers {
		return fmt.Errorf("at most %d passengers per booking", MaxPassengers)
	}
	return nil
}

type Record struct {
	ID         int64
	UserID     int64
	Rail       rail.Variant
	Departure  string
	Arrival    string
	Date       string // YYYYMMDD
	Time       string // HHMMSS
	Passengers PassengerCounts
	// Trains restricts booking to these train numbers. Empty accepts any train.
	Trains  []string
	Seat    rail.SeatOption
	AutoPay bool

	Status   Status
	Message  string
	Attempts int
	Result   *Result
	Error    string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

type PaymentStatus string

const (
	PaymentCompleted    PaymentStatus = "completed"
	PaymentFailed       PaymentStatus = "failed"
	PaymentNoCardOnFile PaymentStatus = "no_card_on_file"
)

type Payment struct {
	Status     PaymentStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	CardLast4  string        `json:"card_last4,omitempty"`
	HolderType string        `json:"holder_type,omitempty"`
	PaidAt     *time.Time    `json:"paid_at,omitempty"`
}

// Result is the payload stored once a booking holds tickets.
type Result struct {
	TrainNumber   string        `json:"train_number"`
	TrainName     string        `json:"train_name"`
	DepartureTime string        `json:"departure_time"`
	ArrivalTime   string        `json:"arrival_time"`
	ReservationID string        `json:"reservation_id"`
	Message       string        `json:"message"`
	Tickets       []rail.Ticket `json:"tickets"`
	Waiting       bool          `json:"is_waiting"`
	Payment       *Payment      `json:"payment,omitempty"`
	ReservedAt    time.Time     `json:"reserved_at"`
	ReleasedAt    *time.Time    `json:"released_at,omitempty"`
}

func (r Record) Validate() error {
	if r.Rail != rail.SRT && r.Rail != rail.KTX {
		return fmt.Errorf("rail_type must be SRT or KTX")
	}
	if strings.TrimSpace(r.Departure) == "" || strings.TrimSpace(r.Arrival) == "" {
		return fmt.Errorf("departure and arrival stations required")
	}
	if r.Departure == r.Arrival {
		return fmt.Errorf("departure and arrival must differ")
	}
	if !digits(r.Date, 8) {
		return fmt.Errorf("date must be YYYYMMDD")
	}
	if _, err := time.Parse("20060102", r.Date); err != nil {
		return fmt.Errorf("date must be YYYYMMDD")
	}
	if !digits(r.Time, 6) {
		return fmt.Errorf("time must be HHMMSS")
	}
	if _, err := time.Parse("150405", r.Time); err != nil {
		return fmt.Errorf("time must be HHMMSS")
	}
	if err := r.Passengers.Validate(); err != nil {
		return err
	}
	if !r.Seat.Valid() {
		return fmt.Errorf("seat preference must be one of GENERAL_FIRST, GENERAL_ONLY, SPECIAL_FIRST, SPECIAL_ONLY")
	}
	return nil
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

package reservation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore keeps records in memory with the same transition rules as Repo.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	recs   map[int64]*Record
	now    func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[int64]*Record), now: time.Now}
}

// Put stores rec as-is, keeping its ID when set. It exists for seeding tests.
func (m *MemStore) Put(rec Record) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == 0 {
		m.nextID++
		rec.ID = m.nextID
	} else if rec.ID > m.nextID {
		m.nextID = rec.ID
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	cp := rec
	m.recs[rec.ID] = &cp
	return rec.ID
}

func (m *MemStore) Create(_ context.Context, rec Record) (int64, error) {
	rec.ID = 0
	rec.Status = StatusPending
	rec.Result = nil
	rec.CreatedAt = m.now()
	rec.UpdatedAt = rec.CreatedAt
	return m.Put(rec), nil
}

func (m *MemStore) Get(_ context.Context, id int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(rec), nil
}

func (m *MemStore) GetForUser(ctx context.Context, id, userID int64) (Record, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.UserID != userID {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemStore) ListByUser(_ context.Context, userID int64) ([]Record, error) {
	return m.filter(func(r *Record) bool { return r.UserID == userID }), nil
}

func (m *MemStore) ListByStatus(_ context.Context, status Status) ([]Record, error) {
	return m.filter(func(r *Record) bool { return r.Status == status }), nil
}

func (m *MemStore) Status(_ context.Context, id int64) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return "", ErrNotFound
	}
	return rec.Status, nil
}

func (m *MemStore) MarkSearching(_ context.Context, id int64) error {
	return m.update(id, StatusSearching, func(r *Record) {
		r.Message = "searching for seats"
		r.Error = ""
	})
}

func (m *MemStore) UpdateProgress(_ context.Context, id int64, message string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusSearching {
		return fmt.Errorf("reservation %d: %w", id, ErrInvalidTransition)
	}
	rec.Message = message
	rec.Attempts = attempts
	rec.UpdatedAt = m.now()
	return nil
}

func (m *MemStore) MarkReserved(_ context.Context, id int64, res Result) error {
	return m.update(id, StatusReserved, func(r *Record) {
		r.Result = cloneResult(&res)
		r.Message = res.Message
		r.Error = ""
		r.CompletedAt = ptr(m.now())
	})
}

func (m *MemStore) UpdateResult(_ context.Context, id int64, res Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusReserved {
		return fmt.Errorf("reservation %d: %w", id, ErrInvalidTransition)
	}
	rec.Result = cloneResult(&res)
	rec.UpdatedAt = m.now()
	return nil
}

func (m *MemStore) MarkFailed(_ context.Context, id int64, message string) error {
	return m.update(id, StatusFailed, func(r *Record) {
		r.Error = message
		r.Message = message
		r.CompletedAt = ptr(m.now())
	})
}

func (m *MemStore) MarkCancelled(_ context.Context, id int64) error {
	return m.update(id, StatusCancelled, func(r *Record) {
		r.Message = "cancelled"
		r.CompletedAt = ptr(m.now())
	})
}

func (m *MemStore) ResetForRepoll(_ context.Context, id int64) error {
	return m.update(id, StatusPending, func(r *Record) {
		r.Result = nil
		r.Message = ""
		r.Error = ""
		r.Attempts = 0
		r.CompletedAt = nil
	})
}

func (m *MemStore) update(id int64, to Status, fn func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(rec.Status, to) {
		return fmt.Errorf("reservation %d: %s -> %s: %w", id, rec.Status, to, ErrInvalidTransition)
	}
	rec.Status = to
	fn(rec)
	rec.UpdatedAt = m.now()
	return nil
}

func (m *MemStore) filter(keep func(*Record) bool) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.recs {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clone(r *Record) Record {
	cp := *r
	cp.Trains = append([]string(nil), r.Trains...)
	cp.Result = cloneResult(r.Result)
	if r.CompletedAt != nil {
		cp.CompletedAt = ptr(*r.CompletedAt)
	}
	return cp
}

func cloneResult(res *Result) *Result {
	if res == nil {
		return nil
	}
	cp := *res
	cp.Tickets = append(cp.Tickets[:0:0], res.Tickets...)
	if res.Payment != nil {
		p := *res.Payment
		cp.Payment = &p
	}
	return &cp
}

func ptr[T any](v T) *T { return &v }

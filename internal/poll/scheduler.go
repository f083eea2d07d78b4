package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlreadyPolling = errors.New("poll: reservation is already being polled")
	ErrNotPolling     = errors.New("poll: reservation is not being polled")

	// ErrStopped is the cancel cause of a run stopped on request; the run marks its record
	// cancelled.
	ErrStopped = errors.New("poll: stopped")
	// ErrShutdown is the cancel cause used by Shutdown; the record is left searching so the
	// next process resumes it.
	ErrShutdown = errors.New("poll: shutting down")
)

// Runner executes one polling run to completion. *Engine is the production Runner.
type Runner interface {
	Run(ctx context.Context, id int64) Outcome
}

// Handle describes a started run.
type Handle struct {
	ReservationID int64
	RunID         uuid.UUID
	StartedAt     time.Time

	done <-chan struct{}
}

// Done is closed once the run has returned.
func (h Handle) Done() <-chan struct{} { return h.done }

type task struct {
	handle Handle
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Scheduler keeps at most one run per reservation. A stopped run stays in draining until it
// has returned, so a restart can never overlap the run it replaces. The registry lock is never
// held while a run does I/O.
type Scheduler struct {
	runner Runner
	log    *slog.Logger

	base     context.Context
	shutdown context.CancelCauseFunc

	mu       sync.Mutex
	tasks    map[int64]*task
	draining map[int64]*task
	closed   bool
	wg       sync.WaitGroup
}

func NewScheduler(r Runner, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancelCause(context.Background())
	return &Scheduler{
		runner:   r,
		log:      log.With("component", "scheduler"),
		base:     base,
		shutdown: cancel,
		tasks:    make(map[int64]*task),
		draining: make(map[int64]*task),
	}
}

// Start launches a run for id and returns without touching the record. It reports
// ErrAlreadyPolling while a previous run for id is active or still unwinding from Stop.
func (s *Scheduler) Start(id int64) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Handle{}, ErrShutdown
	}
	if _, ok := s.tasks[id]; ok {
		return Handle{}, ErrAlreadyPolling
	}
	if _, ok := s.draining[id]; ok {
		return Handle{}, ErrAlreadyPolling
	}

	ctx, cancel := context.WithCancelCause(s.base)
	t := &task{cancel: cancel, done: make(chan struct{})}
	t.handle = Handle{ReservationID: id, RunID: uuid.New(), StartedAt: time.Now(), done: t.done}
	s.tasks[id] = t

	s.wg.Add(1)
	go s.run(ctx, id, t)
	s.log.Info("polling started", "reservation_id", id, "run_id", t.handle.RunID)
	return t.handle, nil
}

func (s *Scheduler) run(ctx context.Context, id int64, t *task) {
	defer s.wg.Done()
	defer close(t.done)
	defer t.cancel(nil)

	out := s.runner.Run(ctx, id)

	s.mu.Lock()
	if cur, ok := s.tasks[id]; ok && cur == t {
		delete(s.tasks, id)
	}
	if cur, ok := s.draining[id]; ok && cur == t {
		delete(s.draining, id)
	}
	s.mu.Unlock()
	s.log.Info("polling ended", "reservation_id", id, "run_id", t.handle.RunID, "outcome", string(out))
}

// Stop signals the run for id and returns without waiting. The run is no longer reported
// as polling, but Start refuses id until it has unwound; see WaitStopped.
func (s *Scheduler) Stop(id int64) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
		s.draining[id] = t
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotPolling
	}
	t.cancel(ErrStopped)
	s.log.Info("polling stop requested", "reservation_id", id, "run_id", t.handle.RunID)
	return nil
}

func (s *Scheduler) IsPolling(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// WaitStopped blocks until a stopped run for id has returned or ctx ends. It returns nil at
// once when nothing for id is unwinding.
func (s *Scheduler) WaitStopped(ctx context.Context, id int64) error {
	s.mu.Lock()
	t, ok := s.draining[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup returns the handle of the active run for id.
func (s *Scheduler) Lookup(id int64) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Handle{}, false
	}
	return t.handle, true
}

// Active returns the ids currently registered.
func (s *Scheduler) Active() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown interrupts every run with ErrShutdown, refuses new ones and waits for the
// goroutines to return or ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.shutdown(ErrShutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

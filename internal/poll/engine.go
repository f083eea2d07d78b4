package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Donghyun-Son/srtgo/internal/clock"
	"github.com/Donghyun-Son/srtgo/internal/credentials"
	"github.com/Donghyun-Son/srtgo/internal/events"
	"github.com/Donghyun-Son/srtgo/internal/notify"
	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
)

// Store is the part of the reservation repository a run reads and writes.
type Store interface {
	Get(ctx context.Context, id int64) (reservation.Record, error)
	Status(ctx context.Context, id int64) (reservation.Status, error)
	MarkSearching(ctx context.Context, id int64) error
	UpdateProgress(ctx context.Context, id int64, message string, attempts int) error
	MarkReserved(ctx context.Context, id int64, res reservation.Result) error
	UpdateResult(ctx context.Context, id int64, res reservation.Result) error
	MarkFailed(ctx context.Context, id int64, message string) error
	MarkCancelled(ctx context.Context, id int64) error
}

type CredentialStore interface {
	LoginCredentials(ctx context.Context, userID int64, v rail.Variant) (credentials.Login, error)
	PaymentCard(ctx context.Context, userID int64, v rail.Variant) (rail.Card, error)
}

type ClientFactory interface {
	NewClient(v rail.Variant, scope string) (rail.Client, error)
}

type EventPublisher interface {
	PublishReserved(ctx context.Context, ev events.ReservationConfirmed) error
}

type Outcome string

const (
	OutcomeReserved  Outcome = "reserved"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeInterrupted means the process is shutting down; the record stays searching.
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeSkipped means the run never started or found the record finished by someone else.
	OutcomeSkipped Outcome = "skipped"
)

const (
	DefaultHorizon              = 24 * time.Hour
	DefaultMaxUnexpected        = 10
	DefaultTransientNoticeAfter = 30
)

// Engine runs the booking loop for one reservation at a time. A single Engine is shared by
// every run; per-run state lives in run.
type Engine struct {
	Store       Store
	Credentials CredentialStore
	Clients     ClientFactory
	Sink        notify.Sink
	Events      EventPublisher // optional
	Classifier  *Classifier
	Clock       clock.Clock
	Pacer       Pacer
	Log         *slog.Logger

	// Horizon bounds one run's wall-clock time.
	Horizon time.Duration
	// MaxUnexpected consecutive unclassified failures end the run.
	MaxUnexpected int
	// TransientNoticeAfter consecutive network failures trigger one notice.
	TransientNoticeAfter int
}

type run struct {
	e          *Engine
	id         int64
	scope      string
	log        *slog.Logger
	clk        clock.Clock
	pacer      Pacer
	classifier *Classifier
	sink       notify.Sink

	horizon         time.Duration
	maxUnexpected   int
	transientNotice int

	rec        reservation.Record
	passengers []rail.Passenger
	client     rail.Client
	login      credentials.Login

	started    time.Time
	attempts   int
	unexpected int
	transient  int
}

func (e *Engine) newRun(id int64) *run {
	r := &run{
		e:               e,
		id:              id,
		scope:           strconv.FormatInt(id, 10) + "-" + uuid.NewString(),
		clk:             e.Clock,
		pacer:           e.Pacer,
		classifier:      e.Classifier,
		sink:            e.Sink,
		horizon:         e.Horizon,
		maxUnexpected:   e.MaxUnexpected,
		transientNotice: e.TransientNoticeAfter,
	}
	log := e.Log
	if log == nil {
		log = slog.Default()
	}
	r.log = log.With("component", "poll", "reservation_id", id)
	if r.clk == nil {
		r.clk = clock.Real()
	}
	if r.pacer == nil {
		r.pacer = NewGammaPacer(nil)
	}
	if r.classifier == nil {
		r.classifier = DefaultClassifier()
	}
	if r.sink == nil {
		r.sink = notify.Discard{}
	}
	if r.horizon <= 0 {
		r.horizon = DefaultHorizon
	}
	if r.maxUnexpected <= 0 {
		r.maxUnexpected = DefaultMaxUnexpected
	}
	if r.transientNotice <= 0 {
		r.transientNotice = DefaultTransientNoticeAfter
	}
	return r
}

// Run drives reservation id until it is booked, fails, is cancelled or ctx ends. Rail errors
// never escape; they end up in the record.
func (e *Engine) Run(ctx context.Context, id int64) (out Outcome) {
	r := e.newRun(id)
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("run panicked", "panic", p, "stack", string(debug.Stack()))
			out = r.fail(ctx, fmt.Sprintf("internal error: %v", p), errorMessage)
		}
		r.close(context.WithoutCancel(ctx))
		r.log.Info("run finished", "outcome", string(out), "attempts", r.attempts)
	}()

	if out, done := r.enter(ctx); done {
		return out
	}
	return r.loop(ctx)
}

func (r *run) enter(ctx context.Context) (Outcome, bool) {
	rec, err := r.e.Store.Get(ctx, r.id)
	if err != nil {
		r.log.Error("load reservation", "err", err)
		return OutcomeSkipped, true
	}
	r.rec = rec
	r.log = r.log.With("user_id", rec.UserID, "rail", string(rec.Rail))
	if rec.Status.Terminal() {
		r.log.Info("reservation already finished", "status", string(rec.Status))
		return OutcomeSkipped, true
	}
	if err := r.e.Store.MarkSearching(ctx, r.id); err != nil {
		r.log.Error("mark searching", "err", err)
		return OutcomeSkipped, true
	}
	r.started = r.clk.Now()
	r.attempts = rec.Attempts
	r.passengers = Passengers(rec.Passengers)

	client, err := r.e.Clients.NewClient(rec.Rail, r.scope)
	if err != nil {
		return r.fail(ctx, "rail client: "+err.Error(), failureMessage), true
	}
	r.client = client

	login, err := r.e.Credentials.LoginCredentials(ctx, rec.UserID, rec.Rail)
	if errors.Is(err, credentials.ErrNotFound) {
		return r.fail(ctx, fmt.Sprintf("no %s login credentials on file", rec.Rail), failureMessage), true
	}
	if err != nil {
		return r.fail(ctx, "load login credentials: "+err.Error(), failureMessage), true
	}
	r.login = login

	if err := r.signIn(ctx); err != nil {
		if cause := stopCause(ctx); cause != nil {
			return r.stopped(ctx, cause), true
		}
		return r.fail(ctx, "login failed: "+err.Error(), failureMessage), true
	}
	r.log.Info("logged in, searching", "departure", rec.Departure, "arrival", rec.Arrival, "date", rec.Date, "time", rec.Time)
	return "", false
}

func (r *run) loop(ctx context.Context) Outcome {
	for {
		if cause := stopCause(ctx); cause != nil {
			return r.stopped(ctx, cause)
		}
		st, err := r.e.Store.Status(ctx, r.id)
		if err != nil {
			r.log.Warn("re-read status", "err", err)
		} else if st.Terminal() {
			r.log.Info("reservation finished elsewhere", "status", string(st))
			if st == reservation.StatusCancelled {
				return OutcomeCancelled
			}
			return OutcomeSkipped
		}
		if r.clk.Since(r.started) >= r.horizon {
			return r.fail(ctx, fmt.Sprintf("no seats found within the %s polling window", r.horizon), failureMessage)
		}

		r.attempts++
		out, err := r.attempt(ctx)
		if out != "" {
			return out
		}
		if err != nil {
			if stopCause(ctx) != nil {
				continue
			}
			if out, stop := r.handle(ctx, err); stop {
				return out
			}
		} else {
			r.unexpected, r.transient = 0, 0
		}

		msg := progressMessage(r.attempts, r.clk.Since(r.started))
		if err := r.e.Store.UpdateProgress(ctx, r.id, msg, r.attempts); err != nil && stopCause(ctx) == nil {
			r.log.Warn("record progress", "err", err)
		}

		select {
		case <-ctx.Done():
		case <-r.clk.After(r.pacer.Next()):
		}
	}
}

// attempt runs one search and tries candidates in the order the backend returned them. A
// non-empty Outcome ends the run.
func (r *run) attempt(ctx context.Context) (Outcome, error) {
	trains, err := r.client.SearchTrains(ctx, rail.SearchParams{
		Departure:          r.rec.Departure,
		Arrival:            r.rec.Arrival,
		Date:               r.rec.Date,
		Time:               r.rec.Time,
		Passengers:         r.passengers,
		IncludeUnavailable: true,
	})
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	for _, t := range trains {
		if !trainAllowed(t, r.rec.Trains) || !trainAvailable(t, r.rec.Seat) {
			continue
		}
		// a reservation attempt is never abandoned halfway
		out, err := r.book(context.WithoutCancel(ctx), t)
		if out != "" || err != nil {
			return out, err
		}
		if ctx.Err() != nil {
			return "", nil
		}
	}
	return "", nil
}

func (r *run) book(ctx context.Context, t rail.Train) (Outcome, error) {
	log := r.log.With("train", t.Number())
	res, err := r.client.Reserve(ctx, t, r.passengers, r.rec.Seat)
	if err != nil {
		return "", fmt.Errorf("reserve %s: %w", t.Number(), err)
	}
	if res == nil || len(res.Tickets()) == 0 {
		waiting := res != nil && res.IsWaiting()
		log.Info("reservation holds no tickets yet", "waiting", waiting)
		return "", nil
	}
	return r.succeed(ctx, t, res), nil
}

// succeed stores a held booking and then pays for it. Payment and the success notice only
// happen once the record owns the upstream reservation.
func (r *run) succeed(ctx context.Context, t rail.Train, res rail.Reservation) Outcome {
	result := reservation.Result{
		TrainNumber:   t.Number(),
		TrainName:     t.Name(),
		DepartureTime: t.DepartureTime(),
		ArrivalTime:   t.ArrivalTime(),
		ReservationID: res.ID(),
		Message:       res.Summary(),
		Tickets:       res.Tickets(),
		Waiting:       res.IsWaiting(),
		ReservedAt:    r.clk.Now().UTC(),
	}
	if result.Message == "" {
		result.Message = fmt.Sprintf("%s %s %s→%s reserved (%d tickets)",
			t.Name(), t.Number(), clockTime(t.DepartureTime()), clockTime(t.ArrivalTime()), len(result.Tickets))
	}
	if err := r.e.Store.MarkReserved(ctx, r.id, result); err != nil {
		return r.unrecorded(ctx, res, err)
	}
	r.log.Info("reserved", "train", t.Number(), "upstream_id", res.ID(), "tickets", len(result.Tickets), "attempts", r.attempts)

	if r.rec.AutoPay && !res.IsWaiting() {
		p := r.pay(ctx, res)
		result.Payment = &p
		if err := r.e.Store.UpdateResult(ctx, r.id, result); err != nil {
			r.log.Error("persist payment outcome", "err", err, "payment", string(p.Status))
		}
	}

	r.publish(ctx, result)
	r.notify(ctx, successMessage(result))
	return OutcomeReserved
}

// unrecorded handles a booking the record refused, typically because the reservation was
// cancelled while Reserve was in flight. The upstream hold is released so nothing stays
// booked that the user cannot see; if that fails the user gets the upstream id.
func (r *run) unrecorded(ctx context.Context, res rail.Reservation, cause error) Outcome {
	log := r.log.With("upstream_id", res.ID())
	log.Error("persist reservation", "err", cause)

	released, err := r.client.Cancel(ctx, res.ID())
	switch {
	case err != nil:
		log.Error("release unrecorded booking", "err", err)
	case !released:
		log.Error("release unrecorded booking: rejected")
	default:
		log.Info("released unrecorded booking")
	}
	r.notify(ctx, unrecordedMessage(res.ID(), err == nil && released))

	if errors.Is(cause, reservation.ErrInvalidTransition) {
		if st, err := r.e.Store.Status(ctx, r.id); err == nil && st == reservation.StatusCancelled {
			return OutcomeCancelled
		}
		return OutcomeSkipped
	}
	reason := fmt.Sprintf("booked %s upstream but could not record it: %v", res.ID(), cause)
	if err := r.e.Store.MarkFailed(ctx, r.id, reason); err != nil {
		log.Error("persist failure", "err", err)
	}
	return OutcomeFailed
}

// handle applies the classifier's decision. It reports true when the run must end.
func (r *run) handle(ctx context.Context, err error) (Outcome, bool) {
	d := r.classifier.Classify(err, r.rec.Rail)
	log := r.log.With("category", string(d.Category), "action", d.Action.String())

	switch d.Action {
	case ContinueSilently:
		if d.Category == TransientIO {
			r.transient++
			log.Debug("transient failure", "err", err, "streak", r.transient)
			if r.transient == r.transientNotice {
				r.notify(ctx, errorMessage(fmt.Sprintf("%d회 연속 통신 오류가 발생했습니다: %v\n\n예약 시도는 계속됩니다.", r.transient, err)))
			}
			return "", false
		}
		log.Debug("not available yet", "err", err)
		r.unexpected, r.transient = 0, 0
	case ClearBotState:
		log.Warn("bot detection tripped, clearing state", "err", err)
		r.client.ClearBotState(ctx)
	case ReLogin:
		log.Info("session expired, logging in again")
		if lerr := r.signIn(ctx); lerr != nil {
			if stopCause(ctx) != nil {
				return "", false
			}
			return r.fail(ctx, "re-login failed: "+lerr.Error(), failureMessage), true
		}
	case ContinueWithNotice:
		r.unexpected++
		log.Warn("unexpected failure", "err", err, "streak", r.unexpected)
		if r.unexpected >= r.maxUnexpected {
			reason := fmt.Sprintf("stopped after %d consecutive unexpected errors: %s", r.unexpected, d.Notice)
			return r.fail(ctx, reason, failureMessage), true
		}
		if r.unexpected == 1 {
			r.notify(ctx, errorMessage(d.Notice+"\n\n예약 시도는 계속됩니다."))
		}
	case Abort:
		log.Error("fatal failure", "err", err)
		return r.fail(ctx, d.Reason, failureMessage), true
	}
	return "", false
}

func (r *run) signIn(ctx context.Context) error {
	ok, err := r.client.Login(ctx, r.login.Identity, r.login.Secret)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s rejected the login", r.rec.Rail)
	}
	return nil
}

func (r *run) fail(ctx context.Context, reason string, format func(string) string) Outcome {
	ctx = context.WithoutCancel(ctx)
	if err := r.e.Store.MarkFailed(ctx, r.id, reason); err != nil {
		r.log.Error("persist failure", "err", err, "reason", reason)
	}
	r.log.Warn("run failed", "reason", reason)
	r.notify(ctx, format(reason))
	return OutcomeFailed
}

func (r *run) stopped(ctx context.Context, cause error) Outcome {
	ctx = context.WithoutCancel(ctx)
	if errors.Is(cause, ErrShutdown) {
		msg := fmt.Sprintf("interrupted by shutdown after %d attempts; resumes on restart", r.attempts)
		if err := r.e.Store.UpdateProgress(ctx, r.id, msg, r.attempts); err != nil {
			r.log.Warn("record interruption", "err", err)
		}
		return OutcomeInterrupted
	}
	if err := r.e.Store.MarkCancelled(ctx, r.id); err != nil && !errors.Is(err, reservation.ErrInvalidTransition) {
		r.log.Error("persist cancellation", "err", err)
	}
	r.log.Info("stopped on request")
	return OutcomeCancelled
}

func (r *run) notify(ctx context.Context, text string) {
	r.sink.Send(context.WithoutCancel(ctx), r.rec.UserID, text)
}

func (r *run) publish(ctx context.Context, res reservation.Result) {
	if r.e.Events == nil {
		return
	}
	ev := events.ReservationConfirmed{
		ReservationID: r.id,
		UserID:        r.rec.UserID,
		Rail:          string(r.rec.Rail),
		TrainNumber:   res.TrainNumber,
		Departure:     r.rec.Departure,
		Arrival:       r.rec.Arrival,
		Date:          r.rec.Date,
		DepartureTime: res.DepartureTime,
		Tickets:       len(res.Tickets),
		OccurredAt:    res.ReservedAt,
	}
	if res.Payment != nil {
		ev.PaymentStatus = string(res.Payment.Status)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.e.Events.PublishReserved(ctx, ev); err != nil {
		r.log.Warn("publish reservation event", "err", err)
	}
}

func (r *run) close(ctx context.Context) {
	if c, ok := r.client.(interface{ Close(context.Context) error }); ok {
		if err := c.Close(ctx); err != nil {
			r.log.Debug("close rail session", "err", err)
		}
	}
}

// stopCause returns why ctx ended, or nil while it is live.
func stopCause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

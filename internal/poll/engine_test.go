package poll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Donghyun-Son/srtgo/internal/clock"
	"github.com/Donghyun-Son/srtgo/internal/credentials"
	"github.com/Donghyun-Son/srtgo/internal/events"
	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
)

type fakeTrain struct {
	number, name     string
	dep, arr         string
	general, special bool
	standby          bool
}

func (t *fakeTrain) Number() string             { return t.number }
func (t *fakeTrain) Name() string               { return t.name }
func (t *fakeTrain) DepartureTime() string      { return t.dep }
func (t *fakeTrain) ArrivalTime() string        { return t.arr }
func (t *fakeTrain) GeneralSeatAvailable() bool { return t.general }
func (t *fakeTrain) SpecialSeatAvailable() bool { return t.special }
func (t *fakeTrain) StandbyAvailable() bool     { return t.standby }

type fakeReservation struct {
	id      string
	tickets []rail.Ticket
	waiting bool
}

func (r *fakeReservation) ID() string             { return r.id }
func (r *fakeReservation) Tickets() []rail.Ticket { return r.tickets }
func (r *fakeReservation) IsWaiting() bool        { return r.waiting }
func (r *fakeReservation) Summary() string        { return "" }

func booked(id string) *fakeReservation {
	return &fakeReservation{id: id, tickets: []rail.Ticket{{Number: "T1", Car: "5", Seat: "7A", SeatClass: "일반실", Passenger: rail.Adult, Price: 52900}}}
}

// fakeClient scripts each call by its 1-based index.
type fakeClient struct {
	login   func(n int) (bool, error)
	search  func(n int) ([]rail.Train, error)
	reserve func(ctx context.Context, n int, t rail.Train) (rail.Reservation, error)
	pay     func(p rail.CardPayment) (bool, error)
	cancel  func(id string) (bool, error)

	logins, searches, reserves, clears int
	reserved                           []string
	passengers                         [][]rail.Passenger
	payments                           []rail.CardPayment
	cancels                            []string
	params                             []rail.SearchParams
	closed                             bool
}

func (c *fakeClient) Login(_ context.Context, _, _ string) (bool, error) {
	c.logins++
	if c.login == nil {
		return true, nil
	}
	return c.login(c.logins)
}

func (c *fakeClient) SearchTrains(_ context.Context, p rail.SearchParams) ([]rail.Train, error) {
	c.searches++
	c.params = append(c.params, p)
	return c.search(c.searches)
}

func (c *fakeClient) Reserve(ctx context.Context, t rail.Train, ps []rail.Passenger, _ rail.SeatOption) (rail.Reservation, error) {
	c.reserves++
	c.reserved = append(c.reserved, t.Number())
	c.passengers = append(c.passengers, ps)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c.reserve == nil {
		return booked("R" + t.Number()), nil
	}
	return c.reserve(ctx, c.reserves, t)
}

func (c *fakeClient) PayWithCard(_ context.Context, _ rail.Reservation, p rail.CardPayment) (bool, error) {
	c.payments = append(c.payments, p)
	if c.pay == nil {
		return true, nil
	}
	return c.pay(p)
}

func (c *fakeClient) Cancel(_ context.Context, id string) (bool, error) {
	c.cancels = append(c.cancels, id)
	if c.cancel == nil {
		return true, nil
	}
	return c.cancel(id)
}

func (c *fakeClient) Refund(context.Context, rail.Ticket) (bool, error) { return true, nil }
func (c *fakeClient) ClearBotState(context.Context)                     { c.clears++ }
func (c *fakeClient) Close(context.Context) error                       { c.closed = true; return nil }

type fakeFactory struct {
	client *fakeClient
	err    error
}

func (f *fakeFactory) NewClient(rail.Variant, string) (rail.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type fakeCreds struct {
	login    credentials.Login
	loginErr error
	card     rail.Card
	cardErr  error
}

func (f *fakeCreds) LoginCredentials(context.Context, int64, rail.Variant) (credentials.Login, error) {
	return f.login, f.loginErr
}

func (f *fakeCreds) PaymentCard(context.Context, int64, rail.Variant) (rail.Card, error) {
	return f.card, f.cardErr
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Send(_ context.Context, _ int64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

type fakeEvents struct {
	got []events.ReservationConfirmed
}

func (f *fakeEvents) PublishReserved(_ context.Context, ev events.ReservationConfirmed) error {
	f.got = append(f.got, ev)
	return nil
}

type harness struct {
	store  *reservation.MemStore
	client *fakeClient
	creds  *fakeCreds
	sink   *recorder
	events *fakeEvents
	clock  *clock.Fake
	engine *Engine
	id     int64
}

func newHarness(t *testing.T, edit func(*reservation.Record)) *harness {
	t.Helper()
	rec := reservation.Record{
		UserID:     7,
		Rail:       rail.SRT,
		Departure:  "수서",
		Arrival:    "부산",
		Date:       "20261101",
		Time:       "080000",
		Passengers: reservation.PassengerCounts{Adult: 2, Child: 1},
		Seat:       rail.GeneralFirst,
	}
	if edit != nil {
		edit(&rec)
	}
	h := &harness{
		store:  reservation.NewMemStore(),
		client: &fakeClient{},
		creds:  &fakeCreds{login: credentials.Login{Identity: "010-0000-0000", Secret: "pw"}, cardErr: credentials.ErrNotFound},
		sink:   &recorder{},
		events: &fakeEvents{},
		clock:  clock.NewFake(time.Date(2026, 10, 31, 9, 0, 0, 0, time.UTC)),
	}
	h.id = h.store.Put(rec)
	h.engine = &Engine{
		Store:       h.store,
		Credentials: h.creds,
		Clients:     &fakeFactory{client: h.client},
		Sink:        h.sink,
		Events:      h.events,
		Clock:       h.clock,
		Pacer:       FixedPacer(time.Second),
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context) (Outcome, reservation.Record) {
	t.Helper()
	out := h.engine.Run(ctx, h.id)
	rec, err := h.store.Get(context.Background(), h.id)
	if err != nil {
		t.Fatal(err)
	}
	return out, rec
}

func soldOut() error { return upstream(rail.SRT, "잔여석없음") }

func TestRunBooksStandbyOnSecondCandidate(t *testing.T) {
	h := newHarness(t, nil)
	h.client.search = func(int) ([]rail.Train, error) {
		return []rail.Train{
			&fakeTrain{number: "301", name: "SRT", dep: "080000", arr: "103000"},
			&fakeTrain{number: "303", name: "SRT", dep: "083000", arr: "110000", standby: true},
		}, nil
	}

	out, rec := h.run(t, context.Background())
	if out != OutcomeReserved {
		t.Fatalf("outcome = %s", out)
	}
	if got := strings.Join(h.client.reserved, ","); got != "303" {
		t.Fatalf("reserved trains = %s, want 303", got)
	}
	if rec.Status != reservation.StatusReserved || rec.Result == nil {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Result.TrainNumber != "303" || rec.Result.ReservationID != "R303" || len(rec.Result.Tickets) != 1 {
		t.Fatalf("result = %+v", rec.Result)
	}
	if !rec.Result.ReservedAt.Equal(h.clock.Now()) {
		t.Fatalf("reserved at %v, want %v", rec.Result.ReservedAt, h.clock.Now())
	}
	if rec.Result.Payment != nil {
		t.Fatal("payment attempted without auto-pay")
	}
	want := []rail.Passenger{{Kind: rail.Adult, Count: 2}, {Kind: rail.Child, Count: 1}}
	if got := fmt.Sprint(h.client.passengers[0]); got != fmt.Sprint(want) {
		t.Fatalf("passengers = %s, want %v", got, want)
	}
	if !h.client.params[0].IncludeUnavailable {
		t.Fatal("search must include unavailable trains")
	}
	msgs := h.sink.all()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "🎉 예약 성공!") || !strings.Contains(msgs[0], "08:30 → 11:00") {
		t.Fatalf("notifications = %q", msgs)
	}
	if len(h.events.got) != 1 || h.events.got[0].TrainNumber != "303" || h.events.got[0].Tickets != 1 {
		t.Fatalf("events = %+v", h.events.got)
	}
	if !h.client.closed {
		t.Fatal("rail session not closed")
	}
}

func TestRunKeepsPollingWhileSoldOut(t *testing.T) {
	h := newHarness(t, nil)
	h.client.search = func(n int) ([]rail.Train, error) {
		if n < 4 {
			return nil, soldOut()
		}
		return []rail.Train{&fakeTrain{number: "305", general: true}}, nil
	}

	out, rec := h.run(t, context.Background())
	if out != OutcomeReserved || rec.Status != reservation.StatusReserved {
		t.Fatalf("outcome = %s status = %s", out, rec.Status)
	}
	if h.client.searches != 4 || h.client.logins != 1 {
		t.Fatalf("searches = %d logins = %d", h.client.searches, h.client.logins)
	}
	if got := len(h.clock.Sleeps()); got != 3 {
		t.Fatalf("slept %d times, want 3", got)
	}
	if rec.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3 recorded before the booking", rec.Attempts)
	}
	if msgs := h.sink.all(); len(msgs) != 1 {
		t.Fatalf("sold-out iterations must be silent, got %q", msgs)
	}
}

func TestRunClearsBotStateAndContinues(t *testing.T) {
	h := newHarness(t, nil)
	h.client.search = func(n int) ([]rail.Train, error) {
		if n == 1 {
			return nil, upstream(rail.SRT, "정상적인 경로로 접근 부탁드립니다")
		}
		return []rail.Train{&fakeTrain{number: "307", general: true}}, nil
	}

	out, _ := h.run(t, context.Background())
	if out != OutcomeReserved {
		t.Fatalf("outcome = %s", out)
	}
	if h.client.clears != 1 {
		t.Fatalf("ClearBotState calls = %d", h.client.clears)
	}
}

func TestRunHorizonTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Horizon = 10 * time.Second
	h.client.search = func(int) ([]rail.Train, error) { return nil, soldOut() }

	out, rec := h.run(t, context.Background())
	if out != OutcomeFailed || rec.Status != reservation.StatusFailed {
		t.Fatalf("outcome = %s status = %s", out, rec.Status)
	}
	if rec.Result != nil {
		t.Fatal("failed record must not carry a result")
	}
	if !strings.Contains(rec.Error, "polling window") {
		t.Fatalf("error = %q", rec.Error)
	}
	if h.client.searches != 10 {
		t.Fatalf("searches = %d, want 10", h.client.searches)
	}
	msgs := h.sink.all()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "❌ 예약 실패") {
		t.Fatalf("notifications = %q", msgs)
	}
}

func TestRunPaymentFailureKeepsReservation(t *testing.T) {
	h := newHarness(t, func(r *reservation.Record) { r.AutoPay = true })
	h.creds.card = rail.Card{Number: "1234567812345678", Password: "12", BirthOrBizID: "900101", Expiry: "2812"}
	h.creds.cardErr = nil
	h.client.search = func(int) ([]rail.Train, error) {
		return []rail.Train{&fakeTrain{number: "309", general: true}}, nil
	}
	h.client.pay = func(rail.CardPayment) (bool, error) { return false, errors.New("card limit exceeded") }

	out, rec := h.run(t, context.Background())
	if out != OutcomeReserved || rec.Status != reservation.StatusReserved {
		t.Fatalf("outcome = %s status = %s", out, rec.Status)
	}
	p := rec.Result.Payment
	if p == nil || p.Status != reservation.PaymentFailed || p.Error != "card limit exceeded" || p.CardLast4 != "5678" {
		t.Fatalf("payment = %+v", p)
	}
	if len(h.client.payments) != 1 || h.client.payments[0].Holder != rail.Business || h.client.payments[0].Installments != 0 {
		t.Fatalf("payments = %+v", h.client.payments)
	}
	msgs := h.sink.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "결제 실패: card limit exceeded") {
		t.Fatalf("notifications = %q", msgs)
	}
}

func TestRunPaymentOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		card   rail.Card
		err    error
		pay    func(rail.CardPayment) (bool, error)
		status reservation.PaymentStatus
		holder rail.HolderType
	}{
		{"completed personal", rail.Card{Number: "1111222233334444", BirthOrBizID: "1234567890"}, nil, nil, reservation.PaymentCompleted, rail.Personal},
		{"declined", rail.Card{Number: "1111222233334444", BirthOrBizID: "900101"}, nil, func(rail.CardPayment) (bool, error) { return false, nil }, reservation.PaymentFailed, rail.Business},
		{"no card", rail.Card{}, credentials.ErrNotFound, nil, reservation.PaymentNoCardOnFile, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(r *reservation.Record) { r.AutoPay = true })
			h.creds.card, h.creds.cardErr = tt.card, tt.err
			h.client.pay = tt.pay
			h.client.search = func(int) ([]rail.Train, error) {
				return []rail.Train{&fakeTrain{number: "311", general: true}}, nil
			}

			_, rec := h.run(t, context.Background())
			if rec.Status != reservation.StatusReserved {
				t.Fatalf("status = %s", rec.Status)
			}
			p := rec.Result.Payment
			if p == nil || p.Status != tt.status || p.HolderType != string(tt.holder) {
				t.Fatalf("payment = %+v", p)
			}
			if (p.PaidAt != nil) != (tt.status == reservation.PaymentCompleted) {
				t.Fatalf("paid at = %v", p.PaidAt)
			}
			if len(h.events.got) != 1 || h.events.got[0].PaymentStatus != string(tt.status) {
				t.Fatalf("events = %+v", h.events.got)
			}
		})
	}
}

func TestRunWaitingPlaceholderKeepsPolling(t *testing.T) {
	h := newHarness(t, func(r *reservation.Record) { r.AutoPay = true })
	h.client.search = func(int) ([]rail.Train, error) {
		return []rail.Train{&fakeTrain{number: "313", standby: true}}, nil
	}
	h.client.reserve = func(_ context.Context, n int, _ rail.Train) (rail.Reservation, error) {
		switch n {
		case 1:
			return &fakeReservation{id: "W1", waiting: true}, nil
		case 2:
			return &fakeReservation{id: "W2"}, nil
		}
		r := booked("W3")
		r.waiting = true
		return r, nil
	}

	out, rec := h.run(t, context.Background())
	if out != OutcomeReserved {
		t.Fatalf("outcome = %s", out)
	}
	if h.client.reserves != 3 {
		t.Fatalf("reserve calls = %d, want 3", h.client.reserves)
	}
	if !rec.Result.Waiting || rec.Result.ReservationID != "W3" {
		t.Fatalf("result = %+v", rec.Result)
	}
	if len(h.client.payments) != 0 || rec.Result.Payment != nil {
		t.Fatal("a waiting-list booking must not be paid")
	}
}

func TestRunLoginFailure(t *testing.T) {
	tests := []struct {
		name  string
		login func(int) (bool, error)
		creds error
	}{
		{"rejected", func(int) (bool, error) { return false, nil }, nil},
		{"error", func(int) (bool, error) { return false, upstream(rail.SRT, "존재하지않는 회원입니다") }, nil},
		{"no credentials", nil, credentials.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.client.login = tt.login
			h.creds.loginErr = tt.creds
			h.client.search = func(int) ([]rail.Train, error) { t.Fatal("searched without a session"); return nil, nil }

			out, rec := h.run(t, context.Background())
			if out != OutcomeFailed || rec.Status != reservation.StatusFailed || rec.Error == "" {
				t.Fatalf("outcome = %s record = %+v", out, rec)
			}
			if msgs := h.sink.all(); len(msgs) != 1 || !strings.HasPrefix(msgs[0], "❌") {
				t.Fatalf("notifications = %q", msgs)
			}
		})
	}
}

func TestRunReLogin(t *testing.T) {
	t.Run("succeeds", func(t *testing.T) {
		h := newHarness(t, nil)
		h.client.search = func(n int) ([]rail.Train, error) {
			if n == 1 {
				return nil, upstream(rail.SRT, "로그인 후 사용하십시오.")
			}
			return []rail.Train{&fakeTrain{number: "315", general: true}}, nil
		}
		out, _ := h.run(t, context.Background())
		if out != OutcomeReserved || h.client.logins != 2 {
			t.Fatalf("outcome = %s logins = %d", out, h.client.logins)
		}
	})
	t.Run("fails", func(t *testing.T) {
		h := newHarness(t, nil)
		h.client.login = func(n int) (bool, error) {
			if n == 1 {
				return true, nil
			}
			return false, errors.New("gateway unavailable")
		}
		h.client.search = func(int) ([]rail.Train, error) { return nil, upstream(rail.SRT, "로그인 후 사용하십시오.") }
		out, rec := h.run(t, context.Background())
		if out != OutcomeFailed || !strings.HasPrefix(rec.Error, "re-login failed") {
			t.Fatalf("outcome = %s error = %q", out, rec.Error)
		}
		if h.client.searches != 1 {
			t.Fatalf("searches = %d", h.client.searches)
		}
	})
}

func TestRunObservesExternalCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.client.search = func(n int) ([]rail.Train, error) {
		if n == 2 {
			if err := h.store.MarkCancelled(context.Background(), h.id); err != nil {
				t.Fatal(err)
			}
		}
		return nil, soldOut()
	}

	out, rec := h.run(t, context.Background())
	if out != OutcomeCancelled || rec.Status != reservation.StatusCancelled {
		t.Fatalf("outcome = %s status = %s", out, rec.Status)
	}
	if h.client.searches != 2 || h.client.reserves != 0 {
		t.Fatalf("searches = %d reserves = %d", h.client.searches, h.client.reserves)
	}
	if rec.Message != "cancelled" {
		t.Fatalf("cancelled record was overwritten: %q", rec.Message)
	}
	if msgs := h.sink.all(); len(msgs) != 0 {
		t.Fatalf("notifications = %q", msgs)
	}
}

func TestRunStopSignal(t *testing.T) {
	tests := []struct {
		name   string
		cause  error
		out    Outcome
		status reservation.Status
	}{
		{"stop marks cancelled", ErrStopped, OutcomeCancelled, reservation.StatusCancelled},
		{"shutdown leaves searching", ErrShutdown, OutcomeInterrupted, reservation.StatusSearching},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx, cancel := context.WithCancelCause(context.Background())
			defer cancel(nil)
			h.client.search = func(n int) ([]rail.Train, error) {
				if n == 2 {
					cancel(tt.cause)
					return nil, context.Canceled
				}
				return nil, soldOut()
			}

			out, rec := h.run(t, ctx)
			if out != tt.out || rec.Status != tt.status {
				t.Fatalf("outcome = %s status = %s", out, rec.Status)
			}
			if msgs := h.sink.all(); len(msgs) != 0 {
				t.Fatalf("a stop must not be reported as an error: %q", msgs)
			}
			if tt.cause == ErrShutdown && rec.Attempts != 2 {
				t.Fatalf("attempts = %d", rec.Attempts)
			}
		})
	}
}

func TestRunFinishesReservationAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	h.client.search = func(int) ([]rail.Train, error) {
		return []rail.Train{&fakeTrain{number: "317", general: true}}, nil
	}
	h.client.reserve = func(ctx context.Context, _ int, _ rail.Train) (rail.Reservation, error) {
		cancel(ErrStopped)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return booked("R317"), nil
	}

	out, rec := h.run(t, ctx)
	if out != OutcomeReserved || rec.Status != reservation.StatusReserved {
		t.Fatalf("outcome = %s status = %s", out, rec.Status)
	}
}

func TestRunCancelledDuringReserveReleasesBooking(t *testing.T) {
	tests := []struct {
		name   string
		cancel func(string) (bool, error)
		notice string
	}{
		{"released", nil, "자동으로 취소했습니다"},
		{"release rejected", func(string) (bool, error) { return false, nil }, "예약번호 R301"},
		{"release error", func(string) (bool, error) { return false, errors.New("timeout") }, "예약번호 R301"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(r *reservation.Record) { r.AutoPay = true })
			h.creds.card = rail.Card{Number: "1234567812345678", Password: "12", BirthOrBizID: "900101", Expiry: "2812"}
			h.creds.cardErr = nil
			h.client.cancel = tt.cancel
			h.client.search = func(int) ([]rail.Train, error) {
				return []rail.Train{&fakeTrain{number: "301", general: true}}, nil
			}
			h.client.reserve = func(context.Context, int, rail.Train) (rail.Reservation, error) {
				if err := h.store.MarkCancelled(context.Background(), h.id); err != nil {
					t.Fatal(err)
				}
				return booked("R301"), nil
			}

			out, rec := h.run(t, context.Background())
			if out != OutcomeCancelled || rec.Status != reservation.StatusCancelled || rec.Result != nil {
				t.Fatalf("outcome = %s status = %s result = %+v", out, rec.Status, rec.Result)
			}
			if len(h.client.payments) != 0 {
				t.Fatalf("card charged for an unrecorded booking: %+v", h.client.payments)
			}
			if got := strings.Join(h.client.cancels, ","); got != "R301" {
				t.Fatalf("upstream cancels = %q", got)
			}
			msgs := h.sink.all()
			if len(msgs) != 1 || strings.Contains(msgs[0], "예약 성공") || !strings.Contains(msgs[0], tt.notice) {
				t.Fatalf("notifications = %q", msgs)
			}
			if len(h.events.got) != 0 {
				t.Fatalf("events = %+v", h.events.got)
			}
		})
	}
}

func TestRunReservedWriteFailureFailsRecord(t *testing.T) {
	h := newHarness(t, nil)
	store := &rejectReserved{MemStore: h.store, err: errors.New("connection reset")}
	h.engine.Store = store
	h.client.search = func(int) ([]rail.Train, error) {
		return []rail.Train{&fakeTrain{number: "305", general: true}}, nil
	}

	out, rec := h.run(t, context.Background())
	if out != OutcomeFailed || rec.Status != reservation.StatusFailed || !strings.Contains(rec.Error, "R305") {
		t.Fatalf("outcome = %s status = %s error = %q", out, rec.Status, rec.Error)
	}
	if got := strings.Join(h.client.cancels, ","); got != "R305" {
		t.Fatalf("upstream cancels = %q", got)
	}
}

// rejectReserved fails every MarkReserved with err.
type rejectReserved struct {
	*reservation.MemStore
	err error
}

func (s *rejectReserved) MarkReserved(context.Context, int64, reservation.Result) error { return s.err }

func TestRunUnexpectedErrorsEscalate(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.MaxUnexpected = 3
	h.client.search = func(int) ([]rail.Train, error) { return nil, errors.New("unexpected response code 418") }

	out, rec := h.run(t, context.Background())
	if out != OutcomeFailed || !strings.Contains(rec.Error, "3 consecutive unexpected errors") {
		t.Fatalf("outcome = %s error = %q", out, rec.Error)
	}
	msgs := h.sink.all()
	if len(msgs) != 2 || !strings.HasPrefix(msgs[0], "⚠️ 예약 중 오류 발생") || !strings.Contains(msgs[0], "418") || !strings.HasPrefix(msgs[1], "❌") {
		t.Fatalf("notifications = %q", msgs)
	}
}

func TestRunUnexpectedStreakResets(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.MaxUnexpected = 2
	h.client.search = func(n int) ([]rail.Train, error) {
		switch {
		case n%2 == 1 && n < 6:
			return nil, errors.New("odd failure")
		case n < 6:
			return nil, soldOut()
		}
		return []rail.Train{&fakeTrain{number: "319", general: true}}, nil
	}

	out, _ := h.run(t, context.Background())
	if out != OutcomeReserved {
		t.Fatalf("outcome = %s", out)
	}
	// one notice per streak: searches 1, 3 and 5
	if got := len(h.sink.all()); got != 4 {
		t.Fatalf("notifications = %d, want 3 notices and a success", got)
	}
}

func TestRunTransientNoticeOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.TransientNoticeAfter = 3
	h.client.search = func(n int) ([]rail.Train, error) {
		if n <= 5 {
			return nil, fmt.Errorf("%w: search", rail.ErrMalformedResponse)
		}
		return []rail.Train{&fakeTrain{number: "321", general: true}}, nil
	}

	out, _ := h.run(t, context.Background())
	if out != OutcomeReserved {
		t.Fatalf("outcome = %s", out)
	}
	msgs := h.sink.all()
	if len(msgs) != 2 || !strings.Contains(msgs[0], "3회 연속 통신 오류") {
		t.Fatalf("notifications = %q", msgs)
	}
}

func TestRunTrainFilter(t *testing.T) {
	h := newHarness(t, func(r *reservation.Record) { r.Trains = []string{"325"} })
	h.client.search = func(int) ([]rail.Train, error) {
		return []rail.Train{
			&fakeTrain{number: "323", general: true},
			&fakeTrain{number: "325", general: true},
		}, nil
	}

	out, rec := h.run(t, context.Background())
	if out != OutcomeReserved || rec.Result.TrainNumber != "325" || h.client.reserves != 1 {
		t.Fatalf("outcome = %s result = %+v reserves = %d", out, rec.Result, h.client.reserves)
	}
}

func TestRunSeatPreferenceSkipsClass(t *testing.T) {
	h := newHarness(t, func(r *reservation.Record) { r.Seat = rail.SpecialOnly })
	h.client.search = func(n int) ([]rail.Train, error) {
		if n == 1 {
			return []rail.Train{&fakeTrain{number: "327", general: true}}, nil
		}
		return []rail.Train{&fakeTrain{number: "327", general: true, special: true}}, nil
	}

	out, _ := h.run(t, context.Background())
	if out != OutcomeReserved || h.client.reserves != 1 || h.client.searches != 2 {
		t.Fatalf("outcome = %s reserves = %d searches = %d", out, h.client.reserves, h.client.searches)
	}
}

func TestRunSkipsFinishedRecord(t *testing.T) {
	h := newHarness(t, func(r *reservation.Record) { r.Status = reservation.StatusFailed })
	out, rec := h.run(t, context.Background())
	if out != OutcomeSkipped || rec.Status != reservation.StatusFailed || h.client.logins != 0 {
		t.Fatalf("outcome = %s status = %s logins = %d", out, rec.Status, h.client.logins)
	}
}

func TestRunFatalConfig(t *testing.T) {
	h := newHarness(t, nil)
	h.client.search = func(int) ([]rail.Train, error) {
		return nil, fmt.Errorf("%w: gateway url missing", rail.ErrConfig)
	}
	out, rec := h.run(t, context.Background())
	if out != OutcomeFailed || h.client.searches != 1 || rec.Error == "" {
		t.Fatalf("outcome = %s searches = %d error = %q", out, h.client.searches, rec.Error)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	h := newHarness(t, nil)
	h.client.search = func(int) ([]rail.Train, error) { panic("nil train") }

	out, rec := h.run(t, context.Background())
	if out != OutcomeFailed || !strings.Contains(rec.Error, "nil train") {
		t.Fatalf("outcome = %s error = %q", out, rec.Error)
	}
	if msgs := h.sink.all(); len(msgs) != 1 || !strings.HasPrefix(msgs[0], "⚠️") {
		t.Fatalf("notifications = %q", msgs)
	}
}

// Package manage acts on bookings the poller already holds.
package manage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Donghyun-Son/srtgo/internal/clock"
	"github.com/Donghyun-Son/srtgo/internal/credentials"
	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
)

var (
	ErrNotReleasable   = errors.New("manage: reservation holds no booking")
	ErrAlreadyReleased = errors.New("manage: booking already released")
	ErrLoginRejected   = errors.New("manage: rail login rejected")
)

type Store interface {
	UpdateResult(ctx context.Context, id int64, res reservation.Result) error
}

type Credentials interface {
	LoginCredentials(ctx context.Context, userID int64, v rail.Variant) (credentials.Login, error)
}

type ClientFactory interface {
	NewClient(v rail.Variant, scope string) (rail.Client, error)
}

type Service struct {
	Store       Store
	Credentials Credentials
	Clients     ClientFactory
	Clock       clock.Clock
	Log         *slog.Logger
}

// Release gives a held booking back upstream: paid tickets are refunded one by one, an
// unpaid reservation is cancelled as a whole. The record keeps status reserved and gains a
// released_at stamp.
func (s *Service) Release(ctx context.Context, rec reservation.Record) (reservation.Result, error) {
	if rec.Status != reservation.StatusReserved || rec.Result == nil {
		return reservation.Result{}, ErrNotReleasable
	}
	res := *rec.Result
	if res.ReleasedAt != nil {
		return res, ErrAlreadyReleased
	}
	log := s.logger().With("reservation_id", rec.ID, "user_id", rec.UserID, "rail", string(rec.Rail))

	client, done, err := s.signIn(ctx, rec.UserID, rec.Rail, "manage-"+strconv.FormatInt(rec.ID, 10))
	if err != nil {
		return res, err
	}
	defer done()

	if paid(res) {
		for _, t := range res.Tickets {
			if !t.Paid && !paymentCompleted(res) {
				continue
			}
			ok, err := client.Refund(ctx, t)
			if err != nil {
				return res, fmt.Errorf("manage: refund ticket %s: %w", t.Number, err)
			}
			if !ok {
				return res, fmt.Errorf("manage: refund of ticket %s declined", t.Number)
			}
			log.Info("ticket refunded", "ticket", t.Number)
		}
	} else {
		ok, err := client.Cancel(ctx, res.ReservationID)
		if err != nil {
			return res, fmt.Errorf("manage: cancel %s: %w", res.ReservationID, err)
		}
		if !ok {
			return res, fmt.Errorf("manage: cancel of %s declined", res.ReservationID)
		}
		log.Info("reservation cancelled upstream", "upstream_id", res.ReservationID)
	}

	now := s.now()
	res.ReleasedAt = &now
	if err := s.Store.UpdateResult(ctx, rec.ID, res); err != nil {
		return res, fmt.Errorf("manage: record release: %w", err)
	}
	return res, nil
}

// SearchTrains runs one ad-hoc search on the user's account, sold-out trains included, so
// callers can pick the train numbers a reservation should be limited to.
func (s *Service) SearchTrains(ctx context.Context, userID int64, v rail.Variant, p rail.SearchParams) ([]rail.Train, error) {
	client, done, err := s.signIn(ctx, userID, v, "search-"+strconv.FormatInt(userID, 10)+"-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	defer done()

	p.IncludeUnavailable = true
	trains, err := client.SearchTrains(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("manage: search: %w", err)
	}
	s.logger().Debug("ad-hoc search", "user_id", userID, "rail", string(v), "trains", len(trains))
	return trains, nil
}

// signIn opens a client under scope and logs it in with the user's stored login. done
// closes the client's session.
func (s *Service) signIn(ctx context.Context, userID int64, v rail.Variant, scope string) (rail.Client, func(), error) {
	client, err := s.Clients.NewClient(v, scope)
	if err != nil {
		return nil, nil, err
	}
	done := func() {
		if c, ok := client.(interface{ Close(context.Context) error }); ok {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}

	login, err := s.Credentials.LoginCredentials(ctx, userID, v)
	if err != nil {
		done()
		return nil, nil, fmt.Errorf("manage: load login credentials: %w", err)
	}
	ok, err := client.Login(ctx, login.Identity, login.Secret)
	if err != nil {
		done()
		return nil, nil, fmt.Errorf("manage: login: %w", err)
	}
	if !ok {
		done()
		return nil, nil, fmt.Errorf("%w: %s", ErrLoginRejected, v)
	}
	return client, done, nil
}

func paid(res reservation.Result) bool {
	if paymentCompleted(res) {
		return true
	}
	for _, t := range res.Tickets {
		if t.Paid {
			return true
		}
	}
	return false
}

func paymentCompleted(res reservation.Result) bool {
	return res.Payment != nil && res.Payment.Status == reservation.PaymentCompleted
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default().With("component", "manage")
	}
	return s.Log.With("component", "manage")
}

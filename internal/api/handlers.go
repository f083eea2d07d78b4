package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Donghyun-Son/srtgo/internal/auth"
	"github.com/Donghyun-Son/srtgo/internal/manage"
	"github.com/Donghyun-Son/srtgo/internal/poll"
	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID int64 `json:"user_id"`
	auth.Token
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	uid, err := s.Users.Authenticate(c.Request().Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}
	if err != nil {
		return err
	}
	tok, err := s.Tokens.Issue(uid)
	if err != nil {
		return err
	}
	if err := s.Cookies.SetSession(c.Response(), c.Request(), uid); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{UserID: uid, Token: tok})
}

func (s *Server) logout(c echo.Context) error {
	s.Cookies.ClearSession(c.Response())
	return c.NoContent(http.StatusNoContent)
}

type createRequest struct {
	RailType   string                      `json:"rail_type"`
	Departure  string                      `json:"departure"`
	Arrival    string                      `json:"arrival"`
	Date       string                      `json:"date"`
	Time       string                      `json:"time"`
	Passengers reservation.PassengerCounts `json:"passengers"`
	Trains     []string                    `json:"train_numbers"`
	SeatType   string                      `json:"seat_type"`
	AutoPay    bool                        `json:"auto_payment"`
	// Start begins polling right after the record is created.
	Start bool `json:"start"`
}

func (s *Server) createReservation(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	rec := reservation.Record{
		UserID:     userID(c),
		Rail:       rail.Variant(strings.ToUpper(strings.TrimSpace(req.RailType))),
		Departure:  strings.TrimSpace(req.Departure),
		Arrival:    strings.TrimSpace(req.Arrival),
		Date:       req.Date,
		Time:       req.Time,
		Passengers: req.Passengers,
		Trains:     req.Trains,
		Seat:       rail.SeatOption(strings.ToUpper(strings.TrimSpace(req.SeatType))),
		AutoPay:    req.AutoPay,
	}
	if rec.Seat == "" {
		rec.Seat = rail.GeneralFirst
	}
	if err := rec.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	id, err := s.Reservations.Create(ctx, rec)
	if err != nil {
		return err
	}
	if req.Start {
		if _, err := s.Polls.Start(id); err != nil {
			return err
		}
	}
	created, err := s.Reservations.GetForUser(ctx, id, rec.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, s.view(created))
}

func (s *Server) listReservations(c echo.Context) error {
	recs, err := s.Reservations.ListByUser(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	out := make([]recordView, 0, len(recs))
	for _, r := range recs {
		out = append(out, s.view(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getReservation(c echo.Context) error {
	rec, err := s.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(rec))
}

// drainWait bounds how long startPoll waits for a just-stopped run to unwind.
var drainWait = 5 * time.Second

// startPoll begins a run. A run stopped moments ago is allowed to finish first, and a finished
// record is reset to pending so the new run starts from a clean state.
func (s *Server) startPoll(c echo.Context) error {
	rec, err := s.owned(c)
	if err != nil {
		return err
	}
	if _, ok := s.Polls.Lookup(rec.ID); ok {
		return poll.ErrAlreadyPolling
	}
	ctx := c.Request().Context()
	wctx, cancel := context.WithTimeout(ctx, drainWait)
	err = s.Polls.WaitStopped(wctx, rec.ID)
	cancel()
	if err != nil {
		return poll.ErrAlreadyPolling
	}
	// the stopped run may have just written its final status
	if rec, err = s.Reservations.GetForUser(ctx, rec.ID, rec.UserID); err != nil {
		return err
	}
	if rec.Status.Terminal() {
		if err := s.Reservations.ResetForRepoll(ctx, rec.ID); err != nil {
			return err
		}
	}
	h, err := s.Polls.Start(rec.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, pollView{ReservationID: rec.ID, Polling: true, RunID: h.RunID.String(), StartedAt: &h.StartedAt})
}

func (s *Server) stopPoll(c echo.Context) error {
	rec, err := s.owned(c)
	if err != nil {
		return err
	}
	if err := s.Polls.Stop(rec.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, pollView{ReservationID: rec.ID, Polling: false})
}

func (s *Server) pollStatus(c echo.Context) error {
	rec, err := s.owned(c)
	if err != nil {
		return err
	}
	v := pollView{ReservationID: rec.ID, Status: string(rec.Status), Message: rec.Message, Attempts: rec.Attempts}
	if h, ok := s.Polls.Lookup(rec.ID); ok {
		v.Polling, v.RunID, v.StartedAt = true, h.RunID.String(), &h.StartedAt
	}
	return c.JSON(http.StatusOK, v)
}

// cancelReservation marks the intent cancelled and stops its run. The running engine sees
// the status on its next iteration either way.
func (s *Server) cancelReservation(c echo.Context) error {
	rec, err := s.owned(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := s.Reservations.MarkCancelled(ctx, rec.ID); err != nil {
		return err
	}
	if err := s.Polls.Stop(rec.ID); err != nil && !errors.Is(err, poll.ErrNotPolling) {
		return err
	}
	rec, err = s.Reservations.GetForUser(ctx, rec.ID, rec.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.view(rec))
}

func (s *Server) releaseReservation(c echo.Context) error {
	rec, err := s.owned(c)
	if err != nil {
		return err
	}
	if s.Manage == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "release is not configured")
	}
	res, err := s.Manage.Release(c.Request().Context(), rec)
	switch {
	case errors.Is(err, manage.ErrNotReleasable), errors.Is(err, manage.ErrAlreadyReleased):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	rec.Result = &res
	return c.JSON(http.StatusOK, s.view(rec))
}

// owned loads the :id record for the calling user. Other users' records read as not found.
func (s *Server) owned(c echo.Context) (reservation.Record, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return reservation.Record{}, echo.NewHTTPError(http.StatusBadRequest, "invalid reservation id")
	}
	return s.Reservations.GetForUser(c.Request().Context(), id, userID(c))
}

type recordView struct {
	ID          int64                       `json:"id"`
	RailType    string                      `json:"rail_type"`
	Departure   string                      `json:"departure"`
	Arrival     string                      `json:"arrival"`
	Date        string                      `json:"date"`
	Time        string                      `json:"time"`
	Passengers  reservation.PassengerCounts `json:"passengers"`
	Trains      []string                    `json:"train_numbers,omitempty"`
	SeatType    string                      `json:"seat_type"`
	AutoPay     bool                        `json:"auto_payment"`
	Status      string                      `json:"status"`
	Message     string                      `json:"message,omitempty"`
	Attempts    int                         `json:"attempts"`
	Error       string                      `json:"error,omitempty"`
	Result      *reservation.Result         `json:"result,omitempty"`
	Polling     bool                        `json:"polling"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
}

func (s *Server) view(r reservation.Record) recordView {
	_, polling := s.Polls.Lookup(r.ID)
	return recordView{
		ID:          r.ID,
		RailType:    string(r.Rail),
		Departure:   r.Departure,
		Arrival:     r.Arrival,
		Date:        r.Date,
		Time:        r.Time,
		Passengers:  r.Passengers,
		Trains:      r.Trains,
		SeatType:    string(r.Seat),
		AutoPay:     r.AutoPay,
		Status:      string(r.Status),
		Message:     r.Message,
		Attempts:    r.Attempts,
		Error:       r.Error,
		Result:      r.Result,
		Polling:     polling,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
	}
}

type pollView struct {
	ReservationID int64      `json:"reservation_id"`
	Polling       bool       `json:"polling"`
	RunID         string     `json:"run_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	Status        string     `json:"status,omitempty"`
	Message       string     `json:"message,omitempty"`
	Attempts      int        `json:"attempts"`
}

// Package api is the JSON control surface: operators log in, create booking intents and
// start or stop polling for them.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Donghyun-Son/srtgo/internal/auth"
	"github.com/Donghyun-Son/srtgo/internal/poll"
	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
)

type Reservations interface {
	Create(ctx context.Context, rec reservation.Record) (int64, error)
	GetForUser(ctx context.Context, id, userID int64) (reservation.Record, error)
	ListByUser(ctx context.Context, userID int64) ([]reservation.Record, error)
	MarkCancelled(ctx context.Context, id int64) error
	ResetForRepoll(ctx context.Context, id int64) error
}

type Poller interface {
	Start(id int64) (poll.Handle, error)
	Stop(id int64) error
	Lookup(id int64) (poll.Handle, bool)
	WaitStopped(ctx context.Context, id int64) error
}

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (int64, error)
}

type Releaser interface {
	Release(ctx context.Context, rec reservation.Record) (reservation.Result, error)
}

type TrainSearcher interface {
	SearchTrains(ctx context.Context, userID int64, v rail.Variant, p rail.SearchParams) ([]rail.Train, error)
}

type Server struct {
	Reservations Reservations
	Polls        Poller
	Users        Authenticator
	Cookies      *auth.Cookies
	Tokens       *auth.Tokens
	Manage       Releaser
	Trains       TrainSearcher
	Log          *slog.Logger
}

const userKey = "user_id"

func (s *Server) Routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.accessLog)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok\n") })

	a := e.Group("/api/v1/auth")
	a.POST("/login", s.login)
	a.POST("/logout", s.logout)

	g := e.Group("/api/v1", s.requireUser)
	g.POST("/reservations", s.createReservation)
	g.GET("/reservations", s.listReservations)
	g.GET("/reservations/:id", s.getReservation)
	g.POST("/reservations/:id/poll", s.startPoll)
	g.DELETE("/reservations/:id/poll", s.stopPoll)
	g.GET("/reservations/:id/poll", s.pollStatus)
	g.POST("/reservations/:id/cancel", s.cancelReservation)
	g.POST("/reservations/:id/release", s.releaseReservation)
	g.POST("/trains/search", s.searchTrains)
	g.GET("/stations/:rail", s.listStations)
	return e
}

// requireUser accepts a bearer token or the session cookie.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
			raw, ok := strings.CutPrefix(h, "Bearer ")
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "malformed authorization header")
			}
			uid, err := s.Tokens.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.Set(userKey, uid)
			return next(c)
		}
		if uid, ok := s.Cookies.UserID(c.Request()); ok {
			c.Set(userKey, uid)
			return next(c)
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
}

func userID(c echo.Context) int64 {
	uid, _ := c.Get(userKey).(int64)
	return uid
}

func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		s.logger().LogAttrs(req.Context(), slog.LevelInfo, "http request",
			slog.String("method", req.Method),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().Status),
			slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			slog.Int64("user_id", userID(c)),
		)
		return nil
	}
}

// errorHandler renders every error as {"error": "..."} and maps domain sentinels.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := http.StatusInternalServerError, "internal error"
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	case errors.Is(err, reservation.ErrNotFound):
		code, msg = http.StatusNotFound, "reservation not found"
	case errors.Is(err, poll.ErrAlreadyPolling), errors.Is(err, poll.ErrNotPolling),
		errors.Is(err, reservation.ErrInvalidTransition):
		code, msg = http.StatusConflict, err.Error()
	case errors.Is(err, poll.ErrShutdown):
		code, msg = http.StatusServiceUnavailable, err.Error()
	default:
		s.logger().Error("request failed", "path", c.Path(), "err", err)
	}
	if err := c.JSON(code, map[string]string{"error": msg}); err != nil {
		s.logger().Debug("write error response", "err", err)
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Donghyun-Son/srtgo/internal/credentials"
	"github.com/Donghyun-Son/srtgo/internal/poll"
	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
)

type searchRequest struct {
	RailType   string                       `json:"rail_type"`
	Departure  string                       `json:"departure"`
	Arrival    string                       `json:"arrival"`
	Date       string                       `json:"date"`
	Time       string                       `json:"time"`
	Passengers *reservation.PassengerCounts `json:"passengers"`
}

type trainView struct {
	TrainNumber   string `json:"train_number"`
	TrainName     string `json:"train_name"`
	DepartureTime string `json:"departure_time"`
	ArrivalTime   string `json:"arrival_time"`
	General       bool   `json:"general_available"`
	Special       bool   `json:"special_available"`
	Standby       bool   `json:"standby_available"`
}

type searchResponse struct {
	RailType  string      `json:"rail_type"`
	Departure string      `json:"departure"`
	Arrival   string      `json:"arrival"`
	Date      string      `json:"date"`
	Trains    []trainView `json:"trains"`
}

// searchTrains runs one search on the caller's rail account so they can pick train numbers
// for a reservation. Sold-out trains are listed too.
func (s *Server) searchTrains(c echo.Context) error {
	if s.Trains == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "train search is not configured")
	}
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	q := reservation.Record{
		Rail:       rail.Variant(strings.ToUpper(strings.TrimSpace(req.RailType))),
		Departure:  strings.TrimSpace(req.Departure),
		Arrival:    strings.TrimSpace(req.Arrival),
		Date:       req.Date,
		Time:       req.Time,
		Passengers: reservation.PassengerCounts{Adult: 1},
		Seat:       rail.GeneralFirst,
	}
	if q.Time == "" {
		q.Time = "000000"
	}
	if req.Passengers != nil {
		q.Passengers = *req.Passengers
	}
	if err := q.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	trains, err := s.Trains.SearchTrains(c.Request().Context(), userID(c), q.Rail, rail.SearchParams{
		Departure:  q.Departure,
		Arrival:    q.Arrival,
		Date:       q.Date,
		Time:       q.Time,
		Passengers: poll.Passengers(q.Passengers),
	})
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "no "+string(q.Rail)+" login on file")
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	out := searchResponse{RailType: string(q.Rail), Departure: q.Departure, Arrival: q.Arrival, Date: q.Date, Trains: make([]trainView, 0, len(trains))}
	for _, t := range trains {
		out.Trains = append(out.Trains, trainView{
			TrainNumber:   t.Number(),
			TrainName:     t.Name(),
			DepartureTime: t.DepartureTime(),
			ArrivalTime:   t.ArrivalTime(),
			General:       t.GeneralSeatAvailable(),
			Special:       t.SpecialSeatAvailable(),
			Standby:       t.StandbyAvailable(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listStations(c echo.Context) error {
	v, err := rail.ParseVariant(c.Param("rail"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, rail.Stations(v))
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Donghyun-Son/srtgo/internal/credentials"
	"github.com/Donghyun-Son/srtgo/internal/rail"
)

type stubTrain struct {
	number           string
	general, standby bool
}

func (t stubTrain) Number() string             { return t.number }
func (t stubTrain) Name() string               { return "SRT" }
func (t stubTrain) DepartureTime() string      { return "080000" }
func (t stubTrain) ArrivalTime() string        { return "103000" }
func (t stubTrain) GeneralSeatAvailable() bool { return t.general }
func (t stubTrain) SpecialSeatAvailable() bool { return false }
func (t stubTrain) StandbyAvailable() bool     { return t.standby }

type stubSearcher struct {
	err    error
	users  []int64
	params []rail.SearchParams
}

func (s *stubSearcher) SearchTrains(_ context.Context, userID int64, _ rail.Variant, p rail.SearchParams) ([]rail.Train, error) {
	s.users = append(s.users, userID)
	s.params = append(s.params, p)
	if s.err != nil {
		return nil, s.err
	}
	return []rail.Train{stubTrain{number: "301"}, stubTrain{number: "303", general: true}}, nil
}

func TestSearchTrains(t *testing.T) {
	f := newFixture(t)
	ts := &stubSearcher{}
	f.srv.Trains = ts

	rec := f.do(t, 2, http.MethodPost, "/api/v1/trains/search", `{"rail_type":"srt","departure":"수서","arrival":"부산","date":"20261101"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("search = %d %s", rec.Code, rec.Body)
	}
	got := decode[searchResponse](t, rec)
	if got.RailType != "SRT" || len(got.Trains) != 2 || got.Trains[0].TrainNumber != "301" || got.Trains[0].General || !got.Trains[1].General {
		t.Fatalf("response = %+v", got)
	}
	if ts.users[0] != 2 {
		t.Fatalf("searched as user %d", ts.users[0])
	}
	p := ts.params[0]
	if p.Time != "000000" || fmt.Sprint(p.Passengers) != fmt.Sprint([]rail.Passenger{{Kind: rail.Adult, Count: 1}}) {
		t.Fatalf("params = %+v", p)
	}
}

func TestSearchTrainsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		code int
	}{
		{"bad date", nil, `{"rail_type":"SRT","departure":"수서","arrival":"부산","date":"2026-11-01"}`, http.StatusBadRequest},
		{"same station", nil, `{"rail_type":"SRT","departure":"수서","arrival":"수서","date":"20261101"}`, http.StatusBadRequest},
		{"no login", credentials.ErrNotFound, `{"rail_type":"KTX","departure":"서울","arrival":"부산","date":"20261101"}`, http.StatusNotFound},
		{"upstream", errors.New("gateway down"), `{"rail_type":"KTX","departure":"서울","arrival":"부산","date":"20261101"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.srv.Trains = &stubSearcher{err: tt.err}
			if rec := f.do(t, 1, http.MethodPost, "/api/v1/trains/search", tt.body); rec.Code != tt.code {
				t.Fatalf("code = %d %s, want %d", rec.Code, rec.Body, tt.code)
			}
		})
	}

	f := newFixture(t)
	f.srv.Trains = &stubSearcher{}
	if rec := f.do(t, 0, http.MethodPost, "/api/v1/trains/search", `{}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous search = %d", rec.Code)
	}
}

func TestListStations(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, 1, http.MethodGet, "/api/v1/stations/ktx", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stations = %d", rec.Code)
	}
	if got := decode[[]string](t, rec); len(got) == 0 || got[0] != "서울" {
		t.Fatalf("stations = %v", got)
	}
	if rec := f.do(t, 1, http.MethodGet, "/api/v1/stations/itx", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown rail = %d", rec.Code)
	}
}

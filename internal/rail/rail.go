// Package rail defines the contract between the booking core and a ticketing backend.
//
// Two backends are supported (SRT and KTX). They expose the same capabilities but word their
// failures differently, so adapters hand back *UpstreamError values carrying the original text
// and leave interpretation to the caller.
package rail

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Variant string

const (
	SRT Variant = "SRT"
	KTX Variant = "KTX"
)

func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToUpper(strings.TrimSpace(s))) {
	case SRT:
		return SRT, nil
	case KTX:
		return KTX, nil
	}
	return "", fmt.Errorf("%w: unknown rail type %q", ErrConfig, s)
}

// SeatOption is the seat-class preference in the vocabulary the backends accept.
type SeatOption string

const (
	GeneralFirst SeatOption = "GENERAL_FIRST"
	GeneralOnly  SeatOption = "GENERAL_ONLY"
	SpecialFirst SeatOption = "SPECIAL_FIRST"
	SpecialOnly  SeatOption = "SPECIAL_ONLY"
)

func (o SeatOption) Valid() bool {
	switch o {
	case GeneralFirst, GeneralOnly, SpecialFirst, SpecialOnly:
		return true
	}
	return false
}

type PassengerKind string

const (
	Adult          PassengerKind = "adult"
	Child          PassengerKind = "child"
	Senior         PassengerKind = "senior"
	Disability1To3 PassengerKind = "disability1to3"
	Disability4To6 PassengerKind = "disability4to6"
)

// Passenger is one category of traveller with a head count. Backends price a booking per
// category, so a party of three adults is a single Passenger{Adult, 3}.
type Passenger struct {
	Kind  PassengerKind `json:"kind"`
	Count int           `json:"count"`
}

type SearchParams struct {
	Departure  string
	Arrival    string
	Date       string // YYYYMMDD
	Time       string // HHMMSS
	Passengers []Passenger
	// IncludeUnavailable asks the backend to return sold-out and standby-only trains too.
	IncludeUnavailable bool
}

// Train is one search result.
type Train interface {
	Number() string
	Name() string
	DepartureTime() string
	ArrivalTime() string
	GeneralSeatAvailable() bool
	SpecialSeatAvailable() bool
	StandbyAvailable() bool
}

type Ticket struct {
	Number    string        `json:"number"`
	Car       string        `json:"car"`
	Seat      string        `json:"seat"`
	SeatClass string        `json:"seat_class"`
	Passenger PassengerKind `json:"passenger"`
	Price     int           `json:"price"`
	Paid      bool          `json:"paid"`
}

// Reservation is what Reserve hands back. It is only a real booking when tickets are attached.
type Reservation interface {
	ID() string
	Tickets() []Ticket
	IsWaiting() bool
	Summary() string
}

type Card struct {
	Number       string
	Password     string // first two digits
	BirthOrBizID string // birth date or business registration number; its length selects the HolderType
	Expiry       string // YYMM
}

type HolderType string

const (
	Business HolderType = "J"
	Personal HolderType = "S"
)

type CardPayment struct {
	Card
	Installments int
	Holder       HolderType
}

// Client is implemented once per backend. Instances carry a login session and must not be
// shared between concurrent booking runs.
type Client interface {
	Login(ctx context.Context, identity, secret string) (bool, error)
	SearchTrains(ctx context.Context, p SearchParams) ([]Train, error)
	Reserve(ctx context.Context, t Train, passengers []Passenger, seat SeatOption) (Reservation, error)
	PayWithCard(ctx context.Context, r Reservation, p CardPayment) (bool, error)
	Cancel(ctx context.Context, reservationID string) (bool, error)
	Refund(ctx context.Context, t Ticket) (bool, error)
	// ClearBotState drops any cached anti-bot token. Best effort.
	ClearBotState(ctx context.Context)
}

var (
	ErrMalformedResponse = errors.New("rail: malformed response")
	ErrConfig            = errors.New("rail: invalid configuration")
)

// UpstreamError is a failure reported by the backend itself.
type UpstreamError struct {
	Variant Variant
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", strings.ToLower(string(e.Variant)), e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", strings.ToLower(string(e.Variant)), e.Message, e.Code)
}

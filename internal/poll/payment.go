package poll

import (
	"context"
	"errors"

	"github.com/Donghyun-Son/srtgo/internal/credentials"
	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
)

// HolderTypeFor derives the card holder type from the length of the stored birth/business
// id: six characters means a corporate card, anything else a personal one.
func HolderTypeFor(id string) rail.HolderType {
	if len(id) == 6 {
		return rail.Business
	}
	return rail.Personal
}

// pay settles a held reservation with the user's stored card. The seat stays reserved
// whatever happens here; the returned Payment only describes the attempt.
func (r *run) pay(ctx context.Context, res rail.Reservation) reservation.Payment {
	card, err := r.e.Credentials.PaymentCard(ctx, r.rec.UserID, r.rec.Rail)
	if errors.Is(err, credentials.ErrNotFound) {
		r.log.Info("auto-pay skipped, no card on file")
		return reservation.Payment{Status: reservation.PaymentNoCardOnFile}
	}
	if err != nil {
		r.log.Error("load payment card", "err", err)
		return reservation.Payment{Status: reservation.PaymentFailed, Error: "load card: " + err.Error()}
	}

	holder := HolderTypeFor(card.BirthOrBizID)
	p := reservation.Payment{CardLast4: last4(card.Number), HolderType: string(holder)}
	ok, err := r.client.PayWithCard(ctx, res, rail.CardPayment{Card: card, Installments: 0, Holder: holder})
	switch {
	case err != nil:
		p.Status, p.Error = reservation.PaymentFailed, err.Error()
	case !ok:
		p.Status, p.Error = reservation.PaymentFailed, "payment declined"
	default:
		p.Status = reservation.PaymentCompleted
		now := r.clk.Now().UTC()
		p.PaidAt = &now
	}
	r.log.Info("auto-pay finished", "status", string(p.Status), "holder", string(holder), "card", p.CardLast4)
	return p
}

func last4(number string) string {
	if len(number) <= 4 {
		return number
	}
	return number[len(number)-4:]
}

package poll

import (
	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
)

// Passengers turns per-category counts into one rail.Passenger per non-empty category, in a
// fixed category order.
func Passengers(c reservation.PassengerCounts) []rail.Passenger {
	var out []rail.Passenger
	for _, p := range []rail.Passenger{
		{Kind: rail.Adult, Count: c.Adult},
		{Kind: rail.Child, Count: c.Child},
		{Kind: rail.Senior, Count: c.Senior},
		{Kind: rail.Disability1To3, Count: c.Disability1To3},
		{Kind: rail.Disability4To6, Count: c.Disability4To6},
	} {
		if p.Count > 0 {
			out = append(out, p)
		}
	}
	return out
}

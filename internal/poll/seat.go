package poll

import "github.com/Donghyun-Son/srtgo/internal/rail"

// SeatAvailable decides whether a train can be booked under the seat preference. When neither
// seat class has room the train is still usable through its standby list.
func SeatAvailable(general, special, standby bool, pref rail.SeatOption) bool {
	if !general && !special {
		return standby
	}
	switch pref {
	case rail.GeneralOnly:
		return general
	case rail.SpecialOnly:
		return special
	default:
		return true
	}
}

func trainAvailable(t rail.Train, pref rail.SeatOption) bool {
	return SeatAvailable(t.GeneralSeatAvailable(), t.SpecialSeatAvailable(), t.StandbyAvailable(), pref)
}

// trainAllowed applies the optional train-number filter.
func trainAllowed(t rail.Train, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, n := range filter {
		if n == t.Number() {
			return true
		}
	}
	return false
}

package poll

import (
	"fmt"
	"strings"
	"time"

	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
)

func successMessage(res reservation.Result) string {
	lines := []string{"🎉 예약 성공! 🎉"}
	if res.TrainName != "" || res.TrainNumber != "" {
		lines = append(lines, fmt.Sprintf("🚅 %s", strings.TrimSpace(res.TrainName+" "+res.TrainNumber)))
	}
	if res.DepartureTime != "" && res.ArrivalTime != "" {
		lines = append(lines, fmt.Sprintf("⏰ %s → %s", clockTime(res.DepartureTime), clockTime(res.ArrivalTime)))
	}
	if len(res.Tickets) > 0 {
		lines = append(lines, "\n🎫 좌석 정보:")
		for _, t := range res.Tickets {
			lines = append(lines, "  • "+seatLine(t))
		}
	}
	if p := res.Payment; p != nil {
		switch p.Status {
		case reservation.PaymentCompleted:
			lines = append(lines, "\n💳 결제 완료")
		case reservation.PaymentFailed:
			lines = append(lines, "\n⚠️ 결제 실패: "+p.Error+"\n좌석은 확보되었습니다. 직접 결제해 주세요.")
		case reservation.PaymentNoCardOnFile:
			lines = append(lines, "\n💳 등록된 카드가 없어 결제하지 못했습니다. 직접 결제해 주세요.")
		}
	}
	return strings.Join(lines, "\n")
}

func failureMessage(reason string) string {
	return "❌ 예약 실패\n\n" + reason
}

func errorMessage(reason string) string {
	return "⚠️ 예약 중 오류 발생\n\n" + reason
}

func unrecordedMessage(upstreamID string, released bool) string {
	if released {
		return "⚠️ 예약이 취소된 뒤 좌석이 확보되어 해당 예약(" + upstreamID + ")을 자동으로 취소했습니다."
	}
	return "⚠️ 예약이 취소된 뒤 좌석이 확보되었지만 자동 취소에 실패했습니다.\n예약번호 " + upstreamID + " 를 직접 확인해 주세요."
}

func seatLine(t rail.Ticket) string {
	var parts []string
	if t.Car != "" {
		parts = append(parts, t.Car+"호차")
	}
	if t.Seat != "" {
		parts = append(parts, t.Seat)
	}
	if t.SeatClass != "" {
		parts = append(parts, "("+t.SeatClass+")")
	}
	if len(parts) == 0 {
		return t.Number
	}
	return strings.Join(parts, " ")
}

// clockTime renders HHMMSS as HH:MM and leaves anything else alone.
func clockTime(s string) string {
	if len(s) == 6 && digitsOnly(s) {
		return s[:2] + ":" + s[2:4]
	}
	return s
}

func digitsOnly(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func progressMessage(attempts int, elapsed time.Duration) string {
	return fmt.Sprintf("searching: attempt %d, elapsed %s", attempts, hms(elapsed))
}

func hms(d time.Duration) string {
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

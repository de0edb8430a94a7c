package notify

import (
	"fmt"
	"time"

	"yoyaku/backend/internal/domain"
)

// renderMessage produces the channel-independent subject and body for a
// reservation event. Times are formatted in the shop's local zone; guests
// and staff read wall-clock times, not UTC.
func renderMessage(shop domain.Shop, res domain.Reservation, event domain.ReservationEvent) (subject, body string) {
	loc, err := shop.Location()
	if err != nil {
		loc = time.UTC
	}
	start := res.StartAt.In(loc).Format("2006-01-02 15:04")
	end := res.EndAt.In(loc).Format("15:04")
	window := fmt.Sprintf("%s-%s", start, end)

	guest := res.GuestName
	if guest == "" {
		guest = "guest"
	}

	switch event {
	case domain.EventReservationCreated:
		if res.Status == domain.ReservationStatusReserved {
			subject = fmt.Sprintf("[%s] Hold placed %s", shop.Name, window)
			body = fmt.Sprintf("%s placed a hold for %s. It expires if checkout is not completed in time.", guest, window)
		} else {
			subject = fmt.Sprintf("[%s] Reservation created %s", shop.Name, window)
			body = fmt.Sprintf("A reservation for %s was created for %s.", guest, window)
		}
	case domain.EventReservationConfirmed:
		subject = fmt.Sprintf("[%s] Reservation confirmed %s", shop.Name, window)
		body = fmt.Sprintf("The reservation for %s at %s is confirmed.", guest, window)
	case domain.EventReservationCancelled:
		subject = fmt.Sprintf("[%s] Reservation cancelled %s", shop.Name, window)
		body = fmt.Sprintf("The reservation for %s at %s was cancelled.", guest, window)
		if res.CancelReason != "" {
			body += " Reason: " + res.CancelReason
		}
	default:
		subject = fmt.Sprintf("[%s] Reservation update %s", shop.Name, window)
		body = fmt.Sprintf("Reservation %s changed to %s.", res.ID, res.Status)
	}
	return subject, body
}

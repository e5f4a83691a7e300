package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tourbook/internal/models"
)

// BookingLister is the read side the reminder needs.
type BookingLister interface {
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
}

// StartReminders posts tomorrow's departures to the staff chats every day at
// reminderTime (HH:MM in loc). It blocks until ctx is done.
func (n *Notifier) StartReminders(ctx context.Context, bookings BookingLister, reminderTime string, loc *time.Location) error {
	hour, minute, err := parseClock(reminderTime)
	if err != nil {
		return err
	}
	if loc == nil {
		loc = time.UTC
	}

	timer := time.NewTimer(timeUntil(time.Now().In(loc), hour, minute))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := n.SendTomorrowDigest(ctx, bookings, time.Now().In(loc)); err != nil {
				n.logger.Error().Err(err).Msg("reminder digest failed")
			}
			timer.Reset(timeUntil(time.Now().In(loc), hour, minute))
		}
	}
}

// SendTomorrowDigest lists the active bookings departing the day after now.
// Nothing is sent when there are none.
func (n *Notifier) SendTomorrowDigest(ctx context.Context, bookings BookingLister, now time.Time) error {
	all, err := bookings.ListBookings(ctx, models.BookingFilter{})
	if err != nil {
		return fmt.Errorf("reminder: list bookings: %w", err)
	}

	tomorrow := now.AddDate(0, 0, 1).Format(models.DateLayout)
	var due []models.Booking
	for i := range all {
		if shouldRemindStatus(all[i].Status) && all[i].Date.Format(models.DateLayout) == tomorrow {
			due = append(due, all[i])
		}
	}
	if len(due) == 0 {
		return nil
	}

	return n.broadcast(formatDigest(now.AddDate(0, 0, 1), due))
}

func shouldRemindStatus(status string) bool {
	switch status {
	case models.StatusPending, models.StatusConfirmed:
		return true
	default:
		return false
	}
}

func formatDigest(day time.Time, bookings []models.Booking) string {
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].TourTitle < bookings[j].TourTitle
	})

	people := 0
	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 *Departures %s*\n", day.Format("02/01/2006"))
	for i := range bookings {
		b := &bookings[i]
		people += b.People
		mark := "⏳"
		if b.Status == models.StatusConfirmed {
			mark = "✅"
		}
		paid := ""
		if b.IsPaid() {
			paid = " 💰"
		}
		fmt.Fprintf(&sb, "\n%s #%s %s · %d pax · %s %s%s",
			mark, b.ShortID(), escape(b.TourTitle), b.People, escape(b.Name), escape(b.Phone), paid)
	}
	fmt.Fprintf(&sb, "\n\nTotal: %d bookings, %d people", len(bookings), people)
	return sb.String()
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid reminder time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

func timeUntil(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

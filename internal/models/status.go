package models

import "strings"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

var validTransitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled},
	StatusCancelled: {},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(status string) bool {
	next, ok := validTransitions[status]
	return ok && len(next) == 0
}

// ParseStatus normalizes s and reports whether it is a known status.
func ParseStatus(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "canceled" {
		s = StatusCancelled
	}
	_, ok := validTransitions[s]
	return s, ok
}

// Statuses lists every known status in lifecycle order.
func Statuses() []string {
	return []string{StatusPending, StatusConfirmed, StatusCancelled}
}

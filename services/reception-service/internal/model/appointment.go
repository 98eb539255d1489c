package model

import "time"

// Appointment statuses. The booking core only ever creates pending;
// every other status is reached through an explicit transition.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusNoShow    = "no_show"
)

type Appointment struct {
	ID                      string
	BusinessID              string
	ContactID               string
	ClientName              string
	ClientPhone             string
	ClientEmail             string
	ServiceType             string
	StartTime               time.Time
	DurationMinutes         int
	Status                  string
	ExternalCalendarEventID string
	ExternalSheetRowID      string
	Notes                   string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// CanTransition reports whether the status machine admits from -> to.
// Terminal states (completed, cancelled, no_show) admit nothing.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusNoShow || to == StatusCancelled
	default:
		return false
	}
}

func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

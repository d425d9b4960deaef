// Package calendar defines the out-of-scope calendar-backend collaborator
//: the appointment handler consults it for conflicts and
// records the external event it creates on confirmation.
package calendar

import (
	"context"
	"time"
)

// Event is the minimal slice of an external calendar event the action
// executor needs: identity plus its occupied window.
type Event struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Provider is implemented per workspace using the OAuth credentials stored
// (encrypted) in workspace settings.
type Provider interface {
	// ListEvents returns events overlapping [from, to) on calendarID.
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error)
	// CreateEvent books the slot and returns the backend's event id.
	CreateEvent(ctx context.Context, calendarID, summary string, start, end time.Time) (eventID string, err error)
}

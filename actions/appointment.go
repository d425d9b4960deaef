package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/calendar"
	"github.com/loomwire/loomwire/observability"
	"github.com/loomwire/loomwire/pkg/crypto"
	"github.com/loomwire/loomwire/storage"
)

type appointmentPayload struct {
	ServiceType     string `json:"service_type"`
	PreferredDate   string `json:"preferred_date"` // 2006-01-02
	PreferredTime   string `json:"preferred_time"` // 15:04
	ClientName      string `json:"client_name"`
	ClientEmail     string `json:"client_email"`
	ClientPhone     string `json:"client_phone"`
	StaffPreference string `json:"staff_preference"`
}

func (p appointmentPayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.ServiceType, validation.Required),
		validation.Field(&p.PreferredDate, validation.Required, validation.Date("2006-01-02")),
		validation.Field(&p.PreferredTime, validation.Required, validation.Date("15:04")),
		validation.Field(&p.ClientName, validation.Required),
	)
	if err != nil {
		return apperr.NewValidation(err.Error())
	}
	return nil
}

// Booker wires the appointment action's collaborators: the secret box that
// unseals workspace calendar credentials and the provider constructor for
// the external calendar backend. NewProvider is a seam so tests can swap in
// a fake without an HTTP server.
type Booker struct {
	Secrets     *crypto.SecretBox
	NewProvider func(token string) calendar.Provider
}

// BookAppointment is the personal_services action: the service must be
// active; staff is auto-assigned first-available when no preference is
// given; confirmation creates an external calendar event and records its id.
func (b *Booker) BookAppointment(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, req Request, executionID uuid.UUID) (string, map[string]any, string, error) {
	var p appointmentPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return "", nil, "", err
	}
	if err := p.Validate(); err != nil {
		return "", nil, "", err
	}

	service, err := lookupServiceType(tx, workspaceID, p.ServiceType)
	if err != nil {
		return "", nil, "", err
	}

	start, err := time.Parse("2006-01-02 15:04", p.PreferredDate+" "+p.PreferredTime)
	if err != nil {
		return "", nil, "", apperr.NewValidation("preferred_date/preferred_time do not form a valid datetime")
	}
	start = start.UTC()
	duration := time.Duration(service.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = 30 * time.Minute
	}
	end := start.Add(duration)

	settings, err := storage.LoadSettings(tx, b.Secrets, workspaceID)
	if err != nil {
		return "", nil, "", err
	}
	var provider calendar.Provider
	if settings.CalendarToken != "" && b.NewProvider != nil {
		provider = b.NewProvider(settings.CalendarToken)
	}

	staff, err := b.assignStaff(ctx, tx, workspaceID, p.StaffPreference, provider, start, end)
	if err != nil {
		return "", nil, "", err
	}

	clientContact, _ := json.Marshal(map[string]string{
		"name": p.ClientName, "email": p.ClientEmail, "phone": p.ClientPhone,
	})
	appointment := storage.Appointment{
		ID:                uuid.New(),
		WorkspaceID:       workspaceID,
		ActionExecutionID: executionID,
		ServiceTypeID:     service.ID,
		ScheduledAt:       start,
		DurationMinutes:   int(duration.Minutes()),
		ClientContactJSON: clientContact,
		Status:            "booked",
		CreatedAt:         time.Now().UTC(),
	}
	if staff != nil {
		appointment.StaffID = &staff.ID
	}

	// Calendar event on the workspace calendar; its id rides on the row.
	if provider != nil && settings.CalendarID != "" {
		summary := fmt.Sprintf("%s — %s", service.Name, p.ClientName)
		eventID, err := provider.CreateEvent(ctx, settings.CalendarID, summary, start, end)
		if err != nil {
			return "", nil, "", fmt.Errorf("creating calendar event: %w", err)
		}
		appointment.GoogleEventID = eventID
	}

	if err := tx.Create(&appointment).Error; err != nil {
		return "", nil, "", fmt.Errorf("persisting appointment: %w", err)
	}

	summary := fmt.Sprintf("Turno confirmado: %s el %s a las %s",
		service.Name, p.PreferredDate, p.PreferredTime)
	details := map[string]any{
		"appointment_id": appointment.ID.String(),
		"service_type":   service.Name,
		"scheduled_at":   start.Format(time.RFC3339),
		"duration_min":   appointment.DurationMinutes,
		"client_name":    p.ClientName,
	}
	if staff != nil {
		details["staff"] = staff.Name
		summary += " con " + staff.Name
	}
	if appointment.GoogleEventID != "" {
		details["google_event_id"] = appointment.GoogleEventID
	}
	return summary, details, "appointment_booked", nil
}

// assignStaff resolves the staff member for a slot: the explicit preference
// when given, otherwise the first active member with no overlapping
// appointment and, when they expose a private calendar, no conflicting
// calendar event.
func (b *Booker) assignStaff(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, preference string, provider calendar.Provider, start, end time.Time) (*storage.StaffMember, error) {
	staff, err := listActiveStaff(tx, workspaceID)
	if err != nil {
		return nil, err
	}
	if len(staff) == 0 {
		return nil, nil
	}

	if preference != "" {
		for i := range staff {
			if staff[i].Name == preference {
				return &staff[i], nil
			}
		}
		return nil, apperr.NotFoundError(fmt.Sprintf("staff member %q not found", preference))
	}

	for i := range staff {
		// Overlap check in Go keeps the predicate identical on both drivers;
		// the window is bounded by the longest plausible appointment.
		var nearby []storage.Appointment
		err := tx.Where("workspace_id = ? AND staff_id = ? AND status = 'booked'", workspaceID, staff[i].ID).
			Where("scheduled_at >= ? AND scheduled_at < ?", start.Add(-4*time.Hour), end).
			Find(&nearby).Error
		if err != nil {
			return nil, err
		}
		busy := false
		for _, appt := range nearby {
			apptEnd := appt.ScheduledAt.Add(time.Duration(appt.DurationMinutes) * time.Minute)
			if appt.ScheduledAt.Before(end) && start.Before(apptEnd) {
				busy = true
				break
			}
		}
		if busy {
			continue
		}
		if provider != nil && staff[i].CalendarID != "" {
			events, err := provider.ListEvents(ctx, staff[i].CalendarID, start, end)
			if err != nil {
				logrus.WithError(err).WithFields(observability.Fields{
					"component": "actions", "staff": staff[i].Name,
				}).Warn("staff calendar probe failed, assuming free")
			} else if len(events) > 0 {
				continue
			}
		}
		return &staff[i], nil
	}
	return nil, apperr.NewValidation("no staff member is available at the requested time",
		apperr.FieldDiagnostic{Field: "preferred_time", Message: "all staff are booked for this slot"})
}

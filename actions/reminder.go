package actions

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/storage"
)

type reminderPayload struct {
	AppointmentID string `json:"appointment_id"`
	RemindAt      string `json:"remind_at"` // RFC3339
	Message       string `json:"message"`
}

func (p reminderPayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.AppointmentID, validation.Required, validation.By(mustUUID)),
		validation.Field(&p.RemindAt, validation.Required, validation.By(mustRFC3339)),
		validation.Field(&p.Message, validation.Length(0, 500)),
	)
	if err != nil {
		return apperr.NewValidation(err.Error())
	}
	return nil
}

// SendReminder schedules a reminder for a booked appointment. The reminder
// itself is delivered by the outbox drainer; this handler only validates
// the appointment and emits the event, reusing the executor's idempotency
// and outbox machinery wholesale.
func SendReminder(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, req Request, executionID uuid.UUID) (string, map[string]any, string, error) {
	var p reminderPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return "", nil, "", err
	}
	if err := p.Validate(); err != nil {
		return "", nil, "", err
	}

	appointmentID := uuid.MustParse(p.AppointmentID)
	var appointment storage.Appointment
	err := tx.Where("workspace_id = ? AND id = ?", workspaceID, appointmentID).First(&appointment).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil, "", apperr.NotFoundError(fmt.Sprintf("appointment %s not found", appointmentID))
	}
	if err != nil {
		return "", nil, "", err
	}
	if appointment.Status != "booked" {
		return "", nil, "", apperr.NewValidation("appointment is not booked",
			apperr.FieldDiagnostic{Field: "appointment_id", Message: "only booked appointments can be reminded"})
	}

	remindAt, _ := time.Parse(time.RFC3339, p.RemindAt)
	if !remindAt.After(time.Now().UTC()) {
		return "", nil, "", apperr.NewValidation("remind_at must be in the future",
			apperr.FieldDiagnostic{Field: "remind_at", Message: "must be a future datetime"})
	}

	summary := fmt.Sprintf("Recordatorio programado para %s", remindAt.Format("2006-01-02 15:04"))
	details := map[string]any{
		"appointment_id": appointment.ID.String(),
		"remind_at":      remindAt.UTC().Format(time.RFC3339),
		"message":        p.Message,
	}
	return summary, details, "reminder_scheduled", nil
}

package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/storage"
)

type visitPayload struct {
	PropertyID        string         `json:"property_id"`
	PreferredDatetime string         `json:"preferred_datetime"`
	ContactInfo       map[string]any `json:"contact_info"`
}

func (p visitPayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.PropertyID, validation.Required, validation.By(mustUUID)),
		validation.Field(&p.PreferredDatetime, validation.Required, validation.By(mustRFC3339)),
	)
	if err != nil {
		return apperr.NewValidation(err.Error())
	}
	return nil
}

func mustUUID(value any) error {
	s, _ := value.(string)
	_, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("must be a UUID")
	}
	return nil
}

func mustRFC3339(value any) error {
	s, _ := value.(string)
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return fmt.Errorf("must be an RFC3339 datetime")
	}
	return nil
}

// ScheduleVisit is the real_estate action: the property must exist and be
// available; contact info is a free-form object carried as-is.
func ScheduleVisit(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, req Request, executionID uuid.UUID) (string, map[string]any, string, error) {
	var p visitPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return "", nil, "", err
	}
	if err := p.Validate(); err != nil {
		return "", nil, "", err
	}

	propertyID := uuid.MustParse(p.PropertyID)
	property, err := lookupProperty(tx, workspaceID, propertyID)
	if err != nil {
		return "", nil, "", err
	}
	when, _ := time.Parse(time.RFC3339, p.PreferredDatetime)

	contactJSON, _ := json.Marshal(p.ContactInfo)
	visit := storage.Visit{
		ID:                uuid.New(),
		WorkspaceID:       workspaceID,
		ActionExecutionID: executionID,
		PropertyID:        property.ID,
		PreferredDatetime: when.UTC(),
		ContactInfoJSON:   contactJSON,
		Status:            "scheduled",
		CreatedAt:         time.Now().UTC(),
	}
	if err := tx.Create(&visit).Error; err != nil {
		return "", nil, "", fmt.Errorf("persisting visit: %w", err)
	}

	summary := fmt.Sprintf("Visita agendada para %s en %s (%s)",
		when.Format("2006-01-02 15:04"), property.Zone, property.Operation)
	details := map[string]any{
		"visit_id": visit.ID.String(), "property_id": property.ID.String(),
		"preferred_datetime": when.Format(time.RFC3339),
		"zone":               property.Zone, "operation": property.Operation,
	}
	return summary, details, "visit_scheduled", nil
}

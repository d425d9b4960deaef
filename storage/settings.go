package storage

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loomwire/loomwire/pkg/crypto"
)

// WorkspaceSettings is the decrypted shape of workspaces.settings:
// integration tokens, the business calendar, and business hours. The raw
// column holds the JSON sealed with pkg/crypto.
type WorkspaceSettings struct {
	CalendarID    string        `json:"calendar_id"`
	CalendarToken string        `json:"calendar_token"`
	BusinessHours BusinessHours `json:"business_hours"`
}

// BusinessHours bounds the personal_services booking window; zero values
// mean "always open".
type BusinessHours struct {
	Open  string `json:"open"`  // "09:00"
	Close string `json:"close"` // "18:00"
}

// LoadSettings reads and unseals a workspace's settings.
func LoadSettings(tx *gorm.DB, box *crypto.SecretBox, workspaceID uuid.UUID) (*WorkspaceSettings, error) {
	var ws Workspace
	if err := tx.First(&ws, "id = ?", workspaceID).Error; err != nil {
		return nil, fmt.Errorf("loading workspace: %w", err)
	}
	settings := &WorkspaceSettings{}
	if len(ws.Settings) == 0 {
		return settings, nil
	}
	plain, err := box.Open(string(ws.Settings))
	if err != nil {
		return nil, fmt.Errorf("unsealing workspace settings: %w", err)
	}
	if err := json.Unmarshal([]byte(plain), settings); err != nil {
		return nil, fmt.Errorf("decoding workspace settings: %w", err)
	}
	return settings, nil
}

// SaveSettings seals and persists a workspace's settings.
func SaveSettings(tx *gorm.DB, box *crypto.SecretBox, workspaceID uuid.UUID, settings *WorkspaceSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	sealed, err := box.Seal(string(raw))
	if err != nil {
		return fmt.Errorf("sealing workspace settings: %w", err)
	}
	return tx.Model(&Workspace{}).Where("id = ?", workspaceID).
		Update("settings", []byte(sealed)).Error
}

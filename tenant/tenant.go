// Package tenant implements C1: resolving workspace/channel/contact from
// inbound identifiers and handing every caller a tenant-bound storage
// session. Every lookup except the initial channel lookup goes through
// storage.DB.Session or WithTenant rather than a single global *gorm.DB.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/storage"
)

// Resolver resolves inbound webhook identifiers to a tenant context and
// upserts contacts as they're seen.
type Resolver struct {
	db *storage.DB
}

func NewResolver(db *storage.DB) *Resolver { return &Resolver{db: db} }

// Context is the resolved tenant binding passed down into every component
// that touches the storage layer for a given request.
type Context struct {
	WorkspaceID uuid.UUID
	ChannelID   uuid.UUID
	ContactID   uuid.UUID
}

// NormalizePhone applies the "whatsapp:+E164" normalization the webhook
// ingress requires for inbound identifiers.
func NormalizePhone(raw string) string {
	p := strings.TrimSpace(raw)
	p = strings.TrimPrefix(p, "whatsapp:")
	if !strings.HasPrefix(p, "+") {
		p = "+" + strings.TrimLeft(p, "0")
	}
	return "whatsapp:" + p
}

// ResolveChannel finds the (workspace, channel) pair for a display phone
// that received an inbound message. Returns apperr.NotFoundError if no
// channel is bound to that number.
func (r *Resolver) ResolveChannel(ctx context.Context, displayPhone string) (workspaceID, channelID uuid.UUID, err error) {
	var ch storage.Channel
	// Channel lookup has no known workspace yet, so it is the one query in
	// this package that is not tenant-scoped; every subsequent call is.
	if err := r.db.Raw().WithContext(ctx).
		Where("display_phone = ? AND status = ?", displayPhone, "active").
		First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, uuid.Nil, apperr.NotFoundError(fmt.Sprintf("no channel bound to %s", displayPhone))
		}
		return uuid.Nil, uuid.Nil, err
	}
	return ch.WorkspaceID, ch.ID, nil
}

// ChannelPhone returns the display phone of a workspace's channel, used as
// the outbound From.
func (r *Resolver) ChannelPhone(ctx context.Context, workspaceID, channelID uuid.UUID) (string, error) {
	tx, err := r.db.Session(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	defer r.db.Release()
	var ch storage.Channel
	if err := tx.First(&ch, "id = ? AND workspace_id = ?", channelID, workspaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperr.NotFoundError("channel not found")
		}
		return "", err
	}
	return ch.DisplayPhone, nil
}

// UpsertContact resolves or creates the Contact row for a normalized phone
// within a workspace, tenant-scoped.
func (r *Resolver) UpsertContact(ctx context.Context, workspaceID uuid.UUID, phone string) (uuid.UUID, error) {
	var contactID uuid.UUID
	err := r.db.WithTenant(ctx, workspaceID, func(tx *gorm.DB) error {
		var existing storage.Contact
		err := tx.Where("workspace_id = ? AND phone = ?", workspaceID, phone).First(&existing).Error
		switch {
		case err == nil:
			contactID = existing.ID
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			c := storage.Contact{
				ID:          uuid.New(),
				WorkspaceID: workspaceID,
				Phone:       phone,
				CreatedAt:   time.Now().UTC(),
				UpdatedAt:   time.Now().UTC(),
			}
			if err := tx.Create(&c).Error; err != nil {
				return err
			}
			contactID = c.ID
			return nil
		default:
			return err
		}
	})
	return contactID, err
}

// ResolveOrOpenConversation finds the open conversation for (channel,
// contact) or opens a new one, tenant-scoped to workspaceID.
func (r *Resolver) ResolveOrOpenConversation(ctx context.Context, workspaceID, channelID, contactID uuid.UUID) (uuid.UUID, error) {
	var conversationID uuid.UUID
	err := r.db.WithTenant(ctx, workspaceID, func(tx *gorm.DB) error {
		var existing storage.Conversation
		err := tx.Where("workspace_id = ? AND channel_id = ? AND contact_id = ? AND status = ?",
			workspaceID, channelID, contactID, "open").First(&existing).Error
		switch {
		case err == nil:
			conversationID = existing.ID
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			c := storage.Conversation{
				ID:          uuid.New(),
				WorkspaceID: workspaceID,
				ChannelID:   channelID,
				ContactID:   contactID,
				Status:      "open",
				CreatedAt:   time.Now().UTC(),
				UpdatedAt:   time.Now().UTC(),
			}
			if err := tx.Create(&c).Error; err != nil {
				return err
			}
			conversationID = c.ID
			return nil
		default:
			return err
		}
	})
	return conversationID, err
}

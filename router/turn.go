package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/loomwire/loomwire/actions"
	"github.com/loomwire/loomwire/observability"
	"github.com/loomwire/loomwire/orchestrator"
	"github.com/loomwire/loomwire/retrieval"
	"github.com/loomwire/loomwire/storage"
	"github.com/loomwire/loomwire/tenant"
)

// Decider is the C8 seam: satisfied in-process by orchestrator.Engine (via
// LocalDecider) and remotely by the HTTP client in orchclient.go.
type Decider interface {
	Decide(ctx context.Context, snapshot orchestrator.ConversationSnapshot) (orchestrator.Decision, error)
	Answer(ctx context.Context, snapshot orchestrator.ConversationSnapshot) (orchestrator.Decision, error)
}

// LocalDecider adapts orchestrator.Engine to the Decider seam.
type LocalDecider struct{ Engine *orchestrator.Engine }

func (d LocalDecider) Decide(ctx context.Context, s orchestrator.ConversationSnapshot) (orchestrator.Decision, error) {
	return d.Engine.Decide(ctx, s), nil
}

func (d LocalDecider) Answer(ctx context.Context, s orchestrator.ConversationSnapshot) (orchestrator.Decision, error) {
	return d.Engine.Answer(ctx, s), nil
}

// Turner runs one combined user turn: decide → (retrieve | execute) →
// compose, then persists the authoritative next state atomically before the
// reply goes out.
type Turner struct {
	DB        *storage.DB
	Decider   Decider
	Retrieval *retrieval.Engine
	Actions   *actions.Executor
	Guard     *orchestrator.RateGuard
}

const maxToolRounds = 3

func (t *Turner) RunTurn(ctx context.Context, tc tenant.Context, conversationID uuid.UUID, userText string, sourceMessageIDs []string) (string, error) {
	// The rate guard absorbs bursty chatter inside the worker by waiting
	// out the residual gap; the HTTP decide endpoint surfaces 429 instead.
	if t.Guard != nil {
		if ok, wait := t.Guard.Allow(conversationID); !ok {
			time.Sleep(wait)
		}
	}

	snapshot, err := t.loadSnapshot(ctx, tc, conversationID, userText)
	if err != nil {
		return "", err
	}

	var decision orchestrator.Decision
	assistant := ""
	for round := 0; round < maxToolRounds; round++ {
		decision, err = t.Decider.Decide(ctx, snapshot)
		if err != nil {
			return "", err
		}

		switch decision.NextAction {
		case orchestrator.ActionRetrieveContext:
			snapshot = t.applyRetrieval(ctx, tc, snapshot, decision)
			continue
		case orchestrator.ActionExecuteAction:
			assistant = t.applyAction(ctx, tc, conversationID, decision)
		case orchestrator.ActionGreet:
			snapshot.Greeted = true
			assistant = decision.Assistant
		default:
			assistant = decision.Assistant
		}
		break
	}
	if decision.NextAction == orchestrator.ActionRetrieveContext {
		// Tool budget exhausted with retrieval still pending: answer from
		// whatever context is in hand rather than looping.
		answered, err := t.Decider.Answer(ctx, snapshot)
		if err != nil {
			return "", err
		}
		decision = answered
		assistant = answered.Assistant
	}

	if err := t.persistTurn(ctx, tc, conversationID, userText, sourceMessageIDs, assistant, snapshot, decision); err != nil {
		return "", err
	}
	return assistant, nil
}

// applyRetrieval runs the RETRIEVE_CONTEXT tool call and folds the passages
// back into the snapshot for the next decision pass.
func (t *Turner) applyRetrieval(ctx context.Context, tc tenant.Context, snapshot orchestrator.ConversationSnapshot, decision orchestrator.Decision) orchestrator.ConversationSnapshot {
	snapshot.Slots = decision.Slots
	snapshot.LastAction = string(orchestrator.ActionRetrieveContext)
	snapshot.AttemptsCount = decision.Attempts

	for _, tc2 := range decision.ToolCalls {
		if tc2.Tool != "retrieve_context" {
			continue
		}
		req := retrieval.Request{
			WorkspaceID: tc.WorkspaceID,
			Query:       tc2.Query,
			Filters:     retrieval.FiltersFromAny(tc2.Filters),
			TopK:        5,
			Hybrid:      true,
			Mode:        retrieval.PaginationHybrid,
		}
		resp, err := t.Retrieval.Search(ctx, req)
		if err != nil {
			logrus.WithError(err).WithFields(observability.Fields{
				"component": "router", "workspace": observability.WorkspaceHash(tc.WorkspaceID.String()),
			}).Warn("retrieval tool call failed")
			snapshot.RetrievedContext = []string{}
			continue
		}
		passages := make([]string, 0, len(resp.Results))
		for _, res := range resp.Results {
			passages = append(passages, res.Text)
		}
		snapshot.RetrievedContext = passages
	}
	return snapshot
}

// applyAction runs the EXECUTE_ACTION tool call; replays and fresh runs both
// come back as the user-facing summary. Executor failures keep the slot
// state and apologize, following the propagation policy.
func (t *Turner) applyAction(ctx context.Context, tc tenant.Context, conversationID uuid.UUID, decision orchestrator.Decision) string {
	for _, call := range decision.ToolCalls {
		if call.Tool != "execute_action" {
			continue
		}
		result, err := t.Actions.Execute(ctx, tc.WorkspaceID, actions.Request{
			ConversationID: conversationID,
			ActionName:     call.ActionName,
			Payload:        call.Payload,
			IdempotencyKey: call.IdempotencyKey,
		})
		if err != nil {
			logrus.WithError(err).WithFields(observability.Fields{
				"component": "router", "action": call.ActionName,
				"workspace": observability.WorkspaceHash(tc.WorkspaceID.String()),
			}).Error("action execution failed")
			return "Disculpá, no pude completar la operación. ¿Querés que lo intente de nuevo?"
		}
		if decision.Assistant != "" {
			return decision.Assistant + " " + result.Summary
		}
		return result.Summary
	}
	return decision.Assistant
}

// loadSnapshot assembles the ConversationSnapshot from the workspace's
// vertical and the conversation's latest slots row.
func (t *Turner) loadSnapshot(ctx context.Context, tc tenant.Context, conversationID uuid.UUID, userText string) (orchestrator.ConversationSnapshot, error) {
	var snapshot orchestrator.ConversationSnapshot
	err := t.DB.WithTenant(ctx, tc.WorkspaceID, func(tx *gorm.DB) error {
		var ws storage.Workspace
		if err := tx.First(&ws, "id = ?", tc.WorkspaceID).Error; err != nil {
			return fmt.Errorf("loading workspace: %w", err)
		}
		snapshot = orchestrator.ConversationSnapshot{
			ConversationID: conversationID,
			Vertical:       orchestrator.Vertical(ws.Vertical),
			UserInput:      userText,
			Slots:          orchestrator.Slots{},
		}

		var row storage.ConversationSlots
		err := tx.First(&row, "conversation_id = ? AND workspace_id = ?", conversationID, tc.WorkspaceID).Error
		switch {
		case err == nil:
			snapshot.Greeted = row.Greeted
			snapshot.Objective = row.Objective
			snapshot.LastAction = row.LastAction
			snapshot.AttemptsCount = row.Attempts
			if len(row.SlotsJSON) > 0 {
				_ = json.Unmarshal(row.SlotsJSON, &snapshot.Slots)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil
		default:
			return err
		}
	})
	return snapshot, err
}

// persistTurn writes the synthetic combined message, the assistant reply,
// and the authoritative slots row in one transaction.
func (t *Turner) persistTurn(ctx context.Context, tc tenant.Context, conversationID uuid.UUID, userText string, sourceIDs []string, assistant string, snapshot orchestrator.ConversationSnapshot, decision orchestrator.Decision) error {
	policy, perr := orchestrator.PolicyFor(snapshot.Vertical)
	objective := snapshot.Objective
	if objective == "" && perr == nil {
		objective = policy.Objective
	}

	return t.DB.WithTenant(ctx, tc.WorkspaceID, func(tx *gorm.DB) error {
		now := time.Now().UTC()

		// Synthetic aggregate only when several messages were combined; the
		// deterministic suffix keeps provider_message_id unique per workspace.
		if len(sourceIDs) > 1 {
			syntheticID := sourceIDs[len(sourceIDs)-1] + ":agg"
			meta, _ := json.Marshal(map[string]any{"source_message_ids": sourceIDs})
			synthetic := storage.Message{
				ID:                uuid.New(),
				WorkspaceID:       tc.WorkspaceID,
				ConversationID:    conversationID,
				Role:              "user",
				Direction:         "inbound",
				MessageType:       "synthetic",
				ProviderMessageID: &syntheticID,
				ContentText:       userText,
				MetadataJSON:      meta,
				CreatedAt:         now,
			}
			if err := tx.Create(&synthetic).Error; err != nil {
				return fmt.Errorf("persisting synthetic message: %w", err)
			}
		}

		if assistant != "" {
			reply := storage.Message{
				ID:             uuid.New(),
				WorkspaceID:    tc.WorkspaceID,
				ConversationID: conversationID,
				Role:           "assistant",
				Direction:      "outbound",
				MessageType:    "text",
				ContentText:    assistant,
				CreatedAt:      now,
			}
			if err := tx.Create(&reply).Error; err != nil {
				return fmt.Errorf("persisting assistant message: %w", err)
			}
		}

		slotsJSON, _ := json.Marshal(decision.Slots)
		row := storage.ConversationSlots{
			ConversationID: conversationID,
			WorkspaceID:    tc.WorkspaceID,
			SlotsJSON:      slotsJSON,
			Objective:      objective,
			Greeted:        snapshot.Greeted,
			Attempts:       decision.Attempts,
			LastAction:     string(decision.NextAction),
			UpdatedAt:      now,
		}
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("upserting conversation slots: %w", err)
		}

		return tx.Model(&storage.Conversation{}).
			Where("id = ? AND workspace_id = ?", conversationID, tc.WorkspaceID).
			Updates(map[string]any{
				"last_message_at": now, "last_message_text": assistant,
				"last_message_sender": "assistant",
				"total_messages":      gorm.Expr("total_messages + ?", len(sourceIDs)+1),
				"updated_at":          now,
			}).Error
	})
}

// PersistInbound records each original webhook message before any flush,
// satisfying router.MessagePersister.
func (t *Turner) PersistInbound(ctx context.Context, tc tenant.Context, conversationID uuid.UUID, msg InboundMessage) error {
	return t.DB.WithTenant(ctx, tc.WorkspaceID, func(tx *gorm.DB) error {
		sid := msg.MessageSid
		messageType := msg.MessageType
		if messageType == "" {
			messageType = "text"
		}
		row := storage.Message{
			ID:                uuid.New(),
			WorkspaceID:       tc.WorkspaceID,
			ConversationID:    conversationID,
			Role:              "user",
			Direction:         "inbound",
			MessageType:       messageType,
			ProviderMessageID: &sid,
			ContentText:       msg.Body,
			MediaURL:          msg.MediaURL,
			CreatedAt:         time.Now().UTC(),
		}
		return tx.Create(&row).Error
	})
}

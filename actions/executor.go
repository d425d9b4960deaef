// Package actions implements C7: schema-validated, idempotent business
// operations with outbox-style event emission. The handler registry is an
// explicit table passed at construction, same shape as the scheduler's
// executor table; validation uses ozzo-validation.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/observability"
	"github.com/loomwire/loomwire/storage"
)

// Request is the execute_action contract.
type Request struct {
	ConversationID uuid.UUID      `json:"conversation_id"`
	ActionName     string         `json:"action_name"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Result reports one execution back to the caller; InFlight distinguishes
// the 202 replay-while-processing case from terminal 200s.
type Result struct {
	ActionID   uuid.UUID      `json:"action_id"`
	Status     string         `json:"status"`
	Summary    string         `json:"summary"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
	ETAMinutes int            `json:"eta_minutes,omitempty"`
	InFlight   bool           `json:"-"`
}

// Handler performs one validated business operation inside tx — the same
// logical unit that finalizes the ActionExecution row, so the domain row,
// execution status, and outbox event commit or roll back together.
type Handler func(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, req Request, executionID uuid.UUID) (summary string, details map[string]any, eventType string, err error)

type Executor struct {
	db       *storage.DB
	metrics  *observability.Metrics
	handlers map[string]Handler
}

func NewExecutor(db *storage.DB, metrics *observability.Metrics, handlers map[string]Handler) *Executor {
	return &Executor{db: db, metrics: metrics, handlers: handlers}
}

const maxIdempotencyKeyLen = 64

// Execute applies the contract: insert-or-claim on
// (workspace, idempotency_key), replay for terminal rows, 202 for rows
// still processing, fresh handler run otherwise.
func (e *Executor) Execute(ctx context.Context, workspaceID uuid.UUID, req Request) (*Result, error) {
	if req.IdempotencyKey == "" || len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return nil, apperr.NewValidation("idempotency_key must be 1-64 characters",
			apperr.FieldDiagnostic{Field: "idempotency_key", Message: "required, max 64 chars"})
	}
	handler, ok := e.handlers[req.ActionName]
	if !ok {
		return nil, apperr.NotFoundError(fmt.Sprintf("unknown action %q", req.ActionName))
	}

	fingerprint := Fingerprint(req.Payload)
	// The caller may derive its key from the payload; a mismatched prefix is
	// diagnostic, never a rejection.
	if strings.Contains(req.IdempotencyKey, ":") && !strings.HasSuffix(req.IdempotencyKey, fingerprint[:8]) {
		logrus.WithFields(observability.Fields{
			"component": "actions", "action": req.ActionName,
			"workspace": observability.WorkspaceHash(workspaceID.String()),
		}).Warn("idempotency key prefix does not match payload fingerprint")
	}

	// Insert-or-claim. The insert rides on the (workspace, idempotency_key)
	// unique index with ON CONFLICT DO NOTHING, so two concurrent requests
	// can both reach it safely: the loser sees zero rows affected and falls
	// back to replaying the winner's row.
	execution := storage.ActionExecution{
		ID:             uuid.New(),
		WorkspaceID:    workspaceID,
		ConversationID: req.ConversationID,
		ActionName:     req.ActionName,
		IdempotencyKey: req.IdempotencyKey,
		Status:         "processing",
		DetailsJSON:    mustJSON(map[string]any{"payload_fingerprint": fingerprint}),
		CreatedAt:      time.Now().UTC(),
	}
	claimed := true
	err := e.db.WithTenant(ctx, workspaceID, func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&execution)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			claimed = false
			var existing storage.ActionExecution
			if err := tx.Where("workspace_id = ? AND idempotency_key = ?", workspaceID, req.IdempotencyKey).
				First(&existing).Error; err != nil {
				return err
			}
			execution = existing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !claimed {
		return e.replay(execution), nil
	}

	start := time.Now()
	result, execErr := e.run(ctx, workspaceID, req, execution, handler)
	outcome := "success"
	if execErr != nil {
		outcome = "failure"
	}
	e.metrics.ActionRequests.WithLabelValues(req.ActionName, outcome).Inc()
	e.metrics.ActionDuration.WithLabelValues(req.ActionName).Observe(time.Since(start).Seconds())
	return result, execErr
}

// replay returns the recorded outcome for an existing execution row:
// terminal rows answer with the original details, in-flight rows with the
// stored summary and InFlight set (the HTTP layer maps that to 202).
func (e *Executor) replay(execution storage.ActionExecution) *Result {
	var details map[string]any
	_ = json.Unmarshal(execution.DetailsJSON, &details)
	return &Result{
		ActionID:  execution.ID,
		Status:    execution.Status,
		Summary:   execution.Summary,
		Details:   details,
		CreatedAt: execution.CreatedAt,
		InFlight:  execution.Status == "processing",
	}
}

// run invokes the handler and finalizes the execution row and outbox event
// in one transaction. Handler validation errors surface to the caller after
// the row records the failure.
func (e *Executor) run(ctx context.Context, workspaceID uuid.UUID, req Request, execution storage.ActionExecution, handler Handler) (*Result, error) {
	var (
		summary   string
		details   map[string]any
		eventType string
	)
	err := e.db.WithTenant(ctx, workspaceID, func(tx *gorm.DB) error {
		var handlerErr error
		summary, details, eventType, handlerErr = handler(ctx, tx, workspaceID, req, execution.ID)
		if handlerErr != nil {
			return handlerErr
		}
		if details == nil {
			details = map[string]any{}
		}
		details["payload_fingerprint"] = Fingerprint(req.Payload)

		now := time.Now().UTC()
		if err := tx.Model(&storage.ActionExecution{}).Where("id = ?", execution.ID).
			Updates(map[string]any{
				"status": "success", "summary": summary,
				"details_json": mustJSON(details), "completed_at": now,
			}).Error; err != nil {
			return err
		}

		outboxPayload := map[string]any{"action_execution_id": execution.ID.String()}
		for k, v := range details {
			outboxPayload[k] = v
		}
		event := storage.OutboxEvent{
			ID:          uuid.New(),
			WorkspaceID: workspaceID,
			EventType:   eventType,
			PayloadJSON: mustJSON(outboxPayload),
			CreatedAt:   now,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		e.recordFailure(ctx, workspaceID, execution.ID, err)
		return nil, err
	}

	result := &Result{
		ActionID:  execution.ID,
		Status:    "success",
		Summary:   summary,
		Details:   details,
		CreatedAt: execution.CreatedAt,
	}
	if eta, ok := details["eta_minutes"].(int); ok {
		result.ETAMinutes = eta
	}
	return result, nil
}

// recordFailure marks the execution failed outside the rolled-back
// transaction so the idempotency row keeps its terminal state.
func (e *Executor) recordFailure(ctx context.Context, workspaceID, executionID uuid.UUID, cause error) {
	err := e.db.WithTenant(ctx, workspaceID, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		return tx.Model(&storage.ActionExecution{}).Where("id = ?", executionID).
			Updates(map[string]any{
				"status": "failed", "summary": "action failed",
				"details_json": mustJSON(map[string]any{"error": cause.Error()}),
				"completed_at": now,
			}).Error
	})
	if err != nil {
		logrus.WithError(err).WithFields(observability.Fields{
			"component": "actions", "execution_id": executionID,
		}).Error("failed to record action failure")
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

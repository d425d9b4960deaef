package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/loomwire/loomwire/actions"
	"github.com/loomwire/loomwire/llm"
	"github.com/loomwire/loomwire/observability"
)

// Engine is stateless per call: Decide maps one ConversationSnapshot to one
// Decision, deterministically given the same extracted slots.
type Engine struct {
	LLM      llm.Provider
	Guard    *RateGuard
	Composer *Composer
}

func NewEngine(provider llm.Provider, guard *RateGuard, composer *Composer) *Engine {
	return &Engine{LLM: provider, Guard: guard, Composer: composer}
}

// Decide runs the single-pass decision procedure. It never raises:
// internal failures collapse to an "ask the user to try again" answer with
// no slot mutation.
func (e *Engine) Decide(ctx context.Context, snapshot ConversationSnapshot) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(observability.Fields{
				"component": "orchestrator", "conversation": snapshot.ConversationID, "panic": fmt.Sprint(r),
			}).Error("decision procedure panicked")
			decision = e.tryAgain(snapshot)
		}
	}()

	policy, err := PolicyFor(snapshot.Vertical)
	if err != nil {
		return e.tryAgain(snapshot)
	}

	slots := snapshot.Slots.Clone()
	if slots == nil {
		slots = Slots{}
	}

	// 1. Greeting comes before anything else; the opening line may ground
	// itself on a read-only catalog listing.
	if !snapshot.Greeted {
		return Decision{
			Assistant:  e.Composer.Greeting(snapshot.Vertical),
			Slots:      slots,
			ToolCalls:  []ToolCall{{Tool: "list_catalog"}},
			NextAction: ActionGreet,
			Attempts:   snapshot.AttemptsCount,
		}
	}

	// 2. Slot extraction from this turn's input.
	extracted := e.extractSlots(ctx, snapshot.Vertical, policy, snapshot.UserInput)
	newlyFilled := 0
	for name, value := range extracted {
		if prev, ok := slots[name]; !ok || prev.Text() == "" || prev.Text() != value.Text() {
			if _, had := slots[name]; !had || slots[name].Text() == "" {
				newlyFilled++
			}
			slots[name] = value
		}
	}

	// 3. Chase the highest-priority missing required slot. Attempts only
	// advance on turns that filled nothing new.
	if missing := missingRequired(policy, snapshot.Vertical, slots); len(missing) > 0 {
		attempts := snapshot.AttemptsCount
		if newlyFilled == 0 {
			attempts++
		}
		if attempts > policy.MaxAttempts {
			return Decision{
				Assistant:  e.Composer.Handoff(snapshot.Vertical),
				Slots:      slots,
				NextAction: ActionAskHuman,
				Attempts:   attempts,
				End:        true,
			}
		}
		return Decision{
			Assistant:  e.Composer.SlotQuestion(snapshot.Vertical, missing[0]),
			Slots:      slots,
			NextAction: ActionSlotFill,
			Attempts:   attempts,
		}
	}

	// 4. Retrieval precedes action when the policy demands it and nothing
	// has been retrieved for this objective yet.
	if policy.NeedsRAGBeforeAction && len(snapshot.RetrievedContext) == 0 && snapshot.LastAction != string(ActionRetrieveContext) {
		query, filters := retrievalPlan(snapshot.Vertical, slots)
		return Decision{
			Slots:      slots,
			NextAction: ActionRetrieveContext,
			Attempts:   snapshot.AttemptsCount,
			ToolCalls: []ToolCall{{
				Tool:    "retrieve_context",
				Query:   query,
				Filters: filters,
			}},
		}
	}

	// 5. Everything required is on hand: hand the caller an executable
	// tool call with a deterministic idempotency key.
	payload := actionPayload(snapshot.Vertical, slots)
	return Decision{
		Assistant:   e.Composer.Confirmation(snapshot.Vertical, slots),
		Slots:       slots,
		ContextUsed: snapshot.RetrievedContext,
		NextAction:  ActionExecuteAction,
		Attempts:    snapshot.AttemptsCount,
		ToolCalls: []ToolCall{{
			Tool:           "execute_action",
			ActionName:     policy.ActionName,
			Payload:        payload,
			IdempotencyKey: IdempotencyKey(snapshot.ConversationID.String(), policy.ActionName, payload),
		}},
	}
}

// Answer composes a grounded reply for turns that end in plain text — the
// step-6 ANSWER arm, called by the router once retrieval results are in
// hand (or when no action applies).
func (e *Engine) Answer(ctx context.Context, snapshot ConversationSnapshot) Decision {
	text := e.Composer.Answer(ctx, snapshot)
	return Decision{
		Assistant:   text,
		Slots:       snapshot.Slots,
		ContextUsed: snapshot.RetrievedContext,
		NextAction:  ActionAnswer,
		Attempts:    snapshot.AttemptsCount,
	}
}

func (e *Engine) tryAgain(snapshot ConversationSnapshot) Decision {
	return Decision{
		Assistant:  "Disculpá, tuve un problema procesando tu mensaje. ¿Podés intentarlo de nuevo?",
		Slots:      snapshot.Slots,
		NextAction: ActionAnswer,
		Attempts:   snapshot.AttemptsCount,
	}
}

// IdempotencyKey derives the deterministic key over (conversation,
// action, payload). The fingerprint suffix lets the executor's mismatch
// diagnostic confirm the key matches the payload it arrived with.
func IdempotencyKey(conversationID, actionName string, payload map[string]any) string {
	fingerprint := actions.Fingerprint(payload)
	h := sha256.Sum256([]byte(conversationID + "|" + actionName))
	return fmt.Sprintf("act:%s:%s", hex.EncodeToString(h[:6]), fingerprint[:8])
}

// retrievalPlan derives the RETRIEVE_CONTEXT query and filters from slots,
// using the slot→filter mapping (categoria→category, zone|city→city,
// operation→operation).
func retrievalPlan(vertical Vertical, slots Slots) (string, map[string]any) {
	filters := map[string]any{}
	var terms []string
	for name, value := range slots {
		text := value.Text()
		if text == "" {
			continue
		}
		switch name {
		case "category", "categoria":
			filters["category"] = text
			terms = append(terms, text)
		case "zone", "city":
			filters["city"] = text
			terms = append(terms, text)
		case "operation":
			filters["operation"] = text
		case "type", "service_type", "items":
			terms = append(terms, text)
		case "budget_min":
			filters["price"] = ">=" + text
		case "budget_max":
			filters["price"] = "<=" + text
		}
	}
	query := strings.Join(terms, " ")
	if query == "" {
		switch vertical {
		case VerticalFoodService:
			query = "menú"
		case VerticalRealEstate:
			query = "propiedades disponibles"
		case VerticalPersonalServices:
			query = "servicios"
		}
	}
	return query, filters
}

// actionPayload shapes the EXECUTE_ACTION payload per vertical from slots.
func actionPayload(vertical Vertical, slots Slots) map[string]any {
	payload := map[string]any{}
	get := func(name string) string {
		if v, ok := slots[name]; ok {
			return v.Text()
		}
		return ""
	}
	switch vertical {
	case VerticalFoodService:
		payload["items"] = parseOrderItems(get("items"))
		payload["delivery_method"] = get("delivery_method")
		payload["payment_method"] = get("payment_method")
		if addr := get("address"); addr != "" {
			payload["address"] = addr
		}
	case VerticalRealEstate:
		payload["property_id"] = get("visit_property_id")
		payload["preferred_datetime"] = get("visit_datetime")
		payload["contact_info"] = map[string]any{}
	case VerticalPersonalServices:
		payload["service_type"] = get("service_type")
		payload["preferred_date"] = get("preferred_date")
		payload["preferred_time"] = get("preferred_time")
		payload["client_name"] = get("client_name")
		if email := get("client_email"); email != "" {
			payload["client_email"] = email
		}
		if phone := get("client_phone"); phone != "" {
			payload["client_phone"] = phone
		}
		if staff := get("staff_preference"); staff != "" {
			payload["staff_preference"] = staff
		}
	}
	return payload
}

// parseOrderItems turns the free-text items slot ("2 margheritas, 1 coca")
// into the create_order items list. Quantities default to 1.
func parseOrderItems(raw string) []map[string]any {
	var items []map[string]any
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		qty := 1
		name := part
		if m := quantityRe.FindStringSubmatch(part); m != nil && strings.HasPrefix(part, m[1]) {
			fmt.Sscanf(m[1], "%d", &qty)
			name = strings.TrimSpace(strings.TrimPrefix(part, m[1]))
		}
		items = append(items, map[string]any{"name": name, "quantity": qty})
	}
	return items
}

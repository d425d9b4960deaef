// Package orchestrator implements C8: the deterministic slot-filling state
// machine that decides each turn's next action through a fixed decision
// procedure; the model is confined to slot extraction and response
// composition, both with strict JSON-or-fallback parsing.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// NextAction is the orchestrator's verdict for one turn.
type NextAction string

const (
	ActionGreet           NextAction = "GREET"
	ActionSlotFill        NextAction = "SLOT_FILL"
	ActionRetrieveContext NextAction = "RETRIEVE_CONTEXT"
	ActionExecuteAction   NextAction = "EXECUTE_ACTION"
	ActionAnswer          NextAction = "ANSWER"
	ActionAskHuman        NextAction = "ASK_HUMAN"
)

// SlotKind tags a SlotValue. Slots are a closed union, never a free-form
// any-map at compile time.
type SlotKind int

const (
	KindString SlotKind = iota
	KindInt
	KindFloat
	KindBool
	KindDate
	KindTime
	KindDecimal
)

// SlotValue is one typed slot. Date and Time keep their source strings
// ("2006-01-02", "15:04") so round-trips through JSON stay exact; Decimal
// keeps the string form for the same reason.
type SlotValue struct {
	Kind  SlotKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

func String(s string) SlotValue  { return SlotValue{Kind: KindString, Str: s} }
func Int(i int64) SlotValue      { return SlotValue{Kind: KindInt, Int: i} }
func Float(f float64) SlotValue  { return SlotValue{Kind: KindFloat, Float: f} }
func Bool(b bool) SlotValue      { return SlotValue{Kind: KindBool, Bool: b} }
func Date(s string) SlotValue    { return SlotValue{Kind: KindDate, Str: s} }
func Time(s string) SlotValue    { return SlotValue{Kind: KindTime, Str: s} }
func Decimal(s string) SlotValue { return SlotValue{Kind: KindDecimal, Str: s} }

// Text renders the value the way a filter or prompt wants it.
func (v SlotValue) Text() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// MarshalJSON renders the bare value, so slot maps on the wire look like
// plain JSON objects.
func (v SlotValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindBool:
		return json.Marshal(v.Bool)
	default:
		return json.Marshal(v.Str)
	}
}

// UnmarshalJSON re-tags a bare JSON value.
func (v *SlotValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = String(t)
	case bool:
		*v = Bool(t)
	case float64:
		if t == float64(int64(t)) {
			*v = Int(int64(t))
		} else {
			*v = Float(t)
		}
	case nil:
		*v = SlotValue{}
	default:
		return fmt.Errorf("slot value must be a scalar, got %T", raw)
	}
	return nil
}

// Slots is the per-conversation slot map.
type Slots map[string]SlotValue

func (s Slots) Clone() Slots {
	out := make(Slots, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ConversationSnapshot is the decision input. RetrievedContext carries the
// passages a previous RETRIEVE_CONTEXT turn produced, so the policy knows
// RAG already happened for this objective.
type ConversationSnapshot struct {
	ConversationID   uuid.UUID `json:"conversation_id"`
	Vertical         Vertical  `json:"vertical"`
	UserInput        string    `json:"user_input"`
	Greeted          bool      `json:"greeted"`
	Slots            Slots     `json:"slots"`
	Objective        string    `json:"objective"`
	LastAction       string    `json:"last_action"`
	AttemptsCount    int       `json:"attempts_count"`
	RetrievedContext []string  `json:"retrieved_context,omitempty"`
}

// ToolCall is one side effect the orchestrator asks its caller to run.
type ToolCall struct {
	Tool           string         `json:"tool"` // retrieve_context | execute_action | list_catalog
	Query          string         `json:"query,omitempty"`
	Filters        map[string]any `json:"filters,omitempty"`
	ActionName     string         `json:"action_name,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Decision is the /output. Slots is the authoritative next state;
// callers persist it atomically before the next turn.
type Decision struct {
	Assistant   string     `json:"assistant"`
	Slots       Slots      `json:"slots"`
	ToolCalls   []ToolCall `json:"tool_calls"`
	ContextUsed []string   `json:"context_used"`
	NextAction  NextAction `json:"next_action"`
	Attempts    int        `json:"attempts_count"`
	End         bool       `json:"end"`
}

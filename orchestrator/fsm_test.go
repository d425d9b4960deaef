package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwire/loomwire/storage"
)

// newTestEngine builds an engine with no LLM so extraction exercises the
// keyword heuristics and composition the grounded fallback — everything
// deterministic.
func newTestEngine() *Engine {
	composer := NewComposer(nil, storage.BusinessHours{})
	return NewEngine(nil, NewRateGuard(400*time.Millisecond, 0), composer)
}

func foodSnapshot(mutate func(*ConversationSnapshot)) ConversationSnapshot {
	s := ConversationSnapshot{
		ConversationID: uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		Vertical:       VerticalFoodService,
		Greeted:        true,
		Slots:          Slots{},
	}
	if mutate != nil {
		mutate(&s)
	}
	return s
}

func TestDecideGreetsFirst(t *testing.T) {
	e := newTestEngine()
	d := e.Decide(context.Background(), foodSnapshot(func(s *ConversationSnapshot) {
		s.Greeted = false
		s.UserInput = "Hola"
	}))
	assert.Equal(t, ActionGreet, d.NextAction)
	assert.NotEmpty(t, d.Assistant)
	require.Len(t, d.ToolCalls, 1)
	assert.Equal(t, "list_catalog", d.ToolCalls[0].Tool)
}

func TestDecideAsksForMissingSlot(t *testing.T) {
	e := newTestEngine()
	d := e.Decide(context.Background(), foodSnapshot(func(s *ConversationSnapshot) {
		s.UserInput = "quiero pedir algo"
	}))
	assert.Equal(t, ActionSlotFill, d.NextAction)
	assert.NotEmpty(t, d.Assistant)
}

func TestDecideAttemptsOnlyAdvanceWithoutProgress(t *testing.T) {
	e := newTestEngine()

	// Turn fills delivery_method: attempts must NOT advance.
	d := e.Decide(context.Background(), foodSnapshot(func(s *ConversationSnapshot) {
		s.UserInput = "es para delivery"
		s.AttemptsCount = 1
	}))
	assert.Equal(t, ActionSlotFill, d.NextAction)
	assert.Equal(t, 1, d.Attempts)
	assert.Equal(t, "delivery", d.Slots["delivery_method"].Text())

	// Turn fills nothing: attempts advance.
	d = e.Decide(context.Background(), foodSnapshot(func(s *ConversationSnapshot) {
		s.UserInput = "mmm no sé"
		s.AttemptsCount = 1
	}))
	assert.Equal(t, 2, d.Attempts)
}

func TestDecideHandsOffAfterMaxAttempts(t *testing.T) {
	e := newTestEngine()
	d := e.Decide(context.Background(), foodSnapshot(func(s *ConversationSnapshot) {
		s.UserInput = "no entiendo nada"
		s.AttemptsCount = 3
	}))
	assert.Equal(t, ActionAskHuman, d.NextAction)
	assert.True(t, d.End)
}

func TestDecideRetrievesBeforeActing(t *testing.T) {
	e := newTestEngine()
	d := e.Decide(context.Background(), foodSnapshot(func(s *ConversationSnapshot) {
		s.UserInput = "dale"
		s.Slots = Slots{
			"category":        String("pizza"),
			"items":           String("2 margheritas"),
			"delivery_method": String("pickup"),
			"payment_method":  String("cash"),
		}
	}))
	require.Equal(t, ActionRetrieveContext, d.NextAction)
	require.Len(t, d.ToolCalls, 1)
	tc := d.ToolCalls[0]
	assert.Equal(t, "retrieve_context", tc.Tool)
	assert.NotEmpty(t, tc.Query)
	assert.Equal(t, "pizza", tc.Filters["category"])
}

func TestDecideExecutesOnceContextIsIn(t *testing.T) {
	e := newTestEngine()
	snap := foodSnapshot(func(s *ConversationSnapshot) {
		s.UserInput = "confirmo"
		s.Slots = Slots{
			"category":        String("pizza"),
			"items":           String("2 margheritas"),
			"delivery_method": String("delivery"),
			"address":         String("Av. Corrientes 1234"),
			"payment_method":  String("cash"),
		}
		s.RetrievedContext = []string{"Pizza Margherita $1275"}
	})
	d := e.Decide(context.Background(), snap)
	require.Equal(t, ActionExecuteAction, d.NextAction)
	require.Len(t, d.ToolCalls, 1)
	tc := d.ToolCalls[0]
	assert.Equal(t, "create_order", tc.ActionName)
	assert.Equal(t, "delivery", tc.Payload["delivery_method"])
	assert.Equal(t, "Av. Corrientes 1234", tc.Payload["address"])
	assert.NotEmpty(t, tc.IdempotencyKey)
	assert.LessOrEqual(t, len(tc.IdempotencyKey), 64)

	// Deterministic: the same snapshot yields the same key.
	d2 := e.Decide(context.Background(), snap)
	assert.Equal(t, tc.IdempotencyKey, d2.ToolCalls[0].IdempotencyKey)
}

func TestDecideDeliveryRequiresAddress(t *testing.T) {
	e := newTestEngine()
	d := e.Decide(context.Background(), foodSnapshot(func(s *ConversationSnapshot) {
		s.UserInput = "dale"
		s.Slots = Slots{
			"category":        String("pizza"),
			"items":           String("2 margheritas"),
			"delivery_method": String("delivery"),
			"payment_method":  String("cash"),
		}
		s.RetrievedContext = []string{"menu"}
	}))
	assert.Equal(t, ActionSlotFill, d.NextAction)
}

func TestDecideUnknownVerticalNeverRaises(t *testing.T) {
	e := newTestEngine()
	d := e.Decide(context.Background(), ConversationSnapshot{
		ConversationID: uuid.New(),
		Vertical:       Vertical("astrology"),
		Greeted:        true,
		UserInput:      "hola",
	})
	assert.Equal(t, ActionAnswer, d.NextAction)
	assert.NotEmpty(t, d.Assistant)
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	payload := map[string]any{"items": []any{"x"}, "delivery_method": "pickup"}
	k1 := IdempotencyKey("conv-1", "create_order", payload)
	k2 := IdempotencyKey("conv-1", "create_order", map[string]any{"delivery_method": "pickup", "items": []any{"x"}})
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, IdempotencyKey("conv-2", "create_order", payload))
	assert.NotEqual(t, k1, IdempotencyKey("conv-1", "schedule_visit", payload))
}

func TestHeuristicSlotsFoodService(t *testing.T) {
	slots := heuristicSlots(VerticalFoodService, "2 margheritas, delivery a Av. Corrientes 1234, pago efectivo")
	assert.Equal(t, "delivery", slots["delivery_method"].Text())
	assert.Equal(t, "cash", slots["payment_method"].Text())
	assert.Contains(t, slots["address"].Text(), "Corrientes")
	assert.NotEmpty(t, slots["items"].Text())
}

func TestHeuristicSlotsPersonalServices(t *testing.T) {
	slots := heuristicSlots(VerticalPersonalServices, "para el 2025-10-06 a las 14:00")
	assert.Equal(t, "2025-10-06", slots["preferred_date"].Text())
	assert.Equal(t, "14:00", slots["preferred_time"].Text())
}

func TestParseSlotJSONToleratesFences(t *testing.T) {
	raw := "```json\n{\"delivery_method\": \"delivery\", \"bogus\": 1}\n```"
	slots, err := parseSlotJSON(raw, []string{"delivery_method"})
	require.NoError(t, err)
	assert.Equal(t, "delivery", slots["delivery_method"].Text())
	_, hasBogus := slots["bogus"]
	assert.False(t, hasBogus)
}

func TestOffHoursRefusal(t *testing.T) {
	c := NewComposer(nil, storage.BusinessHours{Open: "09:00", Close: "18:00"})
	refusal := c.offHoursRefusal(Slots{"preferred_time": Time("20:00")})
	assert.NotEmpty(t, refusal)
	assert.Empty(t, c.offHoursRefusal(Slots{"preferred_time": Time("14:00")}))
	// Closing time itself is off-hours.
	assert.NotEmpty(t, c.offHoursRefusal(Slots{"preferred_time": Time("18:00")}))
}

func TestRateGuard(t *testing.T) {
	g := NewRateGuard(50*time.Millisecond, 0)
	conv := uuid.New()

	ok, _ := g.Allow(conv)
	require.True(t, ok)

	ok, retryAfter := g.Allow(conv)
	require.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))

	// A different conversation is unaffected.
	ok, _ = g.Allow(uuid.New())
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	ok, _ = g.Allow(conv)
	assert.True(t, ok)
}

func TestSlotValueJSONRoundTrip(t *testing.T) {
	slots := Slots{
		"name":  String("Juan"),
		"count": Int(2),
		"price": Float(10.5),
		"vip":   Bool(true),
	}
	raw, err := json.Marshal(slots)
	require.NoError(t, err)
	var back Slots
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "Juan", back["name"].Text())
	assert.Equal(t, int64(2), back["count"].Int)
	assert.Equal(t, 10.5, back["price"].Float)
	assert.True(t, back["vip"].Bool)
}

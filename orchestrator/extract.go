package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/loomwire/loomwire/llm"
	"github.com/loomwire/loomwire/observability"
)

// extractSlots asks the model for slot candidates constrained to the
// vertical's slot set, parsed as JSON with a tolerant fallback to keyword
// heuristics when the model output doesn't parse.
func (e *Engine) extractSlots(ctx context.Context, vertical Vertical, policy PolicyConfig, userInput string) Slots {
	if strings.TrimSpace(userInput) == "" {
		return Slots{}
	}

	if e.LLM != nil {
		if slots, err := e.extractViaLLM(ctx, policy, userInput); err == nil {
			return slots
		} else {
			logrus.WithError(err).WithFields(observability.Fields{
				"component": "orchestrator",
			}).Debug("slot extraction fell back to heuristics")
		}
	}
	return heuristicSlots(vertical, userInput)
}

func (e *Engine) extractViaLLM(ctx context.Context, policy PolicyConfig, userInput string) (Slots, error) {
	allowed := append(append([]string{}, policy.RequiredSlots...), policy.OptionalSlots...)
	system := fmt.Sprintf(
		"Extract conversation slots from the user message. "+
			"Respond with a single JSON object whose keys are a subset of [%s]. "+
			"Omit keys you are not sure about. Values are plain scalars, Spanish input is expected.",
		strings.Join(allowed, ", "))

	raw, err := e.LLM.Complete(ctx, llm.Request{System: system, User: userInput, JSONOnly: true})
	if err != nil {
		return nil, err
	}
	return parseSlotJSON(raw, allowed)
}

// parseSlotJSON tolerates markdown fences and prose around the object, then
// keeps only keys in the allowed set.
func parseSlotJSON(raw string, allowed []string) (Slots, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decoded); err != nil {
		return nil, fmt.Errorf("parsing slot JSON: %w", err)
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = true
	}
	slots := Slots{}
	for k, v := range decoded {
		if !allowedSet[k] {
			continue
		}
		var sv SlotValue
		if err := sv.UnmarshalJSON(v); err != nil {
			continue
		}
		if sv.Text() != "" {
			slots[k] = sv
		}
	}
	return slots, nil
}

var (
	addressRe  = regexp.MustCompile(`(?i)\b(?:av\.?|avenida|calle|cra\.?|carrera)\s+[^\d,]+\d+`)
	dateRe     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	timeRe     = regexp.MustCompile(`\b(\d{1,2}:\d{2})\b`)
	quantityRe = regexp.MustCompile(`(?i)\b(\d+)\s+([a-záéíóúñ]+)`)
)

// heuristicSlots is the deterministic keyword fallback. It is deliberately
// conservative: better to ask a focused question than to fill a slot wrong.
func heuristicSlots(vertical Vertical, input string) Slots {
	slots := Slots{}
	lower := strings.ToLower(input)

	switch vertical {
	case VerticalFoodService:
		switch {
		case strings.Contains(lower, "delivery") || strings.Contains(lower, "envío") || strings.Contains(lower, "envio") || strings.Contains(lower, "a domicilio"):
			slots["delivery_method"] = String("delivery")
		case strings.Contains(lower, "retiro") || strings.Contains(lower, "pickup") || strings.Contains(lower, "paso a buscar"):
			slots["delivery_method"] = String("pickup")
		}
		switch {
		case strings.Contains(lower, "efectivo") || strings.Contains(lower, "cash"):
			slots["payment_method"] = String("cash")
		case strings.Contains(lower, "tarjeta") || strings.Contains(lower, "card"):
			slots["payment_method"] = String("card")
		case strings.Contains(lower, "transferencia"):
			slots["payment_method"] = String("transfer")
		}
		if m := addressRe.FindString(input); m != "" {
			slots["address"] = String(strings.TrimSpace(m))
		}
		if m := quantityRe.FindStringSubmatch(lower); m != nil {
			slots["items"] = String(strings.TrimSpace(m[0]))
		}
	case VerticalRealEstate:
		switch {
		case strings.Contains(lower, "alquil"):
			slots["operation"] = String("rent")
		case strings.Contains(lower, "compr") || strings.Contains(lower, "venta"):
			slots["operation"] = String("sale")
		}
		switch {
		case strings.Contains(lower, "departamento") || strings.Contains(lower, "depto"):
			slots["type"] = String("apartment")
		case strings.Contains(lower, "casa"):
			slots["type"] = String("house")
		}
		if m := dateRe.FindStringSubmatch(input); m != nil {
			slots["visit_datetime"] = Date(m[1])
		}
	case VerticalPersonalServices:
		if m := dateRe.FindStringSubmatch(input); m != nil {
			slots["preferred_date"] = Date(m[1])
		}
		if m := timeRe.FindStringSubmatch(input); m != nil {
			slots["preferred_time"] = Time(m[1])
		}
	}
	return slots
}

package orchestrator

import "fmt"

// Vertical is the closed set of supported business domains.
type Vertical string

const (
	VerticalFoodService      Vertical = "food_service"
	VerticalRealEstate       Vertical = "real_estate"
	VerticalPersonalServices Vertical = "personal_services"
)

// PolicyConfig is the per-vertical table of : which slots the FSM
// chases, how patient it is, and whether retrieval must precede action.
type PolicyConfig struct {
	RequiredSlots        []string
	OptionalSlots        []string
	MaxAttempts          int
	NeedsRAGBeforeAction bool
	ActionName           string
	Objective            string
}

var policies = map[Vertical]PolicyConfig{
	VerticalFoodService: {
		RequiredSlots:        []string{"category", "items", "delivery_method", "payment_method"},
		OptionalSlots:        []string{"address"},
		MaxAttempts:          3,
		NeedsRAGBeforeAction: true,
		ActionName:           "create_order",
		Objective:            "place_order",
	},
	VerticalRealEstate: {
		RequiredSlots:        []string{"operation", "type", "zone", "visit_property_id", "visit_datetime"},
		OptionalSlots:        []string{"budget_min", "budget_max", "bedrooms"},
		MaxAttempts:          3,
		NeedsRAGBeforeAction: true,
		ActionName:           "schedule_visit",
		Objective:            "schedule_visit",
	},
	VerticalPersonalServices: {
		RequiredSlots:        []string{"service_type", "preferred_date", "preferred_time", "client_name"},
		OptionalSlots:        []string{"client_email", "client_phone", "staff_preference"},
		MaxAttempts:          3,
		NeedsRAGBeforeAction: true,
		ActionName:           "book_slot",
		Objective:            "book_appointment",
	},
}

// PolicyFor returns the vertical's configuration.
func PolicyFor(v Vertical) (PolicyConfig, error) {
	p, ok := policies[v]
	if !ok {
		return PolicyConfig{}, fmt.Errorf("unknown vertical %q", v)
	}
	return p, nil
}

// missingRequired lists required slots not yet filled, in priority order.
// address is conditionally required for delivery orders, so it joins the
// required list dynamically.
func missingRequired(p PolicyConfig, v Vertical, slots Slots) []string {
	required := p.RequiredSlots
	if v == VerticalFoodService {
		if dm, ok := slots["delivery_method"]; ok && dm.Text() == "delivery" {
			required = append(append([]string{}, required...), "address")
		}
	}
	var missing []string
	for _, name := range required {
		if val, ok := slots[name]; !ok || val.Text() == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/storage"
)

// orderPayload is the typed view of create_order's payload.
type orderPayload struct {
	Items          []orderItem `json:"items"`
	DeliveryMethod string      `json:"delivery_method"`
	Address        string      `json:"address"`
	PaymentMethod  string      `json:"payment_method"`
}

type orderItem struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

func (p orderPayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Items, validation.Required, validation.Length(1, 50)),
		validation.Field(&p.DeliveryMethod, validation.Required, validation.In("pickup", "delivery")),
		validation.Field(&p.PaymentMethod, validation.Required),
		validation.Field(&p.Address, validation.When(p.DeliveryMethod == "delivery", validation.Required)),
	)
	if err != nil {
		return apperr.NewValidation(err.Error())
	}
	for i, it := range p.Items {
		if it.Quantity <= 0 {
			return apperr.NewValidation("item quantity must be positive",
				apperr.FieldDiagnostic{Field: fmt.Sprintf("items[%d].quantity", i), Message: "must be >= 1"})
		}
		if it.SKU == "" && it.Name == "" {
			return apperr.NewValidation("item needs a sku or a name",
				apperr.FieldDiagnostic{Field: fmt.Sprintf("items[%d]", i), Message: "sku or name required"})
		}
	}
	return nil
}

// round2 applies the decimal rounding rule: totals carry exactly two
// digits.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CreateOrder is the food_service action: items resolve against the menu
// catalog, delivery requires an address, ETA = 15 + 2·|items| minutes.
func CreateOrder(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, req Request, executionID uuid.UUID) (string, map[string]any, string, error) {
	var p orderPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		return "", nil, "", err
	}
	if err := p.Validate(); err != nil {
		return "", nil, "", err
	}

	total := 0.0
	resolved := make([]map[string]any, len(p.Items))
	for i, it := range p.Items {
		key := it.SKU
		if key == "" {
			key = it.Name
		}
		menuItem, err := lookupMenuItem(tx, workspaceID, key)
		if err != nil {
			return "", nil, "", err
		}
		line := round2(menuItem.Price * float64(it.Quantity))
		total = round2(total + line)
		resolved[i] = map[string]any{
			"sku": menuItem.SKU, "name": menuItem.Name,
			"quantity": it.Quantity, "unit_price": menuItem.Price, "line_total": line,
		}
	}

	itemsJSON, _ := json.Marshal(resolved)
	order := storage.Order{
		ID:                uuid.New(),
		WorkspaceID:       workspaceID,
		ActionExecutionID: executionID,
		ItemsJSON:         itemsJSON,
		Total:             total,
		DeliveryMethod:    p.DeliveryMethod,
		Address:           p.Address,
		PaymentMethod:     p.PaymentMethod,
		Status:            "confirmed",
		CreatedAt:         time.Now().UTC(),
	}
	if err := tx.Create(&order).Error; err != nil {
		return "", nil, "", fmt.Errorf("persisting order: %w", err)
	}

	// ETA scales with the number of distinct line items, not summed
	// quantities.
	itemCount := len(p.Items)
	eta := 15 + 2*itemCount
	summary := fmt.Sprintf("Pedido confirmado: %d producto(s), total $%.2f, %s", itemCount, total, p.DeliveryMethod)
	details := map[string]any{
		"order_id": order.ID.String(), "items": resolved, "total": total,
		"delivery_method": p.DeliveryMethod, "payment_method": p.PaymentMethod,
		"eta_minutes": eta,
	}
	if p.DeliveryMethod == "delivery" {
		details["address"] = p.Address
	}
	return summary, details, "order_created", nil
}

// decodePayload round-trips the loose payload map through JSON into the
// handler's typed struct.
func decodePayload(payload map[string]any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperr.NewValidation("malformed payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.NewValidation("payload does not match the action schema")
	}
	return nil
}

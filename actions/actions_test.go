package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwire/loomwire/apperr"
)

func TestFingerprintIsOrderIndependent(t *testing.T) {
	a := map[string]any{"items": []any{"x", "y"}, "delivery_method": "pickup", "payment_method": "cash"}
	b := map[string]any{"payment_method": "cash", "delivery_method": "pickup", "items": []any{"x", "y"}}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintSortsNestedKeys(t *testing.T) {
	a := map[string]any{"contact": map[string]any{"name": "Juan", "email": "j@x.com"}}
	b := map[string]any{"contact": map[string]any{"email": "j@x.com", "name": "Juan"}}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintDistinguishesValues(t *testing.T) {
	a := map[string]any{"qty": 2}
	b := map[string]any{"qty": 3}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestOrderPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload orderPayload
		wantErr bool
	}{
		{
			name: "valid pickup",
			payload: orderPayload{
				Items:          []orderItem{{SKU: "PIZZA-MARGHERITA", Quantity: 2}},
				DeliveryMethod: "pickup",
				PaymentMethod:  "cash",
			},
		},
		{
			name: "delivery requires address",
			payload: orderPayload{
				Items:          []orderItem{{SKU: "PIZZA-MARGHERITA", Quantity: 2}},
				DeliveryMethod: "delivery",
				PaymentMethod:  "cash",
			},
			wantErr: true,
		},
		{
			name: "delivery with address",
			payload: orderPayload{
				Items:          []orderItem{{SKU: "PIZZA-MARGHERITA", Quantity: 2}},
				DeliveryMethod: "delivery",
				Address:        "Av. Corrientes 1234",
				PaymentMethod:  "cash",
			},
		},
		{
			name: "unknown delivery method",
			payload: orderPayload{
				Items:          []orderItem{{SKU: "X", Quantity: 1}},
				DeliveryMethod: "drone",
				PaymentMethod:  "cash",
			},
			wantErr: true,
		},
		{
			name: "zero quantity",
			payload: orderPayload{
				Items:          []orderItem{{SKU: "X", Quantity: 0}},
				DeliveryMethod: "pickup",
				PaymentMethod:  "cash",
			},
			wantErr: true,
		},
		{
			name: "no items",
			payload: orderPayload{
				DeliveryMethod: "pickup",
				PaymentMethod:  "cash",
			},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr {
				var verr *apperr.ValidationError
				require.ErrorAs(t, err, &verr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 10.5, round2(10.499999999))
	assert.Equal(t, 0.1, round2(0.1))
	assert.Equal(t, 2550.0, round2(1275.0*2))
	assert.Equal(t, 3.33, round2(9.99/3))
}

func TestVisitPayloadValidation(t *testing.T) {
	valid := visitPayload{
		PropertyID:        "b3b2c6a0-8a8f-4f9e-9a53-1c2d3e4f5a6b",
		PreferredDatetime: "2025-10-06T14:00:00Z",
	}
	require.NoError(t, valid.Validate())

	badID := valid
	badID.PropertyID = "not-a-uuid"
	assert.Error(t, badID.Validate())

	badTime := valid
	badTime.PreferredDatetime = "mañana"
	assert.Error(t, badTime.Validate())
}

func TestAppointmentPayloadValidation(t *testing.T) {
	valid := appointmentPayload{
		ServiceType:   "Corte de Cabello",
		PreferredDate: "2025-10-06",
		PreferredTime: "14:00",
		ClientName:    "Juan Pérez",
	}
	require.NoError(t, valid.Validate())

	missingName := valid
	missingName.ClientName = ""
	assert.Error(t, missingName.Validate())

	badDate := valid
	badDate.PreferredDate = "06/10/2025"
	assert.Error(t, badDate.Validate())
}

func TestDecodePayloadRejectsMismatchedShape(t *testing.T) {
	var p orderPayload
	err := decodePayload(map[string]any{"items": "not-a-list"}, &p)
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
}

package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentMethodLabel(t *testing.T) {
	assert.Equal(t, "credit/debit card", PaymentMethodCard.Label())
	assert.Equal(t, "OXXO", PaymentMethodOxxo.Label())
	assert.Equal(t, "customer_balance", PaymentMethod("customer_balance").Label())
}

func TestOrderMessageValidate(t *testing.T) {
	valid := OrderMessage{
		OrderID:       "pi_1",
		CustomerEmail: "ana@example.com",
		Items:         []LineItem{{ProductName: "Comic", ProductSlug: "comic", Amount: 2500}},
	}
	require.NoError(t, valid.Validate())

	err := OrderMessage{}.Validate()
	require.ErrorIs(t, err, ErrInvalidOrder)
	assert.Contains(t, err.Error(), "orderId")
	assert.Contains(t, err.Error(), "customerEmail")
	assert.Contains(t, err.Error(), "items")
}

func TestOrderMessageWireShape(t *testing.T) {
	msg := OrderMessage{
		OrderID:       "pi_1",
		CustomerEmail: "ana@example.com",
		Items:         []LineItem{{ProductName: "Comic", ProductSlug: "comic", Amount: 2500}},
		Total:         4300,
		PaymentMethod: PaymentMethodCard,
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SessionID:     "cs_1",
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Nil(t, wire["customerName"])
	assert.Equal(t, "2026-01-02T03:04:05Z", wire["createdAt"])
	item := wire["items"].([]any)[0].(map[string]any)
	assert.NotContains(t, item, "productImage")
	assert.Equal(t, float64(2500), item["amount"])
}

func TestItemsTotalMayDifferFromTotal(t *testing.T) {
	msg := OrderMessage{
		Items: []LineItem{{Amount: 2500}, {Amount: 1800}},
		Total: 5000,
	}
	assert.Equal(t, int64(4300), msg.ItemsTotal())
	assert.Equal(t, "", msg.Name())
}

func TestAccountIDPresent(t *testing.T) {
	assert.False(t, NoAccount.Present())
	assert.False(t, AccountID("  ").Present())
	assert.True(t, AccountID("acct_1").Present())
}

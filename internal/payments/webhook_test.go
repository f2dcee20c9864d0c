package payments_test

import (
	"testing"
	"time"

	"github.com/ariefcatur/go-order-reservations/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

var completedBody = []byte(`{
  "id": "evt_1",
  "type": "checkout.session.completed",
  "data": {"object": {"id": "cs_test_1", "metadata": {"orderId": "order-1"}}}
}`)

func TestWebhookVerifier_Parse(t *testing.T) {
	v := payments.NewWebhookVerifier(secret)

	ev, err := v.Parse(completedBody, payments.SignatureHeader(secret, completedBody, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, payments.Event{
		ID: "evt_1", Type: payments.EventSessionCompleted, OrderID: "order-1", TransactionID: "cs_test_1",
	}, ev)
}

func TestWebhookVerifier_FallsBackToClientReference(t *testing.T) {
	body := []byte(`{"id":"evt_2","type":"checkout.session.expired","data":{"object":{"id":"cs_2","client_reference_id":"order-2"}}}`)
	v := payments.NewWebhookVerifier(secret)

	ev, err := v.Parse(body, payments.SignatureHeader(secret, body, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "order-2", ev.OrderID)
}

func TestWebhookVerifier_Rejects(t *testing.T) {
	v := payments.NewWebhookVerifier(secret)
	now := time.Now()

	tests := map[string]string{
		"wrong secret": payments.SignatureHeader("other", completedBody, now),
		"stale":        payments.SignatureHeader(secret, completedBody, now.Add(-10*time.Minute)),
		"missing v1":   "t=123",
		"empty":        "",
		"garbage":      "t=abc,v1=zz",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Parse(completedBody, header)
			assert.ErrorIs(t, err, payments.ErrInvalidSignature)
		})
	}

	tampered := append([]byte(nil), completedBody...)
	tampered[10] = 'X'
	_, err := v.Parse(tampered, payments.SignatureHeader(secret, completedBody, now))
	assert.ErrorIs(t, err, payments.ErrInvalidSignature)
}

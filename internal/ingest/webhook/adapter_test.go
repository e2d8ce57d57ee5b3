package webhook

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

func TestGenericAdapterVerify(t *testing.T) {
	payload := []byte(`{"type":"payment_succeeded"}`)
	adapter := NewGenericAdapter("s3cret")

	headers := http.Header{}
	headers.Set(HeaderSignature, Sign("s3cret", payload))
	assert.NoError(t, adapter.Verify(payload, headers))

	legacy := http.Header{}
	legacy.Set(HeaderLegacySignature, Sign("s3cret", payload))
	assert.NoError(t, adapter.Verify(payload, legacy))

	wrong := http.Header{}
	wrong.Set(HeaderSignature, Sign("other", payload))
	assert.ErrorIs(t, adapter.Verify(payload, wrong), ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(payload, http.Header{}), ErrInvalidSignature)
	assert.NoError(t, NewGenericAdapter("").Verify(payload, http.Header{}))
}

func TestCanonicalType(t *testing.T) {
	assert.Equal(t, EventPaymentSucceeded, CanonicalType("payment.succeeded"))
	assert.Equal(t, EventRefundCreated, CanonicalType(" Refund_Created "))
	assert.Equal(t, "company.installed", CanonicalType("company.installed"))
}

func TestGenericAdapterParse(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	adapter := NewGenericAdapter("")

	event, err := adapter.Parse(context.Background(), []byte(`{
		"id": "evt_1",
		"type": "subscription.created",
		"data": {
			"company": {"id": "acme"},
			"user": {"id": "u1"},
			"subscription": {"id": "sub_1", "planId": "pro", "amount_cents": 12000, "interval": "year", "startedAt": "2024-06-01T00:00:00Z"}
		}
	}`), now)
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionCreated, event.Type)
	assert.Equal(t, "subscription.created", event.RawType)
	require.NotNil(t, event.Subscription)
	assert.Equal(t, domain.Subscription{
		ID:          "sub_1",
		UserID:      "u1",
		CompanyID:   "acme",
		PlanID:      "pro",
		AmountCents: 12000,
		Currency:    "usd",
		Interval:    domain.IntervalYear,
		Status:      domain.SubscriptionStatusActive,
		StartedAt:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}, *event.Subscription)

	flat, err := adapter.Parse(context.Background(), []byte(`{
		"event_type": "payment_failed",
		"company_id": "acme",
		"amount": 700,
		"order": {"id": "o1", "user_id": "u2", "created_at": 1717200000}
	}`), now)
	require.NoError(t, err)
	require.NotNil(t, flat.Order)
	assert.Equal(t, domain.OrderStatusFailed, flat.Order.Status)
	assert.Equal(t, int64(700), flat.Order.AmountCents)
	assert.Equal(t, "u2", flat.Order.UserID)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), flat.Order.CreatedAt)
}

func TestStripeAdapter(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	adapter := NewStripeAdapter("whsec_test")
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "customer.subscription.created",
		"data": {"object": {
			"id": "sub_1",
			"object": "subscription",
			"customer": "cus_1",
			"status": "trialing",
			"start_date": 1717200000,
			"currency": "usd",
			"metadata": {"company_id": "acme"},
			"items": {"object": "list", "data": [
				{"id": "si_1", "quantity": 2, "price": {"id": "price_annual", "unit_amount": 6000, "recurring": {"interval": "year"}}}
			]}
		}}
	}`)

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	headers := http.Header{}
	headers.Set("Stripe-Signature", signed.Header)
	require.NoError(t, adapter.Verify(signed.Payload, headers))
	assert.ErrorIs(t, adapter.Verify(signed.Payload, http.Header{}), ErrInvalidSignature)
	assert.ErrorIs(t, NewStripeAdapter("whsec_other").Verify(signed.Payload, headers), ErrInvalidSignature)

	event, err := adapter.Parse(context.Background(), payload, now)
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionCreated, event.Type)
	assert.Equal(t, "acme", event.CompanyID)
	require.NotNil(t, event.Subscription)
	assert.Equal(t, "cus_1", event.Subscription.UserID)
	assert.Equal(t, "price_annual", event.Subscription.PlanID)
	assert.Equal(t, int64(12000), event.Subscription.AmountCents)
	assert.Equal(t, domain.IntervalYear, event.Subscription.Interval)
	assert.Equal(t, domain.SubscriptionStatusTrialing, event.Subscription.Status)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), event.Subscription.StartedAt)
}

func stripeHeaders(t *testing.T, payload []byte) http.Header {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	headers := http.Header{}
	headers.Set("Stripe-Signature", signed.Header)
	return headers
}

func TestStripeAdapterAcceptsOtherAPIVersions(t *testing.T) {
	adapter := NewStripeAdapter("whsec_test")
	payload := []byte(`{"id":"evt_old","object":"event","api_version":"2020-08-27","type":"charge.succeeded","data":{"object":{"id":"ch_1","object":"charge"}}}`)

	assert.NoError(t, adapter.Verify(payload, stripeHeaders(t, payload)))

	stale := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now().Add(-time.Hour),
		Scheme:    "v1",
	})
	headers := http.Header{}
	headers.Set("Stripe-Signature", stale.Header)
	assert.ErrorIs(t, adapter.Verify(payload, headers), ErrInvalidSignature)
}

func TestStripeAdapterChargeRefunded(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	adapter := NewStripeAdapter("whsec_test")

	t.Run("expanded refunds", func(t *testing.T) {
		payload := []byte(`{"id":"evt_3","object":"event","type":"charge.refunded","data":{"object":{
			"id":"ch_1","object":"charge","amount":5000,"amount_refunded":3000,"refunded":false,
			"currency":"usd","customer":"cus_1","created":1717200000,"status":"succeeded",
			"metadata":{"company_id":"acme"},
			"refunds":{"object":"list","data":[
				{"id":"re_1","object":"refund","amount":1000,"charge":"ch_1","created":1717300000,"reason":"duplicate"},
				{"id":"re_2","object":"refund","amount":2000,"charge":"ch_1","created":1717400000}
			]}
		}}}`)

		event, err := adapter.Parse(context.Background(), payload, now)
		require.NoError(t, err)
		assert.Equal(t, EventRefundCreated, event.Type)
		assert.Equal(t, "charge.refunded", event.RawType)
		assert.Equal(t, "acme", event.CompanyID)
		require.NotNil(t, event.Order)
		assert.Equal(t, "ch_1", event.Order.ID)
		require.Len(t, event.Refunds, 2)
		for _, refund := range event.Refunds {
			assert.Equal(t, "ch_1", refund.OrderID)
			assert.Equal(t, "acme", refund.CompanyID)
			assert.Equal(t, "cus_1", refund.UserID)
		}
		assert.Equal(t, "re_1", event.Refunds[0].ID)
		assert.Equal(t, int64(1000), event.Refunds[0].AmountCents)
		assert.Equal(t, "duplicate", event.Refunds[0].Reason)
		assert.Equal(t, int64(2000), event.Refunds[1].AmountCents)
	})

	t.Run("refund list omitted", func(t *testing.T) {
		payload := []byte(`{"id":"evt_4","object":"event","type":"charge.refunded","data":{"object":{
			"id":"ch_2","object":"charge","amount":5000,"amount_refunded":5000,"refunded":true,
			"created":1717200000,"metadata":{"company_id":"acme","user_id":"u7"}
		}}}`)

		event, err := adapter.Parse(context.Background(), payload, now)
		require.NoError(t, err)
		require.NotNil(t, event.Order)
		assert.Equal(t, domain.OrderStatusRefunded, event.Order.Status)
		require.Len(t, event.Refunds, 1)
		assert.Equal(t, domain.Refund{
			ID:          "ch_2",
			OrderID:     "ch_2",
			UserID:      "u7",
			CompanyID:   "acme",
			AmountCents: 5000,
			CreatedAt:   time.Unix(1717200000, 0).UTC(),
		}, event.Refunds[0])
	})
}

func TestStripeAdapterRefundWithUnexpandedCharge(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_5","object":"event","type":"refund.created","data":{"object":{"id":"re_9","object":"refund","amount":700,"charge":"ch_1","created":1717300000}}}`)

	event, err := NewStripeAdapter("whsec_test").Parse(context.Background(), payload, now)
	require.NoError(t, err)
	assert.Equal(t, EventRefundCreated, event.Type)
	assert.Empty(t, event.CompanyID)
	require.Len(t, event.Refunds, 1)
	assert.Equal(t, "ch_1", event.Refunds[0].OrderID)
	assert.Equal(t, int64(700), event.Refunds[0].AmountCents)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(NewGenericAdapter(""), nil)
	adapter, err := registry.Adapter(" Payments ")
	require.NoError(t, err)
	assert.Equal(t, ProviderGeneric, adapter.Provider())

	_, err = registry.Adapter(ProviderStripe)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

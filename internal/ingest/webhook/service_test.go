package webhook

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"github.com/smallbiznis/revlens/internal/analytics/repository"
	"github.com/smallbiznis/revlens/internal/cache"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const testSecret = "s3cret"

type harness struct {
	svc   *Service
	repo  domain.Repository
	conn  *gorm.DB
	cache *cache.AnalyticsCache
}

func newHarness(t *testing.T) harness {
	t.Helper()

	conn := db.NewTest(t, append(repository.Models(), &WebhookLog{})...)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	analyticsCache := cache.NewAnalyticsCache(cache.NewMemoryStore(), time.Minute, log, nil)
	repo := repository.Provide()
	svc := NewService(Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Repo:     repo,
		Clock:    clock.NewFakeClock(time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)),
		Registry: NewRegistry(NewGenericAdapter(testSecret), NewStripeAdapter("whsec_test")),
		Cache:    analyticsCache,
	})
	return harness{svc: svc, repo: repo, conn: conn, cache: analyticsCache}
}

func signed(payload string) http.Header {
	headers := http.Header{}
	headers.Set(HeaderSignature, Sign(testSecret, []byte(payload)))
	return headers
}

func (h harness) ingest(t *testing.T, payload string) (*Result, error) {
	t.Helper()
	return h.svc.Ingest(context.Background(), ProviderGeneric, []byte(payload), signed(payload))
}

func (h harness) logs(t *testing.T) []WebhookLog {
	t.Helper()
	var logs []WebhookLog
	require.NoError(t, h.conn.Order("created_at ASC, id ASC").Find(&logs).Error)
	return logs
}

func TestIngestSubscriptionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.ingest(t, `{"id":"evt_1","type":"subscription_created","data":{"company":{"id":"acme"},"user":{"id":"u1"},"subscription":{"id":"sub_1","plan_id":"basic","amount":1000}}}`)
	require.NoError(t, err)
	assert.Equal(t, &Result{Received: true, Event: "subscription_created"}, res)

	subs, err := h.repo.ListSubscriptions(ctx, h.conn, "acme")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, domain.SubscriptionStatusActive, subs[0].Status)
	assert.Equal(t, int64(1000), subs[0].AmountCents)

	_, err = h.ingest(t, `{"type":"subscription.canceled","data":{"company":{"id":"acme"},"subscription":{"id":"sub_1","canceled_at":"2024-06-20T00:00:00Z"}}}`)
	require.NoError(t, err)

	subs, err = h.repo.ListSubscriptions(ctx, h.conn, "acme")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCanceled, subs[0].Status)
	require.NotNil(t, subs[0].CanceledAt)
	assert.True(t, subs[0].CanceledAt.Equal(time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)))

	companies, err := h.repo.ListCompanies(ctx, h.conn)
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "acme", companies[0].ID)

	logs := h.logs(t)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].Processed)
	assert.Equal(t, "evt_1", logs[0].EventID)
	assert.Equal(t, "acme", logs[0].CompanyID)
}

func TestIngestRefundMarksOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ingest(t, `{"type":"payment_succeeded","data":{"company":{"id":"acme"},"user":{"id":"u1"},"order":{"id":"o1","amount":2500}}}`)
	require.NoError(t, err)
	_, err = h.ingest(t, `{"type":"refund.created","data":{"company":{"id":"acme"},"refund":{"id":"r1","orderId":"o1","amount":2500,"reason":"requested"}}}`)
	require.NoError(t, err)

	order, err := h.repo.FindOrder(ctx, h.conn, "acme", "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, order.Status)

	refunds, err := h.repo.ListRefunds(ctx, h.conn, "acme", nil)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, "u1", refunds[0].UserID)
	assert.Equal(t, "o1", refunds[0].OrderID)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	payload := `{"type":"payment_succeeded","data":{"company":{"id":"acme"},"order":{"id":"o1","amount":1}}}`
	headers := http.Header{}
	headers.Set(HeaderSignature, "deadbeef")

	_, err := h.svc.Ingest(context.Background(), ProviderGeneric, []byte(payload), headers)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	logs := h.logs(t)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Processed)
	assert.Equal(t, "Invalid signature", logs[0].ErrorMessage)
	assert.Equal(t, "deadbeef", logs[0].Signature)

	orders, err := h.repo.ListOrders(context.Background(), h.conn, "acme", nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestIngestAcknowledgesUnknownEvents(t *testing.T) {
	h := newHarness(t)

	res, err := h.ingest(t, `{"type":"company.installed","data":{"company":{"id":"acme"}}}`)
	require.NoError(t, err)
	assert.Equal(t, "company.installed", res.Event)

	logs := h.logs(t)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Processed)
}

func TestIngestErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Ingest(context.Background(), ProviderGeneric, []byte(`{not json`), http.Header{})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = h.svc.Ingest(context.Background(), "paypal", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = h.ingest(t, `{"type":"payment_succeeded","data":{"order":{"id":"o1","amount":1}}}`)
	assert.ErrorIs(t, err, ErrMissingCompany)

	logs := h.logs(t)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Processed)
	assert.Equal(t, "missing_company", logs[0].ErrorMessage)
}

func TestIngestInvalidatesCompanyCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.cache.Entry(ctx, "acme", "kpis", "days=90").Save(ctx, map[string]int{"mrr": 1})
	var cached map[string]int
	require.True(t, h.cache.Entry(ctx, "acme", "kpis", "days=90").Load(ctx, &cached))

	_, err := h.ingest(t, `{"type":"payment_succeeded","data":{"company":{"id":"acme"},"order":{"id":"o1","amount":100}}}`)
	require.NoError(t, err)
	assert.False(t, h.cache.Entry(ctx, "acme", "kpis", "days=90").Load(ctx, &cached))
}

func TestIngestStripeCharge(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"id":"evt_2","object":"event","type":"charge.failed","data":{"object":{"id":"ch_1","object":"charge","amount":4200,"currency":"eur","customer":"cus_9","created":1717200000,"status":"failed","metadata":{"company_id":"acme","channel":"checkout"}}}}`)
	signedPayload := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	headers := http.Header{}
	headers.Set("Stripe-Signature", signedPayload.Header)

	res, err := h.svc.Ingest(context.Background(), ProviderStripe, signedPayload.Payload, headers)
	require.NoError(t, err)
	assert.Equal(t, "charge.failed", res.Event)

	order, err := h.repo.FindOrder(context.Background(), h.conn, "acme", "ch_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, order.Status)
	assert.Equal(t, int64(4200), order.AmountCents)
	assert.Equal(t, "eur", order.Currency)
	assert.Equal(t, "cus_9", order.UserID)
	assert.Equal(t, "checkout", order.Channel)
}

func (h harness) ingestStripe(t *testing.T, payload string) (*Result, error) {
	t.Helper()
	body := []byte(payload)
	return h.svc.Ingest(context.Background(), ProviderStripe, body, stripeHeaders(t, body))
}

func TestIngestStripeRefundResolvesCompanyFromOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ingestStripe(t, `{"id":"evt_1","object":"event","type":"charge.succeeded","data":{"object":{"id":"ch_1","object":"charge","amount":4200,"customer":"cus_9","created":1717200000,"status":"succeeded","metadata":{"company_id":"acme"}}}}`)
	require.NoError(t, err)

	res, err := h.ingestStripe(t, `{"id":"evt_2","object":"event","type":"refund.created","data":{"object":{"id":"re_1","object":"refund","amount":4200,"charge":"ch_1","created":1717300000}}}`)
	require.NoError(t, err)
	assert.Equal(t, "refund.created", res.Event)

	order, err := h.repo.FindOrder(ctx, h.conn, "acme", "ch_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, order.Status)

	refunds, err := h.repo.ListRefunds(ctx, h.conn, "acme", nil)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, "re_1", refunds[0].ID)
	assert.Equal(t, "cus_9", refunds[0].UserID)

	logs := h.logs(t)
	require.Len(t, logs, 2)
	assert.Equal(t, "acme", logs[1].CompanyID)
	assert.True(t, logs[1].Processed)
}

func TestIngestStripeRefundForUnknownOrder(t *testing.T) {
	h := newHarness(t)

	_, err := h.ingestStripe(t, `{"id":"evt_2","object":"event","type":"refund.created","data":{"object":{"id":"re_1","object":"refund","amount":100,"charge":"ch_missing"}}}`)
	assert.ErrorIs(t, err, ErrMissingCompany)
}

func TestIngestStripeChargeRefunded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ingestStripe(t, `{"id":"evt_3","object":"event","type":"charge.refunded","data":{"object":{
		"id":"ch_1","object":"charge","amount":5000,"amount_refunded":3000,"refunded":false,
		"customer":"cus_1","created":1717200000,"status":"succeeded","metadata":{"company_id":"acme"},
		"refunds":{"object":"list","data":[
			{"id":"re_1","object":"refund","amount":1000,"charge":"ch_1","created":1717300000},
			{"id":"re_2","object":"refund","amount":2000,"charge":"ch_1","created":1717400000}
		]}
	}}}`)
	require.NoError(t, err)

	order, err := h.repo.FindOrder(ctx, h.conn, "acme", "ch_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, order.Status)
	assert.Equal(t, int64(5000), order.AmountCents)

	refunds, err := h.repo.ListRefunds(ctx, h.conn, "acme", nil)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, "re_1", refunds[0].ID)
	assert.Equal(t, "re_2", refunds[1].ID)
	assert.Equal(t, "ch_1", refunds[1].OrderID)
}

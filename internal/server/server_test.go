package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/revlens/internal/analytics/repository"
	analyticsservice "github.com/smallbiznis/revlens/internal/analytics/service"
	"github.com/smallbiznis/revlens/internal/clock"
	"github.com/smallbiznis/revlens/internal/config"
	"github.com/smallbiznis/revlens/internal/ingest/syncer"
	"github.com/smallbiznis/revlens/internal/ingest/syncer/mocks"
	"github.com/smallbiznis/revlens/internal/ingest/webhook"
	"github.com/smallbiznis/revlens/internal/lock"
	"github.com/smallbiznis/revlens/internal/providers/digest"
	"github.com/smallbiznis/revlens/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testWebhookSecret = "s3cret"

var testNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	engine   *gin.Engine
	locker   lock.Locker
	upstream *mocks.MockUpstream
}

type envOptions struct {
	withSyncer bool
	digest     digest.Provider
}

func newTestEnv(t *testing.T, opts envOptions) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := db.NewTest(t, append(repository.Models(), &webhook.WebhookLog{})...)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	fake := clock.NewFakeClock(testNow)
	repo := repository.Provide()

	analytics := analyticsservice.NewService(analyticsservice.Params{
		DB:     conn,
		Log:    log,
		GenID:  node,
		Repo:   repo,
		Clock:  fake,
		Alerts: config.NewStaticAlertConfigHolder(config.DefaultAlertConfig()),
	})
	webhooks := webhook.NewService(webhook.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Repo:     repo,
		Clock:    fake,
		Registry: webhook.NewRegistry(webhook.NewGenericAdapter(testWebhookSecret)),
	})

	env := testEnv{locker: lock.NewLocal()}
	var sy *syncer.Syncer
	if opts.withSyncer {
		env.upstream = mocks.NewMockUpstream(gomock.NewController(t))
		env.upstream.EXPECT().Name().Return("stripe").AnyTimes()
		sy = syncer.New(syncer.Params{
			DB:       conn,
			Log:      log,
			Repo:     repo,
			Clock:    fake,
			Locker:   env.locker,
			Upstream: env.upstream,
		})
	}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	srv := NewServer(ServerParams{
		Gin:       engine,
		Cfg:       config.Config{WebhookSecret: testWebhookSecret, SchedulerEnabled: true},
		DB:        conn,
		Log:       log,
		Analytics: analytics,
		Webhooks:  webhooks,
		Syncer:    sy,
		Digest:    opts.digest,
	})
	srv.RegisterRoutes()
	env.engine = srv.Engine()
	return env
}

func (e testEnv) do(t *testing.T, method, target, body string, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) postWebhook(t *testing.T, payload string) *httptest.ResponseRecorder {
	t.Helper()
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set(webhook.HeaderSignature, webhook.Sign(testWebhookSecret, []byte(payload)))
	return e.do(t, http.MethodPost, "/api/webhooks/payments", payload, headers)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func firstValidationField(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "validation_error", resp.Error.Type)
	require.NotEmpty(t, resp.Error.Errors)
	return resp.Error.Errors[0].Field
}

const subscriptionCreated = `{"id":"evt_1","type":"subscription_created","data":{"company":{"id":"acme"},"user":{"id":"u1"},"subscription":{"id":"sub_1","plan_id":"basic","amount":1000,"interval":"month","started_at":"2024-01-01T00:00:00Z"}}}`

func TestAnalyticsValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	cases := []struct {
		target string
		field  string
	}{
		{"/api/metrics", "companyId"},
		{"/api/metrics?companyId=ab", "companyId"},
		{"/api/metrics?companyId=acme&days=abc", "days"},
		{"/api/analytics/mrr?companyId=acme&days=400", "days"},
		{"/api/analytics/top-customers?companyId=acme&limit=0", "limit"},
		{"/api/analytics/top-customers?companyId=acme&limit=101", "limit"},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tc.target, "", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.field, firstValidationField(t, rec))
		})
	}
}

func TestWebhookThenKPIs(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.postWebhook(t, subscriptionCreated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]any{"received": true, "event": "subscription_created"}, decode(t, rec))

	rec = env.do(t, http.MethodGet, "/api/metrics?companyId=acme", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, 1000.0, body["mrr"])
	assert.Equal(t, 12000.0, body["arr"])
	assert.Nil(t, body["payback"])
}

func TestAnalyticsRoutesRespond(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.Equal(t, http.StatusOK, env.postWebhook(t, subscriptionCreated).Code)

	for _, route := range []string{
		"/api/analytics/mrr",
		"/api/analytics/cohorts",
		"/api/analytics/failures",
		"/api/analytics/revenue",
		"/api/analytics/top-customers",
		"/api/analytics/anomalies",
		"/api/analytics/alerts",
	} {
		t.Run(route, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, route+"?companyId=acme", "", nil)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		})
	}
}

func TestWebhookErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	headers := http.Header{}
	headers.Set(webhook.HeaderSignature, "deadbeef")
	rec := env.do(t, http.MethodPost, "/api/webhooks/payments", subscriptionCreated, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/webhooks/unknown", subscriptionCreated, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.postWebhook(t, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "body", firstValidationField(t, rec))

	rec = env.postWebhook(t, `{"id":"evt_2","type":"payment_succeeded","data":{"order":{"id":"o1","amount":100}}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	payload := `{"id":"evt_big","type":"payment_succeeded","pad":"` + strings.Repeat("x", maxWebhookBody) + `","data":{"company":{"id":"acme"},"order":{"id":"o1","amount":100}}}`
	rec := env.postWebhook(t, payload)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "payload_too_large", resp.Error.Type)
}

func TestSyncCompanyRoute(t *testing.T) {
	env := newTestEnv(t, envOptions{withSyncer: true})
	since := testNow.Add(-30 * 24 * time.Hour)

	env.upstream.EXPECT().Subscriptions(gomock.Any(), "acme").Return(nil, nil)
	env.upstream.EXPECT().Orders(gomock.Any(), "acme", since).Return(nil, nil)
	env.upstream.EXPECT().Refunds(gomock.Any(), "acme", since).Return(nil, nil)

	rec := env.do(t, http.MethodPost, "/api/sync/company/acme", `{"days":30}`, http.Header{"Content-Type": {"application/json"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["ok"])

	_, ok, err := env.locker.TryLock(context.Background(), "revlens:sync:acme", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	rec = env.do(t, http.MethodPost, "/api/sync/company/acme", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/sync/company/a!", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncCompanyWithoutUpstream(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.do(t, http.MethodPost, "/api/sync/company/acme", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDigestRoutes(t *testing.T) {
	var (
		mu     sync.Mutex
		posted string
	)
	lastPosted := func() string {
		mu.Lock()
		defer mu.Unlock()
		return posted
	}
	chat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		posted = string(body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer chat.Close()

	env := newTestEnv(t, envOptions{digest: digest.NewWebhook(digest.Config{URL: chat.URL}, zaptest.NewLogger(t))})
	require.Equal(t, http.StatusOK, env.postWebhook(t, subscriptionCreated).Code)

	rec := env.do(t, http.MethodGet, "/api/digest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["webhookFound"])

	rec = env.do(t, http.MethodPost, "/api/digest", `{"companyId":"acme","send":false}`, http.Header{"Content-Type": {"application/json"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decode(t, rec)["sent"])
	assert.Empty(t, lastPosted())

	rec = env.do(t, http.MethodPost, "/api/digest?companyId=acme", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["sent"])
	assert.Contains(t, lastPosted(), "Revenue Digest")
	assert.Contains(t, lastPosted(), "MRR: $10.00")
}

func TestDigestWithoutWebhook(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/digest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"webhookFound": false, "webhook": "<undefined>"}, decode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/digest?companyId=acme", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["sent"])
}

func TestHealthReport(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["sync"])
	env2 := body["env"].(map[string]any)
	assert.Equal(t, true, env2["WEBHOOK_SECRET"])
	assert.Equal(t, false, env2["STRIPE_API_KEY"])
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

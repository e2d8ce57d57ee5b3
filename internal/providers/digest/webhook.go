package digest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"go.uber.org/zap"
)

const (
	requestTimeout = 10 * time.Second
	maxAttempts    = 3
)

type Config struct {
	URL           string
	RetryInterval time.Duration
}

// WebhookProvider posts {"content": message} to a chat webhook. Server errors
// and rate limits are retried with exponential backoff.
type WebhookProvider struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

func NewWebhook(cfg Config, log *zap.Logger) *WebhookProvider {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	return &WebhookProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		log:    log.Named("providers.digest"),
	}
}

func (p *WebhookProvider) Configured() bool {
	return p.cfg.URL != ""
}

func (p *WebhookProvider) Target() string {
	return Redact(p.cfg.URL)
}

func (p *WebhookProvider) Send(ctx context.Context, kpis domain.KPIResponse) error {
	body, err := json.Marshal(map[string]string{"content": FormatMessage(kpis)})
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.RetryInterval

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.post(ctx, body)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(maxAttempts))
	if err != nil {
		p.log.Warn("digest delivery failed", zap.String("target", p.Target()), zap.Error(err))
		return err
	}
	p.log.Info("digest delivered", zap.String("company_id", kpis.CompanyID), zap.String("target", p.Target()))
	return nil
}

func (p *WebhookProvider) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("digest webhook returned %d", resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return backoff.Permanent(err)
}

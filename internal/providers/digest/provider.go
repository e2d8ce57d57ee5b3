package digest

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
)

type Provider interface {
	Send(ctx context.Context, kpis domain.KPIResponse) error
	Configured() bool
	// Target describes the destination with secrets redacted.
	Target() string
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, kpis domain.KPIResponse) error {
	return nil
}

func (p *NoOpProvider) Configured() bool {
	return false
}

func (p *NoOpProvider) Target() string {
	return Redact("")
}

// FormatMessage renders the KPI digest posted to chat.
func FormatMessage(kpis domain.KPIResponse) string {
	lines := []string{
		"**Revenue Digest**",
		fmt.Sprintf("MRR: $%.2f", float64(kpis.MRR)/100),
		fmt.Sprintf("ARR: $%.2f", float64(kpis.ARR)/100),
		fmt.Sprintf("Churn: %.1f%%", kpis.Churn*100),
		fmt.Sprintf("Failed: %.1f%%", kpis.FailedPayments*100),
	}
	if kpis.NRR > 0 {
		lines = append(lines, fmt.Sprintf("NRR: %.1f%%", kpis.NRR*100))
	}
	return strings.Join(lines, "\n")
}

// Redact keeps the first 8 and last 6 characters of a webhook URL.
func Redact(url string) string {
	if url == "" {
		return "<undefined>"
	}
	if len(url) <= 16 {
		return url[:1] + "***" + url[len(url)-2:]
	}
	return url[:8] + "…" + url[len(url)-6:]
}

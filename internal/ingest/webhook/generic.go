package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
)

const (
	HeaderSignature       = "X-Webhook-Signature"
	HeaderLegacySignature = "X-Whop-Signature"
)

// GenericAdapter accepts the payments platform's JSON envelope signed with a
// hex HMAC-SHA256 of the raw body. Verification is skipped when no secret is
// configured.
type GenericAdapter struct {
	secret string
}

func NewGenericAdapter(secret string) *GenericAdapter {
	return &GenericAdapter{secret: strings.TrimSpace(secret)}
}

func (a *GenericAdapter) Provider() string {
	return ProviderGeneric
}

func (a *GenericAdapter) Signature(headers http.Header) string {
	if sig := strings.TrimSpace(headers.Get(HeaderSignature)); sig != "" {
		return sig
	}
	return strings.TrimSpace(headers.Get(HeaderLegacySignature))
}

func (a *GenericAdapter) Verify(payload []byte, headers http.Header) error {
	if a.secret == "" {
		return nil
	}
	signature := strings.ToLower(a.Signature(headers))
	if signature == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(Sign(a.secret, payload))) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

func (e envelope) eventType() string {
	if t := strings.TrimSpace(e.Type); t != "" {
		return t
	}
	if t := strings.TrimSpace(e.EventType); t != "" {
		return t
	}
	return "unknown"
}

func (a *GenericAdapter) EventType(payload []byte) string {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "unknown"
	}
	return env.eventType()
}

type companyPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type userPayload struct {
	ID string `json:"id"`
}

type orderPayload struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Amount    *float64       `json:"amount"`
	Currency  string         `json:"currency"`
	Channel   string         `json:"channel"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt flexTime       `json:"created_at"`
}

type subscriptionPayload struct {
	ID                    string   `json:"id"`
	UserID                string   `json:"user_id"`
	PlanID                string   `json:"plan_id"`
	PlanIDCamel           string   `json:"planId"`
	Status                string   `json:"status"`
	Amount                *float64 `json:"amount"`
	AmountCents           *float64 `json:"amount_cents"`
	Currency              string   `json:"currency"`
	Interval              string   `json:"interval"`
	StartedAt             flexTime `json:"started_at"`
	StartedAtCamel        flexTime `json:"startedAt"`
	CurrentPeriodEnd      flexTime `json:"current_period_end"`
	CurrentPeriodEndCamel flexTime `json:"currentPeriodEnd"`
	CanceledAt            flexTime `json:"canceled_at"`
	CanceledAtCamel       flexTime `json:"canceledAt"`
}

type refundPayload struct {
	ID             string   `json:"id"`
	OrderID        string   `json:"order_id"`
	OrderIDCamel   string   `json:"orderId"`
	UserID         string   `json:"user_id"`
	Amount         *float64 `json:"amount"`
	AmountCents    *float64 `json:"amount_cents"`
	Reason         string   `json:"reason"`
	CreatedAt      flexTime `json:"created_at"`
	CreatedAtCamel flexTime `json:"createdAt"`
}

type eventData struct {
	Company      *companyPayload      `json:"company"`
	CompanyID    string               `json:"company_id"`
	User         *userPayload         `json:"user"`
	Order        *orderPayload        `json:"order"`
	Subscription *subscriptionPayload `json:"subscription"`
	Refund       *refundPayload       `json:"refund"`
	Amount       *float64             `json:"amount"`
}

func (d eventData) companyID() string {
	if d.Company != nil && strings.TrimSpace(d.Company.ID) != "" {
		return strings.TrimSpace(d.Company.ID)
	}
	return strings.TrimSpace(d.CompanyID)
}

func (d eventData) userID(fallback string) string {
	if d.User != nil && strings.TrimSpace(d.User.ID) != "" {
		return strings.TrimSpace(d.User.ID)
	}
	return strings.TrimSpace(fallback)
}

func (a *GenericAdapter) Parse(_ context.Context, payload []byte, now time.Time) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ErrInvalidPayload
	}

	// Senders without an envelope put the event fields at the top level.
	raw := bytes.TrimSpace(env.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = payload
	}
	var data eventData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, ErrInvalidPayload
	}

	event := &Event{
		ID:        strings.TrimSpace(env.ID),
		RawType:   env.eventType(),
		Type:      CanonicalType(env.eventType()),
		CompanyID: data.companyID(),
	}

	switch event.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		if data.Order == nil || strings.TrimSpace(data.Order.ID) == "" {
			return event, nil
		}
		status := domain.OrderStatusSucceeded
		if event.Type == EventPaymentFailed {
			status = domain.OrderStatusFailed
		}
		o := data.Order
		event.Order = &domain.Order{
			ID:          strings.TrimSpace(o.ID),
			UserID:      data.userID(o.UserID),
			CompanyID:   event.CompanyID,
			AmountCents: cents(o.Amount, data.Amount),
			Currency:    currency(o.Currency),
			Status:      status,
			Channel:     strings.TrimSpace(o.Channel),
			Metadata:    o.Metadata,
			CreatedAt:   o.CreatedAt.or(now),
		}

	case EventSubscriptionCreated:
		if data.Subscription == nil || strings.TrimSpace(data.Subscription.ID) == "" {
			return event, nil
		}
		sub := data.Subscription
		interval := domain.IntervalMonth
		if strings.EqualFold(strings.TrimSpace(sub.Interval), string(domain.IntervalYear)) {
			interval = domain.IntervalYear
		}
		status := domain.SubscriptionStatus(strings.ToLower(strings.TrimSpace(sub.Status)))
		if status == "" {
			status = domain.SubscriptionStatusActive
		}
		event.Subscription = &domain.Subscription{
			ID:               strings.TrimSpace(sub.ID),
			UserID:           data.userID(sub.UserID),
			CompanyID:        event.CompanyID,
			PlanID:           firstNonEmpty(sub.PlanID, sub.PlanIDCamel),
			AmountCents:      cents(sub.Amount, sub.AmountCents),
			Currency:         currency(sub.Currency),
			Interval:         interval,
			Status:           status,
			StartedAt:        sub.StartedAt.orTime(sub.StartedAtCamel).or(now),
			CurrentPeriodEnd: sub.CurrentPeriodEnd.orTime(sub.CurrentPeriodEndCamel).ptr(),
		}

	case EventSubscriptionCanceled:
		if data.Subscription == nil || strings.TrimSpace(data.Subscription.ID) == "" {
			return event, nil
		}
		sub := data.Subscription
		event.Subscription = &domain.Subscription{ID: strings.TrimSpace(sub.ID), CompanyID: event.CompanyID}
		event.CanceledAt = sub.CanceledAt.orTime(sub.CanceledAtCamel).or(now)

	case EventRefundCreated:
		if data.Refund == nil || strings.TrimSpace(data.Refund.ID) == "" {
			return event, nil
		}
		r := data.Refund
		orderID := firstNonEmpty(r.OrderID, r.OrderIDCamel)
		if orderID == "" && data.Order != nil {
			orderID = strings.TrimSpace(data.Order.ID)
		}
		event.Refunds = []domain.Refund{{
			ID:          strings.TrimSpace(r.ID),
			OrderID:     orderID,
			UserID:      data.userID(r.UserID),
			CompanyID:   event.CompanyID,
			AmountCents: cents(r.Amount, r.AmountCents),
			Reason:      strings.TrimSpace(r.Reason),
			CreatedAt:   r.CreatedAt.orTime(r.CreatedAtCamel).or(now),
		}}
	}
	return event, nil
}

// cents returns the first non-nil amount in minor units.
func cents(amounts ...*float64) int64 {
	for _, amount := range amounts {
		if amount != nil {
			return int64(math.Round(*amount))
		}
	}
	return 0
}

func currency(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "usd"
	}
	return c
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// flexTime decodes RFC 3339 strings or unix seconds.
type flexTime struct {
	t time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "" || raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
		f.t = t.UTC()
		return nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	f.t = time.Unix(secs, 0).UTC()
	return nil
}

func (f flexTime) orTime(other flexTime) flexTime {
	if f.t.IsZero() {
		return other
	}
	return f
}

func (f flexTime) or(def time.Time) time.Time {
	if f.t.IsZero() {
		return def
	}
	return f.t
}

func (f flexTime) ptr() *time.Time {
	if f.t.IsZero() {
		return nil
	}
	t := f.t
	return &t
}

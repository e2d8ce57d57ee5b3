package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
	stripelib "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// MetadataCompanyID is the Stripe metadata key naming the owning company.
const MetadataCompanyID = "company_id"

const headerStripeSignature = "Stripe-Signature"

// StripeAdapter maps Stripe events onto the canonical event types. Stripe
// deliveries are always verified.
type StripeAdapter struct {
	secret string
}

func NewStripeAdapter(secret string) *StripeAdapter {
	return &StripeAdapter{secret: strings.TrimSpace(secret)}
}

func (a *StripeAdapter) Provider() string {
	return ProviderStripe
}

func (a *StripeAdapter) Signature(headers http.Header) string {
	return strings.TrimSpace(headers.Get(headerStripeSignature))
}

func (a *StripeAdapter) EventType(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || strings.TrimSpace(head.Type) == "" {
		return "unknown"
	}
	return head.Type
}

func (a *StripeAdapter) Verify(payload []byte, headers http.Header) error {
	sig := a.Signature(headers)
	if a.secret == "" || sig == "" {
		return ErrInvalidSignature
	}
	// Events pinned to another API version are still accepted. Parse only
	// reads fields that are stable across versions.
	_, err := stripewebhook.ConstructEventWithOptions(payload, sig, a.secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return ErrInvalidSignature
	}
	return nil
}

func (a *StripeAdapter) Parse(_ context.Context, payload []byte, now time.Time) (*Event, error) {
	var evt stripelib.Event
	if err := json.Unmarshal(payload, &evt); err != nil || evt.Data == nil {
		return nil, ErrInvalidPayload
	}

	event := &Event{ID: evt.ID, RawType: string(evt.Type), Type: string(evt.Type)}
	switch evt.Type {
	case "charge.succeeded", "charge.failed":
		var charge stripelib.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		event.Type = EventPaymentSucceeded
		if evt.Type == "charge.failed" {
			event.Type = EventPaymentFailed
		}
		event.Order = OrderFromCharge(&charge, now)
		event.CompanyID = event.Order.CompanyID

	case "customer.subscription.created":
		var sub stripelib.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		event.Type = EventSubscriptionCreated
		event.Subscription = SubscriptionFromStripe(&sub, now)
		event.CompanyID = event.Subscription.CompanyID

	case "customer.subscription.deleted":
		var sub stripelib.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		event.Type = EventSubscriptionCanceled
		event.Subscription = SubscriptionFromStripe(&sub, now)
		event.CompanyID = event.Subscription.CompanyID
		event.CanceledAt = unixOr(sub.CanceledAt, now)

	case "refund.created":
		var refund stripelib.Refund
		if err := json.Unmarshal(evt.Data.Raw, &refund); err != nil {
			return nil, fmt.Errorf("decode refund: %w", err)
		}
		event.Type = EventRefundCreated
		mapped := RefundFromStripe(&refund, now)
		event.Refunds = []domain.Refund{*mapped}
		event.CompanyID = mapped.CompanyID

	case "charge.refunded":
		var charge stripelib.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		event.Type = EventRefundCreated
		event.Order = OrderFromCharge(&charge, now)
		event.Refunds = RefundsFromCharge(&charge, now)
		event.CompanyID = event.Order.CompanyID
	}
	return event, nil
}

// OrderFromCharge maps a Stripe charge. Failed charges become failed orders.
func OrderFromCharge(charge *stripelib.Charge, now time.Time) *domain.Order {
	status := domain.OrderStatusSucceeded
	switch {
	case charge.Refunded:
		status = domain.OrderStatusRefunded
	case charge.Status == stripelib.ChargeStatusFailed:
		status = domain.OrderStatusFailed
	}
	return &domain.Order{
		ID:          charge.ID,
		UserID:      customerID(charge.Customer, charge.Metadata),
		CompanyID:   strings.TrimSpace(charge.Metadata[MetadataCompanyID]),
		AmountCents: charge.Amount,
		Currency:    currency(string(charge.Currency)),
		Status:      status,
		Channel:     strings.TrimSpace(charge.Metadata["channel"]),
		CreatedAt:   unixOr(charge.Created, now),
	}
}

// SubscriptionFromStripe sums the recurring items into one amount. The plan is
// the first item's price.
func SubscriptionFromStripe(sub *stripelib.Subscription, now time.Time) *domain.Subscription {
	out := &domain.Subscription{
		ID:        sub.ID,
		UserID:    customerID(sub.Customer, sub.Metadata),
		CompanyID: strings.TrimSpace(sub.Metadata[MetadataCompanyID]),
		Currency:  currency(string(sub.Currency)),
		Interval:  domain.IntervalMonth,
		Status:    subscriptionStatus(sub.Status),
		StartedAt: unixOr(sub.StartDate, unixOr(sub.Created, now)),
	}
	if sub.CanceledAt > 0 {
		canceledAt := time.Unix(sub.CanceledAt, 0).UTC()
		out.CanceledAt = &canceledAt
	}
	if sub.Items == nil {
		return out
	}
	for i, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		out.AmountCents += item.Price.UnitAmount * quantity
		if i == 0 {
			out.PlanID = item.Price.ID
			if item.Price.Recurring != nil && item.Price.Recurring.Interval == stripelib.PriceRecurringIntervalYear {
				out.Interval = domain.IntervalYear
			}
		}
	}
	return out
}

func RefundFromStripe(refund *stripelib.Refund, now time.Time) *domain.Refund {
	out := &domain.Refund{
		ID:          refund.ID,
		CompanyID:   strings.TrimSpace(refund.Metadata[MetadataCompanyID]),
		AmountCents: refund.Amount,
		Reason:      string(refund.Reason),
		CreatedAt:   unixOr(refund.Created, now),
	}
	if refund.Charge != nil {
		out.OrderID = refund.Charge.ID
		if out.CompanyID == "" {
			out.CompanyID = strings.TrimSpace(refund.Charge.Metadata[MetadataCompanyID])
		}
		out.UserID = customerID(refund.Charge.Customer, refund.Charge.Metadata)
	}
	return out
}

// RefundsFromCharge maps the refunds embedded in a refunded charge. Every row
// belongs to the charge's order and company. When the list is not expanded a
// single row keyed by the charge carries the refunded total.
func RefundsFromCharge(charge *stripelib.Charge, now time.Time) []domain.Refund {
	companyID := strings.TrimSpace(charge.Metadata[MetadataCompanyID])
	userID := customerID(charge.Customer, charge.Metadata)

	var out []domain.Refund
	if charge.Refunds != nil {
		for _, refund := range charge.Refunds.Data {
			if refund == nil || refund.ID == "" {
				continue
			}
			mapped := RefundFromStripe(refund, now)
			mapped.OrderID = charge.ID
			mapped.CompanyID = companyID
			mapped.UserID = userID
			out = append(out, *mapped)
		}
	}
	if len(out) == 0 && charge.AmountRefunded > 0 {
		out = append(out, domain.Refund{
			ID:          charge.ID,
			OrderID:     charge.ID,
			UserID:      userID,
			CompanyID:   companyID,
			AmountCents: charge.AmountRefunded,
			CreatedAt:   unixOr(charge.Created, now),
		})
	}
	return out
}

func subscriptionStatus(status stripelib.SubscriptionStatus) domain.SubscriptionStatus {
	switch status {
	case stripelib.SubscriptionStatusTrialing:
		return domain.SubscriptionStatusTrialing
	case stripelib.SubscriptionStatusCanceled, stripelib.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionStatusCanceled
	default:
		return domain.SubscriptionStatusActive
	}
}

func customerID(customer *stripelib.Customer, metadata map[string]string) string {
	if customer != nil && customer.ID != "" {
		return customer.ID
	}
	return strings.TrimSpace(metadata["user_id"])
}

func unixOr(sec int64, def time.Time) time.Time {
	if sec <= 0 {
		return def
	}
	return time.Unix(sec, 0).UTC()
}

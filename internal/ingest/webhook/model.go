package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/revlens/internal/analytics/domain"
	"gorm.io/datatypes"
)

var (
	ErrUnknownProvider  = errors.New("unknown_provider")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrMissingCompany   = errors.New("missing_company")
)

const (
	ProviderGeneric = "payments"
	ProviderStripe  = "stripe"
)

// Canonical event types. Senders may spell them with a dot instead of an
// underscore.
const (
	EventPaymentSucceeded     = "payment_succeeded"
	EventPaymentFailed        = "payment_failed"
	EventSubscriptionCreated  = "subscription_created"
	EventSubscriptionCanceled = "subscription_canceled"
	EventRefundCreated        = "refund_created"
)

const maxSignatureLength = 100

// Event is a delivery normalized into domain rows. Only the rows relevant to
// Type are set.
type Event struct {
	ID           string
	Type         string
	RawType      string
	CompanyID    string
	Order        *domain.Order
	Subscription *domain.Subscription
	Refunds      []domain.Refund
	CanceledAt   time.Time
}

// Adapter verifies and decodes deliveries from one sender.
type Adapter interface {
	Provider() string
	// EventType peeks at the event type without verifying the payload.
	EventType(payload []byte) string
	// Signature returns the header value recorded alongside a delivery.
	Signature(headers http.Header) string
	Verify(payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte, now time.Time) (*Event, error)
}

// WebhookLog records every delivery, processed or not.
type WebhookLog struct {
	ID           int64          `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Provider     string         `gorm:"not null;size:32" json:"provider"`
	EventID      string         `gorm:"size:128" json:"eventId,omitempty"`
	EventType    string         `gorm:"not null;size:128;index" json:"eventType"`
	CompanyID    string         `gorm:"size:64;index" json:"companyId,omitempty"`
	Payload      datatypes.JSON `json:"payload"`
	Signature    string         `gorm:"size:100" json:"signature,omitempty"`
	Processed    bool           `gorm:"not null" json:"processed"`
	ErrorMessage string         `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"createdAt"`
}

// Result is returned to the sender on success.
type Result struct {
	Received bool   `json:"received"`
	Event    string `json:"event"`
}

// CanonicalType lowercases t and folds the dotted spelling onto the
// underscored one for the known event types.
func CanonicalType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	folded := strings.ReplaceAll(t, ".", "_")
	switch folded {
	case EventPaymentSucceeded, EventPaymentFailed, EventSubscriptionCreated,
		EventSubscriptionCanceled, EventRefundCreated:
		return folded
	}
	return t
}

func truncateSignature(sig string) string {
	if len(sig) > maxSignatureLength {
		return sig[:maxSignatureLength]
	}
	return sig
}

package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributes(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/webhooks/payments"),
		attribute.String("webhook.signature", "abc"),
		attribute.String("Authorization", "Bearer x"),
		attribute.Int("http.status_code", 200),
	)
	assert.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	long := errors.New(strings.Repeat("x", 400))
	assert.Len(t, SafeError(long).Error(), maxErrorLength)
	assert.Equal(t, "boom", SafeError(errors.New(" boom ")).Error())
}

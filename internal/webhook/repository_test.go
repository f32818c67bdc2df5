package webhook

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEventRedeliveryKeepsFirstPayload(t *testing.T) {
	_, conflict, found := strings.Cut(recordEventSQL, "ON CONFLICT")
	require.True(t, found)
	for _, column := range []string{"payload", "attempts", "received_at", "processed_at", "update_details", "error_details"} {
		assigned := regexp.MustCompile(`\b` + column + `\s*=`)
		assert.False(t, assigned.MatchString(conflict), "redelivery must not rewrite %s", column)
	}
	assert.Contains(t, conflict, "deliveries = ml_webhook_events.deliveries + 1")
	assert.Contains(t, conflict, "last_received_at = EXCLUDED.received_at")
}

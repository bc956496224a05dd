// Package status maps vendor delivery vocabularies onto models.Status.
package status

import (
	"strings"

	"github.com/lalith-99/unifiedinbox/internal/models"
)

// Normalize returns the status a message should carry. Inbound messages
// were delivered to us already, so they are always DELIVERED.
func Normalize(ch models.Channel, dir models.Direction, vendorStatus string) models.Status {
	if dir == models.DirectionInbound {
		return models.StatusDelivered
	}
	if s, ok := Outbound(ch, vendorStatus); ok {
		return s
	}
	return models.StatusSent
}

// Outbound maps a vendor status reported for one of our own sends. ok is
// false when the value is unknown, letting callers keep the current status.
func Outbound(ch models.Channel, vendorStatus string) (models.Status, bool) {
	v := strings.ToLower(strings.TrimSpace(vendorStatus))
	if ch == models.ChannelEmail {
		if s, ok := emailStatuses[v]; ok {
			return s, true
		}
	}
	s, ok := twilioStatuses[v]
	return s, ok
}

var twilioStatuses = map[string]models.Status{
	"delivered":   models.StatusDelivered,
	"sent":        models.StatusSent,
	"failed":      models.StatusFailed,
	"undelivered": models.StatusFailed,
	"queued":      models.StatusPending,
	"sending":     models.StatusPending,
	"accepted":    models.StatusPending,
	"scheduled":   models.StatusScheduled,
	"read":        models.StatusRead,
}

// Resend webhook event types.
var emailStatuses = map[string]models.Status{
	"email.sent":             models.StatusSent,
	"email.delivered":        models.StatusDelivered,
	"email.delivery_delayed": models.StatusSent,
	"email.bounced":          models.StatusFailed,
	"email.complained":       models.StatusDelivered,
	"email.opened":           models.StatusRead,
}

// Rank orders statuses along the delivery lifecycle. A delivery callback
// never moves a message backwards, except to FAILED.
func Rank(s models.Status) int {
	switch s {
	case models.StatusScheduled:
		return 0
	case models.StatusPending:
		return 1
	case models.StatusSent:
		return 2
	case models.StatusDelivered:
		return 3
	case models.StatusRead:
		return 4
	case models.StatusFailed:
		return 5
	}
	return -1
}

// Advances reports whether a callback reporting next should overwrite cur.
func Advances(cur, next models.Status) bool {
	if cur == models.StatusFailed {
		return false
	}
	return Rank(next) > Rank(cur)
}

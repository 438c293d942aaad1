package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"securelink/internal/observability"
)

type connInfo struct {
	ConnID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	return uuid.NewString()
}

func publishLifecycle(ctx context.Context, event string, info connInfo, contactID string, duration time.Duration, reason string) {
	payload := map[string]interface{}{
		"channel": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": duration.Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"contact_id": contactID,
			"device_id":  info.DeviceID,
			"ip":         info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "channel_events", observability.EventEnvelope{
		EventType: "channel_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}

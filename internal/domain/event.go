package domain

import (
	"encoding/json"
	"time"
)

// Stream event types fanned out to subscribers.
const (
	EventLog    = "LOG"
	EventStatus = "STATUS"
	EventMetric = "METRIC"
)

// StreamEvent is one entry in a deployment's event stream. Seq is assigned
// by the broadcaster, monotonically increasing per deployment.
type StreamEvent struct {
	Seq          uint64          `json:"seq"`
	DeploymentID string          `json:"deployment_id"`
	Type         string          `json:"type"`
	Level        string          `json:"level,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
}

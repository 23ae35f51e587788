package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

const EventValidationCompleted = "validation.completed"

// Outbox row states. Only pending rows are picked up for delivery.
const (
	OutboxPending    = "pending"
	OutboxDispatched = "dispatched"
	OutboxDead       = "dead"
)

type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	Client        string          `json:"client"`
	ReportID      string          `json:"report_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// ValidationCompletedPayload is the payload of a validation.completed event.
type ValidationCompletedPayload struct {
	ReportID   string `json:"report_id"`
	Profile    string `json:"profile"`
	Document   string `json:"document"`
	Status     Status `json:"status"`
	ErrorCount int    `json:"error_count"`
	DurationMS int64  `json:"duration_ms"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Client        string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

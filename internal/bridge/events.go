package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the currently supported inbound event version.
	EventSchemaVersion = 1
)

// Event captures a single status notification posted by an external reporter:
// pip hooks, CI jobs, or the running app itself.
type Event struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	Sequence   int64           `json:"sequence"`
	Type       string          `json:"type"`
	ClientTime time.Time       `json:"client_time"`
	ServerTime time.Time       `json:"server_time"`
	Source     string          `json:"source"`
	StepID     string          `json:"step_id"`
	Runbook    string          `json:"runbook"`
	Payload    json.RawMessage `json:"payload"`
}

// Normalize applies defaults and canonical formatting before validation.
// Events posted without an ID get one assigned so deduplication still works.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	e.Type = strings.TrimSpace(e.Type)
	e.Source = strings.TrimSpace(e.Source)
	e.StepID = strings.TrimSpace(e.StepID)
	e.Runbook = strings.TrimSpace(e.Runbook)
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Validate enforces baseline schema requirements for incoming events.
func (e Event) Validate() error {
	if e.Version != EventSchemaVersion {
		return fmt.Errorf("version %d not supported", e.Version)
	}
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if e.Type == "" {
		return errors.New("type is required")
	}
	if e.Runbook == "" {
		return errors.New("runbook is required")
	}
	if e.StepID == "" && e.Source == "" {
		return errors.New("step_id or source is required")
	}
	return nil
}

// EventProcessor consumes validated events.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function into an EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent executes f(e).
func (f EventProcessorFunc) HandleEvent(e Event) error {
	if f == nil {
		return nil
	}
	return f(e)
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RouterReady   bool   `json:"router_ready"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type eventResponse struct {
	Status     string    `json:"status"`
	ServerTime time.Time `json:"server_time"`
}

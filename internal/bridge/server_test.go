package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/yourusername/pylift/internal/config"
)

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("PYLIFT_BRIDGE_PORT", "9001")
	t.Setenv("PYLIFT_BRIDGE_HOST", "0.0.0.0")
	t.Setenv("PYLIFT_BRIDGE_ENABLED", "false")
	cfg := &config.Config{}
	settings := SettingsFromConfig(cfg)
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if settings.Enabled {
		t.Fatalf("expected enabled=false from env override")
	}
}

func TestEventValidate(t *testing.T) {
	evt := Event{
		Version: EventSchemaVersion,
		EventID: "abc",
		Type:    "step_progress",
		StepID:  "deps-install",
		Runbook: "upgrade-env",
	}
	if err := evt.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
	evt.Version = 99
	if err := evt.Validate(); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestEventNormalizeAssignsID(t *testing.T) {
	evt := Event{Type: " step_progress ", StepID: "deps-install", Runbook: "upgrade-env"}
	evt.Normalize()
	if evt.EventID == "" {
		t.Fatalf("expected generated event id")
	}
	if evt.Type != "step_progress" {
		t.Fatalf("expected trimmed type, got %q", evt.Type)
	}
	if err := evt.Validate(); err != nil {
		t.Fatalf("normalized event should validate: %v", err)
	}
}

func TestServerAcceptsEvents(t *testing.T) {
	t.Parallel()
	fixed := time.Unix(1770000000, 0).UTC()
	recorded := make(chan Event, 1)
	settings := Settings{Enabled: true, Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1024, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
	srv := NewServer(settings,
		WithClock(func() time.Time { return fixed }),
		WithProcessor(EventProcessorFunc(func(e Event) error {
			recorded <- e
			return nil
		})))
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	base := srv.BaseURL()
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.StatusCode)
	}
	payload := Event{
		Version: EventSchemaVersion,
		EventID: "evt-1",
		Type:    "step_progress",
		StepID:  "deps-install",
		Runbook: "upgrade-env",
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	resp, err = http.Post(base+"/events", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	select {
	case evt := <-recorded:
		if !evt.ServerTime.Equal(fixed) {
			t.Fatalf("expected server time %s, got %s", fixed, evt.ServerTime)
		}
	default:
		t.Fatalf("event not forwarded to processor")
	}
}

func TestServerEnforcesPayloadLimit(t *testing.T) {
	t.Parallel()
	settings := Settings{Enabled: true, Host: "127.0.0.1", Port: 0, MaxBodyBytes: 64, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
	srv := NewServer(settings)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	base := srv.BaseURL()
	payload := map[string]any{
		"version":  EventSchemaVersion,
		"event_id": "evt",
		"type":     "log_line",
		"step_id":  "deps-install",
		"runbook":  "upgrade-env",
		"payload":  bytes.Repeat([]byte("a"), 512),
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	resp, err := http.Post(base+"/events", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestServerRejectsInvalidEvents(t *testing.T) {
	t.Parallel()
	settings := Settings{Enabled: true, Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1024, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
	srv := NewServer(settings)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	base := srv.BaseURL()
	resp, err := http.Post(base+"/events", "application/json", bytes.NewReader([]byte(`{"type":"log_line"}`)))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServerServesState(t *testing.T) {
	t.Parallel()
	settings := Settings{Enabled: true, Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1024, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
	srv := NewServer(settings, WithStateProvider(func(context.Context) (any, error) {
		return map[string]string{"runbook": "upgrade-env", "status": "running"}, nil
	}))
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	resp, err := http.Get(srv.BaseURL() + "/state")
	if err != nil {
		t.Fatalf("state request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 state, got %d", resp.StatusCode)
	}
	var view map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if view["runbook"] != "upgrade-env" {
		t.Fatalf("unexpected state payload: %v", view)
	}
}

func TestServerStateUnavailableWithoutProvider(t *testing.T) {
	t.Parallel()
	settings := Settings{Enabled: true, Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1024, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
	srv := NewServer(settings)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	resp, err := http.Get(srv.BaseURL() + "/state")
	if err != nil {
		t.Fatalf("state request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestServerDisabled(t *testing.T) {
	settings := Settings{Enabled: false}
	srv := NewServer(settings)
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected disabled error")
	}
}

package bridge

import (
	"testing"
)

func TestRouterBuffersAndFlushes(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(4))
	first := Event{EventID: "evt-1", StepID: "deps-install", Type: "log_line"}
	second := Event{EventID: "evt-2", StepID: "deps-install", Type: "step_progress"}
	router.Route(first)
	router.Route(second)
	sub := router.Subscribe("deps-install")
	defer sub.Close()
	got1 := <-sub.Events
	if got1.EventID != first.EventID {
		t.Fatalf("expected first buffered event, got %s", got1.EventID)
	}
	got2 := <-sub.Events
	if got2.EventID != second.EventID {
		t.Fatalf("expected second buffered event, got %s", got2.EventID)
	}
}

func TestRouterDedupeByEventID(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("deps-install")
	defer sub.Close()
	event := Event{EventID: "evt-1", StepID: "deps-install", Type: "log_line"}
	router.Route(event)
	router.Route(event)
	select {
	case got := <-sub.Events:
		if got.EventID != event.EventID {
			t.Fatalf("unexpected event: %s", got.EventID)
		}
	default:
		t.Fatalf("expected first delivery")
	}
	select {
	case <-sub.Events:
		t.Fatalf("duplicate event delivered")
	default:
	}
}

func TestRouterResolvesStepFromSource(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(4))
	sub := router.Subscribe("app-restart")
	defer sub.Close()
	tagged := Event{EventID: "evt-1", StepID: "app-restart", Source: "streamlit", Type: "step_progress"}
	router.Route(tagged)
	untagged := Event{EventID: "evt-2", Source: "streamlit", Type: "log_line"}
	router.Route(untagged)
	if got := <-sub.Events; got.EventID != tagged.EventID {
		t.Fatalf("expected tagged event first, got %s", got.EventID)
	}
	if got := <-sub.Events; got.EventID != untagged.EventID {
		t.Fatalf("expected source-routed event, got %s", got.EventID)
	}
}

func TestRouterDropsOldestPreferredEventOnOverflow(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("deps-install")
	defer sub.Close()
	oldest := Event{EventID: "evt-1", StepID: "deps-install", Type: "log_line"}
	critical := Event{EventID: "evt-2", StepID: "deps-install", Type: "step_failed"}
	router.Route(oldest)
	router.Route(critical)
	if got := <-sub.Events; got.EventID != critical.EventID {
		t.Fatalf("expected critical event to replace oldest, got %s", got.EventID)
	}
}

func TestRouterDropsIncomingWhenOldestCritical(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("deps-install")
	defer sub.Close()
	oldest := Event{EventID: "evt-1", StepID: "deps-install", Type: "step_failed"}
	droppable := Event{EventID: "evt-2", StepID: "deps-install", Type: "log_line"}
	router.Route(oldest)
	router.Route(droppable)
	if got := <-sub.Events; got.EventID != oldest.EventID {
		t.Fatalf("expected oldest critical event to remain, got %s", got.EventID)
	}
	select {
	case <-sub.Events:
		t.Fatalf("unexpected extra event")
	default:
	}
}

func TestRouterIgnoresUnroutableEvents(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("deps-install")
	defer sub.Close()
	router.Route(Event{EventID: "evt-1", Type: "log_line"})
	select {
	case got := <-sub.Events:
		t.Fatalf("unexpected delivery: %s", got.EventID)
	default:
	}
}

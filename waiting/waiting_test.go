package waiting

import (
	"testing"
	"time"

	"paneforge/clock"
	"paneforge/domain"
	"paneforge/events"
	"paneforge/store"
)

type fakeReviewer struct {
	sessionID, ticketID string
	trigger             domain.ReviewTrigger
	called              bool
}

func (f *fakeReviewer) RequestReview(sessionID, ticketID string, trigger domain.ReviewTrigger) {
	f.sessionID, f.ticketID, f.trigger, f.called = sessionID, ticketID, trigger, true
}

func newTestDetector(t *testing.T, review ReviewRequester) (*Detector, *store.Store, *events.Bus, *clock.Fake) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	bus := events.NewBus()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(st, bus, clk, Config{}, review), st, bus, clk
}

func TestHookPermissionPromptSetsWaiting(t *testing.T) {
	d, _, bus, _ := newTestDetector(t, nil)
	sub := bus.Subscribe(8)
	d.WatchSession("sess-1")

	d.HandleHookEvent(HookPayload{HookEventName: "Notification", NotificationType: "permission_prompt", SessionID: "sess-1"})

	if !d.IsWaiting("sess-1") {
		t.Fatal("expected session to be waiting")
	}
	select {
	case ev := <-sub.Events():
		payload := ev.Payload.(events.SessionWaitingPayload)
		if !payload.Waiting {
			t.Fatal("expected waiting=true event")
		}
	default:
		t.Fatal("expected a session.waiting event")
	}
}

func TestSeverityPreventsDowngrade(t *testing.T) {
	d, _, _, _ := newTestDetector(t, nil)
	d.WatchSession("sess-1")

	d.ingest(Signal{SessionID: "sess-1", Waiting: true, Reason: ReasonPermissionPrompt, Layer: LayerHook})
	d.ingest(Signal{SessionID: "sess-1", Waiting: true, Reason: ReasonIdlePrompt, Layer: LayerHook})

	d.mu.Lock()
	reason := d.states["sess-1"].Reason
	d.mu.Unlock()
	if reason != ReasonPermissionPrompt {
		t.Fatalf("reason = %s, want permission_prompt (higher severity should not be overwritten)", reason)
	}
}

func TestCompletionMarkerRequestsReview(t *testing.T) {
	reviewer := &fakeReviewer{}
	d, _, _, _ := newTestDetector(t, reviewer)
	d.WatchSession("sess-1")

	d.HandleOutputLines("sess-1", "ticket-1", []string{"doing work", "---TASK_COMPLETE---"})

	if !reviewer.called {
		t.Fatal("expected a review request on completion marker")
	}
	if reviewer.trigger != domain.TriggerCompletionSignal {
		t.Fatalf("trigger = %s, want completion_signal", reviewer.trigger)
	}
}

func TestClearAfterDelay(t *testing.T) {
	d, _, bus, clk := newTestDetector(t, nil)
	sub := bus.Subscribe(8)
	d.WatchSession("sess-1")

	d.HandleHookEvent(HookPayload{HookEventName: "Stop", SessionID: "sess-1"})
	<-sub.Events() // drain waiting=true

	d.HandleOutputLines("sess-1", "", []string{"regular output, no pattern match"})
	clk.Advance(3 * time.Second)

	select {
	case ev := <-sub.Events():
		payload := ev.Payload.(events.SessionWaitingPayload)
		if payload.Waiting {
			t.Fatal("expected waiting=false event after clear delay")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for clear event")
	}
	if d.IsWaiting("sess-1") {
		t.Fatal("expected session to no longer be waiting")
	}
}

package handoff

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"paneforge/clock"
	"paneforge/domain"
	"paneforge/events"
	"paneforge/panedriver"
	"paneforge/store"
	"paneforge/supervisor"
)

func newTestHandoff(t *testing.T) (*Handoff, *store.Store, *domain.Project, *events.Bus, *clock.Fake, *panedriver.Fake) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db)

	repoDir := t.TempDir()
	p := &domain.Project{Name: "demo", RepoPath: repoDir, PaneGroup: "demo", HandoffPath: "HANDOFF.md"}
	if err := st.CreateProject(p); err != nil {
		t.Fatalf("creating project: %v", err)
	}

	pane := panedriver.NewFake()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	sup := supervisor.New(context.Background(), st, pane, clk, bus, supervisor.Config{})

	h := New(st, bus, sup, clk, Config{
		PollInterval: 100 * time.Millisecond,
		Timeout:      1 * time.Second,
		ExportDelay:  100 * time.Millisecond,
		ImportDelay:  100 * time.Millisecond,
	})
	return h, st, p, bus, clk, pane
}

func TestHandoffCompletesWhenFileAppears(t *testing.T) {
	h, st, p, bus, clk, _ := newTestHandoff(t)
	sub := bus.Subscribe(16)

	sess, err := h.sessions.StartSession(context.Background(), supervisor.StartParams{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := h.Start(context.Background(), sess.ID, 15); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForState(t, bus, sub, events.KindHandoffStarted)

	handoffPath := filepath.Join(p.RepoPath, p.HandoffFilePath())
	if err := os.WriteFile(handoffPath, []byte("# handoff"), 0o644); err != nil {
		t.Fatalf("writing handoff file: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		clk.Advance(200 * time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		select {
		case ev := <-sub.Events():
			if ev.Kind == events.KindHandoffCompleted {
				return
			}
		default:
		}
	}

	stored, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	t.Fatalf("handoff did not complete within deadline; from-session status = %s", stored.Status)
}

func TestSecondTriggerRejectedWhileInFlight(t *testing.T) {
	h, _, p, _, _, _ := newTestHandoff(t)
	sess, err := h.sessions.StartSession(context.Background(), supervisor.StartParams{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := h.Start(context.Background(), sess.ID, 15); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := h.Start(context.Background(), sess.ID, 15); err != ErrInProgress {
		t.Fatalf("second Start err = %v, want ErrInProgress", err)
	}
}

func waitForState(t *testing.T, bus *events.Bus, sub *events.Subscriber, want events.Kind) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %s", want)
		}
	}
}

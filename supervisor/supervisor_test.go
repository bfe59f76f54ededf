package supervisor

import (
	"context"
	"testing"
	"time"

	"paneforge/clock"
	"paneforge/domain"
	"paneforge/events"
	"paneforge/panedriver"
	"paneforge/store"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *store.Store, *panedriver.Fake, *clock.Fake, *events.Bus) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	pane := panedriver.NewFake()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	sup := New(context.Background(), st, pane, clk, bus, Config{})
	return sup, st, pane, clk, bus
}

func mustCreateProject(t *testing.T, st *store.Store) *domain.Project {
	t.Helper()
	p := &domain.Project{Name: "demo", RepoPath: "/repo/demo", PaneGroup: "demo", PaneWindow: "0"}
	if err := st.CreateProject(p); err != nil {
		t.Fatalf("creating project: %v", err)
	}
	return p
}

func TestStartSessionSpawnsPaneAndTransitionsRunning(t *testing.T) {
	sup, st, pane, _, _ := newTestSupervisor(t)
	project := mustCreateProject(t, st)

	sess, err := sup.StartSession(context.Background(), StartParams{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Status != domain.SessionRunning {
		t.Fatalf("status = %s, want running", sess.Status)
	}
	panes, err := pane.ListPanes(context.Background(), project.PaneGroup)
	if err != nil {
		t.Fatalf("ListPanes: %v", err)
	}
	if len(panes) != 1 {
		t.Fatalf("expected one spawned pane, got %d", len(panes))
	}

	stored, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.Status != domain.SessionRunning {
		t.Fatalf("persisted status = %s, want running", stored.Status)
	}
}

func TestStartSessionRejectsSecondConcurrentSession(t *testing.T) {
	sup, st, _, _, _ := newTestSupervisor(t)
	project := mustCreateProject(t, st)

	if _, err := sup.StartSession(context.Background(), StartParams{ProjectID: project.ID}); err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	if _, err := sup.StartSession(context.Background(), StartParams{ProjectID: project.ID}); err != ErrAlreadyRunning {
		t.Fatalf("second StartSession err = %v, want ErrAlreadyRunning", err)
	}
}

func TestStopSessionIsIdempotent(t *testing.T) {
	sup, st, _, _, _ := newTestSupervisor(t)
	project := mustCreateProject(t, st)
	sess, err := sup.StartSession(context.Background(), StartParams{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := sup.StopSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("first StopSession: %v", err)
	}
	if err := sup.StopSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("second StopSession (idempotent) returned %v", err)
	}

	stored, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.Status != domain.SessionCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
}

func TestPollAppendsOutputAndEmitsEvent(t *testing.T) {
	sup, st, pane, clk, bus := newTestSupervisor(t)
	project := mustCreateProject(t, st)
	sess, err := sup.StartSession(context.Background(), StartParams{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	sub := bus.Subscribe(8)
	pane.AppendOutput(sess.PaneID, "hello from pane")
	clk.Advance(500 * time.Millisecond)

	select {
	case ev := <-sub.Events():
		if ev.Kind != events.KindSessionOutput {
			t.Fatalf("got event kind %s, want session.output", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session.output event")
	}

	out, err := sup.GetOutput(sess.ID, 0)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected buffered output lines")
	}
}

func TestSyncSessionsMarksOrphanedCompleted(t *testing.T) {
	sup, st, pane, _, _ := newTestSupervisor(t)
	project := mustCreateProject(t, st)
	sess, err := sup.StartSession(context.Background(), StartParams{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	pane.KillPane(context.Background(), sess.PaneID)

	result, err := sup.SyncSessions(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("SyncSessions: %v", err)
	}
	if len(result.Orphaned) != 1 || result.Orphaned[0] != sess.ID {
		t.Fatalf("orphaned = %v, want [%s]", result.Orphaned, sess.ID)
	}

	stored, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.Status != domain.SessionCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
}

package ticketfsm

import (
	"context"
	"errors"
	"testing"

	"paneforge/domain"
	"paneforge/events"
	"paneforge/store"
)

type fakeSupervisor struct {
	sent map[string]string
}

func (f *fakeSupervisor) SendInput(ctx context.Context, sessionID, text string) error {
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	f.sent[sessionID] = text
	return nil
}

func newTestMachine(t *testing.T) (*Machine, *store.Store, *fakeSupervisor) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	sup := &fakeSupervisor{}
	return New(st, events.NewBus(), sup), st, sup
}

func mustProjectAndTicket(t *testing.T, st *store.Store) (*domain.Project, *domain.Ticket) {
	t.Helper()
	p := &domain.Project{Name: "demo", RepoPath: "/repo/demo", PaneGroup: "demo"}
	if err := st.CreateProject(p); err != nil {
		t.Fatalf("creating project: %v", err)
	}
	tk := &domain.Ticket{ProjectID: p.ID, Title: "do the thing", FilePath: "tickets/001.md"}
	if err := st.CreateTicket(tk); err != nil {
		t.Fatalf("creating ticket: %v", err)
	}
	return p, tk
}

func TestStartTicketTransitionsToInProgress(t *testing.T) {
	m, st, _ := newTestMachine(t)
	_, tk := mustProjectAndTicket(t, st)

	updated, err := m.StartTicket(context.Background(), tk.ID, "user-1")
	if err != nil {
		t.Fatalf("StartTicket: %v", err)
	}
	if updated.State != domain.StateInProgress {
		t.Fatalf("state = %s, want in_progress", updated.State)
	}
	if updated.StartedAt == nil {
		t.Fatal("expected startedAt to be set")
	}
}

func TestRejectRequiresFeedback(t *testing.T) {
	m, st, _ := newTestMachine(t)
	_, tk := mustProjectAndTicket(t, st)

	if _, err := m.StartTicket(context.Background(), tk.ID, "user-1"); err != nil {
		t.Fatalf("StartTicket: %v", err)
	}
	if _, err := m.Transition(context.Background(), TransitionParams{TicketID: tk.ID, TargetState: domain.StateReview}); err != nil {
		t.Fatalf("transitioning to review: %v", err)
	}

	if _, err := m.Reject(context.Background(), tk.ID, "", "user-1"); !errors.Is(err, domain.ErrMissingFeedback) {
		t.Fatalf("err = %v, want ErrMissingFeedback", err)
	}
}

func TestRejectInjectsFeedbackIntoRunningSession(t *testing.T) {
	m, st, sup := newTestMachine(t)
	_, tk := mustProjectAndTicket(t, st)

	if _, err := m.StartTicket(context.Background(), tk.ID, "user-1"); err != nil {
		t.Fatalf("StartTicket: %v", err)
	}
	if _, err := m.Transition(context.Background(), TransitionParams{TicketID: tk.ID, TargetState: domain.StateReview}); err != nil {
		t.Fatalf("transitioning to review: %v", err)
	}

	sess := &domain.Session{ProjectID: tk.ProjectID, TicketID: tk.ID, Type: domain.SessionTypeTicket, Status: domain.SessionRunning}
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("creating session: %v", err)
	}

	if _, err := m.Reject(context.Background(), tk.ID, "needs more tests", "reviewer-1"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	got, ok := sup.sent[sess.ID]
	if !ok {
		t.Fatal("expected feedback to be injected into the running session")
	}
	if got == "" {
		t.Fatal("expected non-empty injected feedback")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m, st, _ := newTestMachine(t)
	_, tk := mustProjectAndTicket(t, st)

	if _, err := m.Approve(context.Background(), tk.ID, "user-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

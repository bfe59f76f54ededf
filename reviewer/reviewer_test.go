package reviewer

import (
	"context"
	"testing"

	"paneforge/domain"
	"paneforge/events"
	"paneforge/reviewerdriver"
	"paneforge/store"
	"paneforge/ticketfsm"
)

type fakeOutput struct {
	lines []string
}

func (f *fakeOutput) GetOutput(sessionID string, tailN int) ([]string, error) {
	return f.lines, nil
}

type fakeInputSender struct{}

func (fakeInputSender) SendInput(ctx context.Context, sessionID, text string) error { return nil }

func newTestReviewer(t *testing.T, response string) (*Reviewer, *store.Store, *domain.Project, *domain.Ticket) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db)

	p := &domain.Project{Name: "demo", RepoPath: t.TempDir(), PaneGroup: "demo"}
	if err := st.CreateProject(p); err != nil {
		t.Fatalf("creating project: %v", err)
	}
	tk := &domain.Ticket{ProjectID: p.ID, Title: "demo ticket", FilePath: "tickets/001.md"}
	if err := st.CreateTicket(tk); err != nil {
		t.Fatalf("creating ticket: %v", err)
	}
	if _, err := ticketfsm.New(st, events.NewBus(), fakeInputSender{}).StartTicket(context.Background(), tk.ID, "user-1"); err != nil {
		t.Fatalf("starting ticket: %v", err)
	}

	driver := &reviewerdriver.Fake{Response: response}
	tickets := ticketfsm.New(st, events.NewBus(), fakeInputSender{})
	rv := New(st, events.NewBus(), driver, &fakeOutput{lines: []string{"line one", "line two"}}, tickets, Config{})
	return rv, st, p, tk
}

func TestParseVerdictComplete(t *testing.T) {
	decision, reasoning, err := ParseVerdict("COMPLETE\nAll tests pass and the feature works.")
	if err != nil {
		t.Fatalf("ParseVerdict: %v", err)
	}
	if decision != domain.DecisionComplete {
		t.Fatalf("decision = %s, want complete", decision)
	}
	if reasoning != "All tests pass and the feature works." {
		t.Fatalf("reasoning = %q", reasoning)
	}
}

func TestParseVerdictNotComplete(t *testing.T) {
	decision, _, err := ParseVerdict("NOT_COMPLETE\nMissing error handling.")
	if err != nil {
		t.Fatalf("ParseVerdict: %v", err)
	}
	if decision != domain.DecisionNotComplete {
		t.Fatalf("decision = %s, want not_complete", decision)
	}
}

func TestParseVerdictAmbiguousFallsBackToThreeLines(t *testing.T) {
	decision, _, err := ParseVerdict("Verdict:\nNEEDS\nCLARIFICATION on the API shape.")
	if err != nil {
		t.Fatalf("ParseVerdict: %v", err)
	}
	if decision != domain.DecisionNeedsClarification {
		t.Fatalf("decision = %s, want needs_clarification", decision)
	}
}

func TestParseVerdictUnparseable(t *testing.T) {
	_, _, err := ParseVerdict("I am not sure what to make of this.")
	if err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestReviewCompleteTransitionsTicketAndNotifies(t *testing.T) {
	rv, st, _, tk := newTestReviewer(t, "COMPLETE\nLooks good.")

	sess := &domain.Session{ProjectID: tk.ProjectID, TicketID: tk.ID, Type: domain.SessionTypeTicket, Status: domain.SessionRunning}
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("creating session: %v", err)
	}

	result, err := rv.Review(context.Background(), sess.ID, tk.ID, domain.TriggerIdleTimeout)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if result.Decision != domain.DecisionComplete {
		t.Fatalf("decision = %s, want complete", result.Decision)
	}

	updated, err := st.GetTicket(tk.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if updated.State != domain.StateReview {
		t.Fatalf("ticket state = %s, want review", updated.State)
	}

	notifications, err := st.ListNotifications()
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	found := false
	for _, n := range notifications {
		if n.Type == domain.NotifyReviewReady && n.TicketID == tk.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a review_ready notification")
	}
}

func TestReviewNotCompleteDoesNotTransition(t *testing.T) {
	rv, st, _, tk := newTestReviewer(t, "NOT_COMPLETE\nStill missing tests.")

	sess := &domain.Session{ProjectID: tk.ProjectID, TicketID: tk.ID, Type: domain.SessionTypeTicket, Status: domain.SessionRunning}
	if err := st.CreateSession(sess); err != nil {
		t.Fatalf("creating session: %v", err)
	}

	if _, err := rv.Review(context.Background(), sess.ID, tk.ID, domain.TriggerIdleTimeout); err != nil {
		t.Fatalf("Review: %v", err)
	}

	updated, err := st.GetTicket(tk.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if updated.State != domain.StateInProgress {
		t.Fatalf("ticket state = %s, want in_progress (unchanged)", updated.State)
	}
}

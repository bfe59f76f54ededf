package store

import (
	"path/filepath"
	"testing"

	"paneforge/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestCreateAndGetProject(t *testing.T) {
	s := newTestStore(t)
	p := &domain.Project{Name: "demo", RepoPath: "/r", PaneGroup: "g"}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("creating project: %v", err)
	}
	got, err := s.GetProject(p.ID)
	if err != nil {
		t.Fatalf("getting project: %v", err)
	}
	if got.RepoPath != "/r" {
		t.Errorf("got repo path %q", got.RepoPath)
	}
}

func TestCreateProjectDuplicateRepoPath(t *testing.T) {
	s := newTestStore(t)
	p1 := &domain.Project{Name: "a", RepoPath: "/same", PaneGroup: "g"}
	p2 := &domain.Project{Name: "b", RepoPath: "/same", PaneGroup: "g"}
	if err := s.CreateProject(p1); err != nil {
		t.Fatalf("creating first project: %v", err)
	}
	if err := s.CreateProject(p2); err == nil {
		t.Fatal("expected duplicate repo_path error")
	}
}

func TestTicketLifecycleTransaction(t *testing.T) {
	s := newTestStore(t)
	p := &domain.Project{Name: "demo", RepoPath: "/r", PaneGroup: "g"}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("creating project: %v", err)
	}
	tk := &domain.Ticket{ProjectID: p.ID, Title: "Add X", FilePath: "add-x.md"}
	if err := s.CreateTicket(tk); err != nil {
		t.Fatalf("creating ticket: %v", err)
	}
	if tk.State != domain.StateBacklog {
		t.Fatalf("expected backlog, got %s", tk.State)
	}

	entry, err := s.TransitionTicket(tk.ID, domain.StateInProgress, domain.TriggerAuto, domain.ReasonSessionStarted, "", "")
	if err != nil {
		t.Fatalf("transitioning: %v", err)
	}
	if entry.FromState != domain.StateBacklog || entry.ToState != domain.StateInProgress {
		t.Errorf("unexpected entry %+v", entry)
	}

	got, err := s.GetTicket(tk.ID)
	if err != nil {
		t.Fatalf("getting ticket: %v", err)
	}
	if got.State != domain.StateInProgress {
		t.Errorf("expected in_progress, got %s", got.State)
	}
	if got.StartedAt == nil {
		t.Error("expected startedAt to be set")
	}

	history, err := s.GetTicketHistory(tk.ID)
	if err != nil {
		t.Fatalf("getting history: %v", err)
	}
	if len(history) != 2 { // creation + this transition
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
}

func TestTransitionTicketInvalid(t *testing.T) {
	s := newTestStore(t)
	p := &domain.Project{Name: "demo", RepoPath: "/r2", PaneGroup: "g"}
	s.CreateProject(p)
	tk := &domain.Ticket{ProjectID: p.ID, Title: "T", FilePath: "t.md"}
	s.CreateTicket(tk)

	_, err := s.TransitionTicket(tk.ID, domain.StateDone, domain.TriggerManual, domain.ReasonUserApproved, "", "")
	if err == nil {
		t.Fatal("expected invalid transition error")
	}

	got, _ := s.GetTicket(tk.ID)
	if got.State != domain.StateBacklog {
		t.Errorf("state should be unchanged, got %s", got.State)
	}
	history, _ := s.GetTicketHistory(tk.ID)
	if len(history) != 1 {
		t.Errorf("expected only the creation history entry, got %d", len(history))
	}
}

func TestTransitionTicketRejectRequiresFeedback(t *testing.T) {
	s := newTestStore(t)
	p := &domain.Project{Name: "demo", RepoPath: "/r3", PaneGroup: "g"}
	s.CreateProject(p)
	tk := &domain.Ticket{ProjectID: p.ID, Title: "T", FilePath: "t2.md", State: domain.StateReview}
	s.CreateTicket(tk)

	_, err := s.TransitionTicket(tk.ID, domain.StateInProgress, domain.TriggerManual, domain.ReasonUserRejected, "", "")
	if err != domain.ErrMissingFeedback {
		t.Fatalf("expected ErrMissingFeedback, got %v", err)
	}
}

func TestUpsertNotificationReplaces(t *testing.T) {
	s := newTestStore(t)
	n1 := &domain.Notification{Type: domain.NotifyWaitingInput, Message: "first", SessionID: "s1"}
	if err := s.UpsertNotification(n1); err != nil {
		t.Fatalf("upserting: %v", err)
	}
	n2 := &domain.Notification{Type: domain.NotifyWaitingInput, Message: "second", SessionID: "s1"}
	if err := s.UpsertNotification(n2); err != nil {
		t.Fatalf("upserting again: %v", err)
	}
	list, err := s.ListNotifications()
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 notification (upsert not append), got %d", len(list))
	}
	if list[0].Message != "second" {
		t.Errorf("expected replacement message, got %q", list[0].Message)
	}
}

func TestGetActiveSessionForProjectReturnsRunningSession(t *testing.T) {
	s := newTestStore(t)
	p := &domain.Project{Name: "demo", RepoPath: "/r4", PaneGroup: "g"}
	s.CreateProject(p)

	sess1 := &domain.Session{ProjectID: p.ID, Type: domain.SessionTypeAdhoc, Status: domain.SessionRunning, PaneID: "pane-1"}
	if err := s.CreateSession(sess1); err != nil {
		t.Fatalf("creating session: %v", err)
	}
	active, err := s.GetActiveSessionForProject(p.ID)
	if err != nil {
		t.Fatalf("getting active session: %v", err)
	}
	if active.ID != sess1.ID {
		t.Errorf("expected active session %s, got %s", sess1.ID, active.ID)
	}
}

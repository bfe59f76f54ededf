package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paneforge/domain"
)

// Store is the engine's sole persistence gateway; it owns all durable
// entities (spec §3 ownership rules).
type Store struct {
	db *DB
}

// New wraps an already-opened DB.
func New(db *DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection, e.g. for the health endpoint.
func (s *Store) DB() *DB { return s.db }

func newID() string { return uuid.NewString() }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

// --- Projects ---

// CreateProject inserts a new project. Returns domain errors wrapped with
// ErrDuplicate on repo_path collision.
func (s *Store) CreateProject(p *domain.Project) error {
	if p.ID == "" {
		p.ID = newID()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.db.sql.Exec(`INSERT INTO projects
		(id, name, repo_path, pane_group, pane_window, tickets_path, handoff_path, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.RepoPath, p.PaneGroup, p.PaneWindow, p.TicketsPath, p.HandoffPath, p.Description, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("%w: repo_path %s", ErrDuplicate, p.RepoPath)
		}
		return fmt.Errorf("creating project: %w", err)
	}
	return nil
}

func scanProject(row interface{ Scan(...any) error }) (*domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.RepoPath, &p.PaneGroup, &p.PaneWindow,
		&p.TicketsPath, &p.HandoffPath, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const projectColumns = `id, name, repo_path, pane_group, pane_window, tickets_path, handoff_path, description, created_at, updated_at`

// GetProject fetches a project by ID.
func (s *Store) GetProject(id string) (*domain.Project, error) {
	row := s.db.sql.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// GetProjectByRepoPath fetches a project by its unique repo_path.
func (s *Store) GetProjectByRepoPath(repoPath string) (*domain.Project, error) {
	row := s.db.sql.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE repo_path = ?`, repoPath)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting project by repo_path: %w", err)
	}
	return p, nil
}

// ListProjects returns a page of projects ordered by name, plus the total
// count for pagination.
func (s *Store) ListProjects(page, limit int) ([]domain.Project, int, error) {
	page, limit = normalizePage(page, limit)
	var total int
	if err := s.db.sql.QueryRow(`SELECT COUNT(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting projects: %w", err)
	}
	rows, err := s.db.sql.Query(`SELECT `+projectColumns+` FROM projects ORDER BY name LIMIT ? OFFSET ?`, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning project: %w", err)
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

// UpdateProject applies a full overwrite of the mutable fields.
func (s *Store) UpdateProject(p *domain.Project) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.db.sql.Exec(`UPDATE projects SET name=?, pane_group=?, pane_window=?, tickets_path=?, handoff_path=?, description=?, updated_at=? WHERE id=?`,
		p.Name, p.PaneGroup, p.PaneWindow, p.TicketsPath, p.HandoffPath, p.Description, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	return checkRowsAffected(res)
}

// DeleteProject removes a project row. Callers must stop active sessions
// first (httpapi enforces this).
func (s *Store) DeleteProject(id string) error {
	res, err := s.db.sql.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return checkRowsAffected(res)
}

// --- Tickets ---

const ticketColumns = `id, project_id, external_id, title, state, file_path, prefix, is_adhoc, is_explore, rejection_feedback, created_by, started_at, completed_at, created_at, updated_at`

func scanTicket(row interface{ Scan(...any) error }) (*domain.Ticket, error) {
	var t domain.Ticket
	var isAdhoc, isExplore int
	var started, completed sql.NullTime
	err := row.Scan(&t.ID, &t.ProjectID, &t.ExternalID, &t.Title, &t.State, &t.FilePath,
		&t.Prefix, &isAdhoc, &isExplore, &t.RejectionFeedback, &t.CreatedBy,
		&started, &completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.IsAdhoc = isAdhoc != 0
	t.IsExplore = isExplore != 0
	t.StartedAt = scanNullTime(started)
	t.CompletedAt = scanNullTime(completed)
	return &t, nil
}

// CreateTicket inserts a ticket and its initial history entry (empty
// fromState, toState the ticket's initial state) in one transaction.
func (s *Store) CreateTicket(t *domain.Ticket) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.State == "" {
		t.State = domain.StateBacklog
	}
	if t.CreatedBy == "" {
		t.CreatedBy = domain.CreatedByUser
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	tx, err := s.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("beginning create-ticket tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO tickets
		(id, project_id, external_id, title, state, file_path, prefix, is_adhoc, is_explore, rejection_feedback, created_by, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.ExternalID, t.Title, t.State, t.FilePath, t.Prefix,
		boolToInt(t.IsAdhoc), boolToInt(t.IsExplore), t.RejectionFeedback, t.CreatedBy,
		nullTime(t.StartedAt), nullTime(t.CompletedAt), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("%w: file_path %s", ErrDuplicate, t.FilePath)
		}
		return fmt.Errorf("creating ticket: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO ticket_history (id, ticket_id, from_state, to_state, trigger_kind, reason, feedback, triggered_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newID(), t.ID, "", t.State, domain.TriggerAuto, domain.ReasonSessionStarted, "", "system", now); err != nil {
		return fmt.Errorf("recording ticket creation history: %w", err)
	}

	return tx.Commit()
}

// GetTicket fetches a ticket by ID.
func (s *Store) GetTicket(id string) (*domain.Ticket, error) {
	row := s.db.sql.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, fmt.Errorf("getting ticket: %w", err)
	}
	return t, nil
}

// TicketFilter narrows ListTickets.
type TicketFilter struct {
	ProjectID string
	State     domain.TicketState // empty = any
	Prefixes  []string           // empty = any
}

// ListTickets returns a page of tickets for a project, optionally filtered
// by state and/or prefix, ordered by created_at.
func (s *Store) ListTickets(f TicketFilter, page, limit int) ([]domain.Ticket, int, error) {
	page, limit = normalizePage(page, limit)
	where := `project_id = ?`
	args := []any{f.ProjectID}
	if f.State != "" {
		where += ` AND state = ?`
		args = append(args, f.State)
	}
	if len(f.Prefixes) > 0 {
		placeholders := ""
		for i, p := range f.Prefixes {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, p)
		}
		where += ` AND prefix IN (` + placeholders + `)`
	}

	var total int
	if err := s.db.sql.QueryRow(`SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting tickets: %w", err)
	}

	queryArgs := append(append([]any{}, args...), limit, (page-1)*limit)
	rows, err := s.db.sql.Query(`SELECT `+ticketColumns+` FROM tickets WHERE `+where+` ORDER BY created_at LIMIT ? OFFSET ?`, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()
	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning ticket: %w", err)
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

// UpdateTicketTitle sets a ticket's title and file_path to the given
// values. It does not touch the file on disk; httpapi's title handler
// passes the ticket's existing file_path, so the backing file keeps its name.
func (s *Store) UpdateTicketTitle(id, title, filePath string) error {
	res, err := s.db.sql.Exec(`UPDATE tickets SET title=?, file_path=?, updated_at=? WHERE id=?`,
		title, filePath, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating ticket title: %w", err)
	}
	return checkRowsAffected(res)
}

// DeleteTicket removes a ticket row.
func (s *Store) DeleteTicket(id string) error {
	res, err := s.db.sql.Exec(`DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting ticket: %w", err)
	}
	return checkRowsAffected(res)
}

// TransitionTicket atomically applies a validated state transition: it
// re-reads the current state, checks the edge, writes the new state
// (setting startedAt/completedAt as appropriate), appends a history entry,
// and returns the entry — all within a single transaction, per spec §4.3.
func (s *Store) TransitionTicket(ticketID string, to domain.TicketState, trigger domain.Trigger, reason domain.Reason, feedback, triggeredBy string) (*domain.StateHistoryEntry, error) {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transition tx: %w", err)
	}
	defer tx.Rollback()

	var current domain.TicketState
	var startedAt, completedAt sql.NullTime
	row := tx.QueryRow(`SELECT state, started_at, completed_at FROM tickets WHERE id = ?`, ticketID)
	if err := row.Scan(&current, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, fmt.Errorf("reading ticket state: %w", err)
	}

	if !domain.IsValidTransition(current, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current, to)
	}
	if reason == domain.ReasonUserRejected && feedback == "" {
		return nil, domain.ErrMissingFeedback
	}

	now := time.Now().UTC()
	if to == domain.StateInProgress && !startedAt.Valid {
		startedAt = sql.NullTime{Time: now, Valid: true}
	}
	if to == domain.StateDone {
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	if _, err := tx.Exec(`UPDATE tickets SET state=?, rejection_feedback=?, started_at=?, completed_at=?, updated_at=? WHERE id=?`,
		to, feedback, startedAt, completedAt, now, ticketID); err != nil {
		return nil, fmt.Errorf("writing ticket state: %w", err)
	}

	entry := &domain.StateHistoryEntry{
		ID: newID(), TicketID: ticketID, FromState: current, ToState: to,
		Trigger: trigger, Reason: reason, Feedback: feedback, TriggeredBy: triggeredBy, CreatedAt: now,
	}
	if _, err := tx.Exec(`INSERT INTO ticket_history (id, ticket_id, from_state, to_state, trigger_kind, reason, feedback, triggered_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TicketID, entry.FromState, entry.ToState, entry.Trigger, entry.Reason, entry.Feedback, entry.TriggeredBy, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("recording transition history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transition: %w", err)
	}
	return entry, nil
}

// GetTicketHistory returns a ticket's history entries in chronological order.
func (s *Store) GetTicketHistory(ticketID string) ([]domain.StateHistoryEntry, error) {
	rows, err := s.db.sql.Query(`SELECT id, ticket_id, from_state, to_state, trigger_kind, reason, feedback, triggered_by, created_at
		FROM ticket_history WHERE ticket_id = ? ORDER BY created_at`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("listing ticket history: %w", err)
	}
	defer rows.Close()
	var out []domain.StateHistoryEntry
	for rows.Next() {
		var e domain.StateHistoryEntry
		if err := rows.Scan(&e.ID, &e.TicketID, &e.FromState, &e.ToState, &e.Trigger, &e.Reason, &e.Feedback, &e.TriggeredBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Sessions ---

const sessionColumns = `id, project_id, ticket_id, type, status, pane_id, pid, assistant_session_id, transcript_path, context_percent, started_at, ended_at, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var sess domain.Session
	var ticketID sql.NullString
	var started, ended sql.NullTime
	err := row.Scan(&sess.ID, &sess.ProjectID, &ticketID, &sess.Type, &sess.Status, &sess.PaneID,
		&sess.PID, &sess.AssistantSessionID, &sess.TranscriptPath, &sess.ContextPercent,
		&started, &ended, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.TicketID = ticketID.String
	sess.StartedAt = scanNullTime(started)
	sess.EndedAt = scanNullTime(ended)
	return &sess, nil
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(sess *domain.Session) error {
	if sess.ID == "" {
		sess.ID = newID()
	}
	now := time.Now().UTC()
	sess.CreatedAt, sess.UpdatedAt = now, now
	_, err := s.db.sql.Exec(`INSERT INTO sessions
		(id, project_id, ticket_id, type, status, pane_id, pid, assistant_session_id, transcript_path, context_percent, started_at, ended_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, nullString(sess.TicketID), sess.Type, sess.Status, sess.PaneID, sess.PID,
		sess.AssistantSessionID, sess.TranscriptPath, sess.ContextPercent,
		nullTime(sess.StartedAt), nullTime(sess.EndedAt), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("%w: pane_id %s", ErrDuplicate, sess.PaneID)
		}
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(id string) (*domain.Session, error) {
	row := s.db.sql.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// GetActiveSessionForProject returns the at-most-one session with status
// running or paused for a project, or ErrNotFound.
func (s *Store) GetActiveSessionForProject(projectID string) (*domain.Session, error) {
	row := s.db.sql.QueryRow(`SELECT `+sessionColumns+` FROM sessions
		WHERE project_id = ? AND status IN ('running','paused') LIMIT 1`, projectID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting active session: %w", err)
	}
	return sess, nil
}

// ListSessionsForProject returns a page of all sessions (any status) for a project.
func (s *Store) ListSessionsForProject(projectID string, page, limit int) ([]domain.Session, int, error) {
	page, limit = normalizePage(page, limit)
	var total int
	if err := s.db.sql.QueryRow(`SELECT COUNT(*) FROM sessions WHERE project_id = ?`, projectID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting sessions: %w", err)
	}
	rows, err := s.db.sql.Query(`SELECT `+sessionColumns+` FROM sessions WHERE project_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		projectID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()
	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, total, rows.Err()
}

// ListRecoverableSessions returns every session with status running or
// paused, across all projects — used at startup recovery.
func (s *Store) ListRecoverableSessions() ([]domain.Session, error) {
	rows, err := s.db.sql.Query(`SELECT ` + sessionColumns + ` FROM sessions WHERE status IN ('running','paused')`)
	if err != nil {
		return nil, fmt.Errorf("listing recoverable sessions: %w", err)
	}
	defer rows.Close()
	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// UpdateSessionStatus writes a new status (and startedAt/endedAt as
// relevant). Neither this method nor its callers check the transition
// with domain.ValidateSessionTransition.
func (s *Store) UpdateSessionStatus(id string, status domain.SessionStatus, startedAt, endedAt *time.Time) error {
	res, err := s.db.sql.Exec(`UPDATE sessions SET status=?, started_at=COALESCE(?, started_at), ended_at=COALESCE(?, ended_at), updated_at=? WHERE id=?`,
		status, nullTime(startedAt), nullTime(endedAt), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateSessionContextPercent records the latest self-reported context
// percentage.
func (s *Store) UpdateSessionContextPercent(id string, percent int) error {
	res, err := s.db.sql.Exec(`UPDATE sessions SET context_percent=?, updated_at=? WHERE id=?`, percent, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating session context percent: %w", err)
	}
	return checkRowsAffected(res)
}

// LinkAssistantSession sets the external correlation id and/or transcript
// path on a session, used by HookIngress.
func (s *Store) LinkAssistantSession(id, assistantSessionID, transcriptPath string) error {
	res, err := s.db.sql.Exec(`UPDATE sessions SET assistant_session_id=?, transcript_path=COALESCE(NULLIF(?, ''), transcript_path), updated_at=? WHERE id=?`,
		assistantSessionID, transcriptPath, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("linking assistant session: %w", err)
	}
	return checkRowsAffected(res)
}

// FindSessionByAssistantID looks up a session by its external correlation
// id. WaitingDetector uses it to map hook payloads to internal sessions
// and to make a replayed SessionStart a no-op.
func (s *Store) FindSessionByAssistantID(assistantSessionID string) (*domain.Session, error) {
	row := s.db.sql.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE assistant_session_id = ? LIMIT 1`, assistantSessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("finding session by assistant id: %w", err)
	}
	return sess, nil
}

// ListProjectsByRepoPathPrefix returns every project whose repoPath is a
// prefix of cwd (used for longest-prefix correlation in
// waiting.Detector.correlateSessionStart).
func (s *Store) ListProjectsByRepoPathPrefix(cwd string) ([]domain.Project, error) {
	rows, err := s.db.sql.Query(`SELECT `+projectColumns+` FROM projects WHERE ? LIKE repo_path || '%'`, cwd)
	if err != nil {
		return nil, fmt.Errorf("listing projects by cwd prefix: %w", err)
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// --- Review results ---

// CreateReviewResult inserts a review verdict.
func (s *Store) CreateReviewResult(r *domain.ReviewResult) error {
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.sql.Exec(`INSERT INTO review_results (id, session_id, ticket_id, decision, reasoning, trigger_kind, session_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.TicketID, r.Decision, r.Reasoning, r.Trigger, r.SessionStatus, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating review result: %w", err)
	}
	return nil
}

// LatestReviewResult returns the most recent verdict for a ticket.
func (s *Store) LatestReviewResult(ticketID string) (*domain.ReviewResult, error) {
	row := s.db.sql.QueryRow(`SELECT id, session_id, ticket_id, decision, reasoning, trigger_kind, session_status, created_at
		FROM review_results WHERE ticket_id = ? ORDER BY created_at DESC LIMIT 1`, ticketID)
	var r domain.ReviewResult
	if err := row.Scan(&r.ID, &r.SessionID, &r.TicketID, &r.Decision, &r.Reasoning, &r.Trigger, &r.SessionStatus, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting latest review result: %w", err)
	}
	return &r, nil
}

// --- Notifications ---

// UpsertNotification replaces any existing notification for the same
// (sessionId, type) pair, per spec §3's state-based notification model.
func (s *Store) UpsertNotification(n *domain.Notification) error {
	if n.ID == "" {
		n.ID = newID()
	}
	n.CreatedAt = time.Now().UTC()
	_, err := s.db.sql.Exec(`INSERT INTO notifications (id, type, message, session_id, ticket_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, type) DO UPDATE SET id=excluded.id, message=excluded.message, ticket_id=excluded.ticket_id, created_at=excluded.created_at`,
		n.ID, n.Type, n.Message, n.SessionID, n.TicketID, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting notification: %w", err)
	}
	return nil
}

// DismissNotificationsForSessionType deletes the notification for
// (sessionId, type), used when a waiting state clears.
func (s *Store) DismissNotificationsForSessionType(sessionID string, t domain.NotificationType) error {
	_, err := s.db.sql.Exec(`DELETE FROM notifications WHERE session_id = ? AND type = ?`, sessionID, t)
	if err != nil {
		return fmt.Errorf("dismissing notification: %w", err)
	}
	return nil
}

// ListNotifications returns every active notification, newest first.
func (s *Store) ListNotifications() ([]domain.Notification, error) {
	rows, err := s.db.sql.Query(`SELECT id, type, message, session_id, ticket_id, created_at FROM notifications ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Message, &n.SessionID, &n.TicketID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteNotification removes a single notification by id.
func (s *Store) DeleteNotification(id string) error {
	res, err := s.db.sql.Exec(`DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting notification: %w", err)
	}
	return checkRowsAffected(res)
}

// DeleteAllNotifications clears every notification and returns the count removed.
func (s *Store) DeleteAllNotifications() (int64, error) {
	res, err := s.db.sql.Exec(`DELETE FROM notifications`)
	if err != nil {
		return 0, fmt.Errorf("clearing notifications: %w", err)
	}
	return res.RowsAffected()
}

// --- helpers ---

// ErrDuplicate is returned when a unique constraint is violated.
var ErrDuplicate = errors.New("duplicate")

func isUniqueConstraintErr(err error) bool {
	// modernc.org/sqlite surfaces constraint violations as a generic error
	// whose message contains "UNIQUE constraint failed"; there is no typed
	// sentinel exported, so this is a best-effort substring match.
	return err != nil && containsUniqueConstraint(err.Error())
}

func containsUniqueConstraint(msg string) bool {
	return len(msg) > 0 && (indexOf(msg, "UNIQUE constraint") >= 0 || indexOf(msg, "constraint failed") >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return page, limit
}

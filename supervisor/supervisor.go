// Package supervisor implements the SessionSupervisor (spec §4.2): it
// exclusively owns in-memory ActiveSession records, runs one output-poll
// task per running/paused session, and emits session.* events.
package supervisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"paneforge/clock"
	"paneforge/domain"
	"paneforge/events"
	"paneforge/panedriver"
	"paneforge/ringbuffer"
	"paneforge/store"
)

// ActiveSession is the in-memory record SessionSupervisor exclusively owns
// (spec §3). Durable fields mirror the Store row; OutputBuffer and
// LastOutputHash/Time exist only here.
type ActiveSession struct {
	SessionID      string
	ProjectID      string
	TicketID       string
	Type           domain.SessionType
	Status         domain.SessionStatus
	PaneID         string
	PID            int
	StartedAt      time.Time
	OutputBuffer   *ringbuffer.RingBuffer[string]
	LastOutputHash string
	LastOutputTime time.Time
	ContextPercent int

	cursor string
	cancel context.CancelFunc
}

// Errors returned by SessionSupervisor operations.
var (
	ErrProjectNotFound = fmt.Errorf("project %w", domain.ErrNotFound)
	ErrTicketNotFound  = domain.ErrTicketNotFound
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrCreationFailed  = errors.New("session creation failed")
	ErrNotFound        = domain.ErrNotFound
	ErrNotRunning      = domain.ErrNotRunning
	ErrInputFailed     = errors.New("sending input failed")
)

// StartParams are the inputs to StartSession.
type StartParams struct {
	ProjectID     string
	TicketID      string // optional
	InitialPrompt string // optional
	CWD           string // optional, defaults to project.RepoPath
}

// Config tunes the supervisor's behavior.
type Config struct {
	PollInterval       time.Duration
	RingBufferCapacity int
	ContextPercentRegex *regexp.Regexp
	ContextLowThreshold int
}

// DefaultContextRegex matches lines like "Context: 42% remaining".
var DefaultContextRegex = regexp.MustCompile(`Context:\s*(\d+)%\s*remaining`)

// Supervisor is the SessionSupervisor component.
type Supervisor struct {
	mu       sync.RWMutex
	sessions map[string]*ActiveSession

	store *store.Store
	pane  panedriver.Driver
	clk   clock.Clock
	bus   *events.Bus
	cfg   Config

	rootCtx context.Context
}

// New constructs a Supervisor. rootCtx is the process lifetime context;
// every poll task is parented to it.
func New(rootCtx context.Context, st *store.Store, pane panedriver.Driver, clk clock.Clock, bus *events.Bus, cfg Config) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.RingBufferCapacity <= 0 {
		cfg.RingBufferCapacity = ringbuffer.DefaultCapacity
	}
	if cfg.ContextPercentRegex == nil {
		cfg.ContextPercentRegex = DefaultContextRegex
	}
	return &Supervisor{
		sessions: make(map[string]*ActiveSession),
		store:    st,
		pane:     pane,
		clk:      clk,
		bus:      bus,
		cfg:      cfg,
		rootCtx:  rootCtx,
	}
}

// StartSession spawns a pane for a new session and begins polling it.
func (s *Supervisor) StartSession(ctx context.Context, p StartParams) (*domain.Session, error) {
	project, err := s.store.GetProject(p.ProjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}

	if _, err := s.store.GetActiveSessionForProject(p.ProjectID); err == nil {
		return nil, ErrAlreadyRunning
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	sessType := domain.SessionTypeAdhoc
	if p.TicketID != "" {
		if _, err := s.store.GetTicket(p.TicketID); err != nil {
			if errors.Is(err, domain.ErrTicketNotFound) {
				return nil, ErrTicketNotFound
			}
			return nil, err
		}
		sessType = domain.SessionTypeTicket
	}

	sess := &domain.Session{
		ProjectID: p.ProjectID,
		TicketID:  p.TicketID,
		Type:      sessType,
		Status:    domain.SessionPending,
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	cwd := p.CWD
	if cwd == "" {
		cwd = project.RepoPath
	}
	paneID, err := s.pane.SpawnPane(ctx, project.PaneGroup, project.PaneWindow, cwd)
	if err != nil {
		s.store.UpdateSessionStatus(sess.ID, domain.SessionError, nil, nil)
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	now := s.clk.Now()
	active, err := s.assignPaneAndRun(sess.ID, paneID, now)
	if err != nil {
		return nil, err
	}
	active.ProjectID = p.ProjectID
	active.TicketID = p.TicketID
	active.Type = sessType

	sess.Status = domain.SessionRunning
	sess.PaneID = paneID
	sess.StartedAt = &now

	s.emitStatus(sess.ID, domain.SessionPending, domain.SessionRunning, "")

	if p.InitialPrompt != "" {
		if err := s.SendInput(ctx, sess.ID, p.InitialPrompt); err != nil {
			return sess, fmt.Errorf("session started but initial prompt failed: %w", err)
		}
	}
	return sess, nil
}

// assignPaneAndRun records the ActiveSession, persists the running
// status, and launches its poll task.
func (s *Supervisor) assignPaneAndRun(sessionID, paneID string, startedAt time.Time) (*ActiveSession, error) {
	if err := s.store.UpdateSessionStatus(sessionID, domain.SessionRunning, &startedAt, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	pollCtx, cancel := context.WithCancel(s.rootCtx)
	active := &ActiveSession{
		SessionID:    sessionID,
		Status:       domain.SessionRunning,
		PaneID:       paneID,
		StartedAt:    startedAt,
		OutputBuffer: ringbuffer.New[string](s.cfg.RingBufferCapacity),
		cancel:       cancel,
	}

	s.mu.Lock()
	s.sessions[sessionID] = active
	s.mu.Unlock()

	go s.pollLoop(pollCtx, sessionID)
	return active, nil
}

// StopSession kills the pane and marks the session completed. Idempotent
// after the first success.
func (s *Supervisor) StopSession(ctx context.Context, id string) error {
	s.mu.Lock()
	active, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	sess, err := s.store.GetSession(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if domain.IsTerminalSessionStatus(sess.Status) {
		return nil // idempotent
	}

	if ok {
		active.cancel()
		if err := s.pane.KillPane(ctx, active.PaneID); err != nil {
			// best-effort: still mark completed so the slot frees up
		}
	} else if sess.PaneID != "" {
		s.pane.KillPane(ctx, sess.PaneID)
	}

	now := s.clk.Now()
	if err := s.store.UpdateSessionStatus(id, domain.SessionCompleted, nil, &now); err != nil {
		return err
	}
	s.emitStatus(id, sess.Status, domain.SessionCompleted, "")
	return nil
}

// SendInput appends Enter after the text, per spec §4.2.
func (s *Supervisor) SendInput(ctx context.Context, id, text string) error {
	active, err := s.requireRunning(id)
	if err != nil {
		return err
	}
	if err := s.pane.SendText(ctx, active.PaneID, text); err != nil {
		return fmt.Errorf("%w: %v", ErrInputFailed, err)
	}
	if err := s.pane.SendKey(ctx, active.PaneID, panedriver.KeyEnter); err != nil {
		return fmt.Errorf("%w: %v", ErrInputFailed, err)
	}
	return nil
}

// SendKey sends a single named key.
func (s *Supervisor) SendKey(ctx context.Context, id, key string) error {
	active, err := s.requireRunning(id)
	if err != nil {
		return err
	}
	if err := s.pane.SendKey(ctx, active.PaneID, key); err != nil {
		return fmt.Errorf("%w: %v", ErrInputFailed, err)
	}
	return nil
}

func (s *Supervisor) requireRunning(id string) (*ActiveSession, error) {
	s.mu.RLock()
	active, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if active.Status != domain.SessionRunning && active.Status != domain.SessionPaused {
		return nil, ErrNotRunning
	}
	return active, nil
}

// GetOutput reads from the RingBuffer only — no pane call.
func (s *Supervisor) GetOutput(id string, tailN int) ([]string, error) {
	s.mu.RLock()
	active, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return active.OutputBuffer.Tail(tailN), nil
}

// SyncResult is the result of SyncSessions.
type SyncResult struct {
	Alive        []string `json:"alive"`
	Orphaned     []string `json:"orphaned"`
	TotalChecked int      `json:"totalChecked"`
}

// SyncSessions checks paneExists for every running/paused session of a
// project (or all projects if projectID is empty); sessions whose pane is
// gone transition to completed.
func (s *Supervisor) SyncSessions(ctx context.Context, projectID string) (SyncResult, error) {
	s.mu.RLock()
	candidates := make([]*ActiveSession, 0, len(s.sessions))
	for _, a := range s.sessions {
		if projectID == "" || a.ProjectID == projectID {
			candidates = append(candidates, a)
		}
	}
	s.mu.RUnlock()

	var result SyncResult
	for _, a := range candidates {
		result.TotalChecked++
		exists, err := s.pane.PaneExists(ctx, a.PaneID)
		if err != nil {
			result.Alive = append(result.Alive, a.SessionID)
			continue
		}
		if exists {
			result.Alive = append(result.Alive, a.SessionID)
			continue
		}
		result.Orphaned = append(result.Orphaned, a.SessionID)
		s.StopSession(ctx, a.SessionID)
	}
	return result, nil
}

// Recover loads sessions left running/paused from a prior process, per
// spec §4.2's recovery rule: resume polling if the pane still exists,
// else mark completed.
func (s *Supervisor) Recover(ctx context.Context) error {
	sessions, err := s.store.ListRecoverableSessions()
	if err != nil {
		return fmt.Errorf("listing recoverable sessions: %w", err)
	}
	for _, sess := range sessions {
		exists, err := s.pane.PaneExists(ctx, sess.PaneID)
		if err != nil || !exists {
			now := s.clk.Now()
			s.store.UpdateSessionStatus(sess.ID, domain.SessionCompleted, nil, &now)
			continue
		}
		started := sess.CreatedAt
		if sess.StartedAt != nil {
			started = *sess.StartedAt
		}
		active, err := s.assignPaneAndRun(sess.ID, sess.PaneID, started)
		if err != nil {
			continue
		}
		active.ProjectID = sess.ProjectID
		active.TicketID = sess.TicketID
		active.Type = sess.Type
		active.Status = sess.Status
		active.ContextPercent = sess.ContextPercent

		// Rebuild a bounded tail of output so subscribers get context
		// immediately rather than waiting for new lines.
		res, err := s.pane.CapturePane(ctx, sess.PaneID, "")
		if err == nil {
			active.OutputBuffer.PushAll(res.Lines)
			active.cursor = res.Cursor
		}
	}
	return nil
}

func (s *Supervisor) pollLoop(ctx context.Context, sessionID string) {
	ticker := s.clk.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.poll(ctx, sessionID)
		}
	}
}

func (s *Supervisor) poll(ctx context.Context, sessionID string) {
	s.mu.RLock()
	active, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	res, err := s.pane.CapturePane(ctx, active.PaneID, active.cursor)
	if err != nil {
		return
	}

	s.mu.Lock()
	active.cursor = res.Cursor
	hash := hashLines(res.Lines)
	changed := len(res.Lines) > 0 && hash != active.LastOutputHash
	if changed {
		active.LastOutputHash = hash
		active.LastOutputTime = s.clk.Now()
		active.OutputBuffer.PushAll(res.Lines)
	}
	s.mu.Unlock()

	if changed {
		s.bus.Publish(events.Event{
			Kind:      events.KindSessionOutput,
			SessionID: sessionID,
			Payload:   events.SessionOutputPayload{Lines: res.Lines},
		})
		s.scanContextPercent(sessionID, res.Lines)
	}
}

func (s *Supervisor) scanContextPercent(sessionID string, lines []string) {
	for _, line := range lines {
		m := s.cfg.ContextPercentRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		var percent int
		fmt.Sscanf(m[1], "%d", &percent)

		s.mu.Lock()
		if active, ok := s.sessions[sessionID]; ok {
			active.ContextPercent = percent
		}
		s.mu.Unlock()

		s.store.UpdateSessionContextPercent(sessionID, percent)
		s.bus.Publish(events.Event{
			Kind:      events.KindSessionContext,
			SessionID: sessionID,
			Payload:   events.SessionContextPayload{ContextPercent: percent},
		})
		if percent <= s.cfg.ContextLowThreshold {
			s.bus.Publish(events.Event{
				Kind:      events.KindSessionContextLow,
				SessionID: sessionID,
				Payload:   events.SessionContextPayload{ContextPercent: percent},
			})
		}
	}
}

func (s *Supervisor) emitStatus(sessionID string, from, to domain.SessionStatus, errMsg string) {
	s.bus.Publish(events.Event{
		Kind:      events.KindSessionStatus,
		SessionID: sessionID,
		Payload: events.SessionStatusPayload{
			PreviousStatus: from,
			NewStatus:      to,
			Error:          errMsg,
		},
	})
}

func hashLines(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

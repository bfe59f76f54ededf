// Package handoff implements AutoHandoff (spec §4.6): the seven-state
// context-handoff sequence that exports a session's context to a file,
// terminates it, and starts a replacement session that imports it.
package handoff

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"paneforge/clock"
	"paneforge/domain"
	"paneforge/events"
	"paneforge/store"
	"paneforge/supervisor"
)

// State is one step of the handoff sequence.
type State string

const (
	StateIdle            State = "idle"
	StateExporting       State = "exporting"
	StateWaitingFile     State = "waiting_file"
	StateTerminating     State = "terminating"
	StateCreatingSession State = "creating_session"
	StateImporting       State = "importing"
	StateComplete        State = "complete"
	StateFailed          State = "failed"
)

// ErrInProgress is returned when a second trigger fires for a session
// that already has a handoff in flight.
var ErrInProgress = fmt.Errorf("handoff already in progress for this session")

// ActiveHandoff is the in-memory record AutoHandoff exclusively owns,
// keyed by fromSessionId (spec §3).
type ActiveHandoff struct {
	FromSessionID    string
	ToSessionID      string
	State            State
	StartedAt        time.Time
	InitialFileMtime *time.Time
	ContextAtHandoff int
	cancel           context.CancelFunc
}

// Config tunes AutoHandoff's commands, delays, and timeouts.
type Config struct {
	ThresholdPercent int
	ExportCommand    string
	ImportCommand    string
	PollInterval     time.Duration
	Timeout          time.Duration
	ExportDelay      time.Duration
	ImportDelay      time.Duration
}

func defaultConfig(cfg Config) Config {
	if cfg.ThresholdPercent <= 0 {
		cfg.ThresholdPercent = 20
	}
	if cfg.ExportCommand == "" {
		cfg.ExportCommand = "/exportHandoff"
	}
	if cfg.ImportCommand == "" {
		cfg.ImportCommand = "/importHandoff"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ExportDelay <= 0 {
		cfg.ExportDelay = 2 * time.Second
	}
	if cfg.ImportDelay <= 0 {
		cfg.ImportDelay = 3 * time.Second
	}
	return cfg
}

// Handoff is the AutoHandoff component.
type Handoff struct {
	mu     sync.Mutex
	active map[string]*ActiveHandoff

	store      *store.Store
	bus        *events.Bus
	sessions   *supervisor.Supervisor
	clk        clock.Clock
	cfg        Config
}

// New constructs a Handoff.
func New(st *store.Store, bus *events.Bus, sessions *supervisor.Supervisor, clk clock.Clock, cfg Config) *Handoff {
	return &Handoff{
		active:   make(map[string]*ActiveHandoff),
		store:    st,
		bus:      bus,
		sessions: sessions,
		clk:      clk,
		cfg:      defaultConfig(cfg),
	}
}

// OnContextLow is called by cmd/paneforged's bus dispatcher for each
// session.contextLow event; it triggers a handoff once the threshold is
// crossed, if none is already in flight.
func (h *Handoff) OnContextLow(sessionID string, contextPercent int) {
	if contextPercent > h.cfg.ThresholdPercent {
		return
	}
	if err := h.Start(context.Background(), sessionID, contextPercent); err != nil {
		// ErrInProgress is expected noise; any error is discarded without
		// logging, since OnContextLow has no caller to report to.
		_ = err
	}
}

// Start begins a handoff for fromSessionID. Returns ErrInProgress if one
// is already running for this session.
func (h *Handoff) Start(ctx context.Context, fromSessionID string, contextAtHandoff int) error {
	h.mu.Lock()
	if _, ok := h.active[fromSessionID]; ok {
		h.mu.Unlock()
		return ErrInProgress
	}
	runCtx, cancel := context.WithCancel(context.Background())
	ah := &ActiveHandoff{
		FromSessionID:    fromSessionID,
		State:            StateIdle,
		StartedAt:        h.clk.Now(),
		ContextAtHandoff: contextAtHandoff,
		cancel:           cancel,
	}
	h.active[fromSessionID] = ah
	h.mu.Unlock()

	go h.run(runCtx, ah)
	return nil
}

// Cancel aborts an in-flight handoff. Per spec §4.6, cancellation prior
// to creating_session leaves the old session alive; after that point it
// is best-effort (the new session is still created).
func (h *Handoff) Cancel(fromSessionID string) {
	h.mu.Lock()
	ah, ok := h.active[fromSessionID]
	h.mu.Unlock()
	if ok {
		ah.cancel()
	}
}

func (h *Handoff) setState(ah *ActiveHandoff, s State) {
	h.mu.Lock()
	ah.State = s
	h.mu.Unlock()
}

func (h *Handoff) run(ctx context.Context, ah *ActiveHandoff) {
	defer func() {
		h.mu.Lock()
		delete(h.active, ah.FromSessionID)
		h.mu.Unlock()
	}()

	sess, err := h.store.GetSession(ah.FromSessionID)
	if err != nil {
		h.fail(ah, true, fmt.Sprintf("loading session: %v", err))
		return
	}
	project, err := h.store.GetProject(sess.ProjectID)
	if err != nil {
		h.fail(ah, true, fmt.Sprintf("loading project: %v", err))
		return
	}
	handoffPath := project.RepoPath + string(os.PathSeparator) + project.HandoffFilePath()

	if info, err := os.Stat(handoffPath); err == nil {
		mtime := info.ModTime()
		ah.InitialFileMtime = &mtime
	}

	h.setState(ah, StateExporting)
	h.bus.Publish(events.Event{Kind: events.KindHandoffStarted, SessionID: ah.FromSessionID,
		Payload: events.HandoffPayload{FromSessionID: ah.FromSessionID, ContextAtHandoff: ah.ContextAtHandoff}})
	if err := h.sessions.SendInput(ctx, ah.FromSessionID, h.cfg.ExportCommand); err != nil {
		h.fail(ah, true, fmt.Sprintf("sending export command: %v", err))
		return
	}

	h.setState(ah, StateWaitingFile)
	if err := h.waitForExport(ctx, handoffPath, ah.InitialFileMtime); err != nil {
		h.fail(ah, true, err.Error())
		return
	}

	h.setState(ah, StateTerminating)
	select {
	case <-ctx.Done():
		h.fail(ah, true, "cancelled before terminating")
		return
	case <-h.clk.After(h.cfg.ExportDelay):
	}
	if err := h.sessions.StopSession(ctx, ah.FromSessionID); err != nil {
		h.fail(ah, true, fmt.Sprintf("stopping old session: %v", err))
		return
	}

	// Past this point cancellation is best-effort: the new session is
	// still created to avoid losing ticket progress.
	h.setState(ah, StateCreatingSession)
	newSess, err := h.sessions.StartSession(context.Background(), supervisor.StartParams{ProjectID: sess.ProjectID, TicketID: sess.TicketID})
	if err != nil {
		h.fail(ah, false, fmt.Sprintf("starting replacement session: %v", err))
		return
	}
	h.mu.Lock()
	ah.ToSessionID = newSess.ID
	h.mu.Unlock()

	<-h.clk.After(h.cfg.ImportDelay)

	h.setState(ah, StateImporting)
	continuation := "Your context was just restored from a handoff. Continue where you left off."
	if sess.TicketID != "" {
		if ticket, err := h.store.GetTicket(sess.TicketID); err == nil {
			continuation = fmt.Sprintf("Continue working on ticket %s. Your context was just restored from a handoff.", ticket.ExternalID)
		}
	}
	if err := h.sessions.SendInput(context.Background(), newSess.ID, h.cfg.ImportCommand); err != nil {
		h.fail(ah, false, fmt.Sprintf("sending import command: %v", err))
		return
	}
	if err := h.sessions.SendInput(context.Background(), newSess.ID, continuation); err != nil {
		h.fail(ah, false, fmt.Sprintf("sending continuation prompt: %v", err))
		return
	}

	h.setState(ah, StateComplete)
	h.bus.Publish(events.Event{Kind: events.KindHandoffCompleted, SessionID: ah.FromSessionID,
		Payload: events.HandoffPayload{
			FromSessionID:    ah.FromSessionID,
			ToSessionID:      newSess.ID,
			ContextAtHandoff: ah.ContextAtHandoff,
			DurationMs:       h.clk.Now().Sub(ah.StartedAt).Milliseconds(),
		}})
}

func (h *Handoff) waitForExport(ctx context.Context, path string, initialMtime *time.Time) error {
	deadline := h.clk.Now().Add(h.cfg.Timeout)
	for {
		if info, err := os.Stat(path); err == nil {
			if initialMtime == nil || info.ModTime().After(*initialMtime) {
				return nil
			}
		}
		if h.clk.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for handoff file after %s", h.cfg.Timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.clk.After(h.cfg.PollInterval):
		}
	}
}

func (h *Handoff) fail(ah *ActiveHandoff, sessionPreserved bool, reason string) {
	h.setState(ah, StateFailed)
	h.bus.Publish(events.Event{Kind: events.KindHandoffFailed, SessionID: ah.FromSessionID,
		Payload: events.HandoffPayload{
			FromSessionID:    ah.FromSessionID,
			ContextAtHandoff: ah.ContextAtHandoff,
			Reason:           reason,
			SessionPreserved: sessionPreserved,
		}})
}

// Package waiting implements WaitingDetector (spec §4.4): it fuses three
// signal layers (hook payloads, transcript tail, output pattern scan) into
// session.waiting transitions and waiting_input notifications. Signals are
// applied as they arrive; they are not debounced.
package waiting

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"paneforge/clock"
	"paneforge/domain"
	"paneforge/events"
	"paneforge/store"
)

// Reason is the cause of a waiting signal, ordered by severity for fusion.
type Reason string

const (
	ReasonPermissionPrompt Reason = "permission_prompt"
	ReasonContextExhausted Reason = "context_exhausted"
	ReasonStopped          Reason = "stopped"
	ReasonQuestion         Reason = "question"
	ReasonIdlePrompt       Reason = "idle_prompt"
	ReasonUnknown          Reason = "unknown"
)

// severity ranks Reason for fusion: while a session is waiting, only a
// signal with a lower value replaces its reason.
var severity = map[Reason]int{
	ReasonPermissionPrompt: 0,
	ReasonContextExhausted: 1,
	ReasonStopped:          2,
	ReasonQuestion:         3,
	ReasonIdlePrompt:       4,
	ReasonUnknown:          5,
}

// Layer identifies which signal source produced a WaitingSignal.
type Layer int

const (
	LayerHook Layer = iota + 1
	LayerTranscript
	LayerOutput
)

// Signal is one raw observation from a signal layer, before fusion.
type Signal struct {
	SessionID string
	Waiting   bool
	Reason    Reason
	Layer     Layer
	Timestamp time.Time
	Context   string
}

// HookPayload is the free-form body accepted by HookIngress.
type HookPayload struct {
	HookEventName    string // Notification, Stop, SessionStart
	NotificationType string // permission_prompt, idle_prompt, ...
	SessionID        string // external assistant session id
	CWD              string
	TranscriptPath   string
}

// WaitingSessionState is the in-memory record WaitingDetector exclusively
// owns (spec §3), one per watched session.
type WaitingSessionState struct {
	SessionID         string
	Waiting           bool
	Reason            Reason
	LastSignalAt      time.Time
	ThresholdNotified bool

	// generation invalidates stale armed timers (question debounce, clear
	// delay) without needing a cancellable Ticker.
	generation int
}

// Config tunes the clear and question delays and the pattern lists.
// DebounceDelay is defaulted but not read by the Detector.
type Config struct {
	DebounceDelay time.Duration
	ClearDelay    time.Duration
	IdleThreshold time.Duration

	ImmediatePatterns  []*regexp.Regexp
	QuestionPatterns   []*regexp.Regexp
	CompletionPatterns []*regexp.Regexp
}

// DefaultImmediatePatterns matches permission-style prompts.
var DefaultImmediatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)do you want to proceed\?`),
	regexp.MustCompile(`(?i)allow this action\?`),
	regexp.MustCompile(`❯\s*$`),
}

// DefaultQuestionPatterns matches lines that read as a question to the user.
var DefaultQuestionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?\s*$`),
	regexp.MustCompile(`(?i)what would you like`),
	regexp.MustCompile(`(?i)should i\b`),
}

// DefaultCompletionPatterns matches the task-complete sentinel.
var DefaultCompletionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`---TASK_COMPLETE---`),
}

func defaultConfig(cfg Config) Config {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 500 * time.Millisecond
	}
	if cfg.ClearDelay <= 0 {
		cfg.ClearDelay = 2000 * time.Millisecond
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 5 * time.Second
	}
	if cfg.ImmediatePatterns == nil {
		cfg.ImmediatePatterns = DefaultImmediatePatterns
	}
	if cfg.QuestionPatterns == nil {
		cfg.QuestionPatterns = DefaultQuestionPatterns
	}
	if cfg.CompletionPatterns == nil {
		cfg.CompletionPatterns = DefaultCompletionPatterns
	}
	return cfg
}

// ReviewRequester is the narrow slice of Reviewer that WaitingDetector
// calls into when a completion marker fires, avoiding an import cycle.
type ReviewRequester interface {
	RequestReview(sessionID, ticketID string, trigger domain.ReviewTrigger)
}

// Detector is the WaitingDetector component.
type Detector struct {
	mu     sync.Mutex
	states map[string]*WaitingSessionState

	store   *store.Store
	bus     *events.Bus
	clk     clock.Clock
	cfg     Config
	review  ReviewRequester
}

// New constructs a Detector. review may be nil if completion-marker-driven
// reviews are not wired yet.
func New(st *store.Store, bus *events.Bus, clk clock.Clock, cfg Config, review ReviewRequester) *Detector {
	return &Detector{
		states: make(map[string]*WaitingSessionState),
		store:  st,
		bus:    bus,
		clk:    clk,
		cfg:    defaultConfig(cfg),
		review: review,
	}
}

// WatchSession begins tracking a session; idempotent.
func (d *Detector) WatchSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.states[sessionID]; ok {
		return
	}
	d.states[sessionID] = &WaitingSessionState{SessionID: sessionID}
}

// UnwatchSession stops tracking a session and invalidates its timers.
func (d *Detector) UnwatchSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.states[sessionID]; ok {
		s.generation++
		delete(d.states, sessionID)
	}
}

// IsWaiting reports a session's current fused waiting state.
func (d *Detector) IsWaiting(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.states[sessionID]
	return ok && s.Waiting
}

// --- Layer 1: Hook ---

// HandleHookEvent maps a hook payload to a signal (or a session-start
// correlation) per spec §4.4 Layer 1. Malformed payloads are tolerated:
// this never returns an error to the HTTP layer's caller contract.
func (d *Detector) HandleHookEvent(p HookPayload) {
	sessionID := p.SessionID
	if p.SessionID != "" {
		if sess, err := d.store.FindSessionByAssistantID(p.SessionID); err == nil {
			sessionID = sess.ID
		}
	}
	switch p.HookEventName {
	case "Notification":
		switch p.NotificationType {
		case "permission_prompt":
			d.ingest(Signal{SessionID: sessionID, Waiting: true, Reason: ReasonPermissionPrompt, Layer: LayerHook, Timestamp: d.clk.Now()})
		case "idle_prompt":
			d.ingest(Signal{SessionID: sessionID, Waiting: true, Reason: ReasonIdlePrompt, Layer: LayerHook, Timestamp: d.clk.Now()})
		}
	case "Stop":
		d.ingest(Signal{SessionID: sessionID, Waiting: true, Reason: ReasonStopped, Layer: LayerHook, Timestamp: d.clk.Now()})
	case "SessionStart":
		d.correlateSessionStart(p)
	}
}

// correlateSessionStart links an external session id to the internal
// session implied by the cwd's longest-matching project repo path, per
// spec §4.4 Layer 1 / §4.8.
func (d *Detector) correlateSessionStart(p HookPayload) {
	if p.SessionID != "" {
		if _, err := d.store.FindSessionByAssistantID(p.SessionID); err == nil {
			return // already linked: a replayed SessionStart changes nothing
		}
	}
	projects, err := d.store.ListProjectsByRepoPathPrefix(p.CWD)
	if err != nil || len(projects) == 0 {
		return
	}
	best := projects[0]
	for _, proj := range projects[1:] {
		if len(proj.RepoPath) > len(best.RepoPath) {
			best = proj
		}
	}

	existing, err := d.store.GetActiveSessionForProject(best.ID)
	if err == nil && existing.AssistantSessionID == "" {
		d.store.LinkAssistantSession(existing.ID, p.SessionID, p.TranscriptPath)
		return
	}

	sess := &domain.Session{
		ProjectID: best.ID,
		Type:      domain.SessionTypeAdhoc,
		Status:    domain.SessionPending,
	}
	if err := d.store.CreateSession(sess); err != nil {
		return
	}
	d.store.LinkAssistantSession(sess.ID, p.SessionID, p.TranscriptPath)
}

// --- Layer 2: Transcript tail ---

// TranscriptLine is one parsed JSONL entry from a watched transcript.
type TranscriptLine struct {
	SessionID           string
	IsPermissionRequest  bool
	IsContextExhausted   bool
}

// HandleTranscriptLine ingests one tailed transcript line (spec §4.4
// Layer 2). Callers (the tail task) parse the raw JSONL and classify it.
func (d *Detector) HandleTranscriptLine(line TranscriptLine) {
	switch {
	case line.IsContextExhausted:
		d.ingest(Signal{SessionID: line.SessionID, Waiting: true, Reason: ReasonContextExhausted, Layer: LayerTranscript, Timestamp: d.clk.Now()})
	case line.IsPermissionRequest:
		d.ingest(Signal{SessionID: line.SessionID, Waiting: true, Reason: ReasonPermissionPrompt, Layer: LayerTranscript, Timestamp: d.clk.Now()})
	}
}

// --- Layer 3: Output pattern ---

// HandleOutputLines scans newly captured output lines (spec §4.4 Layer 3).
// Completion markers additionally request a Reviewer run.
func (d *Detector) HandleOutputLines(sessionID, ticketID string, lines []string) {
	for _, line := range lines {
		for _, re := range d.cfg.CompletionPatterns {
			if re.MatchString(line) {
				d.ingest(Signal{SessionID: sessionID, Waiting: true, Reason: ReasonStopped, Layer: LayerOutput, Timestamp: d.clk.Now()})
				if d.review != nil {
					d.review.RequestReview(sessionID, ticketID, domain.TriggerCompletionSignal)
				}
				return
			}
		}
		for _, re := range d.cfg.ImmediatePatterns {
			if re.MatchString(line) {
				d.ingest(Signal{SessionID: sessionID, Waiting: true, Reason: ReasonPermissionPrompt, Layer: LayerOutput, Timestamp: d.clk.Now()})
				return
			}
		}
	}
	for _, line := range lines {
		for _, re := range d.cfg.QuestionPatterns {
			if re.MatchString(strings.TrimSpace(line)) {
				d.armQuestionTimer(sessionID)
				return
			}
		}
	}
	// Any output change is activity: treat it as clearing evidence.
	if len(lines) > 0 {
		d.noteActivity(sessionID)
	}
}

func (d *Detector) armQuestionTimer(sessionID string) {
	d.mu.Lock()
	s, ok := d.states[sessionID]
	if !ok {
		d.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	d.mu.Unlock()

	ch := d.clk.After(d.cfg.IdleThreshold)
	go func() {
		<-ch
		d.mu.Lock()
		s, ok := d.states[sessionID]
		stale := !ok || s.generation != gen
		d.mu.Unlock()
		if stale {
			return
		}
		d.ingest(Signal{SessionID: sessionID, Waiting: true, Reason: ReasonQuestion, Layer: LayerOutput, Timestamp: d.clk.Now()})
	}()
}

// noteActivity clears a waiting session after clearDelay. A later
// noteActivity, armQuestionTimer or UnwatchSession for the same session
// cancels the pending clear; incoming waiting signals do not.
func (d *Detector) noteActivity(sessionID string) {
	d.mu.Lock()
	s, ok := d.states[sessionID]
	if !ok || !s.Waiting {
		d.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	d.mu.Unlock()

	ch := d.clk.After(d.cfg.ClearDelay)
	go func() {
		<-ch
		d.mu.Lock()
		s, ok := d.states[sessionID]
		stale := !ok || s.generation != gen
		d.mu.Unlock()
		if stale {
			return
		}
		d.clear(sessionID)
	}()
}

// NoteInputSent clears waiting state immediately, without waiting for
// clearDelay. Nothing in this module calls it: SessionSupervisor.SendInput
// does not notify the Detector.
func (d *Detector) NoteInputSent(sessionID string) {
	d.clear(sessionID)
}

// ingest applies the severity-priority rule at once (no debounce) and, on a not-waiting ->
// waiting transition, emits session.waiting and upserts a notification.
func (d *Detector) ingest(sig Signal) {
	d.mu.Lock()
	s, ok := d.states[sig.SessionID]
	if !ok {
		s = &WaitingSessionState{SessionID: sig.SessionID}
		d.states[sig.SessionID] = s
	}

	if s.Waiting && severity[sig.Reason] >= severity[s.Reason] {
		s.LastSignalAt = sig.Timestamp
		d.mu.Unlock()
		return
	}

	wasWaiting := s.Waiting
	s.Waiting = true
	s.Reason = sig.Reason
	s.LastSignalAt = sig.Timestamp
	notify := !wasWaiting && !s.ThresholdNotified
	d.mu.Unlock()

	if !wasWaiting {
		d.bus.Publish(events.Event{
			Kind:      events.KindSessionWaiting,
			SessionID: sig.SessionID,
			Payload:   events.SessionWaitingPayload{Waiting: true, Reason: string(sig.Reason)},
		})
	}
	if notify {
		d.store.UpsertNotification(&domain.Notification{
			Type:      domain.NotifyWaitingInput,
			Message:   waitingMessage(sig.Reason),
			SessionID: sig.SessionID,
		})
	}
}

func (d *Detector) clear(sessionID string) {
	d.mu.Lock()
	s, ok := d.states[sessionID]
	if !ok || !s.Waiting {
		d.mu.Unlock()
		return
	}
	s.Waiting = false
	s.Reason = ""
	d.mu.Unlock()

	d.bus.Publish(events.Event{
		Kind:      events.KindSessionWaiting,
		SessionID: sessionID,
		Payload:   events.SessionWaitingPayload{Waiting: false},
	})
	d.store.DismissNotificationsForSessionType(sessionID, domain.NotifyWaitingInput)
}

func waitingMessage(r Reason) string {
	switch r {
	case ReasonPermissionPrompt:
		return "Waiting for permission to proceed."
	case ReasonContextExhausted:
		return "Context exhausted; awaiting handoff."
	case ReasonStopped:
		return "Session has stopped and may need review."
	case ReasonQuestion:
		return "Session is asking a question."
	case ReasonIdlePrompt:
		return "Session is idle and awaiting input."
	default:
		return "Session is waiting for input."
	}
}

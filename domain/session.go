package domain

import (
	"errors"
	"fmt"
	"time"
)

// SessionType distinguishes a ticket-bound session from a free-form one.
type SessionType string

const (
	SessionTypeTicket SessionType = "ticket"
	SessionTypeAdhoc  SessionType = "adhoc"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// Session is a tracked interactive assistant run bound to one pane.
type Session struct {
	ID                 string        `json:"id"`
	ProjectID          string        `json:"projectId"`
	TicketID           string        `json:"ticketId,omitempty"` // optional
	Type               SessionType   `json:"type"`
	Status             SessionStatus `json:"status"`
	PaneID             string        `json:"paneId,omitempty"` // unique across live sessions
	PID                int           `json:"pid,omitempty"`
	AssistantSessionID string        `json:"assistantSessionId,omitempty"` // external correlation id
	TranscriptPath     string        `json:"transcriptPath,omitempty"`
	ContextPercent     int           `json:"contextPercent"` // 0..100
	StartedAt          *time.Time    `json:"startedAt,omitempty"`
	EndedAt            *time.Time    `json:"endedAt,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// ErrNotFound / ErrAlreadyRunning / ErrNotRunning are common session errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyRunning = errors.New("a session is already running or paused for this project")
	ErrNotRunning    = errors.New("session is not running")
)

// sessionTransitions enumerates the legal Session.Status walk, per spec
// §4.2: pending -> running -> (paused <-> running) -> completed; any state
// (except terminal ones) -> error.
var sessionTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionPending: {SessionRunning: true, SessionError: true},
	SessionRunning: {SessionPaused: true, SessionCompleted: true, SessionError: true},
	SessionPaused:  {SessionRunning: true, SessionCompleted: true, SessionError: true},
}

// IsTerminalSessionStatus reports whether status admits no further
// transitions.
func IsTerminalSessionStatus(status SessionStatus) bool {
	return status == SessionCompleted || status == SessionError
}

// IsValidSessionTransition reports whether from->to is legal.
func IsValidSessionTransition(from, to SessionStatus) bool {
	if IsTerminalSessionStatus(from) {
		return false
	}
	return sessionTransitions[from][to]
}

// ValidateSessionTransition returns an error describing why from->to is
// illegal, or nil if it is legal.
func ValidateSessionTransition(from, to SessionStatus) error {
	if !IsValidSessionTransition(from, to) {
		return fmt.Errorf("%w: session %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ReviewDecision is the tri-valued outcome of a Reviewer run.
type ReviewDecision string

const (
	DecisionComplete           ReviewDecision = "complete"
	DecisionNotComplete        ReviewDecision = "not_complete"
	DecisionNeedsClarification ReviewDecision = "needs_clarification"
)

// ReviewTrigger is what caused a Reviewer run to be requested.
type ReviewTrigger string

const (
	TriggerStopHook        ReviewTrigger = "stop_hook"
	TriggerIdleTimeout     ReviewTrigger = "idle_timeout"
	TriggerCompletionSignal ReviewTrigger = "completion_signal"
	TriggerManualReview    ReviewTrigger = "manual"
)

// ReviewResult is a single Reviewer verdict.
type ReviewResult struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"sessionId"`
	TicketID      string         `json:"ticketId"`
	Decision      ReviewDecision `json:"decision"`
	Reasoning     string         `json:"reasoning"`
	Trigger       ReviewTrigger  `json:"trigger"`
	SessionStatus SessionStatus  `json:"sessionStatus"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// NotificationType enumerates the notification kinds fanned out to clients.
type NotificationType string

const (
	NotifyWaitingInput NotificationType = "waiting_input"
	NotifyReviewReady  NotificationType = "review_ready"
	NotifyError        NotificationType = "error"
	NotifyContextLow   NotificationType = "context_low"
)

// Notification is a state-based, upserted (per sessionId,type) signal.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	SessionID string           `json:"sessionId"`
	TicketID  string           `json:"ticketId,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

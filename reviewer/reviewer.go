// Package reviewer implements Reviewer (spec §4.5): assembles a review
// prompt from ticket content, git diff, test output, and recent session
// output; invokes the ReviewerDriver; and parses the tri-valued verdict.
package reviewer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"paneforge/domain"
	"paneforge/events"
	"paneforge/gitdiff"
	"paneforge/reviewerdriver"
	"paneforge/store"
	"paneforge/ticketfsm"
)

// ErrParseFailed is returned when the driver's output cannot be classified.
type ErrParseFailed struct {
	Raw string
}

func (e *ErrParseFailed) Error() string {
	return fmt.Sprintf("could not parse reviewer output: %q", truncate(e.Raw, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

const promptTemplate = `You are reviewing whether a ticket has been completed.

## Ticket Requirements
%s

## Changes Made (git diff)
%s

## Test Results
%s

## Recent Session Output
%s

Based on the above, is this ticket complete?
(Instruction: respond with COMPLETE / NOT_COMPLETE / NEEDS_CLARIFICATION on first line, then 1-3 sentences of reasoning.)
`

// OutputTailer is the narrow slice of SessionSupervisor this package reads
// from, avoiding an import cycle.
type OutputTailer interface {
	GetOutput(sessionID string, tailN int) ([]string, error)
}

// Config tunes Reviewer behavior.
type Config struct {
	Timeout        time.Duration
	OutputTailLines int
	Model          string
}

// Reviewer is the Reviewer component.
type Reviewer struct {
	store      *store.Store
	bus        *events.Bus
	driver     reviewerdriver.Driver
	output     OutputTailer
	tickets    *ticketfsm.Machine
	cfg        Config

	mu        sync.Mutex
	inFlight  map[string]bool // ticketId -> locked
}

// New constructs a Reviewer.
func New(st *store.Store, bus *events.Bus, driver reviewerdriver.Driver, output OutputTailer, tickets *ticketfsm.Machine, cfg Config) *Reviewer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.OutputTailLines <= 0 {
		cfg.OutputTailLines = 100
	}
	return &Reviewer{
		store:    st,
		bus:      bus,
		driver:   driver,
		output:   output,
		tickets:  tickets,
		cfg:      cfg,
		inFlight: make(map[string]bool),
	}
}

// RequestReview satisfies waiting.ReviewRequester: it runs the review in
// the background and logs failure via the review.failed event, since the
// caller (WaitingDetector) has no result channel to receive on.
func (r *Reviewer) RequestReview(sessionID, ticketID string, trigger domain.ReviewTrigger) {
	go func() {
		if _, err := r.Review(context.Background(), sessionID, ticketID, trigger); err != nil {
			r.bus.Publish(events.Event{
				Kind:      events.KindReviewFailed,
				SessionID: sessionID,
				Payload:   events.ReviewFailedPayload{TicketID: ticketID, Reason: err.Error()},
			})
		}
	}()
}

// Review assembles the prompt, invokes the driver, parses the verdict,
// and on `complete` drives TicketStateMachine and a review_ready
// notification. At most one review per ticket runs at a time.
func (r *Reviewer) Review(ctx context.Context, sessionID, ticketID string, trigger domain.ReviewTrigger) (*domain.ReviewResult, error) {
	if !r.acquire(ticketID) {
		return nil, fmt.Errorf("review already in progress for ticket %s", ticketID)
	}
	defer r.release(ticketID)

	ticket, err := r.store.GetTicket(ticketID)
	if err != nil {
		return nil, fmt.Errorf("loading ticket: %w", err)
	}
	project, err := r.store.GetProject(ticket.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}

	prompt := r.assemblePrompt(ctx, project, ticket, sessionID)

	raw, err := r.driver.Run(ctx, prompt, r.cfg.Model, r.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("running reviewer driver: %w", err)
	}

	decision, reasoning, err := ParseVerdict(raw)
	if err != nil {
		return nil, err
	}

	sess, sessErr := r.store.GetSession(sessionID)
	sessStatus := domain.SessionStatus("")
	if sessErr == nil {
		sessStatus = sess.Status
	}

	result := &domain.ReviewResult{
		SessionID:     sessionID,
		TicketID:      ticketID,
		Decision:      decision,
		Reasoning:     reasoning,
		Trigger:       trigger,
		SessionStatus: sessStatus,
	}
	if err := r.store.CreateReviewResult(result); err != nil {
		return nil, fmt.Errorf("recording review result: %w", err)
	}

	if decision == domain.DecisionComplete {
		if _, err := r.tickets.Transition(ctx, ticketfsm.TransitionParams{TicketID: ticketID, TargetState: domain.StateReview, TriggeredBy: sessionID}); err != nil {
			return result, fmt.Errorf("transitioning ticket to review: %w", err)
		}
		r.store.UpsertNotification(&domain.Notification{
			Type:      domain.NotifyReviewReady,
			Message:   "Reviewer marked this ticket complete; ready for your approval.",
			SessionID: sessionID,
			TicketID:  ticketID,
		})
	}

	return result, nil
}

func (r *Reviewer) acquire(ticketID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[ticketID] {
		return false
	}
	r.inFlight[ticketID] = true
	return true
}

func (r *Reviewer) release(ticketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, ticketID)
}

func (r *Reviewer) assemblePrompt(ctx context.Context, project *domain.Project, ticket *domain.Ticket, sessionID string) string {
	ticketContent := readTicketContent(project.RepoPath, ticket.FilePath)
	diff := gitdiff.Collect(ctx, project.RepoPath)
	if diff == "" {
		diff = "No changes detected or git not available"
	}
	testOutput := "No test output available"

	lines, err := r.output.GetOutput(sessionID, r.cfg.OutputTailLines)
	sessionOutput := "No session output available"
	if err == nil && len(lines) > 0 {
		sessionOutput = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(promptTemplate, ticketContent, diff, testOutput, sessionOutput)
}

func readTicketContent(repoPath, filePath string) string {
	data, err := os.ReadFile(filepath.Join(repoPath, filePath))
	if err != nil {
		return "(ticket content unavailable)"
	}
	return string(data)
}

// ParseVerdict implements spec §4.5's precedence rules: inspect the first
// line uppercased, falling back to the first three lines joined if
// ambiguous, else ErrParseFailed.
func ParseVerdict(raw string) (domain.ReviewDecision, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", &ErrParseFailed{Raw: raw}
	}
	lines := strings.Split(trimmed, "\n")

	if decision, ok := classify(lines[0]); ok {
		return decision, reasoningFrom(lines, 1), nil
	}

	head := lines[0]
	for i := 1; i < len(lines) && i < 3; i++ {
		head += " " + lines[i]
	}
	if decision, ok := classify(head); ok {
		return decision, reasoningFrom(lines, min(3, len(lines))), nil
	}

	return "", "", &ErrParseFailed{Raw: raw}
}

func classify(s string) (domain.ReviewDecision, bool) {
	u := strings.ToUpper(s)
	switch {
	case strings.Contains(u, "NOT_COMPLETE") || strings.Contains(u, "NOT COMPLETE"):
		return domain.DecisionNotComplete, true
	case strings.Contains(u, "NEEDS_CLARIFICATION") || strings.Contains(u, "NEEDS CLARIFICATION"):
		return domain.DecisionNeedsClarification, true
	case strings.HasPrefix(u, "COMPLETE"):
		return domain.DecisionComplete, true
	default:
		return "", false
	}
}

func reasoningFrom(lines []string, from int) string {
	if from >= len(lines) {
		return "No reasoning provided"
	}
	rest := strings.TrimSpace(strings.Join(lines[from:], "\n"))
	if rest == "" {
		return "No reasoning provided"
	}
	return rest
}

// Package ticketfsm implements TicketStateMachine (spec §4.3): the one
// place ticket state transitions are applied, wrapping the atomic store
// write with event emission and reject-feedback injection.
package ticketfsm

import (
	"context"
	"fmt"

	"paneforge/domain"
	"paneforge/events"
	"paneforge/store"
)

// InputSender is the narrow slice of SessionSupervisor this package calls
// into (reject-feedback injection), avoiding an import cycle.
type InputSender interface {
	SendInput(ctx context.Context, sessionID, text string) error
}

// TransitionParams are the inputs to Transition.
type TransitionParams struct {
	TicketID    string
	TargetState domain.TicketState
	Feedback    string // required when TargetState is a reject edge
	TriggeredBy string // sessionId, userId, or "system"
}

// Machine is the TicketStateMachine component.
type Machine struct {
	store       *store.Store
	bus         *events.Bus
	supervisor  InputSender
}

// New constructs a Machine.
func New(st *store.Store, bus *events.Bus, supervisor InputSender) *Machine {
	return &Machine{store: st, bus: bus, supervisor: supervisor}
}

// Transition applies a validated ticket state transition atomically via
// the store, emits ticket.state, and — on a reject edge — injects the
// formatted feedback into the ticket's running session.
func (m *Machine) Transition(ctx context.Context, p TransitionParams) (*domain.Ticket, error) {
	ticket, err := m.store.GetTicket(p.TicketID)
	if err != nil {
		return nil, err
	}

	trigger, reason, requiresFeedback, err := domain.LookupTransition(ticket.State, p.TargetState)
	if err != nil {
		return nil, err
	}
	if requiresFeedback && p.Feedback == "" {
		return nil, domain.ErrMissingFeedback
	}

	entry, err := m.store.TransitionTicket(p.TicketID, p.TargetState, trigger, reason, p.Feedback, p.TriggeredBy)
	if err != nil {
		return nil, err
	}

	m.bus.Publish(events.Event{
		Kind: events.KindTicketState,
		Payload: events.TicketStatePayload{
			TicketID:  p.TicketID,
			FromState: entry.FromState,
			ToState:   entry.ToState,
		},
	})

	updated, err := m.store.GetTicket(p.TicketID)
	if err != nil {
		return nil, err
	}

	if reason == domain.ReasonUserRejected && p.Feedback != "" {
		m.injectFeedback(ctx, updated, p.Feedback)
	}

	return updated, nil
}

// injectFeedback sends the formatted rejection feedback into the
// ticket's running session, if one exists. Best-effort: if the ticket has
// no running session at that moment, the feedback is not sent and is not
// queued for later delivery.
func (m *Machine) injectFeedback(ctx context.Context, ticket *domain.Ticket, feedback string) {
	sess, err := m.store.GetActiveSessionForProject(ticket.ProjectID)
	if err != nil || sess.TicketID != ticket.ID {
		return
	}
	m.supervisor.SendInput(ctx, sess.ID, domain.FormatRejectionFeedback(feedback))
}

// StartTicket transitions backlog -> in_progress.
func (m *Machine) StartTicket(ctx context.Context, ticketID, triggeredBy string) (*domain.Ticket, error) {
	return m.Transition(ctx, TransitionParams{TicketID: ticketID, TargetState: domain.StateInProgress, TriggeredBy: triggeredBy})
}

// Approve transitions review -> done.
func (m *Machine) Approve(ctx context.Context, ticketID, triggeredBy string) (*domain.Ticket, error) {
	return m.Transition(ctx, TransitionParams{TicketID: ticketID, TargetState: domain.StateDone, TriggeredBy: triggeredBy})
}

// Reject transitions review -> in_progress with required feedback.
func (m *Machine) Reject(ctx context.Context, ticketID, feedback, triggeredBy string) (*domain.Ticket, error) {
	if feedback == "" {
		return nil, fmt.Errorf("rejecting ticket %s: %w", ticketID, domain.ErrMissingFeedback)
	}
	return m.Transition(ctx, TransitionParams{TicketID: ticketID, TargetState: domain.StateInProgress, Feedback: feedback, TriggeredBy: triggeredBy})
}

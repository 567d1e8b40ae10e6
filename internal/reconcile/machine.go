package reconcile

import (
	"errors"
	"fmt"
)

// Event is something that happened to an intake record that may move it to a
// new status.
type Event string

const (
	EventParsed      Event = "PARSED"       // extraction accepted
	EventMatched     Event = "MATCHED"      // tenant and invoice resolved
	EventReconciled  Event = "RECONCILED"   // ledger update committed
	EventReview      Event = "REVIEW"       // ambiguity deferred to a human
	EventFail        Event = "FAIL"         // duplicate or unrecoverable error
	EventManualMatch Event = "MANUAL_MATCH" // operator resolved a review
	EventDismiss     Event = "DISMISS"      // operator discarded the record
)

// ErrInvalidTransition is returned when an event is not permitted in the
// record's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the full automaton. Anything not listed here is rejected,
// which is what keeps PAID records from ever re-entering the pipeline.
var transitions = map[Status]map[Event]Status{
	StatusReceived: {
		EventParsed:  StatusParsed,
		EventReview:  StatusManualReview,
		EventFail:    StatusFailed,
		EventDismiss: StatusDismissed,
	},
	StatusParsed: {
		EventMatched: StatusMatched,
		EventReview:  StatusManualReview,
		EventFail:    StatusFailed,
	},
	StatusMatched: {
		EventReconciled: StatusPaid,
		EventFail:       StatusFailed,
	},
	StatusManualReview: {
		EventManualMatch: StatusPaid,
		EventDismiss:     StatusDismissed,
	},
}

// Transition applies an event to a status and returns the resulting status.
// This is the single place status changes are computed; callers persist the
// result.
func Transition(from Status, ev Event) (Status, error) {
	if !from.IsValid() {
		return from, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}

	permitted, ok := transitions[from]
	if !ok {
		return from, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}

	to, ok := permitted[ev]
	if !ok {
		return from, fmt.Errorf("%w: event %s not permitted in %s", ErrInvalidTransition, ev, from)
	}

	return to, nil
}

// Permitted returns the events that may fire from the given status.
func Permitted(from Status) []Event {
	events := make([]Event, 0, len(transitions[from]))
	for ev := range transitions[from] {
		events = append(events, ev)
	}
	return events
}

package orders

import (
	"errors"
	"fmt"
	"time"
)

// Event is a lifecycle event applied to an order.
type Event string

const (
	EventApprove  Event = "approve"
	EventTransmit Event = "transmit"
	EventResult   Event = "result"
	EventReview   Event = "review"
	EventUnreview Event = "unreview"
	EventCancel   Event = "cancel"
	EventFail     Event = "fail"
)

// Effect is a side effect the caller must perform after persisting the new
// status. The transition function itself never mutates anything.
type Effect string

const (
	EffectRecordHistory     Effect = "record_history"
	EffectStampTransmission Effect = "stamp_transmission"
	EffectGenerateResults   Effect = "generate_results"
	EffectClearReview       Effect = "clear_review"
)

// ErrInvalidTransition indicates an illegal (status, event) pair. The order
// is left unmodified.
var ErrInvalidTransition = errors.New("invalid order transition")

// ErrAlreadyProcessed indicates the requested side effect already happened.
// Treated as success by retrying callers.
var ErrAlreadyProcessed = errors.New("order already processed")

// transitions maps the current status to the events legal from it and the
// status each event produces.
var transitions = map[Status]map[Event]Status{
	StatusDraft: {
		EventApprove: StatusApproved,
		EventCancel:  StatusCancelled,
	},
	StatusApproved: {
		EventTransmit: StatusTransmitted,
		EventFail:     StatusFailed,
		EventCancel:   StatusCancelled,
	},
	StatusTransmitted: {
		EventResult: StatusResulted,
		EventCancel: StatusCancelled,
	},
	StatusResulted: {
		EventReview: StatusReviewed,
		EventCancel: StatusCancelled,
	},
	StatusReviewed: {
		EventUnreview: StatusResulted,
		EventCancel:   StatusCancelled,
	},
	// cancelled and failed are terminal
	StatusCancelled: {},
	StatusFailed:    {},
}

// effects lists the side effects owed for each legal event.
var effects = map[Event][]Effect{
	EventApprove:  {EffectRecordHistory},
	EventTransmit: {EffectRecordHistory, EffectStampTransmission},
	EventResult:   {EffectRecordHistory, EffectGenerateResults},
	EventReview:   {EffectRecordHistory},
	EventUnreview: {EffectRecordHistory, EffectClearReview},
	EventCancel:   {EffectRecordHistory},
	EventFail:     {EffectRecordHistory},
}

// Transition computes the status an event moves the order to, plus the side
// effects the caller owes. It is a pure function: the order is never
// modified, and an illegal pair returns ErrInvalidTransition.
//
// Two transitions carry extra guards: transmit requires the order's delivery
// method to route to the external lab, and result requires the configured
// dwell time to have elapsed since transmission.
func Transition(o *Order, event Event, now time.Time, minResultDelay time.Duration) (Status, []Effect, error) {
	legal, ok := transitions[o.Status]
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, o.Status)
	}
	next, ok := legal[event]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, o.Status)
	}

	switch event {
	case EventTransmit:
		if !o.RequiresLabRouting() {
			return "", nil, fmt.Errorf("%w: delivery method %q is not routed to a lab",
				ErrInvalidTransition, o.DeliveryMethod)
		}
	case EventResult:
		if o.TransmittedAt == nil {
			return "", nil, fmt.Errorf("%w: order was never transmitted", ErrInvalidTransition)
		}
		if now.Sub(*o.TransmittedAt) < minResultDelay {
			return "", nil, fmt.Errorf("%w: dwell time not elapsed (transmitted %s ago, need %s)",
				ErrInvalidTransition, now.Sub(*o.TransmittedAt), minResultDelay)
		}
	}

	return next, effects[event], nil
}

package domain

// State is the combined (status, subscription_status) lifecycle position of a
// rental. Each webhook handler maps to exactly one transition; anything else
// is an anomaly to log, never to apply.
type State string

const (
	StateNone             State = "none"
	StateActiveSingle     State = "active"
	StateSubscriptionLive State = "active/subscription_active"
	StatePastDue          State = "active/past_due"
	StateCancelledPending State = "active/cancelled_pending_expiry"
	StateExpired          State = "expired"
	StateRentalCancelled  State = "cancelled"
)

// Transition names the reconciliation-triggered state changes.
type Transition string

const (
	TransitionCheckoutSubscription Transition = "checkout_completed_subscription"
	TransitionCheckoutSingle       Transition = "checkout_completed_single"
	TransitionRenewalPaid          Transition = "renewal_paid"
	TransitionSubscriptionDeleted  Transition = "subscription_deleted"
	TransitionRenewalFailed        Transition = "renewal_failed"
	TransitionTermElapsed          Transition = "term_elapsed"
)

var legal = map[State]map[Transition]State{
	StateNone: {
		TransitionCheckoutSubscription: StateSubscriptionLive,
		TransitionCheckoutSingle:       StateActiveSingle,
	},
	StateSubscriptionLive: {
		TransitionRenewalPaid:         StateSubscriptionLive,
		TransitionSubscriptionDeleted: StateCancelledPending,
		TransitionRenewalFailed:       StatePastDue,
	},
	StatePastDue: {
		TransitionRenewalPaid:         StateSubscriptionLive,
		TransitionSubscriptionDeleted: StateCancelledPending,
	},
	StateCancelledPending: {
		TransitionTermElapsed: StateExpired,
	},
	StateActiveSingle: {
		TransitionTermElapsed: StateExpired,
	},
}

// Step resolves one transition. The second return is false when the
// transition is not legal from the current state.
func Step(from State, t Transition) (State, bool) {
	next, ok := legal[from][t]
	if !ok {
		return from, false
	}
	return next, true
}

// CurrentState derives the state machine position from a stored rental.
func CurrentState(r *Rental) State {
	if r == nil {
		return StateNone
	}
	switch r.Status {
	case RentalStatusExpired:
		return StateExpired
	case RentalStatusCancelled:
		return StateRentalCancelled
	}
	if r.PaymentType == PaymentTypeSingle || r.SubscriptionStatus == nil {
		return StateActiveSingle
	}
	switch *r.SubscriptionStatus {
	case SubscriptionStatusActive:
		return StateSubscriptionLive
	case SubscriptionStatusPastDue:
		return StatePastDue
	case SubscriptionStatusCancelled:
		return StateCancelledPending
	}
	return StateActiveSingle
}

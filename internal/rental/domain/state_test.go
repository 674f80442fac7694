package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepLegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		via  Transition
		want State
	}{
		{"new subscription checkout", StateNone, TransitionCheckoutSubscription, StateSubscriptionLive},
		{"new single checkout", StateNone, TransitionCheckoutSingle, StateActiveSingle},
		{"renewal keeps subscription live", StateSubscriptionLive, TransitionRenewalPaid, StateSubscriptionLive},
		{"deletion pends expiry", StateSubscriptionLive, TransitionSubscriptionDeleted, StateCancelledPending},
		{"failed renewal goes past due", StateSubscriptionLive, TransitionRenewalFailed, StatePastDue},
		{"recovery from past due", StatePastDue, TransitionRenewalPaid, StateSubscriptionLive},
		{"deletion while past due", StatePastDue, TransitionSubscriptionDeleted, StateCancelledPending},
		{"cancelled rental expires", StateCancelledPending, TransitionTermElapsed, StateExpired},
		{"single rental expires", StateActiveSingle, TransitionTermElapsed, StateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := Step(tt.from, tt.via)
			assert.True(t, ok)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestStepIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		via  Transition
	}{
		{"renewal on cancelled rental", StateCancelledPending, TransitionRenewalPaid},
		{"renewal on expired rental", StateExpired, TransitionRenewalPaid},
		{"renewal on single rental", StateActiveSingle, TransitionRenewalPaid},
		{"double checkout", StateSubscriptionLive, TransitionCheckoutSubscription},
		{"deletion on single rental", StateActiveSingle, TransitionSubscriptionDeleted},
		{"failure after cancellation", StateCancelledPending, TransitionRenewalFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := Step(tt.from, tt.via)
			assert.False(t, ok)
			assert.Equal(t, tt.from, next)
		})
	}
}

func TestCurrentState(t *testing.T) {
	subActive := SubscriptionStatusActive
	pastDue := SubscriptionStatusPastDue
	cancelled := SubscriptionStatusCancelled
	now := time.Now().UTC()

	assert.Equal(t, StateNone, CurrentState(nil))

	assert.Equal(t, StateActiveSingle, CurrentState(&Rental{
		Status:      RentalStatusActive,
		PaymentType: PaymentTypeSingle,
		EndDate:     now,
	}))

	assert.Equal(t, StateSubscriptionLive, CurrentState(&Rental{
		Status:             RentalStatusActive,
		PaymentType:        PaymentTypeSubscription,
		SubscriptionStatus: &subActive,
	}))

	assert.Equal(t, StatePastDue, CurrentState(&Rental{
		Status:             RentalStatusActive,
		PaymentType:        PaymentTypeSubscription,
		SubscriptionStatus: &pastDue,
	}))

	assert.Equal(t, StateCancelledPending, CurrentState(&Rental{
		Status:             RentalStatusActive,
		PaymentType:        PaymentTypeSubscription,
		SubscriptionStatus: &cancelled,
	}))

	assert.Equal(t, StateExpired, CurrentState(&Rental{
		Status:             RentalStatusExpired,
		PaymentType:        PaymentTypeSubscription,
		SubscriptionStatus: &cancelled,
	}))

	assert.Equal(t, StateRentalCancelled, CurrentState(&Rental{
		Status:      RentalStatusCancelled,
		PaymentType: PaymentTypeSingle,
	}))
}

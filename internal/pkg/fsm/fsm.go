// Package fsm implements the payment lifecycle state machine. The transition
// table is the single source of truth for which status changes are legal;
// everything else in the service goes through Fire.
package fsm

import (
	"fmt"
	"sync"
	"time"

	"github.com/crossborder/core/internal/models"
)

// Trigger names an action that may cause a state transition.
type Trigger string

const (
	TriggerLockQuote        Trigger = "LOCK_QUOTE"
	TriggerStartCompliance  Trigger = "START_COMPLIANCE"
	TriggerPassCompliance   Trigger = "PASS_COMPLIANCE"
	TriggerSubmit           Trigger = "SUBMIT"
	TriggerConfirm          Trigger = "CONFIRM"
	TriggerSettle           Trigger = "SETTLE"
	TriggerComplete         Trigger = "COMPLETE"
	TriggerFail             Trigger = "FAIL"
	TriggerCancel           Trigger = "CANCEL"
)

// InvalidTransitionError reports a trigger fired from a state that does not
// allow it.
type InvalidTransitionError struct {
	From    models.PaymentStatus
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: trigger %s not allowed from state %s", e.Trigger, e.From)
}

// Transition is one recorded state change.
type Transition struct {
	From      models.PaymentStatus `json:"from"`
	To        models.PaymentStatus `json:"to"`
	Trigger   Trigger              `json:"trigger"`
	Timestamp time.Time            `json:"timestamp"`
}

var transitions = map[models.PaymentStatus]map[Trigger]models.PaymentStatus{
	models.StatusCreated: {
		TriggerLockQuote: models.StatusQuoteLocked,
		TriggerCancel:    models.StatusCancelled,
	},
	models.StatusQuoteLocked: {
		TriggerStartCompliance: models.StatusComplianceCheck,
		TriggerCancel:          models.StatusCancelled,
	},
	models.StatusComplianceCheck: {
		TriggerPassCompliance: models.StatusPendingNetwork,
		TriggerFail:           models.StatusFailed,
		TriggerCancel:         models.StatusCancelled,
	},
	models.StatusPendingNetwork: {
		TriggerSubmit: models.StatusSubmitted,
		TriggerFail:   models.StatusFailed,
		TriggerCancel: models.StatusCancelled,
	},
	models.StatusSubmitted: {
		TriggerConfirm: models.StatusConfirmed,
		TriggerFail:    models.StatusFailed,
	},
	models.StatusConfirmed: {
		TriggerSettle:   models.StatusSettled,
		TriggerComplete: models.StatusCompleted,
		TriggerFail:     models.StatusFailed,
	},
	models.StatusSettled: {
		TriggerComplete: models.StatusCompleted,
		TriggerFail:     models.StatusFailed,
	},
	models.StatusCompleted: {},
	models.StatusFailed:    {},
	models.StatusCancelled: {},
}

// Machine tracks the status of one payment and its transition history.
// Safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	state   models.PaymentStatus
	history []Transition
	now     func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a machine in the CREATED state.
func New(opts ...Option) *Machine {
	return NewAt(models.StatusCreated, opts...)
}

// NewAt creates a machine in an arbitrary state, used when rehydrating a
// payment from storage.
func NewAt(state models.PaymentStatus, opts ...Option) *Machine {
	m := &Machine{state: state, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current status.
func (m *Machine) State() models.PaymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanFire reports whether trigger is legal in the current state.
func (m *Machine) CanFire(trigger Trigger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitions[m.state][trigger]
	return ok
}

// Fire applies trigger, returning the new status. The state is unchanged on
// error.
func (m *Machine) Fire(trigger Trigger) (models.PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := transitions[m.state][trigger]
	if !ok {
		return m.state, &InvalidTransitionError{From: m.state, Trigger: trigger}
	}
	m.history = append(m.history, Transition{
		From:      m.state,
		To:        next,
		Trigger:   trigger,
		Timestamp: m.now(),
	})
	m.state = next
	return next, nil
}

// History returns a copy of all transitions applied so far, in order.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Terminal reports whether the machine can make no further transitions.
func (m *Machine) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(transitions[m.state]) == 0
}

// AllowedTriggers lists the triggers legal in the current state.
func (m *Machine) AllowedTriggers() []Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Trigger, 0, len(transitions[m.state]))
	for t := range transitions[m.state] {
		out = append(out, t)
	}
	return out
}

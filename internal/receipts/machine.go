package receipts

import (
	"errors"
	"fmt"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

// Trigger names an event that moves a receipt between statuses.
type Trigger string

const (
	TriggerQueue    Trigger = "queue"
	TriggerSelect   Trigger = "select"
	TriggerComplete Trigger = "complete"
	TriggerFail     Trigger = "fail"
	TriggerCancel   Trigger = "cancel"
)

// Triggers lists every known trigger.
var Triggers = []Trigger{TriggerQueue, TriggerSelect, TriggerComplete, TriggerFail, TriggerCancel}

// transitions is the complete lifecycle table: trigger -> from -> to.
// Anything not listed here is illegal.
var transitions = map[Trigger]map[constants.ReceiptStatus]constants.ReceiptStatus{
	TriggerQueue: {
		constants.ReceiptStatusCreated: constants.ReceiptStatusWaiting,
	},
	TriggerSelect: {
		constants.ReceiptStatusWaiting: constants.ReceiptStatusProcessing,
	},
	TriggerComplete: {
		constants.ReceiptStatusProcessing: constants.ReceiptStatusCompleted,
	},
	TriggerFail: {
		constants.ReceiptStatusProcessing: constants.ReceiptStatusFailed,
		constants.ReceiptStatusWaiting:    constants.ReceiptStatusFailed,
		constants.ReceiptStatusCreated:    constants.ReceiptStatusFailed,
	},
	TriggerCancel: {
		constants.ReceiptStatusWaiting: constants.ReceiptStatusCanceled,
	},
}

// ErrIllegalTransition matches every IllegalTransitionError via errors.Is.
var ErrIllegalTransition = errors.New("illegal transition")

// IllegalTransitionError reports a trigger fired from a status that has no edge for it.
type IllegalTransitionError struct {
	From    constants.ReceiptStatus
	Trigger Trigger
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("can't trigger event %s from state %s", e.Trigger, e.From)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Unwrap lets the HTTP layer map the error to 409.
func (e *IllegalTransitionError) Unwrap() error {
	return common.ErrConflict
}

// ParseTrigger converts a name into a Trigger, rejecting unknown names.
func ParseTrigger(name string) (Trigger, error) {
	t := Trigger(name)
	if _, ok := transitions[t]; !ok {
		return "", common.InvalidArgumentErrorf("unknown trigger %q", name)
	}
	return t, nil
}

// Next returns the status reached by firing trigger from "from".
// It has no side effects; persisting the result is the caller's job.
func Next(from constants.ReceiptStatus, trigger Trigger) (constants.ReceiptStatus, error) {
	to, ok := transitions[trigger][from]
	if !ok {
		return from, &IllegalTransitionError{From: from, Trigger: trigger}
	}
	return to, nil
}

// IsTerminal reports whether no trigger leaves status.
func IsTerminal(status constants.ReceiptStatus) bool {
	for _, edges := range transitions {
		if _, ok := edges[status]; ok {
			return false
		}
	}
	return true
}

package pipeline

import (
	"errors"
	"fmt"
)

// Step names, in execution order.
const (
	StepFetchTicket     = "fetch-ticket"
	StepTriage          = "triage"
	StepSelectModerator = "select-moderator"
	StepUpdateTicket    = "update-ticket"
	StepNotify          = "notify"
)

// Kind classifies a failed step.
type Kind int

const (
	// Retriable failures may succeed on redelivery (store unreachable, timeouts).
	Retriable Kind = iota
	// Fatal failures cannot be fixed by redelivery (missing ticket, nobody to assign).
	Fatal
)

func (k Kind) String() string {
	if k == Fatal {
		return "fatal"
	}
	return "retriable"
}

// StepError is the failure half of a step result.
type StepError struct {
	Step   string
	Kind   Kind
	Reason string
	Err    error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Step, e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Step, e.Kind, e.Reason)
}

func (e *StepError) Unwrap() error { return e.Err }

// Permanent lets the event worker dead-letter fatal failures without retrying.
func (e *StepError) Permanent() bool { return e.Kind == Fatal }

func fatal(step, reason string, err error) *StepError {
	return &StepError{Step: step, Kind: Fatal, Reason: reason, Err: err}
}

func retriable(step, reason string, err error) *StepError {
	return &StepError{Step: step, Kind: Retriable, Reason: reason, Err: err}
}

// asStepError classifies an error returned by a step body; untyped errors are retriable.
func asStepError(step string, err error) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		return se
	}
	return retriable(step, "unexpected error", err)
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the gateway's failure taxonomy. A pending confirmation
// is a normal response, not an error.
var (
	ErrPolicyDenied      = errors.New("action denied by policy")
	ErrModeDenied        = errors.New("action denied by safety mode")
	ErrSelfProtectDenied = errors.New("target is a protected gateway resource")
	ErrActionTimeout     = errors.New("action exceeded its time budget")
	ErrActionFailure     = errors.New("action failed")
	ErrInfrastructure    = errors.New("action infrastructure failure")
)

// DenialError carries the reason and detail for a non-successful outcome.
// It unwraps to one of the sentinel errors above.
type DenialError struct {
	Outcome Outcome
	Detail  string
	Err     error
}

func (e *DenialError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	}
	return e.Err.Error()
}

func (e *DenialError) Unwrap() error { return e.Err }

// NewDenial builds a DenialError for outcome with the matching sentinel.
func NewDenial(outcome Outcome, detail string) *DenialError {
	return &DenialError{Outcome: outcome, Detail: detail, Err: sentinelFor(outcome)}
}

func sentinelFor(o Outcome) error {
	switch o {
	case OutcomeDeniedPolicy, OutcomeDeniedPattern:
		return ErrPolicyDenied
	case OutcomeDeniedMode:
		return ErrModeDenied
	case OutcomeDeniedSelfProtect:
		return ErrSelfProtectDenied
	case OutcomeTimeout:
		return ErrActionTimeout
	case OutcomeExecutedError:
		return ErrActionFailure
	default:
		return ErrInfrastructure
	}
}

type infraError struct{ err error }

func (e *infraError) Error() string { return e.err.Error() }

func (e *infraError) Unwrap() []error { return []error{ErrInfrastructure, e.err} }

// Infrastructure marks err as a failure of the execution surface rather than
// a domain failure of the action itself.
func Infrastructure(err error) error {
	if err == nil {
		return nil
	}
	return &infraError{err: err}
}

// IsInfrastructure reports whether err was marked with Infrastructure.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}

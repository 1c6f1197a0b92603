package domain

import "time"

// AnonymousActor is recorded when a request carries no actor identity.
const AnonymousActor = "anonymous"

// ActionRequest is one inbound command instance. It is built fresh per call
// and never mutated by the gateway.
type ActionRequest struct {
	ActionName string         `json:"action_name" validate:"required,max=128"`
	Params     map[string]any `json:"params,omitempty"`
	Confirmed  bool           `json:"confirmed"`
	ActorID    string         `json:"actor_id,omitempty" validate:"max=256"`
	Category   string         `json:"category,omitempty" validate:"max=64"`
	Source     string         `json:"-"` // channel the request came from (http, telegram, cli)
}

// Actor returns the actor identity, defaulting to AnonymousActor.
func (r ActionRequest) Actor() string {
	if r.ActorID == "" {
		return AnonymousActor
	}
	return r.ActorID
}

// Reason is the stable machine-readable denial vocabulary of a failed response.
type Reason string

const (
	ReasonPolicy      Reason = "policy"
	ReasonPattern     Reason = "pattern"
	ReasonMode        Reason = "mode"
	ReasonSelfProtect Reason = "selfprotect"
	ReasonTimeout     Reason = "timeout"
	ReasonInternal    Reason = "internal"
	ReasonAction      Reason = "action" // the action ran and reported a domain error
)

// Outcome is the audit classification of a resolved request.
type Outcome string

const (
	OutcomeDeniedPolicy         Outcome = "denied_policy"
	OutcomeDeniedPattern        Outcome = "denied_pattern"
	OutcomeDeniedMode           Outcome = "denied_mode"
	OutcomeDeniedSelfProtect    Outcome = "denied_selfprotect"
	OutcomeConfirmationRequired Outcome = "confirmation_required"
	OutcomeExecutedOK           Outcome = "executed_ok"
	OutcomeExecutedError        Outcome = "executed_error"
	OutcomeTimeout              Outcome = "timeout"
	OutcomeInternalError        Outcome = "internal_error"
)

// Reason maps an outcome to the response reason. Non-failing outcomes map to "".
func (o Outcome) Reason() Reason {
	switch o {
	case OutcomeDeniedPolicy:
		return ReasonPolicy
	case OutcomeDeniedPattern:
		return ReasonPattern
	case OutcomeDeniedMode:
		return ReasonMode
	case OutcomeDeniedSelfProtect:
		return ReasonSelfProtect
	case OutcomeTimeout:
		return ReasonTimeout
	case OutcomeInternalError:
		return ReasonInternal
	case OutcomeExecutedError:
		return ReasonAction
	default:
		return ""
	}
}

// Denied reports whether the outcome was produced by policy evaluation (steps 1-4).
func (o Outcome) Denied() bool {
	switch o {
	case OutcomeDeniedPolicy, OutcomeDeniedPattern, OutcomeDeniedMode, OutcomeDeniedSelfProtect:
		return true
	}
	return false
}

// Response is what the gateway returns to the caller. Exactly one of the
// three shapes is populated: success with Result, confirmation with Info,
// or failure with Error and Reason.
type Response struct {
	Success              bool    `json:"success"`
	Result               any     `json:"result,omitempty"`
	ExecutionTime        float64 `json:"execution_time,omitempty"` // seconds
	RequiresConfirmation bool    `json:"requires_confirmation,omitempty"`
	Info                 string  `json:"info,omitempty"`
	Error                string  `json:"error,omitempty"`
	Reason               Reason  `json:"reason,omitempty"`

	RequestID string  `json:"request_id,omitempty"`
	Outcome   Outcome `json:"-"`
}

// Decision is the result of pure policy evaluation (steps 1-5).
type Decision struct {
	Outcome        Outcome       `json:"outcome"`
	Allowed        bool          `json:"allowed"` // true when the request would be dispatched
	Detail         string        `json:"detail,omitempty"`
	MatchedPattern string        `json:"matched_pattern,omitempty"`
	ResolvedPath   string        `json:"resolved_path,omitempty"`
	Info           string        `json:"info,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	Resource       string        `json:"resource,omitempty"`
}

package models

import "fmt"

// Verdict is a rule's decision that an actor must be punished.
type Verdict struct {
	ID     string
	Module ModuleName
	Rule   string
	Actor  Actor
	Reason string
	Action Action
}

type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeDenied      OutcomeKind = "permission_denied"
	OutcomeNotFound    OutcomeKind = "not_found"
	OutcomeUnsupported OutcomeKind = "unsupported_for_target"
	OutcomeFailed      OutcomeKind = "failed"
)

// Outcome reports what the punishment executor actually did.
type Outcome struct {
	Kind     OutcomeKind
	Action   Action
	Fallback bool
	Err      error
}

func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		switch o.Action {
		case ActionBan:
			return "banned"
		case ActionKick:
			if o.Fallback {
				return "kicked (bot fallback)"
			}
			return "kicked"
		case ActionTimeout:
			return "timed out"
		default:
			return "warned"
		}
	case OutcomeDenied:
		return "failed: no permission"
	case OutcomeNotFound:
		return "failed: not found"
	case OutcomeUnsupported:
		return "failed: unsupported for target"
	default:
		if o.Err != nil {
			return fmt.Sprintf("failed: %v", o.Err)
		}
		return "failed"
	}
}

package launcher

import "github.com/Yinuo-Yao/xhs-recipe/internal/errors"

// StateKind enumerates the launcher connection lifecycle.
type StateKind string

const (
	StateIdle      StateKind = "idle"
	StateDisabled  StateKind = "disabled"
	StateNeedsPath StateKind = "needs_path"
	StateStarting  StateKind = "starting"
	StateReady     StateKind = "ready"
	StateError     StateKind = "error"
)

// Action is a suggested remediation shown to the user.
type Action struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

// ConnectionState is the current launcher state. Exactly one is current at a
// time; it is mutated only by the launcher during an EnsureStarted attempt.
type ConnectionState struct {
	Kind    StateKind        `json:"kind"`
	Message string           `json:"message"`
	Code    errors.ErrorCode `json:"code,omitempty"`
	Detail  string           `json:"detail,omitempty"`
	Actions []Action         `json:"actions,omitempty"`
}

func stateDisabled(msg string) ConnectionState {
	return ConnectionState{Kind: StateDisabled, Message: msg}
}

func stateNeedsPath() ConnectionState {
	return ConnectionState{
		Kind:    StateNeedsPath,
		Message: "tool server executable path is not configured",
		Actions: []Action{{Kind: "configure", Label: "Set server_path in config.json"}},
	}
}

func stateStarting(msg string) ConnectionState {
	return ConnectionState{Kind: StateStarting, Message: msg}
}

func stateReady(msg string) ConnectionState {
	return ConnectionState{Kind: StateReady, Message: msg}
}

func stateError(code errors.ErrorCode, msg, detail string, actions ...Action) ConnectionState {
	return ConnectionState{Kind: StateError, Message: msg, Code: code, Detail: detail, Actions: actions}
}

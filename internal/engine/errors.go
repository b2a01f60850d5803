package engine

import "fmt"

// Kind is the error taxonomy spec §7 defines by behavior, not by Go type.
// A kind tags a wrapped error for logging; the dispatch loop does not
// branch on it, and the handling noted on each kind below is done by the
// component that meets the error.
type Kind string

const (
	// KindTransientSDK is a retryable broker/network error. Policy: bounded
	// retry with jitter inside the executor, then surfaced as a partial
	// enforcement failure.
	KindTransientSDK Kind = "transient_sdk"
	// KindStoreFailure is persistent-store I/O failure on the enforcement
	// path. A failed lockout write is logged and the engine continues
	// without blocking; the write is not retried and no alert_only
	// violation is published for it.
	KindStoreFailure Kind = "store_failure"
	// KindConfigInvalid is detected at load time; the process exits with
	// code 2 and never reaches the dispatch loop.
	KindConfigInvalid Kind = "config_invalid"
	// KindProtocolError is an unexpected payload shape from the SDK.
	// Policy: log structured error with raw payload, drop the event.
	KindProtocolError Kind = "protocol_error"
	// KindRuleBug is a panic or error escaping a rule's Evaluate. Policy:
	// log with full context, continue with the next rule; the rule stays
	// enabled.
	KindRuleBug Kind = "rule_bug"
	// KindAuthLost marks a lost connection/auth. The engine never
	// auto-flattens on disconnect; auth_loss_guard alerts instead.
	KindAuthLost Kind = "auth_lost"
)

// Error wraps an underlying error with the taxonomy kind and the
// operation it occurred in, so dispatch-loop logging can branch on kind
// without parsing message text.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

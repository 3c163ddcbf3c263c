package kestrel

import (
	"errors"
	"fmt"
)

// Sentinel errors for deterministic loop and control-surface outcomes.
// Terminal run states carry one of these as their structured reason, so
// callers can distinguish a guard trip from a provider failure.
var (
	// ErrStepLimitExceeded is returned when a loop exceeds its configured
	// maximum step count.
	ErrStepLimitExceeded = errors.New("kestrel: maximum steps exceeded")

	// ErrLoopGuardTriggered is returned when consecutive steps repeat the
	// exact same tool call with no progress.
	ErrLoopGuardTriggered = errors.New("kestrel: loop guard triggered: repeated identical tool call")

	// ErrUnknownTool is returned when a call names a tool that is not
	// registered.
	ErrUnknownTool = errors.New("kestrel: unknown tool")

	// ErrToolAlreadyRegistered is returned when a tool name is registered
	// twice.
	ErrToolAlreadyRegistered = errors.New("kestrel: tool already registered")

	// ErrApprovalDecided is the conflict returned when a decision is applied
	// to an approval that has already been approved or rejected.
	ErrApprovalDecided = errors.New("kestrel: approval already decided")

	// ErrApprovalNotFound is returned for an unknown approval id.
	ErrApprovalNotFound = errors.New("kestrel: approval not found")

	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("kestrel: run not found")

	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("kestrel: session not found")

	// ErrSessionBusy is the conflict returned when a message is submitted to
	// a session whose current run is not terminal yet.
	ErrSessionBusy = errors.New("kestrel: session already has an active run")

	// ErrInterrupted is the reason attached to a run that terminated because
	// an interrupt was requested.
	ErrInterrupted = errors.New("kestrel: run interrupted")
)

// TransientError marks a failure as retryable: network hiccups, rate limits,
// 5xx-class provider responses. The Retry policy sleeps and tries again.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError marks a failure as non-retryable: authentication,
// validation, unparsable provider payloads. The Retry policy aborts
// immediately without sleeping.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as non-retryable.
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is marked retryable. Unclassified errors
// are treated as transient: a provider adapter that cannot tell should let
// the backoff absorb the ambiguity rather than fail a run on a blip.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	return true
}

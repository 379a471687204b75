// Package execerrors collects the typed error-kind taxonomy shared by the
// execution core, unifying the mixed exception-and-return-code style of
// the system this was ported from (see DESIGN.md) under one classification
// scheme: every component boundary translates a low-level failure into one
// of these kinds before it crosses into the orchestrator or worker loop.
package execerrors

import "fmt"

// Kind classifies an execution-core error for retry/propagation decisions.
type Kind string

const (
	// Plan parsing failures. Fatal to the session: no records are created.
	KindPlanNotFound      Kind = "plan.not_found"
	KindPlanEmpty         Kind = "plan.empty"
	KindPlanMalformedBatch Kind = "plan.malformed_batch"

	// Orchestrator/database failures. Surfaced to the caller; the
	// transaction they occurred in is rolled back.
	KindOrchestratorEmptyRange Kind = "orchestrator.empty_range"
	KindOrchestratorStore      Kind = "orchestrator.store_error"

	// Non-error: signals an immediate re-poll after a lost claim race.
	KindClaimLostRace Kind = "claim.lost_race"

	// Pool-level failures.
	KindPoolAcquireTimeout Kind = "pool.acquire_timeout"
	KindPoolResetError     Kind = "pool.reset_error"

	// Task-level executor failures. Recorded on the task; never fail the
	// batch outright (a batch fails only via an explicit MarkBatchFailed).
	KindExecBranchError    Kind = "exec.branch_error"
	KindExecAgentTimeout   Kind = "exec.agent_timeout"
	KindExecAgentNotFound  Kind = "exec.agent_not_found"
	KindExecVCSError       Kind = "exec.vcs_error"
	KindExecPublishError   Kind = "exec.publish_error"
	KindExecReviewExhausted Kind = "exec.review_exhausted"
	KindExecSandboxTimeout Kind = "exec.sandbox_acquire_timeout"
	KindExecTaskTimeout    Kind = "exec.task_timeout"

	// Uncaught failure in a worker loop; the owning session fails and its
	// workers exit.
	KindSessionFatal Kind = "session.fatal"
)

// Error is a classified execution-core error wrapping an underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an underlying error under the given kind.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is an *Error of the given kind, unwrapping
// through the standard error chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

package signal

import "fmt"

// Rejection reasons are shown verbatim by the web client, keep the wording.
const (
	msgNoPresenter    = "No active sender now. Become sender or . Try again later ..."
	msgAlreadyViewing = "You are already viewing in this session. " +
		"Use a different browser to add additional viewers."
	msgPresenterTaken = "Another user is currently acting as sender. Try again later ..."
)

// ConflictError means a role is already held by another party.
type ConflictError struct{ Reason string }

func (e *ConflictError) Error() string { return e.Reason }

// NotFoundError means a referenced presenter or session does not exist
// or is no longer active.
type NotFoundError struct{ Reason string }

func (e *NotFoundError) Error() string { return e.Reason }

// NegotiationError means the media service rejected the offer or
// failed to allocate resources.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *NegotiationError) Unwrap() error { return e.Err }

func negotiationFail(op string, err error) *NegotiationError {
	return &NegotiationError{Op: op, Err: err}
}

package handoff

import "errors"

// Sentinel errors surfaced by the controller as precondition failures
// (spec.md §7's "Precondition" error kind).
var (
	ErrCancelled = errors.New("cancelled")
	ErrNoEntries = errors.New("no session entries to hand off")
	ErrNoTurns   = errors.New("no conversation turns to hand off")
)

// IsCancelled reports whether err represents a user cancellation rather
// than a genuine failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

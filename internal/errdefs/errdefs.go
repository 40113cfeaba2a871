// Package errdefs holds the façade's recoverable error kinds (§7): the four
// conditions a well-behaved client can expect and handle, as distinct from
// invariant violations (programmer errors), which the rest of this module
// reports by panicking with a github.com/pkg/errors-wrapped cause instead of
// returning one of these. Grounded on a stable error-code catalog shape —
// adapted from string diagnostic codes to errors.Is-compatible sentinel
// values, since this module has no source positions to attach to a
// compiler-style diagnostic.
package errdefs

import "errors"

// InfeasibleBranch is returned by StepInto when the requested branch has no
// samples left to step into (§4.G / façade step operations).
var InfeasibleBranch = errors.New("probwp: requested branch is infeasible for the current sample population")

// AlreadyTerminated is returned by any step/run operation invoked once the
// debugger's state has already reached the program's Return position.
var AlreadyTerminated = errors.New("probwp: execution has already reached the program's return position")

// NoSavedState is returned by RestoreState when the save stack holds only
// its baseline entry (no real checkpoint has been pushed since construction
// or the last JumpToState).
var NoSavedState = errors.New("probwp: no saved state to restore")

// UnknownVariable is returned by Slice when asked about a
// source variable absent from the current position's DebugEntry.
var UnknownVariable = errors.New("probwp: unknown source variable at the current position")

// Is reports whether err wraps target, delegating to the standard library's
// chain-aware comparison (every error returned by this package's callers is
// wrapped with fmt.Errorf("...: %w", ...), never re-created from scratch).
func Is(err, target error) bool {
	return errors.Is(err, target)
}

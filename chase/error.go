package chase

import "errors"

// Sentinel errors for the coded failure reasons of spec.md §7. Chasers
// never panic or throw for expected failures; every fallible path returns
// one of these (or wraps one with fmt.Errorf's %w) so callers can branch
// with errors.Is.
var (
	// Transient network.
	ErrSlowChannel      = errors.New("chase: slow channel")
	ErrStalledChannel   = errors.New("chase: stalled channel")
	ErrExhaustedChannel = errors.New("chase: exhausted channel")
	ErrSuspendedChannel = errors.New("chase: suspended channel")

	// Consensus failures.
	ErrInvalidHeader = errors.New("chase: invalid header")
	ErrInvalidBlock  = errors.New("chase: invalid block")

	// Store faults.
	ErrStoreFault = errors.New("chase: store fault")

	// Space exhaustion (not a fault).
	ErrSpaceExhausted = errors.New("chase: space exhausted")

	// Service lifecycle.
	ErrServiceStopped = errors.New("chase: service stopped")
)

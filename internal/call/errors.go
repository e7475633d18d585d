package call

import "errors"

// Error taxonomy surfaced to callers. Transient ledger failures during
// billing ticks are recovered locally and never appear here.
var (
	// ErrInsufficientBalance: payer below the minimum start balance at
	// initiation. No session is created.
	ErrInsufficientBalance = errors.New("call: insufficient balance")

	// ErrDuplicateSession: a participant is already party to an active
	// (non-ended) session. No session is created.
	ErrDuplicateSession = errors.New("call: duplicate session")

	// ErrSessionNotFound: unknown or already-removed session ID.
	ErrSessionNotFound = errors.New("call: session not found")

	// ErrInvalidTransition: operation not valid in the session's state
	// (e.g. accept after the call connected or ended).
	ErrInvalidTransition = errors.New("call: invalid transition")

	// ErrLedgerUnavailable: the ledger could not be reached during the
	// initiation balance check. No session is created.
	ErrLedgerUnavailable = errors.New("call: ledger unavailable")

	// ErrInvalidArgument: malformed input (empty payer, no callees, ...).
	ErrInvalidArgument = errors.New("call: invalid argument")
)

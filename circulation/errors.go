package circulation

import (
	"errors"
)

// Expected, recoverable validation failures. Callers discriminate with
// errors.Is and surface them for display; they are never retried
// automatically by the engines.
var (
	ErrItemNotFound        = errors.New("catalogue item not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrMemberSuspended     = errors.New("member is suspended")
	ErrNoCopiesAvailable   = errors.New("no copies available")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrLoanAlreadyReturned = errors.New("loan is already returned")
)

// Refused removals: entities referenced by active loans cannot be deleted.
var (
	ErrItemHasActiveLoans   = errors.New("item has active loans")
	ErrMemberHasActiveLoans = errors.New("member has active loans")
)

// ErrCorruptedInventory signals an inventory invariant violation that was
// detected, not caused, by the current caller: releasing a copy would push
// the available count above the total. It is reported loudly instead of
// silently clamping the counter.
var ErrCorruptedInventory = errors.New("corrupted inventory, available copies would exceed total copies")

// ErrLockTimeout is returned when a bounded-wait lock acquisition expires.
// It is retryable at the caller's discretion; the engines perform no
// implicit retry.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Validation errors on catalogue and registry writes.
var (
	ErrEmptyItemCode       = errors.New("empty item code supplied")
	ErrEmptyMemberCode     = errors.New("empty member code supplied")
	ErrDuplicateItemCode   = errors.New("item code is already catalogued")
	ErrDuplicateMemberCode = errors.New("member code is already registered")
	ErrInvalidCopyCount    = errors.New("total copies must cover outstanding loans and be at least 1")
	ErrInvalidLoanPeriod   = errors.New("loan period days must be positive")
	ErrInvalidFineRate     = errors.New("daily fine rate must not be negative")
	ErrInvalidStanding     = errors.New("standing must be normal or suspended")
)

// Engine construction errors.
var (
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
	ErrInvalidTablePrefix    = errors.New("table prefix must be a plain identifier")
	ErrInvalidDialect        = errors.New("dialect must be postgres or sqlite3")
)

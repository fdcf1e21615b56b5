// risk/errors.go
package risk

import "errors"

// Error taxonomy of the hedge engine core. Gateway failures (order rejected,
// close failed) live in the exchange package.
var (
	// ErrInvalidConfiguration is fatal and rejected before a cycle starts.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInsufficientBalance is fatal for the cycle being sized: no legs are opened.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateLevel signals a broken ladder invariant, i.e. a bug in the transition logic.
	ErrDuplicateLevel = errors.New("duplicate ladder level")
	// ErrGridExhausted is recoverable: the controller forces a close-all.
	ErrGridExhausted = errors.New("grid exhausted")
)

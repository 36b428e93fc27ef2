package escrow

import "errors"

// Error taxonomy surfaced across the core boundary. ErrInvalidState and
// ErrNotFound are terminal for the caller; ErrStoreUnavailable is retryable
// with bounded backoff.
var (
	ErrNotFound            = errors.New("escrow: not found")
	ErrUnauthorized        = errors.New("escrow: caller not permitted")
	ErrInvalidState        = errors.New("escrow: invalid state for transition")
	ErrInvalidQuantity     = errors.New("escrow: invalid quantity")
	ErrValidation          = errors.New("escrow: invalid input")
	ErrWalletNotConfigured = errors.New("escrow: no wallet configured for asset")
	ErrStoreUnavailable    = errors.New("escrow: store unavailable")
)

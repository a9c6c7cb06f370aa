package attestation

import "errors"

// Collector failure classes. Callers dispatch with errors.Is.
//
// ErrUnavailable is the expected state outside a confidential VM and is
// folded into classification as a degraded tier, never treated as fatal.
// ErrMalformedQuote is an integrity failure and must be surfaced verbatim.
var (
	ErrUnavailable    = errors.New("attestation environment unavailable")
	ErrMalformedQuote = errors.New("malformed attestation quote")
	ErrNetwork        = errors.New("attestation network error")
	ErrTimeout        = errors.New("attestation timeout")
)

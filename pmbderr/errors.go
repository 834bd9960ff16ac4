// Package pmbderr defines the error taxonomy shared by every pmbd
// component. Errors are returned wrapping one of the sentinels below,
// including most invariant violations (wrapping ErrInternalInvariant).
// A write-verification mismatch and an out-of-range PBI lookup are
// raised with log.Panic at the call site instead of returned.
package pmbderr

import "errors"

var (
	// ErrBadConfig marks a malformed or inconsistent configuration. It is
	// only ever returned during activation.
	ErrBadConfig = errors.New("pmbd: bad config")

	// ErrOutOfRange marks a request that falls outside the device's
	// addressable capacity.
	ErrOutOfRange = errors.New("pmbd: request out of range")

	// ErrOutOfMemory marks an allocation failure during activation or in
	// the request path (e.g. no buffer slot available after a synchronous
	// flush).
	ErrOutOfMemory = errors.New("pmbd: out of memory")

	// ErrWriteVerificationFailed marks a wrverify mismatch. The caller is
	// expected to treat this as fatal; the core panics after reporting it.
	ErrWriteVerificationFailed = errors.New("pmbd: write verification failed")

	// ErrChecksumMismatch marks a checksum mismatch detected on read. It
	// is non-fatal: the read still returns the bytes it found.
	ErrChecksumMismatch = errors.New("pmbd: checksum mismatch")

	// ErrInternalInvariant marks a ring-position or PBI/BBI inconsistency.
	// Callers should treat it as fatal.
	ErrInternalInvariant = errors.New("pmbd: internal invariant violated")
)

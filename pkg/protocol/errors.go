package protocol

import "errors"

// ErrMalformedMessage is returned when a wire buffer cannot be decoded:
// truncation, an out-of-range enum ordinal, or a violated structural
// invariant. Wrapped errors carry detail; match with errors.Is.
var ErrMalformedMessage = errors.New("malformed message")

// ErrInvalidFusion is returned when two responses that may not legally be
// merged are combined. This is an internal-logic guard, never an expected
// runtime condition.
var ErrInvalidFusion = errors.New("invalid fusion")

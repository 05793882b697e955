package frame

import "errors"

// Error kinds shared across the wire-level packages.
var (
	ErrInvalidPayload    = errors.New("frame: invalid payload")
	ErrIncorrectDataSize = errors.New("frame: incorrect data size")
	ErrCRCFailure        = errors.New("frame: crc failure")
)

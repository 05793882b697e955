package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload    = errors.New("protocol: invalid payload")
	ErrIncorrectDataSize = errors.New("protocol: incorrect data size")
)

// ErrInvalidCommand reports a command or event type code this codec does
// not recognize.
type ErrInvalidCommand struct {
	Code uint8
}

func (e *ErrInvalidCommand) Error() string {
	return fmt.Sprintf("protocol: invalid command/event type %d", e.Code)
}

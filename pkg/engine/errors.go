package engine

import (
	"errors"
	"fmt"
)

var (
	ErrSendFailed    = errors.New("send failed")
	ErrClosed        = errors.New("engine closed")
	ErrNotSubscribed = errors.New("channel not subscribed")
	ErrSubscribed    = errors.New("channel is subscribed")
	ErrNotSupported  = errors.New("not supported by remote log")
)

// SendError is returned by Send. It matches both ErrSendFailed and the
// underlying cause under errors.Is.
type SendError struct {
	ChannelID string
	Reason    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.ChannelID, e.Reason)
}

func (e *SendError) Unwrap() []error {
	return []error{ErrSendFailed, e.Reason}
}

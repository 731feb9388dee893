package remote

import (
	"errors"

	"chatsync/pkg/models"
)

var (
	// ErrRemoteUnavailable marks transient transport failures.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrInvalidName       = models.ErrInvalidName
	ErrChannelNotFound   = errors.New("channel not found")
)

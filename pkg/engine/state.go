package engine

import (
	"sync"
	"time"

	"chatsync/pkg/models"
	"chatsync/pkg/remote"
)

// State is the lifecycle of a channel's remote message subscription.
type State int

const (
	Unsubscribed State = iota
	Subscribing
	Live
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	default:
		return "unsubscribed"
	}
}

// channelState is guarded by Engine.mu except mergeMu, which serializes
// merge-then-publish for the channel.
type channelState struct {
	state    State
	refs     int
	sub      remote.Subscription
	gen      uint64
	released time.Time

	msgs   []models.Message
	loaded bool
	dirty  bool

	mergeMu sync.Mutex
}

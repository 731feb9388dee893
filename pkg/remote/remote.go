// Package remote defines the authoritative, networked side of the sync core:
// an append-only message log per channel plus the channel collection, both
// observable through full-snapshot subscriptions.
package remote

import (
	"context"
	"sync"

	"chatsync/pkg/models"
)

// Log is the transport boundary. Backends deliver a full snapshot on
// subscribe and a new full snapshot after every change. Callbacks for one
// subscription are never run concurrently and arrive in transport order.
type Log interface {
	CreateChannel(ctx context.Context, name string) (models.Channel, error)
	AppendMessage(ctx context.Context, channelID, content, senderID, senderName string) (models.Message, error)
	SubscribeChannels(onUpdate func([]models.Channel)) Subscription
	SubscribeMessages(channelID string, onUpdate func([]models.Message)) Subscription
}

// ChannelDeleter is implemented by backends that support removing a channel.
type ChannelDeleter interface {
	DeleteChannel(ctx context.Context, channelID string) error
}

// Subscription stops a live snapshot feed. Cancel is idempotent; once it
// returns no new callback starts, though one already running may finish.
type Subscription interface {
	Cancel()
}

// ErrorHandler receives delivery errors. Backends report an outage once and
// keep trying to reconnect.
type ErrorHandler func(err error)

// OutageReporter dedupes delivery errors so that each outage is reported a
// single time until Recovered is called.
type OutageReporter struct {
	mu      sync.Mutex
	handler ErrorHandler
	down    bool
}

func NewOutageReporter(h ErrorHandler) *OutageReporter {
	return &OutageReporter{handler: h}
}

// Report forwards err if this is the first failure since the last recovery.
func (r *OutageReporter) Report(err error) {
	r.mu.Lock()
	first := !r.down
	r.down = true
	h := r.handler
	r.mu.Unlock()
	if first && h != nil {
		h(err)
	}
}

func (r *OutageReporter) Recovered() {
	r.mu.Lock()
	r.down = false
	r.mu.Unlock()
}

// SubscriptionFunc adapts a function to Subscription, running it at most once.
type SubscriptionFunc struct {
	once sync.Once
	fn   func()
}

func NewSubscriptionFunc(fn func()) *SubscriptionFunc {
	return &SubscriptionFunc{fn: fn}
}

func (s *SubscriptionFunc) Cancel() {
	s.once.Do(func() {
		if s.fn != nil {
			s.fn()
		}
	})
}

//go:generate mockgen -destination=mock/mock_remote.go -package=mock chatsync/pkg/remote Log,Subscription

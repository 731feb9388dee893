// Package memlog is an in-process remote.Log. It is the authoritative log for
// tests and single-node deployments, and the backing log hosted by natslog.
package memlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/models"
	"chatsync/pkg/remote"
)

type Option func(*Log)

// WithClock overrides the time source used for channel and message timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithIDGenerator overrides uuid id assignment.
func WithIDGenerator(gen func() string) Option {
	return func(l *Log) { l.newID = gen }
}

// WithErrorHandler receives an outage notice each time the log goes offline.
func WithErrorHandler(h remote.ErrorHandler) Option {
	return func(l *Log) { l.onError = h }
}

type channelEntry struct {
	channel  models.Channel
	messages []models.Message
}

type Log struct {
	now     func() time.Time
	newID   func() string
	onError remote.ErrorHandler

	mu       sync.Mutex
	channels map[string]*channelEntry
	order    []string
	offline  bool
	nextSub  uint64
	chanSubs map[uint64]*remote.Feed[models.Channel]
	msgSubs  map[string]map[uint64]*remote.Feed[models.Message]
	reporter *remote.OutageReporter
}

var (
	_ remote.Log            = (*Log)(nil)
	_ remote.ChannelDeleter = (*Log)(nil)
)

func New(opts ...Option) *Log {
	l := &Log{
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		channels: make(map[string]*channelEntry),
		chanSubs: make(map[uint64]*remote.Feed[models.Channel]),
		msgSubs:  make(map[string]map[uint64]*remote.Feed[models.Message]),
	}
	for _, o := range opts {
		o(l)
	}
	l.reporter = remote.NewOutageReporter(l.onError)
	return l
}

// SetOffline simulates a network partition. While offline every call fails
// with remote.ErrRemoteUnavailable and no snapshots are delivered. Going back
// online redelivers the current state to every subscriber.
func (l *Log) SetOffline(offline bool) {
	l.mu.Lock()
	was := l.offline
	l.offline = offline
	l.mu.Unlock()
	if offline && !was {
		l.reporter.Report(fmt.Errorf("memlog: %w", remote.ErrRemoteUnavailable))
		return
	}
	if !offline && was {
		l.reporter.Recovered()
		l.mu.Lock()
		l.broadcastChannelsLocked()
		for id := range l.msgSubs {
			l.broadcastMessagesLocked(id)
		}
		l.mu.Unlock()
	}
}

func (l *Log) CreateChannel(ctx context.Context, name string) (models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return models.Channel{}, err
	}
	if err := models.ValidateChannelName(name); err != nil {
		return models.Channel{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return models.Channel{}, fmt.Errorf("create channel: %w", remote.ErrRemoteUnavailable)
	}
	ch := models.Channel{ID: l.newID(), Name: name}
	l.channels[ch.ID] = &channelEntry{channel: ch}
	l.order = append(l.order, ch.ID)
	l.broadcastChannelsLocked()
	return ch, nil
}

func (l *Log) AppendMessage(ctx context.Context, channelID, content, senderID, senderName string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return models.Message{}, fmt.Errorf("append message: %w", remote.ErrRemoteUnavailable)
	}
	entry, ok := l.channels[channelID]
	if !ok {
		return models.Message{}, fmt.Errorf("append message to %q: %w", channelID, remote.ErrChannelNotFound)
	}
	msg := models.Message{
		ID:         l.newID(),
		ChannelID:  channelID,
		Content:    content,
		Created:    l.now().UTC(),
		SenderID:   senderID,
		SenderName: senderName,
	}
	entry.messages = append(entry.messages, msg)
	entry.channel = models.ApplyLatest(entry.channel, entry.messages)
	l.broadcastMessagesLocked(channelID)
	l.broadcastChannelsLocked()
	return msg, nil
}

func (l *Log) DeleteChannel(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		return fmt.Errorf("delete channel: %w", remote.ErrRemoteUnavailable)
	}
	if _, ok := l.channels[channelID]; !ok {
		return fmt.Errorf("delete channel %q: %w", channelID, remote.ErrChannelNotFound)
	}
	delete(l.channels, channelID)
	for i, id := range l.order {
		if id == channelID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.broadcastMessagesLocked(channelID)
	l.broadcastChannelsLocked()
	return nil
}

// Channels returns the current channel collection.
func (l *Log) Channels() []models.Channel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.channelSnapshotLocked()
}

// Messages returns the messages of channelID in append order.
func (l *Log) Messages(channelID string) []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.messageSnapshotLocked(channelID)
}

func (l *Log) SubscribeChannels(onUpdate func([]models.Channel)) remote.Subscription {
	feed := remote.NewFeed(onUpdate)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.chanSubs[id] = feed
	if !l.offline {
		feed.Push(l.channelSnapshotLocked())
	}
	l.mu.Unlock()
	return remote.NewSubscriptionFunc(func() {
		feed.Cancel()
		l.mu.Lock()
		delete(l.chanSubs, id)
		l.mu.Unlock()
	})
}

func (l *Log) SubscribeMessages(channelID string, onUpdate func([]models.Message)) remote.Subscription {
	feed := remote.NewFeed(onUpdate)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	subs := l.msgSubs[channelID]
	if subs == nil {
		subs = make(map[uint64]*remote.Feed[models.Message])
		l.msgSubs[channelID] = subs
	}
	subs[id] = feed
	if !l.offline {
		feed.Push(l.messageSnapshotLocked(channelID))
	}
	l.mu.Unlock()
	return remote.NewSubscriptionFunc(func() {
		feed.Cancel()
		l.mu.Lock()
		if subs := l.msgSubs[channelID]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(l.msgSubs, channelID)
			}
		}
		l.mu.Unlock()
	})
}

// Subscribers reports the number of open message subscriptions on channelID.
func (l *Log) Subscribers(channelID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgSubs[channelID])
}

func (l *Log) channelSnapshotLocked() []models.Channel {
	out := make([]models.Channel, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.channels[id].channel)
	}
	return out
}

func (l *Log) messageSnapshotLocked(channelID string) []models.Message {
	entry, ok := l.channels[channelID]
	if !ok {
		return []models.Message{}
	}
	out := make([]models.Message, len(entry.messages))
	copy(out, entry.messages)
	return out
}

func (l *Log) broadcastChannelsLocked() {
	if l.offline || len(l.chanSubs) == 0 {
		return
	}
	snap := l.channelSnapshotLocked()
	for _, f := range l.chanSubs {
		f.Push(snap)
	}
}

func (l *Log) broadcastMessagesLocked(channelID string) {
	subs := l.msgSubs[channelID]
	if l.offline || len(subs) == 0 {
		return
	}
	snap := l.messageSnapshotLocked(channelID)
	for _, f := range subs {
		f.Push(snap)
	}
}

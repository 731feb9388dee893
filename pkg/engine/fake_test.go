package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
	"chatsync/pkg/remote"
	"chatsync/pkg/store"
)

// fakeRemote delivers snapshots synchronously when a test pushes them.
type fakeRemote struct {
	mu       sync.Mutex
	msgSubs  map[string][]*fakeSub[models.Message]
	chanSubs []*fakeSub[models.Channel]
	opened   map[string]int
}

type fakeSub[T any] struct {
	fn        func([]T)
	cancelled atomic.Bool
}

func (s *fakeSub[T]) Cancel() { s.cancelled.Store(true) }

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		msgSubs: make(map[string][]*fakeSub[models.Message]),
		opened:  make(map[string]int),
	}
}

func (f *fakeRemote) CreateChannel(ctx context.Context, name string) (models.Channel, error) {
	return models.Channel{}, errors.New("not used")
}

func (f *fakeRemote) AppendMessage(ctx context.Context, channelID, content, senderID, senderName string) (models.Message, error) {
	return models.Message{}, errors.New("not used")
}

func (f *fakeRemote) SubscribeChannels(fn func([]models.Channel)) remote.Subscription {
	s := &fakeSub[models.Channel]{fn: fn}
	f.mu.Lock()
	f.chanSubs = append(f.chanSubs, s)
	f.mu.Unlock()
	return s
}

func (f *fakeRemote) SubscribeMessages(channelID string, fn func([]models.Message)) remote.Subscription {
	s := &fakeSub[models.Message]{fn: fn}
	f.mu.Lock()
	f.msgSubs[channelID] = append(f.msgSubs[channelID], s)
	f.opened[channelID]++
	f.mu.Unlock()
	return s
}

func (f *fakeRemote) pushMessages(channelID string, msgs ...models.Message) {
	f.mu.Lock()
	subs := append([]*fakeSub[models.Message](nil), f.msgSubs[channelID]...)
	f.mu.Unlock()
	for _, s := range subs {
		if !s.cancelled.Load() {
			s.fn(append([]models.Message(nil), msgs...))
		}
	}
}

// pushStale delivers to every subscription ever opened, cancelled or not.
func (f *fakeRemote) pushStale(channelID string, msgs ...models.Message) {
	f.mu.Lock()
	subs := append([]*fakeSub[models.Message](nil), f.msgSubs[channelID]...)
	f.mu.Unlock()
	for _, s := range subs {
		s.fn(append([]models.Message(nil), msgs...))
	}
}

func (f *fakeRemote) pushChannels(chs ...models.Channel) {
	f.mu.Lock()
	subs := append([]*fakeSub[models.Channel](nil), f.chanSubs...)
	f.mu.Unlock()
	for _, s := range subs {
		if !s.cancelled.Load() {
			s.fn(append([]models.Channel(nil), chs...))
		}
	}
}

func (f *fakeRemote) openCount(channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[channelID]
}

func (f *fakeRemote) live(channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.msgSubs[channelID] {
		if !s.cancelled.Load() {
			n++
		}
	}
	return n
}

// failingStore fails every message upsert.
type failingStore struct {
	*store.DB
}

func (failingStore) Upsert(string, []models.Message) error {
	return store.ErrPersistence
}

// gatedStore parks the first message upsert until release is closed.
type gatedStore struct {
	*store.DB
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(db *store.DB) *gatedStore {
	return &gatedStore{DB: db, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) Upsert(channelID string, msgs []models.Message) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.DB.Upsert(channelID, msgs)
}

func openStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func message(id string, offset time.Duration, content string) models.Message {
	return models.Message{
		ID:         id,
		ChannelID:  "general",
		Content:    content,
		Created:    base.Add(offset),
		SenderID:   "u1",
		SenderName: "Ann",
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

// lastSeen records the most recent delivery to an observer.
type lastSeen[T any] struct {
	mu    sync.Mutex
	items []T
	calls int
}

func (l *lastSeen[T]) fn(items []T) {
	l.mu.Lock()
	l.items = items
	l.calls++
	l.mu.Unlock()
}

func (l *lastSeen[T]) get() ([]T, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items, l.calls
}

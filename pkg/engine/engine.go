// Package engine keeps the local cache in step with the remote log.
//
// The engine holds at most one remote message subscription per channel,
// shared by every caller through a reference count. Each remote snapshot is
// merged into the channel's in-memory state, written through to the store,
// and republished through the hub in (created, id) order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsync/pkg/hub"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/remote"
	"chatsync/pkg/store"
)

// Store is the local persistence the engine writes through to.
type Store interface {
	store.MessageStore
	store.ChannelRegistry
	Count(channelID string) (int, error)
}

type Option func(*Engine)

// WithClock overrides the time source used for idle eviction.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	remote remote.Log
	store  Store
	hub    *hub.Hub
	now    func() time.Time

	// mu guards bookkeeping only. It is never held while calling the remote
	// log, the store, or an observer.
	mu       sync.Mutex
	channels map[string]*channelState
	latest   map[string]*models.Message
	index    map[string]models.Channel
	indexed  bool
	chanSub  remote.Subscription
	chanGen  uint64
	started  time.Time
	closed   bool

	// chanMu serializes writes to the channel registry.
	chanMu sync.Mutex
}

var (
	_ hub.Tracker = (*Engine)(nil)
	_ hub.Loader  = (*Engine)(nil)
)

func New(log remote.Log, st Store, opts ...Option) *Engine {
	e := &Engine{
		remote:   log,
		store:    st,
		now:      time.Now,
		channels: make(map[string]*channelState),
		latest:   make(map[string]*models.Message),
		index:    make(map[string]models.Channel),
	}
	for _, o := range opts {
		o(e)
	}
	e.started = e.now()
	e.hub = hub.New(e, e)
	return e
}

// Hub returns the hub the engine publishes to.
func (e *Engine) Hub() *hub.Hub { return e.hub }

// Observe registers fn for channelID's ordered message list. The channel stays
// subscribed until the handle is released.
func (e *Engine) Observe(channelID string, fn func([]models.Message)) (*hub.Handle, error) {
	return e.hub.Observe(channelID, fn)
}

// ObserveChannels registers fn for the channel list.
func (e *Engine) ObserveChannels(fn func([]models.Channel)) *hub.Handle {
	return e.hub.ObserveChannels(fn)
}

func (e *Engine) Acquire(channelID string) error { return e.Subscribe(channelID) }

func (e *Engine) Release(channelID string) {
	if err := e.Unsubscribe(channelID); err != nil {
		logger.Warn("engine_release_failed", "channel", channelID, "error", err)
	}
}

// Subscribe adds a reference to channelID. The first reference loads the
// cached tail from the store and opens the remote subscription.
func (e *Engine) Subscribe(channelID string) error {
	if err := models.ValidateID(channelID); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	cs := e.channels[channelID]
	if cs == nil {
		cs = &channelState{}
		e.channels[channelID] = cs
	}
	if cs.state != Unsubscribed {
		cs.refs++
		e.mu.Unlock()
		return nil
	}
	cs.refs = 1
	cs.state = Subscribing
	cs.gen++
	gen := cs.gen
	e.mu.Unlock()

	cached, err := e.store.List(channelID)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("list").Inc()
		logger.Error("engine_cache_load_failed", "channel", channelID, "error", err)
	}
	e.mu.Lock()
	if cs.gen == gen {
		cs.msgs, _, _ = models.MergeMessages(cs.msgs, cached)
		cs.loaded = true
	}
	e.mu.Unlock()
	logger.Debug("engine_subscribing", "channel", channelID, "cached", len(cached))

	sub := e.remote.SubscribeMessages(channelID, func(snap []models.Message) {
		e.onMessages(channelID, gen, snap)
	})

	e.mu.Lock()
	if cs.gen != gen || e.closed {
		e.mu.Unlock()
		sub.Cancel()
		return nil
	}
	cs.sub = sub
	e.mu.Unlock()
	metrics.LiveSubscriptions.Inc()
	return nil
}

// Unsubscribe drops a reference. The last reference cancels the remote
// subscription; cached messages are kept.
func (e *Engine) Unsubscribe(channelID string) error {
	e.mu.Lock()
	cs := e.channels[channelID]
	if cs == nil || cs.refs == 0 {
		e.mu.Unlock()
		return fmt.Errorf("unsubscribe %q: %w", channelID, ErrNotSubscribed)
	}
	cs.refs--
	if cs.refs > 0 {
		e.mu.Unlock()
		return nil
	}
	cs.state = Unsubscribed
	cs.gen++
	cs.released = e.now()
	sub := cs.sub
	cs.sub = nil
	e.mu.Unlock()

	if sub != nil {
		sub.Cancel()
		metrics.LiveSubscriptions.Dec()
	}
	logger.Debug("engine_unsubscribed", "channel", channelID)
	return nil
}

func (e *Engine) State(channelID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cs := e.channels[channelID]; cs != nil {
		return cs.state
	}
	return Unsubscribed
}

func (e *Engine) RefCount(channelID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cs := e.channels[channelID]; cs != nil {
		return cs.refs
	}
	return 0
}

// Messages returns the current ordered state for channelID: the in-memory
// merge result when the channel has been loaded, otherwise the store.
func (e *Engine) Messages(channelID string) ([]models.Message, error) {
	e.mu.Lock()
	if cs := e.channels[channelID]; cs != nil && cs.loaded {
		out := make([]models.Message, len(cs.msgs))
		copy(out, cs.msgs)
		e.mu.Unlock()
		return out, nil
	}
	e.mu.Unlock()
	return e.store.List(channelID)
}

func (e *Engine) CachedMessages(channelID string) ([]models.Message, bool) {
	msgs, err := e.Messages(channelID)
	if err != nil {
		logger.Warn("engine_cached_messages_failed", "channel", channelID, "error", err)
		return nil, false
	}
	return msgs, len(msgs) > 0
}

func (e *Engine) onMessages(channelID string, gen uint64, snap []models.Message) {
	metrics.SnapshotsReceived.WithLabelValues("messages").Inc()

	e.mu.Lock()
	cs := e.channels[channelID]
	if cs == nil || cs.gen != gen || cs.state == Unsubscribed || e.closed {
		e.mu.Unlock()
		logger.Debug("engine_stale_snapshot_dropped", "channel", channelID)
		return
	}
	e.mu.Unlock()

	cs.mergeMu.Lock()
	defer cs.mergeMu.Unlock()

	incoming := make([]models.Message, 0, len(snap))
	for _, m := range snap {
		if m.ChannelID == "" {
			m.ChannelID = channelID
		}
		if m.ChannelID != channelID || models.ValidateID(m.ID) != nil {
			logger.Warn("engine_snapshot_record_skipped", "channel", channelID, "id", m.ID)
			continue
		}
		incoming = append(incoming, m)
	}

	e.mu.Lock()
	if cs.gen != gen {
		e.mu.Unlock()
		return
	}
	first := cs.state == Subscribing
	delta := changedRecords(cs.msgs, incoming)
	merged, added, changed := models.MergeMessages(cs.msgs, incoming)
	cs.msgs = merged
	cs.loaded = true
	cs.state = Live
	persist := delta
	if cs.dirty {
		persist = merged
	}
	if top, ok := models.Latest(merged); ok {
		e.latest[channelID] = &top
	}
	e.mu.Unlock()

	metrics.MessagesMerged.Add(float64(added))
	if dup := len(incoming) - added - changed; dup > 0 {
		metrics.DuplicateDeliveries.Add(float64(dup))
	}

	if len(persist) > 0 {
		err := e.store.Upsert(channelID, persist)
		e.mu.Lock()
		cs.dirty = err != nil
		e.mu.Unlock()
		if err != nil {
			metrics.PersistenceErrors.WithLabelValues("upsert").Inc()
			logger.Error("engine_store_upsert_failed", "channel", channelID, "error", err)
		}
	}
	if first {
		logger.Info("engine_channel_live", "channel", channelID, "messages", len(merged))
	}

	e.refreshChannel(channelID, merged)
	e.hub.Publish(channelID, merged)
}

// changedRecords returns the incoming records that are new or differ from
// the existing state.
func changedRecords(existing, incoming []models.Message) []models.Message {
	byID := make(map[string]models.Message, len(existing))
	for _, m := range existing {
		byID[m.ID] = m
	}
	var out []models.Message
	for _, m := range incoming {
		if old, ok := byID[m.ID]; ok && old.Equal(m) {
			continue
		}
		byID[m.ID] = m
		out = append(out, m)
	}
	return out
}

// Evict drops the cached messages of an unsubscribed channel. It waits for an
// in-flight merge of the channel, so it must not be called from that
// channel's observer callback.
func (e *Engine) Evict(channelID string) error {
	e.mu.Lock()
	cs := e.channels[channelID]
	if cs != nil && cs.state != Unsubscribed {
		e.mu.Unlock()
		return fmt.Errorf("evict %q: %w", channelID, ErrSubscribed)
	}
	e.mu.Unlock()

	if cs != nil {
		cs.mergeMu.Lock()
		defer cs.mergeMu.Unlock()
	}

	e.mu.Lock()
	if cs == nil && e.channels[channelID] != nil {
		// created meanwhile; entries are never replaced once set
		e.mu.Unlock()
		return e.Evict(channelID)
	}
	if cs != nil {
		if cs.state != Unsubscribed {
			e.mu.Unlock()
			return fmt.Errorf("evict %q: %w", channelID, ErrSubscribed)
		}
		cs.msgs = nil
		cs.loaded = false
		cs.dirty = false
	}
	delete(e.latest, channelID)
	e.mu.Unlock()

	if err := e.store.Clear(channelID); err != nil {
		metrics.PersistenceErrors.WithLabelValues("clear").Inc()
		return err
	}
	logger.Info("engine_channel_evicted", "channel", channelID)
	return nil
}

// EvictIdle evicts every cached channel that has been unsubscribed for at
// least idle. Channels untouched since the engine started count from start.
func (e *Engine) EvictIdle(idle time.Duration) (int, error) {
	chs, err := e.store.ListChannels()
	if err != nil {
		return 0, err
	}
	now := e.now()
	var candidates []string
	e.mu.Lock()
	for _, ch := range chs {
		since := e.started
		if cs := e.channels[ch.ID]; cs != nil {
			if cs.state != Unsubscribed {
				continue
			}
			if !cs.released.IsZero() {
				since = cs.released
			}
		}
		if now.Sub(since) >= idle {
			candidates = append(candidates, ch.ID)
		}
	}
	e.mu.Unlock()

	evicted := 0
	for _, id := range candidates {
		n, err := e.store.Count(id)
		if err != nil {
			return evicted, err
		}
		if n == 0 {
			continue
		}
		if err := e.Evict(id); err != nil {
			if errors.Is(err, ErrSubscribed) {
				continue
			}
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

// Close cancels every remote subscription. Cached state is kept.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	var subs []remote.Subscription
	for _, cs := range e.channels {
		if cs.sub != nil {
			subs = append(subs, cs.sub)
			cs.sub = nil
		}
		cs.state = Unsubscribed
		cs.refs = 0
		cs.gen++
	}
	chanSub := e.chanSub
	e.chanSub = nil
	e.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
		metrics.LiveSubscriptions.Dec()
	}
	if chanSub != nil {
		chanSub.Cancel()
	}
	return nil
}

// Run blocks until ctx is done and then closes the engine.
func (e *Engine) Run(ctx context.Context) error {
	<-ctx.Done()
	return e.Close()
}

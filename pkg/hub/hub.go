// Package hub fans live channel and message updates out to observers.
//
// Every observer gets its own copy of each published slice. Deliveries to one
// observer are serialized and never go backwards: a snapshot older than one
// already delivered is skipped.
package hub

import (
	"sync"
	"sync/atomic"

	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
)

// Tracker is told when a channel gains or loses an observer.
type Tracker interface {
	Acquire(channelID string) error
	Release(channelID string)
}

// Loader supplies current state for observers that register after the last
// publish.
type Loader interface {
	CachedMessages(channelID string) ([]models.Message, bool)
	CachedChannels() ([]models.Channel, bool)
}

type Hub struct {
	tracker Tracker
	loader  Loader

	mu           sync.Mutex
	nextID       uint64
	version      uint64
	msgObs       map[string]map[uint64]*observer[models.Message]
	chanObs      map[uint64]*observer[models.Channel]
	lastMsgs     map[string]snapshot[models.Message]
	lastChannels *snapshot[models.Channel]
}

type snapshot[T any] struct {
	version uint64
	items   []T
}

type observer[T any] struct {
	fn       func([]T)
	mu       sync.Mutex
	seen     uint64
	any      bool
	released atomic.Bool
}

func (o *observer[T]) deliver(version uint64, items []T) {
	if o.released.Load() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released.Load() || (o.any && version <= o.seen) {
		return
	}
	o.seen, o.any = version, true
	cp := make([]T, len(items))
	copy(cp, items)
	o.fn(cp)
}

// New returns a hub. tracker and loader may be nil.
func New(tracker Tracker, loader Loader) *Hub {
	return &Hub{
		tracker:  tracker,
		loader:   loader,
		msgObs:   make(map[string]map[uint64]*observer[models.Message]),
		chanObs:  make(map[uint64]*observer[models.Channel]),
		lastMsgs: make(map[string]snapshot[models.Message]),
	}
}

// SetTracker wires the ref-count hooks after construction.
func (h *Hub) SetTracker(t Tracker) {
	h.mu.Lock()
	h.tracker = t
	h.mu.Unlock()
}

// SetLoader wires the cache reader after construction.
func (h *Hub) SetLoader(l Loader) {
	h.mu.Lock()
	h.loader = l
	h.mu.Unlock()
}

// Handle identifies one registration. Release is idempotent.
type Handle struct {
	channelID string
	released  atomic.Bool
	onRelease func()
}

// ChannelID is empty for channel-list handles.
func (h *Handle) ChannelID() string { return h.channelID }

func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.onRelease()
}

// Observe registers fn for channelID. fn is called at once with the current
// state when one is known, then after every publish. The tracker is acquired
// before Observe returns; if that fails the registration is undone.
func (h *Hub) Observe(channelID string, fn func([]models.Message)) (*Handle, error) {
	o := &observer[models.Message]{fn: fn}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	subs := h.msgObs[channelID]
	if subs == nil {
		subs = make(map[uint64]*observer[models.Message])
		h.msgObs[channelID] = subs
	}
	subs[id] = o
	tracker := h.tracker
	h.mu.Unlock()
	metrics.Observers.Inc()

	remove := func() {
		o.released.Store(true)
		h.mu.Lock()
		if subs := h.msgObs[channelID]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.msgObs, channelID)
				delete(h.lastMsgs, channelID)
			}
		}
		h.mu.Unlock()
		metrics.Observers.Dec()
	}

	if tracker != nil {
		if err := tracker.Acquire(channelID); err != nil {
			remove()
			return nil, err
		}
	}

	h.mu.Lock()
	last, ok := h.lastMsgs[channelID]
	loader := h.loader
	h.mu.Unlock()
	if ok {
		o.deliver(last.version, last.items)
	} else if loader != nil {
		if msgs, found := loader.CachedMessages(channelID); found {
			o.deliver(0, msgs)
		}
	}

	return &Handle{
		channelID: channelID,
		onRelease: func() {
			remove()
			if tracker != nil {
				tracker.Release(channelID)
			}
		},
	}, nil
}

// ObserveChannels registers fn for the channel list.
func (h *Hub) ObserveChannels(fn func([]models.Channel)) *Handle {
	o := &observer[models.Channel]{fn: fn}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.chanObs[id] = o
	last := h.lastChannels
	loader := h.loader
	h.mu.Unlock()
	metrics.Observers.Inc()

	if last != nil {
		o.deliver(last.version, last.items)
	} else if loader != nil {
		if chs, found := loader.CachedChannels(); found {
			o.deliver(0, chs)
		}
	}

	return &Handle{
		onRelease: func() {
			o.released.Store(true)
			h.mu.Lock()
			delete(h.chanObs, id)
			h.mu.Unlock()
			metrics.Observers.Dec()
		},
	}
}

// Publish delivers msgs to every observer of channelID.
func (h *Hub) Publish(channelID string, msgs []models.Message) {
	h.mu.Lock()
	subs := h.msgObs[channelID]
	if len(subs) == 0 {
		h.mu.Unlock()
		return
	}
	h.version++
	snap := snapshot[models.Message]{version: h.version, items: clone(msgs)}
	h.lastMsgs[channelID] = snap
	targets := make([]*observer[models.Message], 0, len(subs))
	for _, o := range subs {
		targets = append(targets, o)
	}
	h.mu.Unlock()

	for _, o := range targets {
		o.deliver(snap.version, snap.items)
	}
}

// PublishChannels delivers chs to every channel-list observer.
func (h *Hub) PublishChannels(chs []models.Channel) {
	h.mu.Lock()
	h.version++
	snap := &snapshot[models.Channel]{version: h.version, items: clone(chs)}
	h.lastChannels = snap
	targets := make([]*observer[models.Channel], 0, len(h.chanObs))
	for _, o := range h.chanObs {
		targets = append(targets, o)
	}
	h.mu.Unlock()

	for _, o := range targets {
		o.deliver(snap.version, snap.items)
	}
}

// Count reports observers registered on channelID.
func (h *Hub) Count(channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgObs[channelID])
}

func clone[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}

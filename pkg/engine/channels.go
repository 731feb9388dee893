package engine

import (
	"context"
	"fmt"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/remote"
)

// ChannelResult is delivered by CreateChannelAsync.
type ChannelResult struct {
	Channel models.Channel
	Err     error
}

// Start opens the channel collection subscription. Calling it again while
// the subscription is open is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.chanSub != nil {
		e.mu.Unlock()
		return nil
	}
	e.chanGen++
	gen := e.chanGen
	e.mu.Unlock()

	e.chanMu.Lock()
	e.loadIndex()
	e.chanMu.Unlock()

	sub := e.remote.SubscribeChannels(func(snap []models.Channel) {
		e.onChannels(gen, snap)
	})

	e.mu.Lock()
	if e.closed || gen != e.chanGen {
		e.mu.Unlock()
		sub.Cancel()
		return ErrClosed
	}
	e.chanSub = sub
	cached := len(e.index)
	e.mu.Unlock()
	logger.Info("engine_started", "cached_channels", cached)
	return nil
}

// Channels returns the channel list in display order.
func (e *Engine) Channels() ([]models.Channel, error) {
	e.mu.Lock()
	if e.indexed {
		list := e.channelListLocked()
		e.mu.Unlock()
		return list, nil
	}
	e.mu.Unlock()
	return e.store.ListChannels()
}

func (e *Engine) CachedChannels() ([]models.Channel, bool) {
	chs, err := e.Channels()
	if err != nil {
		logger.Warn("engine_cached_channels_failed", "error", err)
		return nil, false
	}
	return chs, len(chs) > 0
}

// CreateChannel asks the remote log for a new channel. The registry picks it
// up from the channel subscription, not from this call.
func (e *Engine) CreateChannel(ctx context.Context, name string) (models.Channel, error) {
	if err := models.ValidateChannelName(name); err != nil {
		return models.Channel{}, err
	}
	ch, err := e.remote.CreateChannel(ctx, name)
	if err != nil {
		logger.Warn("engine_create_channel_failed", "name", name, "error", err)
		return models.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	logger.Info("engine_channel_created", "channel", ch.ID, "name", ch.Name)
	return ch, nil
}

func (e *Engine) CreateChannelAsync(ctx context.Context, name string) <-chan ChannelResult {
	out := make(chan ChannelResult, 1)
	go func() {
		ch, err := e.CreateChannel(ctx, name)
		out <- ChannelResult{Channel: ch, Err: err}
		close(out)
	}()
	return out
}

// DeleteChannel removes a channel on the remote log when the backend
// supports it.
func (e *Engine) DeleteChannel(ctx context.Context, channelID string) error {
	if err := models.ValidateID(channelID); err != nil {
		return err
	}
	d, ok := e.remote.(remote.ChannelDeleter)
	if !ok {
		return ErrNotSupported
	}
	if err := d.DeleteChannel(ctx, channelID); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return nil
}

func (e *Engine) onChannels(gen uint64, snap []models.Channel) {
	metrics.SnapshotsReceived.WithLabelValues("channels").Inc()
	e.mu.Lock()
	if gen != e.chanGen || e.closed {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.chanMu.Lock()
	defer e.chanMu.Unlock()
	e.loadIndex()

	next := make(map[string]models.Channel, len(snap))
	for _, ch := range snap {
		if err := models.ValidateID(ch.ID); err != nil {
			logger.Warn("engine_channel_record_skipped", "id", ch.ID, "error", err)
			continue
		}
		if top := e.localLatest(ch.ID); top != nil {
			ch = models.ApplyLatest(ch, []models.Message{*top})
		}
		next[ch.ID] = ch
	}

	e.mu.Lock()
	prev := e.index
	e.mu.Unlock()

	for id, ch := range next {
		if old, ok := prev[id]; ok && sameChannel(old, ch) {
			continue
		}
		if err := e.store.UpsertChannel(ch); err != nil {
			metrics.PersistenceErrors.WithLabelValues("upsert_channel").Inc()
			logger.Error("engine_registry_upsert_failed", "channel", id, "error", err)
		}
	}
	var removed []string
	for id := range prev {
		if _, ok := next[id]; ok {
			continue
		}
		removed = append(removed, id)
		if err := e.store.RemoveChannel(id); err != nil {
			metrics.PersistenceErrors.WithLabelValues("remove_channel").Inc()
			logger.Error("engine_registry_remove_failed", "channel", id, "error", err)
		}
	}

	e.mu.Lock()
	e.index = next
	list := e.channelListLocked()
	e.mu.Unlock()

	for _, id := range removed {
		if e.State(id) == Unsubscribed {
			if err := e.Evict(id); err != nil {
				logger.Warn("engine_removed_channel_evict_failed", "channel", id, "error", err)
			}
		}
	}
	logger.Debug("engine_channels_merged", "channels", len(list), "removed", len(removed))
	e.hub.PublishChannels(list)
}

// refreshChannel recomputes the registry aggregate for channelID after a
// message merge. Unknown channels are left for the channel subscription.
func (e *Engine) refreshChannel(channelID string, merged []models.Message) {
	if len(merged) == 0 {
		return
	}
	e.chanMu.Lock()
	defer e.chanMu.Unlock()
	e.loadIndex()

	e.mu.Lock()
	ch, ok := e.index[channelID]
	e.mu.Unlock()
	if !ok {
		return
	}
	updated := models.ApplyLatest(ch, merged)
	if models.SameLatest(ch, updated) {
		return
	}
	if err := e.store.UpsertChannel(updated); err != nil {
		metrics.PersistenceErrors.WithLabelValues("upsert_channel").Inc()
		logger.Error("engine_registry_upsert_failed", "channel", channelID, "error", err)
	}

	e.mu.Lock()
	next := make(map[string]models.Channel, len(e.index))
	for id, c := range e.index {
		next[id] = c
	}
	next[channelID] = updated
	e.index = next
	list := e.channelListLocked()
	e.mu.Unlock()
	e.hub.PublishChannels(list)
}

// loadIndex seeds the in-memory channel index from the registry once.
// Callers hold chanMu.
func (e *Engine) loadIndex() {
	e.mu.Lock()
	done := e.indexed
	e.mu.Unlock()
	if done {
		return
	}
	chs, err := e.store.ListChannels()
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("list_channels").Inc()
		logger.Error("engine_registry_load_failed", "error", err)
	}
	e.mu.Lock()
	for _, ch := range chs {
		e.index[ch.ID] = ch
	}
	e.indexed = true
	e.mu.Unlock()
}

// localLatest returns the newest locally known message of channelID, or nil
// when the channel has no cached messages.
func (e *Engine) localLatest(channelID string) *models.Message {
	e.mu.Lock()
	top, ok := e.latest[channelID]
	e.mu.Unlock()
	if ok {
		return top
	}
	msgs, err := e.store.List(channelID)
	if err != nil {
		logger.Warn("engine_latest_lookup_failed", "channel", channelID, "error", err)
		return nil
	}
	var found *models.Message
	if m, ok := models.Latest(msgs); ok {
		found = &m
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.latest[channelID]; ok {
		return cur
	}
	e.latest[channelID] = found
	return found
}

func (e *Engine) channelListLocked() []models.Channel {
	list := make([]models.Channel, 0, len(e.index))
	for _, ch := range e.index {
		list = append(list, ch)
	}
	models.SortChannels(list)
	return list
}

func sameChannel(a, b models.Channel) bool {
	return a.ID == b.ID && a.Name == b.Name && models.SameLatest(a, b)
}

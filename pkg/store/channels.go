package store

import (
	"encoding/json"
	"fmt"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store/keys"

	"github.com/cockroachdb/pebble"
)

// UpsertChannel replaces the stored channel with the same id.
func (db *DB) UpsertChannel(ch models.Channel) error {
	if db.client == nil {
		return ErrClosed
	}
	k, err := keys.GenChannelKey(ch.ID)
	if err != nil {
		return err
	}
	b, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("%w: encode channel %s: %w", ErrPersistence, ch.ID, err)
	}
	if err := db.client.Set([]byte(k), b, pebble.Sync); err != nil {
		logger.Error("store_channel_upsert_failed", "channel", ch.ID, "error", err)
		return fmt.Errorf("%w: upsert channel %s: %w", ErrPersistence, ch.ID, err)
	}
	return nil
}

func (db *DB) GetChannel(id string) (models.Channel, bool, error) {
	if db.client == nil {
		return models.Channel{}, false, ErrClosed
	}
	k, err := keys.GenChannelKey(id)
	if err != nil {
		return models.Channel{}, false, err
	}
	raw, ok, err := db.get(k)
	if err != nil {
		return models.Channel{}, false, fmt.Errorf("%w: get channel %s: %w", ErrPersistence, id, err)
	}
	if !ok {
		return models.Channel{}, false, nil
	}
	var ch models.Channel
	if err := json.Unmarshal(raw, &ch); err != nil {
		return models.Channel{}, false, fmt.Errorf("%w: decode channel %s: %w", ErrPersistence, id, err)
	}
	return ch, true, nil
}

// ListChannels returns every cached channel, most recently active first.
func (db *DB) ListChannels() ([]models.Channel, error) {
	if db.client == nil {
		return nil, ErrClosed
	}
	out := []models.Channel{}
	err := db.scanPrefix(keys.ChannelPrefix, func(k, v []byte) error {
		var ch models.Channel
		if err := json.Unmarshal(v, &ch); err != nil {
			logger.Warn("store_channel_decode_failed", "key", string(k), "error", err)
			return nil
		}
		out = append(out, ch)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list channels: %w", ErrPersistence, err)
	}
	models.SortChannels(out)
	return out, nil
}

func (db *DB) RemoveChannel(id string) error {
	if db.client == nil {
		return ErrClosed
	}
	k, err := keys.GenChannelKey(id)
	if err != nil {
		return err
	}
	if err := db.client.Delete([]byte(k), pebble.Sync); err != nil {
		logger.Error("store_channel_remove_failed", "channel", id, "error", err)
		return fmt.Errorf("%w: remove channel %s: %w", ErrPersistence, id, err)
	}
	return nil
}

package store

import (
	"encoding/json"
	"fmt"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store/keys"

	"github.com/cockroachdb/pebble"
)

// Upsert merges msgs into the channel's cache. A message already stored with
// identical fields is skipped; a differing record replaces the stored one and
// moves its index entry. The whole merge commits as one synced batch.
func (db *DB) Upsert(channelID string, msgs []models.Message) error {
	if db.client == nil {
		return ErrClosed
	}
	if err := models.ValidateID(channelID); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	l := db.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	batch := db.client.NewBatch()
	defer batch.Close()

	staged := make(map[string]models.Message, len(msgs))
	var written int
	for _, m := range msgs {
		if m.ChannelID == "" {
			m.ChannelID = channelID
		}
		if m.ChannelID != channelID {
			return fmt.Errorf("message %s belongs to channel %s, not %s", m.ID, m.ChannelID, channelID)
		}
		mk, err := keys.GenMessageKey(channelID, m.ID)
		if err != nil {
			return err
		}
		ik, err := keys.GenIndexKey(channelID, m.Created, m.ID)
		if err != nil {
			return err
		}

		prev, found := staged[m.ID]
		if !found {
			raw, ok, err := db.get(mk)
			if err != nil {
				return fmt.Errorf("%w: read %s: %w", ErrPersistence, mk, err)
			}
			if ok {
				if err := json.Unmarshal(raw, &prev); err != nil {
					return fmt.Errorf("%w: decode %s: %w", ErrPersistence, mk, err)
				}
				found = true
			}
		}
		if found && prev.Equal(m) {
			continue
		}
		b, err := json.Marshal(m)
		if err != nil {
			// json cannot hold years outside 0..9999; keep the rest of the batch
			logger.Warn("store_message_unencodable", "channel", channelID, "message", m.ID, "error", err)
			continue
		}
		if found && !prev.Created.Equal(m.Created) {
			oldIdx, err := keys.GenIndexKey(channelID, prev.Created, prev.ID)
			if err == nil {
				_ = batch.Delete([]byte(oldIdx), nil)
			}
		}

		_ = batch.Set([]byte(mk), b, nil)
		_ = batch.Set([]byte(ik), nil, nil)
		staged[m.ID] = m
		written++
	}
	if written == 0 {
		return nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("store_upsert_failed", "channel", channelID, "error", err)
		return fmt.Errorf("%w: upsert %s: %w", ErrPersistence, channelID, err)
	}
	logger.Debug("store_upsert_ok", "channel", channelID, "written", written, "received", len(msgs))
	return nil
}

// List returns the channel's cached messages ordered by (created, id). An
// unknown channel yields an empty slice.
func (db *DB) List(channelID string) ([]models.Message, error) {
	if db.client == nil {
		return nil, ErrClosed
	}
	prefix, err := keys.GenIndexPrefix(channelID)
	if err != nil {
		return nil, err
	}
	out := []models.Message{}
	err = db.scanPrefix(prefix, func(k, _ []byte) error {
		parts, err := keys.ParseIndexKey(string(k))
		if err != nil {
			logger.Warn("store_index_key_invalid", "key", string(k), "error", err)
			return nil
		}
		mk, err := keys.GenMessageKey(channelID, parts.MessageID)
		if err != nil {
			return err
		}
		raw, ok, err := db.get(mk)
		if err != nil {
			return err
		}
		if !ok {
			logger.Warn("store_index_dangling", "channel", channelID, "message", parts.MessageID)
			return nil
		}
		var m models.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrPersistence, channelID, err)
	}
	return out, nil
}

// Count returns how many messages the channel has cached.
func (db *DB) Count(channelID string) (int, error) {
	if db.client == nil {
		return 0, ErrClosed
	}
	prefix, err := keys.GenIndexPrefix(channelID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.scanPrefix(prefix, func(_, _ []byte) error { n++; return nil }); err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", ErrPersistence, channelID, err)
	}
	return n, nil
}

// Clear drops every cached message of the channel.
func (db *DB) Clear(channelID string) error {
	if db.client == nil {
		return ErrClosed
	}
	ip, err := keys.GenIndexPrefix(channelID)
	if err != nil {
		return err
	}
	mp, err := keys.GenMessagePrefix(channelID)
	if err != nil {
		return err
	}

	l := db.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	batch := db.client.NewBatch()
	defer batch.Close()
	_ = batch.DeleteRange([]byte(ip), keys.PrefixEnd(ip), nil)
	_ = batch.DeleteRange([]byte(mp), keys.PrefixEnd(mp), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("store_clear_failed", "channel", channelID, "error", err)
		return fmt.Errorf("%w: clear %s: %w", ErrPersistence, channelID, err)
	}
	logger.Debug("store_clear_ok", "channel", channelID)
	return nil
}

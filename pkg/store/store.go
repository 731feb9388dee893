package store

import (
	"errors"
	"fmt"
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store/keys"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// MessageStore is the local cache of messages per channel.
type MessageStore interface {
	Upsert(channelID string, msgs []models.Message) error
	List(channelID string) ([]models.Message, error)
	Clear(channelID string) error
}

// ChannelRegistry is the local cache of channel metadata.
type ChannelRegistry interface {
	UpsertChannel(ch models.Channel) error
	GetChannel(id string) (models.Channel, bool, error)
	ListChannels() ([]models.Channel, error)
	RemoveChannel(id string) error
}

var (
	ErrPersistence = errors.New("persistence error")
	ErrClosed      = errors.New("store closed")
)

// DB implements MessageStore and ChannelRegistry on a single Pebble instance.
type DB struct {
	client *pebble.DB
	path   string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var (
	_ MessageStore    = (*DB)(nil)
	_ ChannelRegistry = (*DB)(nil)
)

// Open opens (or creates) the cache at path.
func Open(path string) (*DB, error) {
	return open(path, &pebble.Options{})
}

// OpenInMemory opens a cache backed by an in-memory filesystem.
func OpenInMemory() (*DB, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*DB, error) {
	client, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("%w: open %s: %w", ErrPersistence, path, err)
	}
	db := &DB{client: client, path: path, locks: make(map[string]*sync.Mutex)}
	if err := db.checkSchema(); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Debug("store_opened", "path", path)
	return db, nil
}

func (db *DB) checkSchema() error {
	v, closer, err := db.client.Get([]byte(keys.SystemVersionKey))
	if errors.Is(err, pebble.ErrNotFound) {
		if err := db.client.Set([]byte(keys.SystemVersionKey), []byte(keys.SchemaVersion), pebble.Sync); err != nil {
			return fmt.Errorf("%w: write schema version: %w", ErrPersistence, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read schema version: %w", ErrPersistence, err)
	}
	defer closer.Close()
	if string(v) != keys.SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %q", ErrPersistence, string(v))
	}
	return nil
}

func (db *DB) Path() string { return db.path }

// Close flushes memtables and closes the database.
func (db *DB) Close() error {
	if db.client == nil {
		return nil
	}
	if err := db.client.Flush(); err != nil {
		logger.Error("store_flush_failed", "error", err)
	}
	err := db.client.Close()
	db.client = nil
	return err
}

// DiskUsage reports the bytes Pebble holds on disk.
func (db *DB) DiskUsage() uint64 {
	if db.client == nil {
		return 0
	}
	return db.client.Metrics().DiskSpaceUsage()
}

// returns mutex for given channel (creates if needed)
func (db *DB) channelLock(channelID string) *sync.Mutex {
	db.locksMu.Lock()
	defer db.locksMu.Unlock()
	if l, ok := db.locks[channelID]; ok {
		return l
	}
	l := &sync.Mutex{}
	db.locks[channelID] = l
	return l
}

// Dump walks every key in order. Used by the inspect command.
func (db *DB) Dump(fn func(key, value []byte) error) error {
	if db.client == nil {
		return ErrClosed
	}
	iter, err := db.client.NewIter(&pebble.IterOptions{})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (db *DB) get(key string) ([]byte, bool, error) {
	v, closer, err := db.client.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// scanPrefix calls fn for every key under prefix in key order.
func (db *DB) scanPrefix(prefix string, fn func(key, value []byte) error) error {
	iter, err := db.client.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keys.PrefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

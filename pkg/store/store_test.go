package store

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"chatsync/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2020, 10, 17, 12, 0, 0, 0, time.UTC)

func openMem(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func msg(channelID, id string, offset time.Duration) models.Message {
	return models.Message{
		ID:         id,
		ChannelID:  channelID,
		Content:    "hello " + id,
		Created:    t0.Add(offset),
		SenderID:   "sender-1",
		SenderName: "Dmitry",
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestListUnknownChannelIsEmpty(t *testing.T) {
	db := openMem(t)
	got, err := db.List("nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestUpsertOrdersByCreatedThenID(t *testing.T) {
	db := openMem(t)
	require.NoError(t, db.Upsert("general", []models.Message{
		msg("general", "b", 0),
		msg("general", "z", -time.Minute),
		msg("general", "a", 0),
		msg("general", "c", time.Minute),
	}))

	got, err := db.List("general")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "b", "c"}, ids(got))
	assert.True(t, got[0].Created.Equal(t0.Add(-time.Minute)))
}

func TestUpsertDuplicatesConverge(t *testing.T) {
	db := openMem(t)
	snapshot := []models.Message{
		msg("x", "1", 0), msg("x", "2", time.Second), msg("x", "3", time.Second), msg("x", "4", 2*time.Second),
	}
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.Message(nil), snapshot...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.NoError(t, db.Upsert("x", shuffled[:1+r.Intn(len(shuffled))]))
	}
	require.NoError(t, db.Upsert("x", snapshot))

	got, err := db.List("x")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(got))
	n, err := db.Count("x")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestUpsertReplacesDifferingRecord(t *testing.T) {
	db := openMem(t)
	orig := msg("x", "1", 0)
	require.NoError(t, db.Upsert("x", []models.Message{orig, msg("x", "2", time.Second)}))

	moved := orig
	moved.Created = t0.Add(time.Hour)
	moved.Content = "moved"
	require.NoError(t, db.Upsert("x", []models.Message{moved}))

	got, err := db.List("x")
	require.NoError(t, err)
	require.Equal(t, []string{"2", "1"}, ids(got))
	assert.Equal(t, "moved", got[1].Content)
}

func TestUpsertFillsAndChecksChannel(t *testing.T) {
	db := openMem(t)
	m := msg("", "1", 0)
	require.NoError(t, db.Upsert("x", []models.Message{m}))
	got, err := db.List("x")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ChannelID)

	assert.Error(t, db.Upsert("x", []models.Message{msg("y", "2", 0)}))
	assert.ErrorIs(t, db.Upsert("bad:id", []models.Message{m}), models.ErrInvalidID)
}

func TestClearIsScopedToChannel(t *testing.T) {
	db := openMem(t)
	require.NoError(t, db.Upsert("x", []models.Message{msg("x", "1", 0)}))
	require.NoError(t, db.Upsert("xy", []models.Message{msg("xy", "1", 0)}))

	require.NoError(t, db.Clear("x"))

	got, err := db.List("x")
	require.NoError(t, err)
	assert.Empty(t, got)
	other, err := db.List("xy")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	// clearing again is harmless
	require.NoError(t, db.Clear("x"))
}

func TestChannelRegistry(t *testing.T) {
	db := openMem(t)
	last := "see you"
	at := t0.Add(time.Hour)

	require.NoError(t, db.UpsertChannel(models.Channel{ID: "quiet", Name: "Quiet"}))
	require.NoError(t, db.UpsertChannel(models.Channel{ID: "general", Name: "General"}))
	require.NoError(t, db.UpsertChannel(models.Channel{ID: "general", Name: "General", LastMessage: &last, LastActivity: &at}))

	chs, err := db.ListChannels()
	require.NoError(t, err)
	require.Len(t, chs, 2)
	assert.Equal(t, "general", chs[0].ID)
	require.NotNil(t, chs[0].LastMessage)
	assert.Equal(t, last, *chs[0].LastMessage)

	ch, ok, err := db.GetChannel("quiet")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Quiet", ch.Name)

	require.NoError(t, db.RemoveChannel("quiet"))
	_, ok, err = db.GetChannel("quiet")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Upsert("general", []models.Message{msg("general", "a", 0)}))
	require.NoError(t, db.UpsertChannel(models.Channel{ID: "general", Name: "general"}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.List("general")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
	_, ok, err := db.GetChannel("general")
	require.NoError(t, err)
	assert.True(t, ok)

	var keyCount int
	require.NoError(t, db.Dump(func(_, _ []byte) error { keyCount++; return nil }))
	assert.Equal(t, 4, keyCount) // channel, message, index, schema version
}

func TestClosedStore(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, db.Close())
	_, err = db.List("x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.UpsertChannel(models.Channel{ID: "x"}), ErrClosed)
}

func TestUpsertAcceptsFullCreatedRange(t *testing.T) {
	db := openMem(t)
	zero := msg("general", "zero", 0)
	zero.Created = time.Time{}
	old := msg("general", "old", 0)
	old.Created = time.Date(1960, 5, 1, 0, 0, 0, 0, time.UTC)
	future := msg("general", "future", 0)
	future.Created = time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)
	now := msg("general", "now", 0)

	require.NoError(t, db.Upsert("general", []models.Message{future, now, zero, old}))

	got, err := db.List("general")
	require.NoError(t, err)
	assert.Equal(t, []string{"zero", "old", "now", "future"}, ids(got))
	assert.True(t, got[0].Created.IsZero())
	assert.True(t, future.Created.Equal(got[3].Created))
}

func TestUpsertSkipsUnencodableRecord(t *testing.T) {
	db := openMem(t)
	far := msg("general", "far", 0)
	far.Created = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Upsert("general", []models.Message{msg("general", "a", 0), far}))

	got, err := db.List("general")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
}

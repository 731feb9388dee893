package natslog

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/models"
	"chatsync/pkg/remote"
	"chatsync/pkg/remote/memlog"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = make(map[string][][]byte)
	}
	r.msgs[subject] = append(r.msgs[subject], data)
	return nil
}

func (r *recordingPublisher) last(subject string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.msgs[subject]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func newTestServer(log remote.Log) (*Server, *recordingPublisher) {
	s := NewServer(nil, log, "")
	pub := &recordingPublisher{}
	s.pub = pub
	return s, pub
}

func TestServerHandleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServer(memlog.New())

	var ch models.Channel
	raw, _ := json.Marshal(request{Name: "general"})
	require.NoError(t, decodeReply(s.handle(ctx, opCreateChannel, raw), &ch))
	assert.Equal(t, "general", ch.Name)
	assert.NotEmpty(t, ch.ID)

	var msg models.Message
	raw, _ = json.Marshal(request{ChannelID: ch.ID, Content: "hi", SenderID: "u1", SenderName: "Ann"})
	require.NoError(t, decodeReply(s.handle(ctx, opAppendMessage, raw), &msg))
	assert.Equal(t, ch.ID, msg.ChannelID)
	assert.Equal(t, "hi", msg.Content)

	raw, _ = json.Marshal(request{ChannelID: "missing", Content: "hi"})
	err := decodeReply(s.handle(ctx, opAppendMessage, raw), &msg)
	assert.ErrorIs(t, err, remote.ErrChannelNotFound)

	raw, _ = json.Marshal(request{Name: " "})
	err = decodeReply(s.handle(ctx, opCreateChannel, raw), &ch)
	assert.ErrorIs(t, err, remote.ErrInvalidName)

	raw, _ = json.Marshal(request{ChannelID: ch.ID})
	require.NoError(t, decodeReply(s.handle(ctx, opDeleteChannel, raw), nil))

	err = decodeReply(s.handle(ctx, "bogus", nil), nil)
	assert.Error(t, err)
	err = decodeReply(s.handle(ctx, opCreateChannel, []byte("{")), nil)
	assert.Error(t, err)
}

func TestServerUnavailableMapsToSentinel(t *testing.T) {
	ml := memlog.New()
	ml.SetOffline(true)
	s, _ := newTestServer(ml)
	raw, _ := json.Marshal(request{Name: "general"})
	err := decodeReply(s.handle(context.Background(), opCreateChannel, raw), nil)
	assert.ErrorIs(t, err, remote.ErrRemoteUnavailable)
}

func TestServerPublishesSnapshots(t *testing.T) {
	ctx := context.Background()
	ml := memlog.New()
	s, pub := newTestServer(ml)
	s.chanSub = ml.SubscribeChannels(s.onChannels)
	defer s.Close()

	ch, err := ml.CreateChannel(ctx, "general")
	require.NoError(t, err)
	_, err = ml.AppendMessage(ctx, ch.ID, "hello", "u1", "Ann")
	require.NoError(t, err)

	subject := s.subj.snapMessages(ch.ID)
	assert.True(t, strings.HasPrefix(subject, "chatsync.snap.messages."))
	var snap messageSnapshot
	require.Eventually(t, func() bool {
		data := pub.last(subject)
		if data == nil || json.Unmarshal(data, &snap) != nil {
			return false
		}
		return len(snap.Items) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, s.epoch, snap.Epoch)
	assert.Equal(t, "hello", snap.Items[0].Content)

	raw, _ := json.Marshal(request{ChannelID: ch.ID})
	var fetched messageSnapshot
	require.NoError(t, decodeReply(s.handle(ctx, opSnapshotMessages, raw), &fetched))
	assert.Equal(t, snap.Seq, fetched.Seq)

	require.Eventually(t, func() bool {
		var chans channelSnapshot
		if decodeReply(s.handle(ctx, opSnapshotChannels, nil), &chans) != nil {
			return false
		}
		return len(chans.Items) == 1 && chans.Items[0].LastMessage != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSequencerDropsOlderSnapshots(t *testing.T) {
	out := make(chan []int, 8)
	feed := remote.NewFeed(func(s []int) { out <- s })
	defer feed.Cancel()
	seq := &sequencer[int]{feed: feed}

	assert.True(t, seq.apply(snapshot[int]{Epoch: "a", Seq: 0}))
	assert.Equal(t, []int{}, <-out)
	assert.True(t, seq.apply(snapshot[int]{Epoch: "a", Seq: 5, Items: []int{1}}))
	assert.Equal(t, []int{1}, <-out)
	assert.False(t, seq.apply(snapshot[int]{Epoch: "a", Seq: 3, Items: []int{9}}))
	assert.False(t, seq.apply(snapshot[int]{Epoch: "a", Seq: 5, Items: []int{9}}))
	assert.True(t, seq.apply(snapshot[int]{Epoch: "b", Seq: 1, Items: []int{1, 2}}))
	assert.Equal(t, []int{1, 2}, <-out)
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{codeUnavailable, remote.ErrRemoteUnavailable},
		{codeInvalidName, remote.ErrInvalidName},
		{codeNotFound, remote.ErrChannelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.ErrorIs(t, decodeError(reply{Code: tt.code, Error: "x"}), tt.want)
		})
	}
	assert.NoError(t, decodeError(reply{}))
	assert.Equal(t, codeBadRequest, errorCode(models.ErrInvalidContent))
}

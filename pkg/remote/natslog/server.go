package natslog

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/remote"
)

const queueGroup = "chatsync-logd"

type publisher interface {
	Publish(subject string, data []byte) error
}

// Server hosts a remote.Log on NATS.
type Server struct {
	nc      *nats.Conn
	pub     publisher
	log     remote.Log
	subj    subjects
	epoch   string
	timeout time.Duration

	mu           sync.Mutex
	seq          uint64
	rpcSubs      []*nats.Subscription
	chanSub      remote.Subscription
	msgSubs      map[string]remote.Subscription
	lastChannels channelSnapshot
	lastMessages map[string]messageSnapshot
	closed       bool
}

func NewServer(nc *nats.Conn, log remote.Log, prefix string) *Server {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &Server{
		nc:           nc,
		pub:          nc,
		log:          log,
		subj:         subjects{prefix: prefix},
		epoch:        uuid.NewString(),
		timeout:      10 * time.Second,
		msgSubs:      make(map[string]remote.Subscription),
		lastMessages: make(map[string]messageSnapshot),
	}
	s.lastChannels = channelSnapshot{Epoch: s.epoch, Items: []models.Channel{}}
	return s
}

// Start registers the request handlers and begins following the hosted log.
func (s *Server) Start() error {
	ops := []string{opCreateChannel, opAppendMessage, opDeleteChannel, opSnapshotChannels, opSnapshotMessages}
	for _, op := range ops {
		sub, err := s.nc.QueueSubscribe(s.subj.rpc(op), queueGroup, s.serve)
		if err != nil {
			s.Close()
			return err
		}
		s.mu.Lock()
		s.rpcSubs = append(s.rpcSubs, sub)
		s.mu.Unlock()
	}
	chanSub := s.log.SubscribeChannels(s.onChannels)
	s.mu.Lock()
	s.chanSub = chanSub
	s.mu.Unlock()
	logger.Info("natslog_server_started", "prefix", s.subj.prefix, "epoch", s.epoch)
	return nil
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rpcSubs := s.rpcSubs
	chanSub := s.chanSub
	msgSubs := s.msgSubs
	s.rpcSubs, s.chanSub, s.msgSubs = nil, nil, map[string]remote.Subscription{}
	s.mu.Unlock()

	for _, sub := range rpcSubs {
		_ = sub.Unsubscribe()
	}
	if chanSub != nil {
		chanSub.Cancel()
	}
	for _, sub := range msgSubs {
		sub.Cancel()
	}
}

func (s *Server) serve(m *nats.Msg) {
	op := strings.TrimPrefix(m.Subject, s.subj.prefix+".rpc.")
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := m.Respond(s.handle(ctx, op, m.Data)); err != nil {
		logger.Warn("natslog_respond_failed", "op", op, "error", err)
	}
}

// handle executes one request and returns the encoded reply.
func (s *Server) handle(ctx context.Context, op string, data []byte) []byte {
	var req request
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return encodeReply(nil, codeBadRequest, err)
		}
	}
	var (
		payload any
		err     error
	)
	switch op {
	case opCreateChannel:
		payload, err = s.log.CreateChannel(ctx, req.Name)
	case opAppendMessage:
		payload, err = s.log.AppendMessage(ctx, req.ChannelID, req.Content, req.SenderID, req.SenderName)
	case opDeleteChannel:
		d, ok := s.log.(remote.ChannelDeleter)
		if !ok {
			return encodeReply(nil, codeInternal, errString("delete not supported"))
		}
		err = d.DeleteChannel(ctx, req.ChannelID)
	case opSnapshotChannels:
		s.mu.Lock()
		payload = s.lastChannels
		s.mu.Unlock()
	case opSnapshotMessages:
		s.mu.Lock()
		snap, ok := s.lastMessages[req.ChannelID]
		s.mu.Unlock()
		if !ok {
			snap = messageSnapshot{Epoch: s.epoch, Items: []models.Message{}}
		}
		payload = snap
	default:
		return encodeReply(nil, codeBadRequest, errString("unknown op "+op))
	}
	if err != nil {
		logger.Debug("natslog_request_failed", "op", op, "error", err)
		return encodeReply(nil, errorCode(err), err)
	}
	return encodeReply(payload, "", nil)
}

func (s *Server) onChannels(chs []models.Channel) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	snap := channelSnapshot{Epoch: s.epoch, Seq: s.seq, Items: chs}
	s.lastChannels = snap

	live := make(map[string]bool, len(chs))
	var added []string
	for _, ch := range chs {
		live[ch.ID] = true
		if _, ok := s.msgSubs[ch.ID]; !ok {
			added = append(added, ch.ID)
		}
	}
	var dropped []remote.Subscription
	for id, sub := range s.msgSubs {
		if !live[id] {
			dropped = append(dropped, sub)
			delete(s.msgSubs, id)
			delete(s.lastMessages, id)
		}
	}
	s.mu.Unlock()

	s.publish(s.subj.snapChannels(), snap)
	for _, sub := range dropped {
		sub.Cancel()
	}
	for _, id := range added {
		sub := s.log.SubscribeMessages(id, func(msgs []models.Message) { s.onMessages(id, msgs) })
		s.mu.Lock()
		if _, dup := s.msgSubs[id]; dup || s.closed {
			s.mu.Unlock()
			sub.Cancel()
			continue
		}
		s.msgSubs[id] = sub
		s.mu.Unlock()
	}
}

func (s *Server) onMessages(channelID string, msgs []models.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	snap := messageSnapshot{Epoch: s.epoch, Seq: s.seq, Items: msgs}
	s.lastMessages[channelID] = snap
	s.mu.Unlock()
	s.publish(s.subj.snapMessages(channelID), snap)
}

func (s *Server) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("natslog_encode_failed", "subject", subject, "error", err)
		return
	}
	if err := s.pub.Publish(subject, data); err != nil {
		logger.Warn("natslog_publish_failed", "subject", subject, "error", err)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func encodeReply(payload any, code string, err error) []byte {
	r := reply{Code: code}
	if err != nil {
		r.Error = err.Error()
	}
	if payload != nil {
		raw, merr := json.Marshal(payload)
		if merr != nil {
			r = reply{Code: codeInternal, Error: merr.Error()}
		} else {
			r.Payload = raw
		}
	}
	out, _ := json.Marshal(r)
	return out
}

package natslog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/remote"
)

type ClientConfig struct {
	Prefix string
	Name   string
	// Timeout bounds requests made with a context that has no deadline.
	Timeout       time.Duration
	ReconnectWait time.Duration
	OnError       remote.ErrorHandler
}

func (c *ClientConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Name == "" {
		c.Name = "chatsync"
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
}

// Client is a remote.Log served by a natslog Server.
type Client struct {
	nc       *nats.Conn
	subj     subjects
	timeout  time.Duration
	reporter *remote.OutageReporter

	mu     sync.Mutex
	nextID uint64
	active map[uint64]func()
}

var (
	_ remote.Log            = (*Client)(nil)
	_ remote.ChannelDeleter = (*Client)(nil)
)

// Connect dials url and resynchronizes every live subscription after a
// reconnect.
func Connect(url string, cfg ClientConfig) (*Client, error) {
	cfg.setDefaults()
	c := newClient(nil, cfg)
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			// a nil error is a deliberate close
			if err == nil {
				return
			}
			c.reporter.Report(fmt.Errorf("natslog: %w: %w", remote.ErrRemoteUnavailable, err))
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("natslog_reconnected")
			c.reporter.Recovered()
			c.Resync()
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("natslog connect: %w", err)
	}
	c.nc = nc
	return c, nil
}

// NewClient wraps an existing connection. The caller owns reconnect
// handling and may call Resync after a reconnect.
func NewClient(nc *nats.Conn, cfg ClientConfig) *Client {
	cfg.setDefaults()
	return newClient(nc, cfg)
}

func newClient(nc *nats.Conn, cfg ClientConfig) *Client {
	return &Client{
		nc:       nc,
		subj:     subjects{prefix: cfg.Prefix},
		timeout:  cfg.Timeout,
		reporter: remote.NewOutageReporter(cfg.OnError),
		active:   make(map[uint64]func()),
	}
}

func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

// Resync requests a fresh snapshot for every live subscription.
func (c *Client) Resync() {
	c.mu.Lock()
	fetches := make([]func(), 0, len(c.active))
	for _, f := range c.active {
		fetches = append(fetches, f)
	}
	c.mu.Unlock()
	for _, f := range fetches {
		f()
	}
}

func (c *Client) CreateChannel(ctx context.Context, name string) (models.Channel, error) {
	if err := models.ValidateChannelName(name); err != nil {
		return models.Channel{}, err
	}
	var ch models.Channel
	err := c.call(ctx, opCreateChannel, request{Name: name}, &ch)
	return ch, err
}

func (c *Client) AppendMessage(ctx context.Context, channelID, content, senderID, senderName string) (models.Message, error) {
	var msg models.Message
	err := c.call(ctx, opAppendMessage, request{
		ChannelID:  channelID,
		Content:    content,
		SenderID:   senderID,
		SenderName: senderName,
	}, &msg)
	return msg, err
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.call(ctx, opDeleteChannel, request{ChannelID: channelID}, nil)
}

func (c *Client) SubscribeChannels(onUpdate func([]models.Channel)) remote.Subscription {
	return subscribe(c, c.subj.snapChannels(), opSnapshotChannels, request{}, onUpdate)
}

func (c *Client) SubscribeMessages(channelID string, onUpdate func([]models.Message)) remote.Subscription {
	return subscribe(c, c.subj.snapMessages(channelID), opSnapshotMessages, request{ChannelID: channelID}, onUpdate)
}

func (c *Client) call(ctx context.Context, op string, req request, out any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	rctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	msg, err := c.nc.RequestWithContext(rctx, c.subj.rpc(op), data)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %w", op, remote.ErrRemoteUnavailable, err)
	}
	return decodeReply(msg.Data, out)
}

func decodeReply(data []byte, out any) error {
	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("natslog: decode reply: %w", err)
	}
	if err := decodeError(r); err != nil {
		return err
	}
	if out == nil || len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, out)
}

// sequencer applies snapshots in order, dropping any that are older than
// the last applied one from the same server instance.
type sequencer[T any] struct {
	mu      sync.Mutex
	epoch   string
	seq     uint64
	applied bool
	feed    *remote.Feed[T]
}

func (s *sequencer[T]) apply(snap snapshot[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied && snap.Epoch == s.epoch && snap.Seq <= s.seq {
		return false
	}
	s.epoch, s.seq, s.applied = snap.Epoch, snap.Seq, true
	items := snap.Items
	if items == nil {
		items = []T{}
	}
	s.feed.Push(items)
	return true
}

func subscribe[T any](c *Client, subject, op string, req request, onUpdate func([]T)) remote.Subscription {
	seq := &sequencer[T]{feed: remote.NewFeed(onUpdate)}

	ns, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		var snap snapshot[T]
		if err := json.Unmarshal(m.Data, &snap); err != nil {
			logger.Warn("natslog_snapshot_decode_failed", "subject", subject, "error", err)
			return
		}
		seq.apply(snap)
	})
	if err != nil {
		c.reporter.Report(fmt.Errorf("subscribe %s: %w: %w", subject, remote.ErrRemoteUnavailable, err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	fetch := func() {
		go func() {
			var snap snapshot[T]
			if err := c.call(ctx, op, req, &snap); err != nil {
				if !errors.Is(err, context.Canceled) {
					c.reporter.Report(err)
				}
				return
			}
			c.reporter.Recovered()
			seq.apply(snap)
		}()
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.active[id] = fetch
	c.mu.Unlock()
	fetch()

	return remote.NewSubscriptionFunc(func() {
		cancel()
		seq.feed.Cancel()
		if ns != nil {
			_ = ns.Unsubscribe()
		}
		c.mu.Lock()
		delete(c.active, id)
		c.mu.Unlock()
	})
}

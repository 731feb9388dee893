// Package mongolog is a remote.Log on MongoDB. Live subscriptions follow a
// change stream and re-read the full snapshot after every change.
package mongolog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/time/rate"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/remote"
)

const (
	channelsCollection = "channels"
	messagesCollection = "messages"
)

type Config struct {
	URI      string
	Database string
	// ReconnectRPS and ReconnectBurst pace change stream reopen attempts.
	ReconnectRPS   float64
	ReconnectBurst int
	OnError        remote.ErrorHandler
	Now            func() time.Time
}

func (c *Config) setDefaults() {
	if c.Database == "" {
		c.Database = "chatsync"
	}
	if c.ReconnectRPS <= 0 {
		c.ReconnectRPS = 1
	}
	if c.ReconnectBurst <= 0 {
		c.ReconnectBurst = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type Log struct {
	client   *mongo.Client
	channels *mongo.Collection
	messages *mongo.Collection
	limiter  *rate.Limiter
	reporter *remote.OutageReporter
	now      func() time.Time
}

var (
	_ remote.Log            = (*Log)(nil)
	_ remote.ChannelDeleter = (*Log)(nil)
)

// Connect dials MongoDB, verifies the connection and ensures indexes.
func Connect(ctx context.Context, cfg Config) (*Log, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongolog: uri is required")
	}
	cfg.setDefaults()
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongolog connect: %w", err)
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongolog ping: %w", err)
	}
	l := newLog(cli, cfg)
	if err := l.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("mongolog_connected", "database", cfg.Database)
	return l, nil
}

func newLog(cli *mongo.Client, cfg Config) *Log {
	db := cli.Database(cfg.Database)
	return &Log{
		client:   cli,
		channels: db.Collection(channelsCollection),
		messages: db.Collection(messagesCollection),
		limiter:  rate.NewLimiter(rate.Limit(cfg.ReconnectRPS), cfg.ReconnectBurst),
		reporter: remote.NewOutageReporter(cfg.OnError),
		now:      cfg.Now,
	}
}

func (l *Log) ensureIndexes(ctx context.Context) error {
	_, err := l.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "channelId", Value: 1}, {Key: "created", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongolog index: %w", err)
	}
	return nil
}

// timestamp is truncated to the precision BSON dates keep, so a returned
// record equals the one later read back.
func (l *Log) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Millisecond)
}

func (l *Log) Close(ctx context.Context) error {
	return l.client.Disconnect(ctx)
}

func (l *Log) CreateChannel(ctx context.Context, name string) (models.Channel, error) {
	if err := models.ValidateChannelName(name); err != nil {
		return models.Channel{}, err
	}
	doc := channelDoc{ID: uuid.NewString(), Name: name, Created: l.timestamp()}
	if _, err := l.channels.InsertOne(ctx, doc); err != nil {
		return models.Channel{}, classify("create channel", err)
	}
	return doc.model(), nil
}

func (l *Log) AppendMessage(ctx context.Context, channelID, content, senderID, senderName string) (models.Message, error) {
	err := l.channels.FindOne(ctx, bson.M{"_id": channelID}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, fmt.Errorf("append message to %q: %w", channelID, remote.ErrChannelNotFound)
	}
	if err != nil {
		return models.Message{}, classify("append message", err)
	}
	doc := messageDoc{
		ID:         uuid.NewString(),
		ChannelID:  channelID,
		Content:    content,
		Created:    l.timestamp(),
		SenderID:   senderID,
		SenderName: senderName,
	}
	if _, err := l.messages.InsertOne(ctx, doc); err != nil {
		return models.Message{}, classify("append message", err)
	}
	// The aggregate only moves forward; a late writer with an older timestamp
	// leaves it alone.
	_, err = l.channels.UpdateOne(ctx,
		bson.M{"_id": channelID, "$or": bson.A{
			bson.M{"lastActivity": bson.M{"$exists": false}},
			bson.M{"lastActivity": bson.M{"$lte": doc.Created}},
		}},
		bson.M{"$set": bson.M{"lastMessage": doc.Content, "lastActivity": doc.Created}},
	)
	if err != nil {
		logger.Warn("mongolog_channel_aggregate_failed", "channel", channelID, "error", err)
	}
	return doc.model(), nil
}

func (l *Log) DeleteChannel(ctx context.Context, channelID string) error {
	res, err := l.channels.DeleteOne(ctx, bson.M{"_id": channelID})
	if err != nil {
		return classify("delete channel", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete channel %q: %w", channelID, remote.ErrChannelNotFound)
	}
	if _, err := l.messages.DeleteMany(ctx, bson.M{"channelId": channelID}); err != nil {
		return classify("delete channel messages", err)
	}
	return nil
}

func (l *Log) SubscribeChannels(onUpdate func([]models.Channel)) remote.Subscription {
	return watch(l, l.channels, mongo.Pipeline{}, onUpdate, l.queryChannels)
}

func (l *Log) SubscribeMessages(channelID string, onUpdate func([]models.Message)) remote.Subscription {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"fullDocument.channelId": channelID},
			bson.M{"operationType": "delete"},
		}}}},
	}
	return watch(l, l.messages, pipeline, onUpdate, func(ctx context.Context) ([]models.Message, error) {
		return l.queryMessages(ctx, channelID)
	})
}

func (l *Log) queryChannels(ctx context.Context) ([]models.Channel, error) {
	cur, err := l.channels.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []channelDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Channel, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (l *Log) queryMessages(ctx context.Context, channelID string) ([]models.Message, error) {
	cur, err := l.messages.Find(ctx, bson.M{"channelId": channelID},
		options.Find().SetSort(bson.D{{Key: "created", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// watch runs a change stream loop until the subscription is cancelled. Each
// (re)open delivers a fresh snapshot, so changes missed while disconnected
// are picked up on reconnect.
func watch[T any](l *Log, coll *mongo.Collection, pipeline mongo.Pipeline, onUpdate func([]T), query func(context.Context) ([]T, error)) remote.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	feed := remote.NewFeed(onUpdate)
	go func() {
		for ctx.Err() == nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return
			}
			stream, err := coll.Watch(ctx, pipeline)
			if err != nil {
				if ctx.Err() == nil {
					l.reporter.Report(classify("watch "+coll.Name(), err))
				}
				continue
			}
			err = follow(ctx, stream, feed, query, l.reporter.Recovered)
			_ = stream.Close(context.Background())
			if err != nil && ctx.Err() == nil {
				l.reporter.Report(classify("watch "+coll.Name(), err))
				logger.Warn("mongolog_stream_lost", "collection", coll.Name(), "error", err)
			}
		}
	}()
	return remote.NewSubscriptionFunc(func() {
		cancel()
		feed.Cancel()
	})
}

func follow[T any](ctx context.Context, stream *mongo.ChangeStream, feed *remote.Feed[T], query func(context.Context) ([]T, error), live func()) error {
	snap, err := query(ctx)
	if err != nil {
		return err
	}
	live()
	feed.Push(snap)
	for stream.Next(ctx) {
		snap, err := query(ctx)
		if err != nil {
			return err
		}
		feed.Push(snap)
	}
	return stream.Err()
}

// classify maps driver failures onto remote.ErrRemoteUnavailable. Context
// errors pass through unchanged.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, remote.ErrRemoteUnavailable, err)
}

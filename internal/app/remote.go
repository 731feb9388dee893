package app

import (
	"context"
	"fmt"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/remote"
	"chatsync/pkg/remote/memlog"
	"chatsync/pkg/remote/mongolog"
	"chatsync/pkg/remote/natslog"
)

// remoteLog is a remote.Log the app owns and must close.
type remoteLog interface {
	remote.Log
	close(ctx context.Context) error
}

type memRemote struct{ *memlog.Log }

func (memRemote) close(context.Context) error { return nil }

type mongoRemote struct{ *mongolog.Log }

func (m mongoRemote) close(ctx context.Context) error { return m.Log.Close(ctx) }

type natsRemote struct{ *natslog.Client }

func (n natsRemote) close(context.Context) error {
	n.Client.Close()
	return nil
}

func logOutage(err error) {
	logger.Warn("remote_unavailable", "error", err)
}

// openRemote builds the backend named by cfg.Mode.
func openRemote(ctx context.Context, cfg config.RemoteConfig) (remoteLog, error) {
	switch cfg.Mode {
	case "memory":
		logger.Warn("remote_in_memory", "msg", "messages are not shared with other processes")
		return memRemote{memlog.New(memlog.WithErrorHandler(logOutage))}, nil
	case "mongo":
		cctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout.Duration())
		defer cancel()
		l, err := mongolog.Connect(cctx, mongolog.Config{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ReconnectRPS:   cfg.ReconnectRPS,
			ReconnectBurst: cfg.ReconnectBurst,
			OnError:        logOutage,
		})
		if err != nil {
			return nil, err
		}
		return mongoRemote{l}, nil
	case "nats":
		c, err := natslog.Connect(cfg.NATS.URL, natslog.ClientConfig{
			Prefix:  cfg.NATS.Prefix,
			Name:    "chatsync",
			Timeout: cfg.RequestTimeout.Duration(),
			OnError: logOutage,
		})
		if err != nil {
			return nil, err
		}
		return natsRemote{c}, nil
	default:
		return nil, fmt.Errorf("unknown remote mode %q", cfg.Mode)
	}
}

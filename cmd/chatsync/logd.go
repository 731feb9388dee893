package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"chatsync/pkg/logger"
	"chatsync/pkg/remote/memlog"
	"chatsync/pkg/remote/natslog"
	"chatsync/pkg/shutdown"
)

var logdOpts struct {
	url      string
	prefix   string
	logLevel string
}

var logdCmd = &cobra.Command{
	Use:   "logd",
	Short: "Host an in-memory remote log on NATS",
	Long: `logd serves a shared remote log to chatsync daemons running with
remote mode "nats". State lives in memory and is lost on restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runLogd(cmd.Context())
	},
}

func init() {
	f := logdCmd.Flags()
	f.StringVar(&logdOpts.url, "nats-url", nats.DefaultURL, "NATS server url")
	f.StringVar(&logdOpts.prefix, "prefix", natslog.DefaultPrefix, "subject prefix")
	f.StringVar(&logdOpts.logLevel, "log-level", "info", "log level")
	rootCmd.AddCommand(logdCmd)
}

func runLogd(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	logger.Init(logdOpts.logLevel)
	defer logger.Sync()

	nc, err := nats.Connect(logdOpts.url,
		nats.Name("chatsync-logd"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", logdOpts.url, err)
	}
	defer nc.Close()

	srv := natslog.NewServer(nc, memlog.New(), logdOpts.prefix)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Close()
	logger.Info("logd_started", "url", logdOpts.url, "prefix", logdOpts.prefix)

	ctx, cancel := shutdown.SetupSignalHandler(parent)
	defer cancel()
	<-ctx.Done()
	logger.Info("logd_stopped")
	return nil
}

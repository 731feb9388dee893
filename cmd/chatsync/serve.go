package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chatsync/internal/app"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/shutdown"
	"chatsync/pkg/state"
)

var serveFlags config.Flags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		serveFlags.Set = map[string]bool{}
		for _, name := range []string{"addr", "db", "config", "remote", "log-level"} {
			serveFlags.Set[name] = cmd.Flags().Changed(name)
		}
		runServe(serveFlags)
		return nil
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.Addr, "addr", "", "listen address host:port")
	f.StringVar(&serveFlags.DB, "db", "", "cache directory")
	f.StringVar(&serveFlags.Config, "config", "", "config file path")
	f.StringVar(&serveFlags.Remote, "remote", "", "remote log backend: memory, mongo or nats")
	f.StringVar(&serveFlags.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.AddCommand(serveCmd)
}

func runServe(flags config.Flags) {
	_ = godotenv.Load(".env")

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		shutdown.Abort("failed to load config file", err, flags.DB)
	}
	envCfg, envRes, err := config.ParseConfigEnvs()
	if err != nil {
		shutdown.Abort("failed to parse environment", err, flags.DB)
	}
	eff := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err := config.ValidateConfig(&eff); err != nil {
		shutdown.Abort("invalid configuration", err, eff.DBPath)
	}

	logger.Init(eff.Config.Logging.Level)
	defer logger.Sync()
	logger.Info("effective_config_loaded", "sources", eff.Sources, "addr", eff.Addr, "db_path", eff.DBPath)

	if err := state.Init(eff.DBPath); err != nil {
		shutdown.Abort("failed to ensure state directories under "+eff.DBPath, err, eff.DBPath)
	}

	a, err := app.New(eff, version)
	if err != nil {
		shutdown.Abort("failed to initialize app", err, eff.DBPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", "error", err)
	}
	if runErr != nil {
		shutdown.Abort("app run failed", runErr, eff.DBPath)
	}
}

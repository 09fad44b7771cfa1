package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/chatlog/internal/config"
	"github.com/MarcoPoloResearchLab/chatlog/internal/logging"
	"github.com/MarcoPoloResearchLab/chatlog/internal/metrics"
	"github.com/MarcoPoloResearchLab/chatlog/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	_ = godotenv.Load(".env")

	rootCmd := &cobra.Command{
		Use:   "chatlog-api",
		Short: "Chat log HTTP service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newImportLegacyCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("store-backend", defaults.GetString("store.backend"), "Message store backend (sqlite, file)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("store-file", defaults.GetString("store.file_path"), "JSON log file path for the file backend")
	cmd.PersistentFlags().Int("store-capacity", defaults.GetInt("store.capacity"), "Maximum number of persisted messages")
	cmd.PersistentFlags().Int("tail-size", defaults.GetInt("store.tail_size"), "Number of messages returned by a read")
	cmd.PersistentFlags().Float64("rate-limit-rps", defaults.GetFloat64("ratelimit.rps"), "Writes per second allowed per author (0 disables)")
	cmd.PersistentFlags().Int("rate-limit-burst", defaults.GetInt("ratelimit.burst"), "Write burst allowed per author")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "store.backend", "store-backend")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "store.file_path", "store-file")
	bindFlag(cmd, "store.capacity", "store-capacity")
	bindFlag(cmd, "store.tail_size", "tail-size")
	bindFlag(cmd, "ratelimit.rps", "rate-limit-rps")
	bindFlag(cmd, "ratelimit.burst", "rate-limit-burst")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	registry := metrics.NewRegistry()

	store, closeStore, err := openStore(appConfig, logger, registry)
	if err != nil {
		return err
	}
	defer closeStore()

	if evicted, err := store.EnforceRetention(ctx); err != nil {
		return err
	} else if evicted > 0 {
		logger.Info("trimmed log to capacity", zap.Int("evicted", evicted), zap.Int("capacity", store.Capacity()))
	}

	deps := server.Dependencies{
		Store:    store,
		TailSize: appConfig.StoreTailSize,
		Metrics:  registry,
		Logger:   logger,
	}
	if limiter := server.NewAuthorLimiter(appConfig.RateLimitRPS, appConfig.RateLimitBurst); limiter != nil {
		deps.Limiter = limiter
	}
	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("backend", appConfig.StoreBackend),
			zap.Int("capacity", store.Capacity()),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownDeadline)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/MarcoPoloResearchLab/chatlog/internal/client"
	"github.com/MarcoPoloResearchLab/chatlog/internal/config"
	"github.com/MarcoPoloResearchLab/chatlog/internal/identity"
	"github.com/MarcoPoloResearchLab/chatlog/internal/logging"
	"github.com/MarcoPoloResearchLab/chatlog/internal/session"
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
		Use:   "chatlog-client",
		Short: "Terminal client for the chat log service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), os.Stdin, os.Stdout)
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("server-url", defaults.GetString("server.url"), "Chat service base URL")
	cmd.PersistentFlags().String("state-path", defaults.GetString("client.state_path"), "Local client state file")
	cmd.PersistentFlags().Duration("poll-interval", defaults.GetDuration("client.poll_interval"), "Interval between reads")
	cmd.PersistentFlags().Duration("request-timeout", defaults.GetDuration("client.request_timeout"), "Timeout applied to each request")
	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	bindFlag(cmd, "server.url", "server-url")
	bindFlag(cmd, "client.state_path", "state-path")
	bindFlag(cmd, "client.poll_interval", "poll-interval")
	bindFlag(cmd, "client.request_timeout", "request-timeout")
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

func runClient(ctx context.Context, input io.Reader, output io.Writer) error {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(clientConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	storage, err := identity.NewFileStorage(clientConfig.StatePath)
	if err != nil {
		return err
	}
	provider, err := identity.NewProvider(identity.ProviderConfig{Storage: storage})
	if err != nil {
		return err
	}
	deviceID, err := provider.GetOrCreateIdentity()
	if err != nil {
		return err
	}

	transport, err := client.New(client.Config{
		BaseURL: clientConfig.ServerURL,
		Timeout: clientConfig.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	chatSession, err := session.New(session.Config{
		Transport: transport,
		Identity:  deviceID,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	updates, unsubscribe := chatSession.Subscribe(signalCtx)
	defer unsubscribe()

	renderer := newRenderer(output)
	go func() {
		for {
			select {
			case <-signalCtx.Done():
				return
			case view, ok := <-updates:
				if !ok {
					return
				}
				renderer.Render(view)
			}
		}
	}()

	go chatSession.Run(signalCtx, clientConfig.PollInterval)

	logger.Info("client started", zap.String("server", clientConfig.ServerURL), zap.String("device", deviceID.String()))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-signalCtx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if handleLine(signalCtx, chatSession, renderer, line) {
				return nil
			}
		}
	}
}

// handleLine applies one line of input. It reports whether the client should exit.
func handleLine(ctx context.Context, chatSession *session.Session, renderer *renderer, line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "/quit":
		return true
	case trimmed == "/unpin":
		chatSession.Unpin()
	case strings.HasPrefix(trimmed, "/pin"):
		position, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(trimmed, "/pin")))
		entries := chatSession.View().Entries
		if err != nil || position < 1 || position > len(entries) {
			renderer.Notice(fmt.Sprintf("usage: /pin <1-%d>", len(entries)))
			return false
		}
		chatSession.TogglePin(entries[position-1].Key())
	default:
		go func() {
			if _, err := chatSession.Submit(ctx, line); err != nil && !errors.Is(err, session.ErrBlankText) {
				renderer.Notice(err.Error())
			}
		}()
	}
	return false
}

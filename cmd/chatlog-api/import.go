package main

import (
	"github.com/MarcoPoloResearchLab/chatlog/internal/chat"
	"github.com/MarcoPoloResearchLab/chatlog/internal/config"
	"github.com/MarcoPoloResearchLab/chatlog/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newImportLegacyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-legacy <chat.db>",
		Short: "Import a JSON array chat log into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, closeStore, err := openStore(appConfig, logger, nil)
			if err != nil {
				return err
			}
			defer closeStore()

			imported, err := chat.ImportLegacyLog(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			logger.Info("legacy log imported",
				zap.String("source", args[0]),
				zap.Int("imported", imported),
				zap.String("backend", appConfig.StoreBackend),
			)
			return nil
		},
	}
}

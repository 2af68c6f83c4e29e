package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(reapCmd)
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one reaper sweep and print the result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ReapInterval)
		defer cancel()

		svc, err := buildServices(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		result, err := svc.reaper.Sweep(ctx)
		if err != nil {
			logger.Error("reap sweep failed", zap.Error(err))
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the guidance index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Load the corpus, embed it and persist a fresh index",
	Run: func(cmd *cobra.Command, _ []string) {
		indexBuild(cmd)
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the persisted index matches the corpus",
	Run: func(cmd *cobra.Command, _ []string) {
		indexStatus(cmd)
	},
}

func init() {
	indexCmd.AddCommand(indexBuildCmd, indexStatusCmd)
	rootCmd.AddCommand(indexCmd)
}

func indexBuild(cmd *cobra.Command) {
	ctx := commandContext(cmd)
	logger, config := setup()

	eng := newEngine(ctx, config, logger, nil)
	defer eng.Close(context.Background())

	if !eng.Enabled() {
		logger.Info("exiting", zap.String("reason", "retrieval is disabled"))
		return
	}

	meta, err := eng.Build(ctx)
	if err != nil {
		logger.Fatal("building index", zap.Error(err))
	}

	printJSON(logger, meta)
}

func indexStatus(cmd *cobra.Command) {
	ctx := commandContext(cmd)
	logger, config := setup()

	eng := newEngine(ctx, config, logger, nil)
	defer eng.Close(context.Background())

	if _, err := eng.LoadPersisted(ctx); err != nil {
		logger.Fatal("loading persisted index", zap.Error(err))
	}

	printJSON(logger, eng.Status())
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(logger *zap.Logger, v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Fatal("writing output", zap.Error(err))
	}
}

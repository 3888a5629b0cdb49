package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dilshanka/Rag-Pipeline/internal/app"
	"github.com/dilshanka/Rag-Pipeline/pkg/config"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

type rootOptions struct {
	configFile string
	collection string
	persist    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "ragctl",
		Short:         "Ingest documents and ask questions against the local corpus",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (defaults to ./config.yaml when present)")
	cmd.PersistentFlags().StringVar(&opts.collection, "collection", "", "vector collection name")
	cmd.PersistentFlags().StringVar(&opts.persist, "persist", "", "directory for the local vector snapshot")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	cmd.AddCommand(
		newIngestCmd(opts),
		newRemoveCmd(opts),
		newAskCmd(opts),
		newStatsCmd(opts),
	)
	return cmd
}

// open loads configuration, applies flag overrides and builds the app.
func (o *rootOptions) open(ctx context.Context) (*app.App, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFile(o.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if o.collection != "" {
		cfg.Vector.CollectionName = o.collection
	}
	if o.persist != "" {
		cfg.Ingestion.PersistPath = o.persist
	}

	if err := logger.Init(o.logLevel, "console", "stderr"); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return app.New(ctx, cfg)
}

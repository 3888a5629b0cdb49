package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dilshanka/Rag-Pipeline/internal/ingestion"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest every supported document under a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if source == "" {
				source = a.Config.Ingestion.SourceDir
			}

			report, err := a.Ingestion.IngestDirectory(ctx, ingestion.IngestRequest{
				SourceDir:  source,
				Collection: a.Config.Vector.CollectionName,
			})
			if report != nil {
				out := cmd.OutOrStdout()
				for _, d := range report.Documents {
					line := fmt.Sprintf("%-8s %s", d.Outcome, d.Path)
					if d.Error != "" {
						line += "  (" + d.Error + ")"
					}
					fmt.Fprintln(out, line)
				}
				fmt.Fprintf(out, "\n%d processed, %d skipped, %d failed, %d chunks in %s\n",
					report.Processed, report.Skipped, report.Failed, report.Chunks, report.Duration.Round(time.Millisecond))
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "source directory (defaults to ingestion.sourceDir)")
	return cmd
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <path-or-id>",
		Short: "Remove a document and its chunks from every store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.Ingestion.RemoveDocument(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			return nil
		},
	}
}

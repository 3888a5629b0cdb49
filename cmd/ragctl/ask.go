package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
)

const previewRunes = 150

func newAskCmd(opts *rootOptions) *cobra.Command {
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the ingested corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			answer := a.Engine.Answer(ctx, strings.Join(args, " "))

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, answer.Text)
			if answer.Degraded {
				fmt.Fprintln(out, "\n(degraded: some retrieval stages were skipped)")
			}
			if showSources && len(answer.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				printSources(out, answer.Sources)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSources, "sources", true, "print the sources used")
	return cmd
}

// printSources lists each source's chunk id, location and a one-line preview.
func printSources(w io.Writer, sources []domain.Source) {
	for i, s := range sources {
		fmt.Fprintf(w, "  [%d] %s (%s, page %d, score %.4f)\n", i+1, s.ID, s.SourceFile, s.PageNumber, s.Score)
		if p := preview(s.Excerpt); p != "" {
			fmt.Fprintf(w, "      %s\n", p)
		}
	}
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[:previewRunes]) + "..."
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show what has been ingested",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Catalogue.Stats(ctx, a.Ingestion.Collection)
			if err != nil {
				return err
			}
			vectors, err := a.Store.Count(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "collection: %s\n", a.Config.Vector.CollectionName)
			fmt.Fprintf(out, "documents:  %d\n", stats.Documents)
			fmt.Fprintf(out, "chunks:     %d\n", stats.Chunks)
			fmt.Fprintf(out, "vectors:    %d\n", vectors)
			fmt.Fprintf(out, "ocr pages:  %d\n", stats.OCRPages)
			if run := stats.LastRun; run != nil {
				fmt.Fprintf(out, "last run:   %s (%s, %d processed)\n", run.StartedAt.Format("2006-01-02 15:04"), run.Status, run.Processed)
			}
			return nil
		},
	}
}

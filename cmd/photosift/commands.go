package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/photosift/photosift/internal/job"
	"github.com/photosift/photosift/internal/pipeline"
	"github.com/photosift/photosift/internal/search"
)

func newProcessCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "process <folder>",
		Short: "Screen and index a folder synchronously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.scheduler.Process(cmd.Context(), args[0], func(p pipeline.Progress) {
				a.logger.Debug("progress", "progress", p.Progress, "message", p.Message)
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full summary as JSON")
	return cmd
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed photos by description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.searcher.Search(cmd.Context(), strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", search.DefaultTopK, "maximum number of results")
	return cmd
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.searcher.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newClearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop job history, the index and uploaded files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.clearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
}

func printSummary(w io.Writer, res *job.Result) {
	fmt.Fprintf(w, "total: %d  defective: %d  qualified: %d  indexed: %d\n",
		res.TotalPhotos, res.BadPhotos, res.QualifiedPhotos, res.IndexedPhotos)
	for _, p := range res.Photos {
		if p.IsDefective {
			fmt.Fprintf(w, "  %-40s %s\n", p.Filename, strings.Join(p.DefectTypes, ","))
		}
	}
}

func printResults(w io.Writer, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for _, r := range results {
		fmt.Fprintf(w, "%2d. %.3f  %s\n", r.Rank, r.SimilarityScore, r.Path)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

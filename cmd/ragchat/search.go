package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

func searchCmd() *cobra.Command {
	var (
		fileID string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			results := a.rag.Search(cmd.Context(), query, domain.Filter{FileID: fileID}, limit)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tSOURCE\tCHUNK\tTEXT")
			for _, r := range results {
				fmt.Fprintf(tw, "%.3f\t%s\t%d\t%s\n",
					r.Similarity, r.Metadata.OriginalName, r.Metadata.ChunkIndex, preview(r.Content, 80))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&fileID, "file-id", "", "restrict results to one file")
	cmd.Flags().IntVarP(&limit, "limit", "k", 0, "number of results (default: rag.top_k)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <file>...",
		Short: "Store and index files synchronously",
		Long: "Copies each file into the upload directory, then extracts, chunks, embeds and " +
			"stores it. The printed file id can be used with the HTTP API.",
		Args: cobra.MinimumNArgs(1),
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
			if !a.rag.IsEnabled() {
				return fmt.Errorf("rag is disabled in config")
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				id, chunks, err := a.indexPath(cmd.Context(), path)
				if err != nil {
					failed++
					logger.Error("index failed", zap.String("path", path), zap.Error(err))
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%d chunks\n", id, filepath.Base(path), chunks)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func (a *app) indexPath(ctx context.Context, path string) (string, int, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	stored, err := a.files.Save(ctx, filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)),
		f, a.cfg.HTTP.MaxUploadBytes)
	if err != nil {
		return "", 0, err
	}
	n, err := a.rag.IndexFile(ctx, stored.ID, stored.Path, stored.MimeType, stored.OriginalName)
	if err != nil {
		_ = a.files.Delete(stored.ID)
		return "", 0, err
	}
	return stored.ID, n, nil
}

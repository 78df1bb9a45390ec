package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	chiTransport "github.com/kailas-cloud/ragchat/internal/transport/chi"
	"github.com/kailas-cloud/ragchat/internal/usecase/rag"
	"github.com/kailas-cloud/ragchat/internal/version"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, logger, env, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragchat API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("vector_store", cfg.VectorStore.Driver),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.String("llm_default", cfg.LLM.DefaultProvider),
		zap.Bool("rag_enabled", cfg.RAG.Enabled),
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	queue := rag.NewIndexQueue(a.rag, logger,
		rag.WithWorkers(cfg.RAG.IndexWorkers),
		rag.WithQueueSize(cfg.RAG.IndexQueueSize),
		rag.WithJobTimeout(time.Duration(cfg.RAG.IndexTimeoutSec)*time.Second),
	)

	server := chiTransport.NewServer(a.files, a.rag, queue, a.chat, a.health, logger,
		chiTransport.WithMaxUploadBytes(cfg.HTTP.MaxUploadBytes),
		chiTransport.WithStoreStatus(a.index),
	)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(cfg.Auth.APIKeys),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	// Uploads are stopped; let queued indexing finish within the same deadline.
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warn("Index queue did not drain", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/amozeshoparvaresheIT/manar-chat/internal/blob"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/logging"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/server"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/signaling"
)

func main() {
	logging.Init()

	addr := flag.String("addr", envOr("ADDR", ":8080"), "listen address")
	uploadDir := flag.String("upload-dir", envOr("UPLOAD_DIR", "uploads"), "directory for encrypted file blobs")
	flag.Parse()

	store, err := blob.NewDiskStore(*uploadDir)
	if err != nil {
		slog.Error("failed to open blob store", "dir", *uploadDir, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The hub's event loop serializes all room state.
	hub := signaling.NewHub(store, slog.Default())
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:    *addr,
		Handler: server.New(hub, store),
	}

	go func() {
		slog.Info("starting signaling server", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

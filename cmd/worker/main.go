package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/docchat/internal/bootstrap"
	"github.com/kirillkom/docchat/internal/config"
	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/observability/logging"
)

// The worker drains completed turns off the queue and writes them to
// chat history. The api publishes and forgets; this is the durable side.
func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("docchat-worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeTurnCompleted(ctx, "history", func(handlerCtx context.Context, turn domain.CompletedTurn) error {
		saveCtx, cancel := context.WithTimeout(handlerCtx, 10*time.Second)
		defer cancel()
		return app.History.SaveTurn(saveCtx, turn)
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}

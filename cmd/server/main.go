package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rl1809/pos-register/internal/app"
	"github.com/rl1809/pos-register/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	register, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start register", zap.Error(err))
	}

	register.Start(ctx)
	logger.Info("register ready",
		zap.String("terminal_id", cfg.TerminalID),
		zap.String("api", cfg.API.BaseURL),
		zap.String("cart_store", cfg.CartStore),
		zap.String("sales_store", cfg.SalesStore))

	if err := register.Serve(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
	}

	// servers are down; flush events and close stores
	if err := register.Close(); err != nil {
		logger.Error("failed to close register", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	chatsync "github.com/putto11262002/chatsync/app"
	"github.com/putto11262002/chatsync/core"
)

func main() {

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	loader := &chatsync.EnvConfigLoader{}
	config, err := loader.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		if msg := chatsync.FormatValidationErrors(err); msg != "" {
			logger.Error("invalid config:\n" + msg)
		} else {
			logger.Error("invalid config", "error", err)
		}
		os.Exit(1)
	}

	token := os.Getenv("AUTH_TOKEN")
	if token == "" {
		logger.Error("AUTH_TOKEN is not set")
		os.Exit(1)
	}
	if chatsync.TokenExpired(token) {
		logger.Error("AUTH_TOKEN is expired")
		os.Exit(1)
	}

	session, err := chatsync.NewSession(config, chatsync.WithLogger(logger))
	if err != nil {
		logger.Error("create session", "error", err)
		os.Exit(1)
	}

	session.Client().On(core.EventStateChanged, func(data json.RawMessage) {
		p, err := core.DecodePayload[core.StateChangedPayload](data)
		if err != nil {
			return
		}
		logger.Info("connection state changed", "state", p.State, "reason", p.Reason)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx, token); err != nil {
		logger.Error("start session", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	session.Stop()
}

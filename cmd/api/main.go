package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/instantpay/instantpay/internal/account"
	"github.com/instantpay/instantpay/internal/config"
	"github.com/instantpay/instantpay/internal/identity"
	"github.com/instantpay/instantpay/internal/infra"
	"github.com/instantpay/instantpay/internal/logging"
	"github.com/instantpay/instantpay/internal/messaging"
	"github.com/instantpay/instantpay/internal/outbox"
	"github.com/instantpay/instantpay/internal/routes"
	"github.com/instantpay/instantpay/internal/server"
	"github.com/instantpay/instantpay/internal/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	deps := routes.Deps{Cfg: cfg, Logger: logger}
	var outboxStore outbox.Store

	if cfg.DatabaseURL != "" {
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		deps.DB = db
		deps.Ledger = transfer.NewPostgresLedger(db, cfg.LockTimeout)
		deps.Accounts = account.NewPostgresRepository(db)
		deps.Users = identity.NewPostgresRepository(db)
		outboxStore = outbox.NewPostgresStore(db)
	} else {
		// db-less development mode: everything lives in memory.
		memAccounts := account.NewMemoryRepository()
		memOutbox := outbox.NewMemoryStore()
		deps.Ledger = transfer.NewInMemory(memAccounts, memOutbox, cfg.LockTimeout)
		deps.Accounts = memAccounts
		deps.Users = identity.NewMemoryRepository()
		outboxStore = memOutbox
		logger.Warn("running with in-memory storage; state is not persisted")
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		deps.Cache = cache
	}

	var publisher messaging.Publisher
	if cfg.RabbitURL != "" {
		rabbit, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.OutboxTopicExchange)
		if err != nil {
			logger.Error("connect rabbitmq", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := rabbit.Close(); err != nil {
				logger.Warn("close rabbitmq", "error", err)
			}
		}()
		publisher = rabbit
	} else {
		publisher = messaging.NewLoggerPublisher(logger)
		logger.Warn("no broker configured; events are logged, not published")
	}

	dispatcher := outbox.NewDispatcher(outboxStore, publisher, logger, outbox.Options{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		RetryBackoff: cfg.OutboxRetryBackoff,
	})
	dispatcherCtx, stopDispatcher := context.WithCancel(ctx)
	defer stopDispatcher()
	go dispatcher.Run(dispatcherCtx)

	srv, err := server.New(deps)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	stopDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}

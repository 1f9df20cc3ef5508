// Package main запускает HTTP-сервер и фоновый фарминг сервиса stockfarm.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vanzstore/stockfarm/internal/channel"
	"github.com/vanzstore/stockfarm/internal/config"
	"github.com/vanzstore/stockfarm/internal/handler"
	"github.com/vanzstore/stockfarm/internal/middleware"
	"github.com/vanzstore/stockfarm/internal/model"
	"github.com/vanzstore/stockfarm/internal/repository"
	"github.com/vanzstore/stockfarm/internal/service"
	"github.com/vanzstore/stockfarm/internal/workflow"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	adminIDs, err := cfg.AdminIDList()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewFileRepository(cfg.DataDir)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}
	defer repo.Close()

	var integrations []model.Integration
	if cfg.IntegrationsFile != "" {
		integrations, err = config.LoadIntegrations(cfg.IntegrationsFile)
		if err != nil {
			sugar.Fatalw("integrations file error", "error", err.Error())
		}
	}

	var gateway *channel.Client
	if cfg.GatewayAddress != "" {
		gateway = channel.NewClient(cfg.GatewayAddress)
	}

	svc := service.NewService(repo, adminIDs, cfg.MaxPerDay, cfg.DispensePace)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового фарминга аккаунтов
	if gateway != nil && len(integrations) > 0 {
		scheduler := workflow.NewScheduler(gateway, repo, integrations, logger)
		g.Go(func() error {
			scheduler.Start(ctx)
			return nil
		})
	} else {
		sugar.Info("farming disabled: no gateway address or integrations configured")
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting stockfarm server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

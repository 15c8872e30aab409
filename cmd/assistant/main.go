/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"metered-assistant-go/internal/common"
	"metered-assistant-go/internal/config"
	"metered-assistant-go/internal/httpapi"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting assistant", zap.String("project", cfg.ProjectName))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer func() {
		if err := services.Close(); err != nil {
			zap.L().Warn("Error during shutdown", zap.Error(err))
		}
	}()

	// Refunds holds left behind by a previous crash before taking traffic.
	if err := services.Reconciler.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start hold reconciler", zap.Error(err))
	}

	var guard httpapi.Guard
	if services.Sessions.Enabled() {
		guard = services.Sessions
	}

	api := httpapi.NewServer(httpapi.Dependencies{
		Dispatcher: services.Coordinator,
		Admin:      services.Admin,
		Roles:      services.DbService,
		Health:     services.DbService,
		Guard:      guard,
	}, cfg.Server.WriteTimeout)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		zap.L().Info("Shutdown signal received, draining requests...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("Forced shutdown after timeout", zap.Error(err))
		}
		services.Reconciler.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("Assistant stopped with error", zap.Error(err))
		return
	}
	zap.L().Info("Assistant stopped gracefully")
}

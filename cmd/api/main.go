/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HamedShams/sprint-pulse/internal/adapters/jira"
	"github.com/HamedShams/sprint-pulse/internal/adapters/openai"
	"github.com/HamedShams/sprint-pulse/internal/adapters/telegram"
	"github.com/HamedShams/sprint-pulse/internal/config"
	"github.com/HamedShams/sprint-pulse/internal/forecast"
	httpapi "github.com/HamedShams/sprint-pulse/internal/http"
	"github.com/HamedShams/sprint-pulse/internal/jobs"
	"github.com/HamedShams/sprint-pulse/internal/logger"
	"github.com/HamedShams/sprint-pulse/internal/repo"
	"github.com/HamedShams/sprint-pulse/internal/services"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := repo.MustOpen(ctx, cfg, log)
	defer db.Close()
	repository := repo.NewRepository(db, log)

	jc := jira.NewClient(cfg, log)
	llm := openai.NewClient(cfg, log)
	tg := telegram.NewClient(cfg, log)

	sim := forecast.NewSimulator(rand.New(rand.NewSource(time.Now().UnixNano())))
	fore := forecast.NewOrchestrator(sim, log)
	svc := services.New(cfg, log, repository, jc, llm, tg, fore)

	router := httpapi.NewRouter(cfg, log, svc)

	cron := jobs.NewCron(cfg, log, svc, repository)
	cron.Start()
	defer cron.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil { log.Error().Err(err).Msg("http server error") }
	}

	time.Sleep(500 * time.Millisecond)
}

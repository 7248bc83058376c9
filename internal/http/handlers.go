/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"net/http"

	"github.com/HamedShams/sprint-pulse/internal/config"
	"github.com/HamedShams/sprint-pulse/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type service interface {
	RunRefresh(ctx context.Context) error
	GetLastRun(ctx context.Context) (any, error)
	SprintSummaries(ctx context.Context) ([]domain.SprintSummary, error)
	Forecasts(ctx context.Context) ([]domain.TeamForecast, error)
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc any) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc.(service)}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.svc.GetLastRun(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lr)
}

func (h *Handlers) RunNow(c *gin.Context) {
	// Run in background detached from the HTTP request to avoid context cancellation
	go func() { _ = h.svc.RunRefresh(context.Background()) }()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handlers) SprintReport(c *gin.Context) {
	rows, err := h.svc.SprintSummaries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{
			"sprint":         r.Sprint,
			"initial":        r.Initial,
			"added":          r.Added,
			"removed":        r.Removed,
			"blocked":        r.Blocked,
			"initial_points": r.InitialPoints,
			"added_points":   r.AddedPoints,
			"removed_points": r.RemovedPoints,
			"blocked_points": r.BlockedPoints,
			"type_counts":    r.TypeCounts,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sprints": out})
}

func (h *Handlers) ForecastReport(c *gin.Context) {
	rows, err := h.svc.Forecasts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{
			"team":                    r.Team,
			"next_cycle_optimistic":   r.NextCycleOptimistic,
			"next_cycle_conservative": r.NextCycleConservative,
			"days_until_release":      r.DaysUntilRelease,
			"current_optimistic":      r.CurrentOptimistic,
		})
	}
	c.JSON(http.StatusOK, gin.H{"teams": out})
}

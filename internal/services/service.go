/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HamedShams/sprint-pulse/internal/config"
	"github.com/HamedShams/sprint-pulse/internal/domain"
	"github.com/HamedShams/sprint-pulse/internal/forecast"
	"github.com/HamedShams/sprint-pulse/internal/repo"
	"github.com/HamedShams/sprint-pulse/internal/sprint"
	"github.com/rs/zerolog"
)

type JiraClient interface {
	Search(ctx context.Context, jql string, startAt, max int) (any, error)
	Issue(ctx context.Context, key string, expandChangelog bool) (any, error)
	Changelog(ctx context.Context, key string, startAt, max int) (any, error)
	BoardSprints(ctx context.Context, boardID int64, startAt, max int) (any, error)
	Fields(ctx context.Context) (any, error)
}

type LLM interface {
	SummarizeForecast(ctx context.Context, rows []domain.TeamForecast) (string, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessagePlain(ctx context.Context, chatID int64, text string) error
	SendMarkdownV2(ctx context.Context, chatID int64, text string) error
}

type Service struct {
	cfg  config.Config
	log  zerolog.Logger
	repo *repo.Repository
	jira JiraClient
	llm  LLM
	tg   Notifier
	fore *forecast.Orchestrator
}

func New(cfg config.Config, log zerolog.Logger, r *repo.Repository, jira JiraClient, llm LLM, tg Notifier, fore *forecast.Orchestrator) *Service {
	return &Service{cfg: cfg, log: log, repo: r, jira: jira, llm: llm, tg: tg, fore: fore}
}

// RunRefresh is the full pipeline: pull issues from Jira, refresh sprint
// windows and daily throughput, then rebuild the sprint report and the
// per-team forecast. Partial failures downstream of the ETL are logged and
// do not abort the run.
func (s *Service) RunRefresh(ctx context.Context) error {
	runID, err := s.repo.StartJobRun(ctx)
	if err != nil { s.log.Error().Err(err).Msg("start job run failed") }
	s.log.Info().Msg("Refresh: start")
	var issuesScanned int
	var etlErr error
	defer func() {
		if runID != 0 {
			errStr := ""
			if etlErr != nil { errStr = etlErr.Error() }
			_ = s.repo.FinishJobRun(ctx, runID, issuesScanned, etlErr == nil, errStr)
		}
	}()

	issuesScanned, etlErr = s.runETL(ctx)
	if etlErr != nil { return etlErr }

	if err := s.syncSprintWindows(ctx); err != nil { s.log.Error().Err(err).Msg("sync sprint windows failed") }
	if err := s.repo.RefreshDailyThroughput(ctx); err != nil { s.log.Error().Err(err).Msg("refresh daily throughput failed") }
	if err := s.RunSprintReport(ctx); err != nil { s.log.Error().Err(err).Msg("sprint report failed") }
	if err := s.RunForecast(ctx); err != nil { s.log.Error().Err(err).Msg("forecast failed") }

	s.log.Info().Int("issues_scanned", issuesScanned).Msg("Refresh: done")
	return nil
}

// runETL paginates the configured JQL and upserts the flattened records with
// a bounded worker pool per page.
func (s *Service) runETL(ctx context.Context) (int, error) {
	jql := s.cfg.JiraDefaultJQL
	if jql == "" {
		if len(s.cfg.JiraProjects) > 0 {
			jql = fmt.Sprintf("project in (%s) ORDER BY updated DESC", strings.Join(s.cfg.JiraProjects, ","))
		} else {
			jql = "updated >= -60d ORDER BY updated DESC"
		}
	}
	fc := flattenConfig{
		SprintFieldID:     s.cfg.SprintFieldID,
		PointsFieldID:     s.cfg.PointsFieldID,
		TeamFieldID:       s.cfg.TeamFieldID,
		StatusCategoryMap: s.cfg.StatusCategoryMap,
	}

	count := 0
	startAt := 0
	for {
		res, err := s.jira.Search(ctx, jql, startAt, 50)
		if err != nil { return count, err }
		m, _ := res.(map[string]any)
		arr, _ := m["issues"].([]any)
		if len(arr) == 0 { break }

		workerCount := s.cfg.WorkersJira
		if workerCount <= 0 { workerCount = 6 }
		jobs := make(chan map[string]any)
		var wg sync.WaitGroup
		for w := 0; w < workerCount; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for im := range jobs {
					s.etlProcessIssue(ctx, im, fc)
				}
			}()
		}
		for _, it := range arr {
			if im, _ := it.(map[string]any); im != nil { jobs <- im; count++ }
		}
		close(jobs)
		wg.Wait()
		if len(arr) < 50 { break }
		startAt += 50
	}
	return count, nil
}

func (s *Service) etlProcessIssue(ctx context.Context, im map[string]any, fc flattenConfig) {
	issue := flattenIssue(im, fc)
	if issue.Key == "" { return }
	issue.History = append(issue.History, s.fetchRemainingChangelog(ctx, issue.Key, im)...)

	id, err := s.repo.UpsertIssue(ctx, issue)
	if err != nil {
		s.log.Error().Err(err).Str("key", issue.Key).Msg("upsert issue failed")
		return
	}
	if err := s.repo.ReplaceSprintRefs(ctx, id, issue.Sprints); err != nil {
		s.log.Error().Err(err).Str("key", issue.Key).Msg("replace sprint refs failed")
	}
	if err := s.repo.ReplaceChangeEvents(ctx, id, issue.History); err != nil {
		s.log.Error().Err(err).Str("key", issue.Key).Msg("replace change events failed")
	}
}

// fetchRemainingChangelog pages /changelog when expand=changelog was
// truncated by the server.
func (s *Service) fetchRemainingChangelog(ctx context.Context, key string, im map[string]any) []domain.ChangeEntry {
	ch, _ := im["changelog"].(map[string]any)
	if ch == nil { return nil }
	total := 0
	have := 0
	if t, ok := ch["total"].(float64); ok { total = int(t) }
	if hs, ok := ch["histories"].([]any); ok { have = len(hs) }
	if total <= have { return nil }

	var out []domain.ChangeEntry
	startAt := have
	for {
		res, err := s.jira.Changelog(ctx, key, startAt, 100)
		if err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("changelog page failed")
			break
		}
		hm, _ := res.(map[string]any)
		var hvals []any
		if vv, ok := hm["values"].([]any); ok { hvals = vv } else if vv, ok := hm["histories"].([]any); ok { hvals = vv }
		if len(hvals) == 0 { break }
		out = append(out, flattenChangelog(map[string]any{"histories": hvals})...)
		startAt += len(hvals)
		if startAt >= total { break }
	}
	return out
}

// syncSprintWindows merges the authoritative board sprint list with the
// windows embedded in issue sprint associations. Board data wins; embedded
// refs fill boards we cannot query.
func (s *Service) syncSprintWindows(ctx context.Context) error {
	byID := map[string]domain.SprintWindow{}
	issues, err := s.repo.LoadIssues(ctx)
	if err != nil { return err }
	for _, i := range issues {
		for _, ref := range i.Sprints {
			w, ok := byID[ref.ID]
			if !ok { w = domain.SprintWindow{ID: ref.ID} }
			if w.Name == "" { w.Name = ref.Name }
			if w.Start == nil { w.Start = ref.Start }
			if w.End == nil { w.End = ref.End }
			byID[ref.ID] = w
		}
	}

	for _, boardID := range s.cfg.JiraBoardIDs {
		startAt := 0
		for {
			res, err := s.jira.BoardSprints(ctx, boardID, startAt, 50)
			if err != nil {
				s.log.Error().Err(err).Int64("board", boardID).Msg("board sprints failed")
				break
			}
			m, _ := res.(map[string]any)
			vals, _ := m["values"].([]any)
			if len(vals) == 0 { break }
			for _, v0 := range vals {
				sm, _ := v0.(map[string]any)
				if sm == nil { continue }
				id := toStrAny(sm["id"])
				if f, ok := sm["id"].(float64); ok { id = fmt.Sprintf("%d", int64(f)) }
				if id == "" { continue }
				byID[id] = domain.SprintWindow{
					ID:    id,
					Name:  toStrAny(sm["name"]),
					Start: parseTimeUTC(sm["startDate"]),
					End:   parseTimeUTC(sm["endDate"]),
				}
			}
			if last, ok := m["isLast"].(bool); ok && last { break }
			if len(vals) < 50 { break }
			startAt += 50
		}
	}

	windows := make([]domain.SprintWindow, 0, len(byID))
	for _, w := range byID { windows = append(windows, w) }
	return s.repo.UpsertSprintWindows(ctx, windows)
}

// RunSprintReport resolves sprint memberships for every stored issue and
// persists the per-sprint composition rows.
func (s *Service) RunSprintReport(ctx context.Context) error {
	windows, err := s.repo.LoadSprintWindows(ctx)
	if err != nil { return err }
	issues, err := s.repo.LoadIssues(ctx)
	if err != nil { return err }

	resolver := sprint.NewResolver(windows, s.cfg.SprintFieldID, s.log)
	memberships := map[string]map[string]domain.Membership{}
	for _, i := range issues {
		if m := resolver.Resolve(i); len(m) > 0 { memberships[i.Key] = m }
	}
	rows := sprint.Aggregate(issues, memberships, windows, sprint.AggregateConfig{
		IssueTypes:      s.cfg.IssueTypes,
		BlockedCategory: s.cfg.BlockedCategory,
	})
	s.log.Info().Int("sprints", len(rows)).Int("issues", len(issues)).Msg("sprint report computed")
	return s.repo.SaveSprintSummaries(ctx, time.Now().UTC(), rows)
}

// RunForecast rebuilds the per-team forecast table and pushes the digest to
// the configured Telegram chats.
func (s *Service) RunForecast(ctx context.Context) error {
	samples, err := s.repo.LoadThroughput(ctx)
	if err != nil { return err }
	releases, err := s.repo.LoadReleaseCadences(ctx)
	if err != nil { return err }
	rows := s.fore.Forecast(s.cfg.TeamCadences, samples, releases, forecast.Options{
		RelevantRange: s.cfg.RelevantRange,
		Trials:        s.cfg.ForecastTrials,
		Now:           time.Now().UTC(),
	})
	if err := s.repo.SaveForecasts(ctx, time.Now().UTC(), rows); err != nil { return err }

	digest := renderForecastDigest(rows)
	if s.llm != nil && strings.TrimSpace(s.cfg.OpenAIKey) != "" && len(rows) > 0 {
		if note, err := s.llm.SummarizeForecast(ctx, rows); err == nil && note != "" {
			digest += "\n" + note
		} else if err != nil {
			s.log.Error().Err(err).Msg("forecast summary failed")
		}
	}
	for _, chat := range s.cfg.TelegramChatIDs {
		for _, part := range chunkText(digest, 3800) {
			if err := s.tg.SendMessagePlain(ctx, chat, part); err != nil {
				s.log.Error().Err(err).Int64("chat", chat).Msg("telegram send failed")
			}
		}
	}
	return nil
}

func (s *Service) GetLastRun(ctx context.Context) (any, error) {
	return s.repo.GetLastRun(ctx)
}

func (s *Service) SprintSummaries(ctx context.Context) ([]domain.SprintSummary, error) {
	return s.repo.GetSprintSummaries(ctx)
}

func (s *Service) Forecasts(ctx context.Context) ([]domain.TeamForecast, error) {
	return s.repo.GetForecasts(ctx)
}

// renderForecastDigest builds a plain-text table, most at-risk teams first.
func renderForecastDigest(rows []domain.TeamForecast) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "Sprint Pulse — release forecast\n\n")
	if len(rows) == 0 {
		fmt.Fprintf(b, "No teams configured.\n")
		return b.String()
	}
	for _, r := range rows {
		fmt.Fprintf(b, "%s\n", r.Team)
		fmt.Fprintf(b, "  next cycle: %d optimistic / %d conservative\n", r.NextCycleOptimistic, r.NextCycleConservative)
		if r.DaysUntilRelease > 0 {
			fmt.Fprintf(b, "  release in %dd: %d optimistic\n", r.DaysUntilRelease, r.CurrentOptimistic)
		}
	}
	return b.String()
}

// chunkText splits text into chunks of up to max runes, attempting to break on line boundaries.
func chunkText(s string, max int) []string {
	if max <= 0 { return []string{s} }
	var chunks []string
	lines := strings.Split(s, "\n")
	cur := ""
	curlen := 0
	for _, ln := range lines {
		rl := len([]rune(ln))
		if rl > max {
			if curlen > 0 { chunks = append(chunks, cur); cur = ""; curlen = 0 }
			r := []rune(ln)
			for i := 0; i < rl; i += max {
				j := i + max
				if j > rl { j = rl }
				chunks = append(chunks, string(r[i:j]))
			}
			continue
		}
		extra := rl
		if curlen > 0 { extra += 1 }
		if curlen+extra > max {
			chunks = append(chunks, cur)
			cur = ln
			curlen = rl
		} else {
			if curlen == 0 { cur = ln; curlen = rl } else { cur += "\n" + ln; curlen += extra }
		}
	}
	if curlen > 0 { chunks = append(chunks, cur) }
	if len(chunks) == 0 { chunks = []string{""} }
	return chunks
}

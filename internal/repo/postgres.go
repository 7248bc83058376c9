/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/HamedShams/sprint-pulse/internal/config"
	"github.com/HamedShams/sprint-pulse/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, logger zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil { logger.Fatal().Err(err).Msg("db connect failed") }
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil { logger.Fatal().Err(err).Msg("db ping failed") }
	return &DB{Pool: pool, log: logger}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, logger zerolog.Logger) *Repository { return &Repository{db: d, log: logger} }

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil { return errors.New("advisory unlock returned false") }
	return err
}

func (r *Repository) UpsertIssue(ctx context.Context, i domain.Issue) (int64, error) {
	const q = `
        INSERT INTO issues(key, project, team, type, priority, assignee, reporter,
            status_category, created_at_jira, updated_at_jira, done_at, points, labels)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT(key) DO UPDATE SET
            project=EXCLUDED.project,
            team=EXCLUDED.team,
            type=EXCLUDED.type,
            priority=EXCLUDED.priority,
            assignee=EXCLUDED.assignee,
            reporter=EXCLUDED.reporter,
            status_category=EXCLUDED.status_category,
            created_at_jira=EXCLUDED.created_at_jira,
            updated_at_jira=EXCLUDED.updated_at_jira,
            done_at=EXCLUDED.done_at,
            points=EXCLUDED.points,
            labels=EXCLUDED.labels
        RETURNING id`
	var id int64
	row := r.db.Pool.QueryRow(ctx, q, i.Key, i.Project, i.Team, i.Type, i.Priority, i.Assignee, i.Reporter,
		i.StatusCategory, i.CreatedAt, i.UpdatedAt, i.DoneAt, i.Points, i.Labels)
	if err := row.Scan(&id); err != nil { return 0, err }
	return id, nil
}

func (r *Repository) ReplaceChangeEvents(ctx context.Context, issueID int64, history []domain.ChangeEntry) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM change_events WHERE issue_id=$1`, issueID); err != nil { return err }
	batch := &pgx.Batch{}
	const q = `INSERT INTO change_events(issue_id, at, field, field_id, from_val, to_val, from_ids, to_ids)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8)`
	n := 0
	for _, entry := range history {
		for _, item := range entry.Items {
			batch.Queue(q, issueID, entry.At, item.Field, item.FieldID, item.From, item.To, item.FromIDs, item.ToIDs)
			n++
		}
	}
	if n == 0 { return nil }
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil { return err }
	}
	return nil
}

func (r *Repository) ReplaceSprintRefs(ctx context.Context, issueID int64, refs []domain.SprintRef) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM issue_sprints WHERE issue_id=$1`, issueID); err != nil { return err }
	if len(refs) == 0 { return nil }
	batch := &pgx.Batch{}
	const q = `INSERT INTO issue_sprints(issue_id, sprint_id, name, start_date, end_date)
        VALUES($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING`
	for _, ref := range refs { batch.Queue(q, issueID, ref.ID, ref.Name, ref.Start, ref.End) }
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range refs {
		if _, err := br.Exec(); err != nil { return err }
	}
	return nil
}

func (r *Repository) UpsertSprintWindows(ctx context.Context, windows []domain.SprintWindow) error {
	if len(windows) == 0 { return nil }
	batch := &pgx.Batch{}
	const q = `INSERT INTO sprint_windows(sprint_id, name, start_date, end_date)
        VALUES($1,$2,$3,$4)
        ON CONFLICT(sprint_id) DO UPDATE SET
            name=EXCLUDED.name,
            start_date=COALESCE(EXCLUDED.start_date, sprint_windows.start_date),
            end_date=COALESCE(EXCLUDED.end_date, sprint_windows.end_date)`
	for _, w := range windows { batch.Queue(q, w.ID, w.Name, w.Start, w.End) }
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range windows {
		if _, err := br.Exec(); err != nil { return err }
	}
	return nil
}

func (r *Repository) LoadSprintWindows(ctx context.Context) (map[string]domain.SprintWindow, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT sprint_id, name, start_date, end_date FROM sprint_windows`)
	if err != nil { return nil, err }
	defer rows.Close()
	out := map[string]domain.SprintWindow{}
	for rows.Next() {
		var w domain.SprintWindow
		if err := rows.Scan(&w.ID, &w.Name, &w.Start, &w.End); err != nil { return nil, err }
		out[w.ID] = w
	}
	return out, rows.Err()
}

// LoadIssues reassembles full issue records: core fields, sprint refs, and
// the change history ordered chronologically.
func (r *Repository) LoadIssues(ctx context.Context) ([]domain.Issue, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, key, COALESCE(project,''), COALESCE(team,''), COALESCE(type,''),
        COALESCE(priority,''), COALESCE(assignee,''), COALESCE(reporter,''), COALESCE(status_category,''),
        created_at_jira, updated_at_jira, done_at, points, labels FROM issues`)
	if err != nil { return nil, err }
	defer rows.Close()
	var issues []domain.Issue
	byID := map[int64]int{}
	for rows.Next() {
		var i domain.Issue
		if err := rows.Scan(&i.ID, &i.Key, &i.Project, &i.Team, &i.Type, &i.Priority, &i.Assignee, &i.Reporter,
			&i.StatusCategory, &i.CreatedAt, &i.UpdatedAt, &i.DoneAt, &i.Points, &i.Labels); err != nil {
			return nil, err
		}
		byID[i.ID] = len(issues)
		issues = append(issues, i)
	}
	if err := rows.Err(); err != nil { return nil, err }

	refRows, err := r.db.Pool.Query(ctx, `SELECT issue_id, sprint_id, name, start_date, end_date FROM issue_sprints`)
	if err != nil { return nil, err }
	defer refRows.Close()
	for refRows.Next() {
		var issueID int64
		var ref domain.SprintRef
		if err := refRows.Scan(&issueID, &ref.ID, &ref.Name, &ref.Start, &ref.End); err != nil { return nil, err }
		if idx, ok := byID[issueID]; ok { issues[idx].Sprints = append(issues[idx].Sprints, ref) }
	}
	if err := refRows.Err(); err != nil { return nil, err }

	evRows, err := r.db.Pool.Query(ctx, `SELECT issue_id, at, field, COALESCE(field_id,''), COALESCE(from_val,''),
        COALESCE(to_val,''), COALESCE(from_ids,''), COALESCE(to_ids,'') FROM change_events ORDER BY issue_id, at`)
	if err != nil { return nil, err }
	defer evRows.Close()
	for evRows.Next() {
		var issueID int64
		var at *time.Time
		var item domain.ChangeItem
		if err := evRows.Scan(&issueID, &at, &item.Field, &item.FieldID, &item.From, &item.To, &item.FromIDs, &item.ToIDs); err != nil {
			return nil, err
		}
		idx, ok := byID[issueID]
		if !ok { continue }
		hist := issues[idx].History
		// change_events stores one row per item; rows sharing a timestamp
		// fold back into one history entry.
		if len(hist) > 0 && sameTime(hist[len(hist)-1].At, at) {
			hist[len(hist)-1].Items = append(hist[len(hist)-1].Items, item)
		} else {
			hist = append(hist, domain.ChangeEntry{At: at, Items: []domain.ChangeItem{item}})
		}
		issues[idx].History = hist
	}
	return issues, evRows.Err()
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil { return a == b }
	return a.Equal(*b)
}

func (r *Repository) SaveSprintSummaries(ctx context.Context, computedAt time.Time, rows []domain.SprintSummary) error {
	if len(rows) == 0 { return nil }
	batch := &pgx.Batch{}
	const q = `INSERT INTO sprint_summaries(sprint, computed_at, initial_count, added_count, removed_count, blocked_count,
            initial_points, added_points, removed_points, blocked_points, type_counts)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT(sprint) DO UPDATE SET
            computed_at=EXCLUDED.computed_at,
            initial_count=EXCLUDED.initial_count,
            added_count=EXCLUDED.added_count,
            removed_count=EXCLUDED.removed_count,
            blocked_count=EXCLUDED.blocked_count,
            initial_points=EXCLUDED.initial_points,
            added_points=EXCLUDED.added_points,
            removed_points=EXCLUDED.removed_points,
            blocked_points=EXCLUDED.blocked_points,
            type_counts=EXCLUDED.type_counts`
	for _, s := range rows {
		tc, _ := json.Marshal(s.TypeCounts)
		batch.Queue(q, s.Sprint, computedAt, s.Initial, s.Added, s.Removed, s.Blocked,
			s.InitialPoints, s.AddedPoints, s.RemovedPoints, s.BlockedPoints, tc)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil { return err }
	}
	return nil
}

func (r *Repository) GetSprintSummaries(ctx context.Context) ([]domain.SprintSummary, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT sprint, initial_count, added_count, removed_count, blocked_count,
        initial_points, added_points, removed_points, blocked_points, type_counts FROM sprint_summaries ORDER BY sprint`)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.SprintSummary
	for rows.Next() {
		var s domain.SprintSummary
		var tc []byte
		if err := rows.Scan(&s.Sprint, &s.Initial, &s.Added, &s.Removed, &s.Blocked,
			&s.InitialPoints, &s.AddedPoints, &s.RemovedPoints, &s.BlockedPoints, &tc); err != nil {
			return nil, err
		}
		if len(tc) > 0 { _ = json.Unmarshal(tc, &s.TypeCounts) }
		out = append(out, s)
	}
	return out, rows.Err()
}

// RefreshDailyThroughput recomputes team-day completion counts from done
// issues; this is the feed for the resampler's history.
func (r *Repository) RefreshDailyThroughput(ctx context.Context) error {
	const q = `INSERT INTO throughput_daily(team, date_day, throughput)
        SELECT COALESCE(team,''), date_trunc('day', done_at)::date, COUNT(*)
        FROM issues WHERE done_at IS NOT NULL AND COALESCE(team,'') <> ''
        GROUP BY 1, 2
        ON CONFLICT(team, date_day) DO UPDATE SET throughput=EXCLUDED.throughput`
	_, err := r.db.Pool.Exec(ctx, q)
	return err
}

func (r *Repository) LoadThroughput(ctx context.Context) ([]domain.ThroughputSample, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT team, date_day, throughput FROM throughput_daily ORDER BY team, date_day`)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.ThroughputSample
	for rows.Next() {
		var s domain.ThroughputSample
		if err := rows.Scan(&s.Team, &s.Date, &s.Count); err != nil { return nil, err }
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) LoadReleaseCadences(ctx context.Context) ([]domain.ReleaseDate, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT cadence, release_date FROM release_cadences ORDER BY release_date`)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.ReleaseDate
	for rows.Next() {
		var cadence int
		var date time.Time
		if err := rows.Scan(&cadence, &date); err != nil { return nil, err }
		out = append(out, domain.ReleaseDate{Cadence: domain.Cadence(cadence), Date: date})
	}
	return out, rows.Err()
}

func (r *Repository) SaveForecasts(ctx context.Context, computedAt time.Time, rows []domain.TeamForecast) error {
	if len(rows) == 0 { return nil }
	batch := &pgx.Batch{}
	const q = `INSERT INTO forecasts(team, computed_at, next_cycle_optimistic, next_cycle_conservative,
            days_until_release, current_optimistic, rank)
        VALUES($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT(team) DO UPDATE SET
            computed_at=EXCLUDED.computed_at,
            next_cycle_optimistic=EXCLUDED.next_cycle_optimistic,
            next_cycle_conservative=EXCLUDED.next_cycle_conservative,
            days_until_release=EXCLUDED.days_until_release,
            current_optimistic=EXCLUDED.current_optimistic,
            rank=EXCLUDED.rank`
	for i, f := range rows {
		batch.Queue(q, f.Team, computedAt, f.NextCycleOptimistic, f.NextCycleConservative,
			f.DaysUntilRelease, f.CurrentOptimistic, i)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil { return err }
	}
	return nil
}

func (r *Repository) GetForecasts(ctx context.Context) ([]domain.TeamForecast, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT team, next_cycle_optimistic, next_cycle_conservative,
        days_until_release, current_optimistic FROM forecasts ORDER BY rank`)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.TeamForecast
	for rows.Next() {
		var f domain.TeamForecast
		if err := rows.Scan(&f.Team, &f.NextCycleOptimistic, &f.NextCycleConservative,
			&f.DaysUntilRelease, &f.CurrentOptimistic); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type LastRun struct {
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	IssuesScanned int        `json:"issues_scanned"`
	Success       bool       `json:"success"`
	Error         string     `json:"error"`
}

func (r *Repository) StartJobRun(ctx context.Context) (int64, error) {
	const q = `INSERT INTO job_runs(started_at, success) VALUES(now(), false) RETURNING id`
	var id int64
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&id); err != nil { return 0, err }
	return id, nil
}

func (r *Repository) FinishJobRun(ctx context.Context, id int64, issuesScanned int, success bool, errStr string) error {
	const q = `UPDATE job_runs SET finished_at=now(), issues_scanned=$2, success=$3, error=$4 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, issuesScanned, success, errStr)
	return err
}

func (r *Repository) GetLastRun(ctx context.Context) (*LastRun, error) {
	const q = `SELECT started_at, finished_at, coalesce(issues_scanned,0), coalesce(success,false), coalesce(error,'')
        FROM job_runs ORDER BY id DESC LIMIT 1`
	row := r.db.Pool.QueryRow(ctx, q)
	lr := &LastRun{}
	if err := row.Scan(&lr.StartedAt, &lr.FinishedAt, &lr.IssuesScanned, &lr.Success, &lr.Error); err != nil { return nil, err }
	return lr, nil
}

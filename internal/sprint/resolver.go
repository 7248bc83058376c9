/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package sprint

import (
	"sort"
	"strings"

	"github.com/HamedShams/sprint-pulse/internal/domain"
	"github.com/rs/zerolog"
)

// Resolver reconstructs which sprints an issue passed through and how it
// relates to each one (present at start, added later, removed after start).
// Resolution is per issue and deterministic for a fixed window table.
type Resolver struct {
	windows       map[string]domain.SprintWindow
	sprintFieldID string
	log           zerolog.Logger
}

func NewResolver(windows map[string]domain.SprintWindow, sprintFieldID string, log zerolog.Logger) *Resolver {
	return &Resolver{windows: windows, sprintFieldID: sprintFieldID, log: log}
}

// Resolve walks one issue's change history against the known sprint windows.
// Sprint ids that cannot be matched to a complete window are skipped; this is
// best-effort reconstruction, never an error.
func (r *Resolver) Resolve(issue domain.Issue) map[string]domain.Membership {
	history := orderedHistory(issue.History)
	out := map[string]domain.Membership{}
	for _, id := range r.candidates(issue, history) {
		w, ok := r.windows[id]
		if !ok || w.Start == nil || w.End == nil {
			r.log.Debug().Str("issue", issue.Key).Str("sprint", id).Msg("sprint window unresolvable, skipping")
			continue
		}
		out[id] = r.classify(issue, history, w)
	}
	return out
}

// candidates collects sprint ids from the final association list plus both
// id sides of every sprint-field change. History-only ids count only when
// the change landed inside the sprint's window.
func (r *Resolver) candidates(issue domain.Issue, history []domain.ChangeEntry) []string {
	seen := map[string]struct{}{}
	var ids []string
	add := func(id string) {
		if id == "" { return }
		if _, ok := seen[id]; ok { return }
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, ref := range issue.Sprints {
		add(ref.ID)
	}
	for _, entry := range history {
		if entry.At == nil { continue }
		at := *entry.At
		for _, item := range entry.Items {
			if !r.isSprintItem(item) { continue }
			for _, id := range splitList(item.ToIDs) {
				w, ok := r.windows[id]
				if !ok || w.Start == nil || w.End == nil { continue }
				if !at.Before(*w.Start) && !at.After(*w.End) { add(id) }
			}
			// The "from" side uses a strict lower bound; kept as-is until the
			// intended semantics are confirmed against board data.
			for _, id := range splitList(item.FromIDs) {
				w, ok := r.windows[id]
				if !ok || w.Start == nil || w.End == nil { continue }
				if at.After(*w.Start) && !at.After(*w.End) { add(id) }
			}
		}
	}
	return ids
}

// classify decides Initial vs Added from the first history item that added
// the sprint by name, and flags Removed from any item that dropped it after
// sprint start. With no add event on record, issues listed in the final
// association fall back to comparing creation date against sprint start.
func (r *Resolver) classify(issue domain.Issue, history []domain.ChangeEntry, w domain.SprintWindow) domain.Membership {
	m := domain.Membership{SprintID: w.ID}
	decided := false
	for _, entry := range history {
		if entry.At == nil { continue }
		at := *entry.At
		for _, item := range entry.Items {
			if !r.isSprintItem(item) { continue }
			fromNames := nameSet(item.From)
			toNames := nameSet(item.To)
			if !decided && toNames[w.Name] && !fromNames[w.Name] {
				if !at.After(*w.Start) {
					m.Class = domain.ClassInitial
				} else {
					m.Class = domain.ClassAdded
				}
				decided = true
				continue
			}
			if fromNames[w.Name] && !toNames[w.Name] && !at.Before(*w.Start) {
				m.Removed = true
			}
		}
	}
	if !decided && r.inAssociations(issue, w.ID) {
		if issue.CreatedAt != nil && issue.CreatedAt.Before(*w.Start) {
			m.Class = domain.ClassInitial
		} else {
			m.Class = domain.ClassAdded
		}
	}
	return m
}

func (r *Resolver) isSprintItem(item domain.ChangeItem) bool {
	return item.Field == "Sprint" || (r.sprintFieldID != "" && item.FieldID == r.sprintFieldID)
}

func (r *Resolver) inAssociations(issue domain.Issue, sprintID string) bool {
	for _, ref := range issue.Sprints {
		if ref.ID == sprintID { return true }
	}
	return false
}

// orderedHistory sorts entries chronologically without mutating the input.
// Entries missing a timestamp sort first and are ignored by the callers.
func orderedHistory(in []domain.ChangeEntry) []domain.ChangeEntry {
	out := make([]domain.ChangeEntry, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At == nil { return out[j].At != nil }
		if out[j].At == nil { return false }
		return out[i].At.Before(*out[j].At)
	})
	return out
}

// splitList splits Jira's comma-separated value lists ("123, 456").
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" { return nil }
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" { continue }
		out = append(out, p)
	}
	return out
}

func nameSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, p := range splitList(s) {
		out[p] = true
	}
	return out
}

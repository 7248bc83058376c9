/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package sprint

import (
	"sort"

	"github.com/HamedShams/sprint-pulse/internal/domain"
)

// AggregateConfig narrows which issues participate and names the blocked
// status category. Passed in explicitly so deployments can tune both without
// code changes.
type AggregateConfig struct {
	IssueTypes      []string
	BlockedCategory string
}

// Aggregate folds resolved memberships into one summary row per sprint.
// memberships is keyed by issue key; sprints nobody resolved to are omitted
// rather than zero-filled. Rows come back sorted by sprint display name.
func Aggregate(issues []domain.Issue, memberships map[string]map[string]domain.Membership, windows map[string]domain.SprintWindow, cfg AggregateConfig) []domain.SprintSummary {
	allowed := map[string]bool{}
	for _, t := range cfg.IssueTypes {
		allowed[t] = true
	}

	type bucket struct {
		summary domain.SprintSummary
		seen    bool
	}
	buckets := map[string]*bucket{}
	get := func(sprintID string) *bucket {
		b, ok := buckets[sprintID]
		if !ok {
			name := sprintID
			if w, ok := windows[sprintID]; ok && w.Name != "" { name = w.Name }
			b = &bucket{summary: domain.SprintSummary{Sprint: name, TypeCounts: map[string]int{}}}
			buckets[sprintID] = b
		}
		return b
	}

	for _, issue := range issues {
		if len(allowed) > 0 && !allowed[issue.Type] { continue }
		resolved := memberships[issue.Key]
		for sprintID, m := range resolved {
			b := get(sprintID)
			b.seen = true
			b.summary.TypeCounts[issue.Type]++
			if issue.StatusCategory == cfg.BlockedCategory {
				b.summary.Blocked++
				b.summary.BlockedPoints += points(issue)
			}
			switch m.Class {
			case domain.ClassInitial:
				b.summary.Initial++
				b.summary.InitialPoints += points(issue)
			case domain.ClassAdded:
				b.summary.Added++
				b.summary.AddedPoints += points(issue)
			}
			if m.Removed {
				b.summary.Removed++
				b.summary.RemovedPoints += points(issue)
			}
		}
	}

	out := make([]domain.SprintSummary, 0, len(buckets))
	for _, b := range buckets {
		if !b.seen { continue }
		out = append(out, b.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sprint < out[j].Sprint })
	return out
}

// points treats a missing story-point estimate as zero.
func points(issue domain.Issue) float64 {
	if issue.Points == nil { return 0 }
	return *issue.Points
}

/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/HamedShams/sprint-pulse/internal/domain"
)

// Every field is flattened on its own; a field the server returned in an
// unexpected shape ends up as its zero value and never sinks the issue.

func parseTimeUTC(v any) *time.Time {
	s, _ := v.(string)
	if s == "" { return nil }
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700", "2006-01-02"}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			tt := t.UTC(); return &tt
		}
	}
	return nil
}

func toStrAny(v any) string {
	if v == nil { return "" }
	if s, ok := v.(string); ok { return s }
	return fmt.Sprintf("%v", v)
}

// optionToString extracts Jira option value objects: map with keys like value/name
func optionToString(v any) string {
	if v == nil { return "" }
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["value"].(string); ok { return s }
		if name, ok := t["name"].(string); ok { return name }
		return toStrAny(v)
	case []any:
		vals := make([]string, 0, len(t))
		for _, it := range t {
			switch m := it.(type) {
			case map[string]any:
				if s, ok := m["value"].(string); ok { vals = append(vals, s); continue }
				if name, ok := m["name"].(string); ok { vals = append(vals, name); continue }
			case string:
				vals = append(vals, m)
			}
		}
		return strings.Join(vals, ", ")
	default:
		return toStrAny(v)
	}
}

func toFloatPtr(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	}
	return nil
}

// greenhopperField matches one key=value pair inside the Server/DC sprint
// string, e.g. "...Sprint@1b7[id=123,name=Alpha Sprint 4,startDate=...]".
var greenhopperField = regexp.MustCompile(`(\w+)=([^,\]]*)`)

// parseSprintRefs handles both shapes the sprint custom field comes in:
// Cloud returns objects, Server/DC returns serialized greenhopper strings.
func parseSprintRefs(v any) []domain.SprintRef {
	arr, ok := v.([]any)
	if !ok { return nil }
	out := make([]domain.SprintRef, 0, len(arr))
	for _, it := range arr {
		switch t := it.(type) {
		case map[string]any:
			ref := domain.SprintRef{
				ID:    toStrAny(t["id"]),
				Name:  toStrAny(t["name"]),
				Start: parseTimeUTC(t["startDate"]),
				End:   parseTimeUTC(t["endDate"]),
			}
			if f, ok := t["id"].(float64); ok { ref.ID = fmt.Sprintf("%d", int64(f)) }
			if ref.ID != "" { out = append(out, ref) }
		case string:
			if ref, ok := parseGreenhopperSprint(t); ok { out = append(out, ref) }
		}
	}
	return out
}

func parseGreenhopperSprint(s string) (domain.SprintRef, bool) {
	open := strings.Index(s, "[")
	if open < 0 || !strings.HasSuffix(s, "]") { return domain.SprintRef{}, false }
	var ref domain.SprintRef
	for _, m := range greenhopperField.FindAllStringSubmatch(s[open+1:len(s)-1], -1) {
		key, val := m[1], strings.TrimSpace(m[2])
		if val == "<null>" || val == "null" { val = "" }
		switch key {
		case "id":
			ref.ID = val
		case "name":
			ref.Name = val
		case "startDate":
			ref.Start = parseTimeUTC(val)
		case "endDate":
			ref.End = parseTimeUTC(val)
		}
	}
	if ref.ID == "" { return domain.SprintRef{}, false }
	return ref, true
}

type flattenConfig struct {
	SprintFieldID     string
	PointsFieldID     string
	TeamFieldID       string
	StatusCategoryMap map[string]string
}

// flattenIssue maps one raw search result into the domain record the
// resolver and aggregator work from.
func flattenIssue(im map[string]any, fc flattenConfig) domain.Issue {
	fields, _ := im["fields"].(map[string]any)
	out := domain.Issue{Key: toStrAny(im["key"])}
	if fields == nil { return out }

	if pj, ok := fields["project"].(map[string]any); ok { out.Project = toStrAny(pj["key"]) }
	if tp, ok := fields["issuetype"].(map[string]any); ok { out.Type = toStrAny(tp["name"]) }
	if pr, ok := fields["priority"].(map[string]any); ok { out.Priority = toStrAny(pr["name"]) }
	if as, ok := fields["assignee"].(map[string]any); ok { out.Assignee = toStrAny(as["displayName"]) }
	if rp, ok := fields["reporter"].(map[string]any); ok { out.Reporter = toStrAny(rp["displayName"]) }
	if st, ok := fields["status"].(map[string]any); ok {
		name := toStrAny(st["name"])
		if cat, ok := fc.StatusCategoryMap[name]; ok { out.StatusCategory = cat } else { out.StatusCategory = name }
	}
	out.CreatedAt = parseTimeUTC(fields["created"])
	out.UpdatedAt = parseTimeUTC(fields["updated"])
	out.DoneAt = parseTimeUTC(fields["resolutiondate"])
	out.Points = toFloatPtr(fields[fc.PointsFieldID])
	out.Team = optionToString(fields[fc.TeamFieldID])
	if lv, ok := fields["labels"].([]any); ok {
		for _, x := range lv {
			if s, ok := x.(string); ok { out.Labels = append(out.Labels, s) }
		}
	}
	out.Sprints = parseSprintRefs(fields[fc.SprintFieldID])
	out.History = flattenChangelog(im["changelog"])
	return out
}

// flattenChangelog keeps entries with a parseable timestamp and at least one
// usable item; everything else is dropped quietly, the ETL log carries counts.
func flattenChangelog(v any) []domain.ChangeEntry {
	ch, ok := v.(map[string]any)
	if !ok { return nil }
	hs, _ := ch["histories"].([]any)
	var out []domain.ChangeEntry
	for _, h0 := range hs {
		hv, _ := h0.(map[string]any)
		if hv == nil { continue }
		entry := domain.ChangeEntry{At: parseTimeUTC(hv["created"])}
		items, _ := hv["items"].([]any)
		for _, it0 := range items {
			itm, _ := it0.(map[string]any)
			if itm == nil { continue }
			entry.Items = append(entry.Items, domain.ChangeItem{
				Field:   toStrAny(itm["field"]),
				FieldID: toStrAny(itm["fieldId"]),
				From:    toStrAny(itm["fromString"]),
				To:      toStrAny(itm["toString"]),
				FromIDs: toStrAny(itm["from"]),
				ToIDs:   toStrAny(itm["to"]),
			})
		}
		if len(entry.Items) > 0 { out = append(out, entry) }
	}
	return out
}

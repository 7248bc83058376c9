package sprint

import (
	"testing"
	"time"

	"github.com/HamedShams/sprint-pulse/internal/domain"
	"github.com/rs/zerolog"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func testWindows() map[string]domain.SprintWindow {
	return map[string]domain.SprintWindow{
		"101": {ID: "101", Name: "Alpha Sprint 4", Start: ts("2025-06-02T00:00:00Z"), End: ts("2025-06-13T00:00:00Z")},
		"102": {ID: "102", Name: "Alpha Sprint 5", Start: ts("2025-06-16T00:00:00Z"), End: ts("2025-06-27T00:00:00Z")},
		"103": {ID: "103", Name: "Alpha Sprint 6", Start: nil, End: nil},
	}
}

func newTestResolver() *Resolver {
	return NewResolver(testWindows(), "customfield_10005", zerolog.Nop())
}

func TestResolve_FallbackInitialFromCreationDate(t *testing.T) {
	r := newTestResolver()
	issue := domain.Issue{
		Key:       "ORT-1",
		CreatedAt: ts("2025-05-20T10:00:00Z"),
		Sprints:   []domain.SprintRef{{ID: "101", Name: "Alpha Sprint 4"}},
	}
	got := r.Resolve(issue)
	m, ok := got["101"]
	if !ok {
		t.Fatalf("expected membership for sprint 101, got %#v", got)
	}
	if m.Class != domain.ClassInitial {
		t.Fatalf("created before sprint start with no history should be Initial, got %s", m.Class)
	}
	if m.Removed {
		t.Fatalf("unexpected Removed flag")
	}
}

func TestResolve_FallbackAddedWhenCreatedAfterStart(t *testing.T) {
	r := newTestResolver()
	issue := domain.Issue{
		Key:       "ORT-2",
		CreatedAt: ts("2025-06-05T10:00:00Z"),
		Sprints:   []domain.SprintRef{{ID: "101", Name: "Alpha Sprint 4"}},
	}
	m := r.Resolve(issue)["101"]
	if m.Class != domain.ClassAdded {
		t.Fatalf("created after sprint start should fall back to Added, got %s", m.Class)
	}
}

func TestResolve_AddedEventAfterStartIsAdded(t *testing.T) {
	r := newTestResolver()
	issue := domain.Issue{
		Key:       "ORT-3",
		CreatedAt: ts("2025-05-01T00:00:00Z"),
		Sprints:   []domain.SprintRef{{ID: "101", Name: "Alpha Sprint 4"}},
		History: []domain.ChangeEntry{
			{At: ts("2025-06-05T09:00:00Z"), Items: []domain.ChangeItem{
				{Field: "Sprint", From: "", To: "Alpha Sprint 4", FromIDs: "", ToIDs: "101"},
			}},
		},
	}
	m := r.Resolve(issue)["101"]
	if m.Class != domain.ClassAdded {
		t.Fatalf("added-to-sprint event after start must classify Added, got %s", m.Class)
	}
}

func TestResolve_AddedEventBeforeStartIsInitial(t *testing.T) {
	r := newTestResolver()
	issue := domain.Issue{
		Key:       "ORT-4",
		CreatedAt: ts("2025-05-01T00:00:00Z"),
		Sprints:   []domain.SprintRef{{ID: "101", Name: "Alpha Sprint 4"}},
		History: []domain.ChangeEntry{
			{At: ts("2025-05-30T09:00:00Z"), Items: []domain.ChangeItem{
				{Field: "Sprint", From: "", To: "Alpha Sprint 4", ToIDs: "101"},
			}},
		},
	}
	m := r.Resolve(issue)["101"]
	if m.Class != domain.ClassInitial {
		t.Fatalf("added before sprint start must classify Initial, got %s", m.Class)
	}
}

func TestResolve_RemovalAfterStartFlagsRemoved(t *testing.T) {
	r := newTestResolver()
	issue := domain.Issue{
		Key:       "ORT-5",
		CreatedAt: ts("2025-05-01T00:00:00Z"),
		Sprints:   []domain.SprintRef{{ID: "101", Name: "Alpha Sprint 4"}},
		History: []domain.ChangeEntry{
			{At: ts("2025-05-30T09:00:00Z"), Items: []domain.ChangeItem{
				{Field: "Sprint", From: "", To: "Alpha Sprint 4", ToIDs: "101"},
			}},
			{At: ts("2025-06-06T09:00:00Z"), Items: []domain.ChangeItem{
				{Field: "Sprint", From: "Alpha Sprint 4", To: "", FromIDs: "101"},
			}},
		},
	}
	m := r.Resolve(issue)["101"]
	if m.Class != domain.ClassInitial {
		t.Fatalf("removal must not erase the Initial classification, got %s", m.Class)
	}
	if !m.Removed {
		t.Fatalf("expected Removed flag for mid-sprint removal")
	}
}

func TestResolve_RemovalBeforeStartNotFlagged(t *testing.T) {
	r := newTestResolver()
	issue := domain.Issue{
		Key:       "ORT-6",
		CreatedAt: ts("2025-05-01T00:00:00Z"),
		Sprints:   []domain.SprintRef{{ID: "101", Name: "Alpha Sprint 4"}},
		History: []domain.ChangeEntry{
			{At: ts("2025-05-28T09:00:00Z"), Items: []domain.ChangeItem{
				{Field: "Sprint", From: "Alpha Sprint 4", To: "", FromIDs: "101"},
			}},
		},
	}
	m := r.Resolve(issue)["101"]
	if m.Removed {
		t.Fatalf("removal before sprint start must not flag Removed")
	}
}

func TestResolve_HistoryOnlyCandidateGatedByWindow(t *testing.T) {
	r := newTestResolver()
	// Added to sprint 102 inside its window; not in the final association list.
	inWindow := domain.Issue{
		Key:       "ORT-7",
		CreatedAt: ts("2025-05-01T00:00:00Z"),
		History: []domain.ChangeEntry{
			{At: ts("2025-06-18T09:00:00Z"), Items: []domain.ChangeItem{
				{FieldID: "customfield_10005", From: "", To: "Alpha Sprint 5", ToIDs: "102"},
			}},
		},
	}
	if _, ok := r.Resolve(inWindow)["102"]; !ok {
		t.Fatalf("history add inside window should include sprint 102")
	}

	// Same change but long after the window closed: excluded.
	outOfWindow := inWindow
	outOfWindow.History = []domain.ChangeEntry{
		{At: ts("2025-08-01T09:00:00Z"), Items: []domain.ChangeItem{
			{FieldID: "customfield_10005", From: "", To: "Alpha Sprint 5", ToIDs: "102"},
		}},
	}
	if _, ok := r.Resolve(outOfWindow)["102"]; ok {
		t.Fatalf("history add outside window must not include sprint 102")
	}
}

func TestResolve_UnresolvableSprintSkipped(t *testing.T) {
	r := newTestResolver()
	issue := domain.Issue{
		Key:       "ORT-8",
		CreatedAt: ts("2025-05-01T00:00:00Z"),
		Sprints: []domain.SprintRef{
			{ID: "103", Name: "Alpha Sprint 6"}, // window has no dates
			{ID: "999", Name: "Ghost Sprint"},   // not in the window table at all
			{ID: "101", Name: "Alpha Sprint 4"},
		},
	}
	got := r.Resolve(issue)
	if len(got) != 1 {
		t.Fatalf("expected only the resolvable sprint, got %#v", got)
	}
	if _, ok := got["101"]; !ok {
		t.Fatalf("sprint 101 should resolve")
	}
}

func TestResolve_MalformedHistorySkipped(t *testing.T) {
	r := newTestResolver()
	issue := domain.Issue{
		Key:       "ORT-9",
		CreatedAt: ts("2025-05-01T00:00:00Z"),
		Sprints:   []domain.SprintRef{{ID: "101", Name: "Alpha Sprint 4"}},
		History: []domain.ChangeEntry{
			{At: nil, Items: []domain.ChangeItem{{Field: "Sprint", To: "Alpha Sprint 4", ToIDs: "101"}}},
			{At: ts("2025-06-01T00:00:00Z")}, // no items
		},
	}
	m := r.Resolve(issue)["101"]
	if m.Class != domain.ClassInitial {
		t.Fatalf("timestamp-less entries must be ignored; fallback should classify Initial, got %s", m.Class)
	}
}

package domain

import "time"

// SprintClass is an issue's relationship to one sprint window.
type SprintClass int

const (
	ClassNone SprintClass = iota
	ClassInitial
	ClassAdded
)

func (c SprintClass) String() string {
	switch c {
	case ClassInitial:
		return "Initial"
	case ClassAdded:
		return "Added"
	default:
		return "None"
	}
}

// Cadence is a team's release schedule grouping.
type Cadence int

const (
	CadenceWeekly   Cadence = 0
	CadenceBiweekly Cadence = 1
)

func (c Cadence) String() string {
	if c == CadenceBiweekly {
		return "Biweekly"
	}
	return "Weekly"
}

// CycleDays is the length of one full release cycle for the cadence.
func (c Cadence) CycleDays() int { return 7 * (int(c) + 1) }

type Issue struct {
	ID             int64
	Key            string
	Project        string
	Team           string
	Type           string
	Priority       string
	Assignee       string
	Reporter       string
	StatusCategory string
	CreatedAt      *time.Time
	UpdatedAt      *time.Time
	DoneAt         *time.Time
	Points         *float64
	Labels         []string
	Sprints        []SprintRef
	History        []ChangeEntry
}

// SprintRef is one entry of an issue's final sprint-association list.
type SprintRef struct {
	ID    string
	Name  string
	Start *time.Time
	End   *time.Time
}

// ChangeEntry is one changelog history record with its field-change items.
type ChangeEntry struct {
	At    *time.Time
	Items []ChangeItem
}

// ChangeItem is a single field transition. From/To carry display strings;
// FromIDs/ToIDs carry the raw comma-separated id sides of the sprint field.
type ChangeItem struct {
	Field   string
	FieldID string
	From    string
	To      string
	FromIDs string
	ToIDs   string
}

// SprintWindow is a known sprint with its time bounds. Start or End may be
// nil when the sprint never appeared in a board listing or embedded ref.
type SprintWindow struct {
	ID    string
	Name  string
	Start *time.Time
	End   *time.Time
}

// Membership is the resolved relationship of one issue to one sprint.
// Removed is independent of Class: an issue may join and later leave.
type Membership struct {
	SprintID string
	Class    SprintClass
	Removed  bool
}

type SprintSummary struct {
	Sprint        string
	Initial       int
	Added         int
	Removed       int
	Blocked       int
	InitialPoints float64
	AddedPoints   float64
	RemovedPoints float64
	BlockedPoints float64
	TypeCounts    map[string]int
}

// ThroughputSample is one team-day completion count.
type ThroughputSample struct {
	Team  string
	Date  time.Time
	Count int
}

// ReleaseDate is one scheduled release for a cadence class.
type ReleaseDate struct {
	Cadence Cadence
	Date    time.Time
}

type TeamForecast struct {
	Team                  string
	NextCycleOptimistic   int
	NextCycleConservative int
	DaysUntilRelease      int
	CurrentOptimistic     int
}

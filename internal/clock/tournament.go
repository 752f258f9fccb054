package clock

// Status is the lifecycle state of a tournament.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
)

// Tournament holds the schedule and financial parameters for one tournament.
// It is owned by the registry entry and mutated only through the command
// router.
type Tournament struct {
	Name                string    `json:"name"`
	Owner               string    `json:"owner,omitempty"`
	Status              Status    `json:"status,omitempty"`
	DefaultLevelSeconds int       `json:"defaultLevelSeconds"`
	BuyIn               int       `json:"buyIn"`
	RebuyAmount         int       `json:"rebuyAmount"`
	AddOnAmount         int       `json:"addOnAmount"`
	StartingStack       int       `json:"startingStack"`
	Levels              []Segment `json:"levels"`
}

// Clone returns a copy that is safe to read after the entry lock is released.
// Segment values are immutable once constructed, so the copied slice shares
// nothing mutable with the original.
func (t *Tournament) Clone() *Tournament {
	c := *t
	c.Levels = append([]Segment(nil), t.Levels...)
	return &c
}

const defaultLevelSeconds = 15 * 60

// DefaultTournament returns the stock schedule used when no persisted state
// exists for a tournament.
func DefaultTournament() *Tournament {
	m := defaultLevelSeconds
	breakSec := 10 * 60
	return &Tournament{
		Name:                "Pokerturnering",
		Status:              StatusPending,
		DefaultLevelSeconds: m,
		BuyIn:               200,
		RebuyAmount:         200,
		AddOnAmount:         200,
		StartingStack:       10000,
		Levels: []Segment{
			{Type: SegmentLevel, Title: "Level 1", SmallBlind: 25, BigBlind: 50, Seconds: seconds(m)},
			{Type: SegmentLevel, Title: "Level 2", SmallBlind: 50, BigBlind: 100, Seconds: seconds(m)},
			{Type: SegmentLevel, Title: "Level 3", SmallBlind: 75, BigBlind: 150, Seconds: seconds(m)},
			{Type: SegmentBreak, Title: "Pause", Seconds: seconds(breakSec)},
			{Type: SegmentLevel, Title: "Level 4", SmallBlind: 100, BigBlind: 200, Ante: 25, Seconds: seconds(m)},
			{Type: SegmentLevel, Title: "Level 5", SmallBlind: 150, BigBlind: 300, Ante: 25, Seconds: seconds(m)},
			{Type: SegmentLevel, Title: "Level 6", SmallBlind: 200, BigBlind: 400, Ante: 50, Seconds: seconds(m)},
			{Type: SegmentBreak, Title: "Pause", Seconds: seconds(breakSec)},
			{Type: SegmentLevel, Title: "Level 7", SmallBlind: 300, BigBlind: 600, Ante: 75, Seconds: seconds(m)},
			{Type: SegmentLevel, Title: "Level 8", SmallBlind: 400, BigBlind: 800, Ante: 100, Seconds: seconds(m)},
			{Type: SegmentLevel, Title: "Level 9", SmallBlind: 500, BigBlind: 1000, Ante: 100, Seconds: seconds(m)},
			{Type: SegmentBreak, Title: "Pause", Seconds: seconds(breakSec)},
			{Type: SegmentLevel, Title: "Level 10", SmallBlind: 600, BigBlind: 1200, Ante: 200, Seconds: seconds(m)},
			{Type: SegmentLevel, Title: "Level 11", SmallBlind: 800, BigBlind: 1600, Ante: 200, Seconds: seconds(m)},
			{Type: SegmentLevel, Title: "Level 12", SmallBlind: 1000, BigBlind: 2000, Ante: 300, Seconds: seconds(m)},
		},
	}
}

// SegmentSeconds returns the duration of segment i, falling back to the
// tournament default when the segment does not carry its own.
func (t *Tournament) SegmentSeconds(i int) int {
	if i < 0 || i >= len(t.Levels) {
		return 0
	}
	if sec := t.Levels[i].Seconds; sec != nil {
		return *sec
	}
	if t.DefaultLevelSeconds > 0 {
		return t.DefaultLevelSeconds
	}
	return 0
}

package clock

import (
	"encoding/json"
	"fmt"
	"math"
)

// SegmentType distinguishes blind levels from scheduled breaks.
type SegmentType string

const (
	SegmentLevel SegmentType = "level"
	SegmentBreak SegmentType = "break"
)

// Segment is one entry in a tournament schedule: either a blind level or a
// break. Segments are immutable once constructed; schedule edits swap the
// whole slice. A nil Seconds falls back to the tournament's default level
// duration.
type Segment struct {
	Type       SegmentType `json:"type"`
	Title      string      `json:"title"`
	SmallBlind int         `json:"sb,omitempty"`
	BigBlind   int         `json:"bb,omitempty"`
	Ante       int         `json:"ante,omitempty"`
	Seconds    *int        `json:"seconds,omitempty"`
}

// rawSegment accepts the alternate duration spellings that older clients and
// stored blobs use (minutes, durationMinutes, durationSeconds). Everything is
// folded into canonical Seconds here so the engine never sees them.
type rawSegment struct {
	Type            SegmentType `json:"type"`
	Title           string      `json:"title"`
	SmallBlind      int         `json:"sb"`
	BigBlind        int         `json:"bb"`
	Ante            int         `json:"ante"`
	Seconds         *float64    `json:"seconds"`
	Minutes         *float64    `json:"minutes"`
	DurationMinutes *float64    `json:"durationMinutes"`
	DurationSeconds *float64    `json:"durationSeconds"`
}

// UnmarshalJSON normalizes duck-typed duration fields into Seconds.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw rawSegment
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Type = raw.Type
	s.Title = raw.Title
	s.SmallBlind = raw.SmallBlind
	s.BigBlind = raw.BigBlind
	s.Ante = raw.Ante
	s.Seconds = nil

	if minutes := firstFinite(raw.DurationMinutes, raw.Minutes); minutes != nil && *minutes >= 0 {
		sec := int(*minutes * 60)
		s.Seconds = &sec
	} else if raw.DurationSeconds != nil && isFiniteNonNegative(*raw.DurationSeconds) {
		sec := int(*raw.DurationSeconds)
		s.Seconds = &sec
	} else if raw.Seconds != nil && isFiniteNonNegative(*raw.Seconds) {
		sec := int(*raw.Seconds)
		s.Seconds = &sec
	}
	return nil
}

func firstFinite(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil && isFiniteNonNegative(*v) {
			return v
		}
	}
	return nil
}

func isFiniteNonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

// Validate checks a single segment. Index is only used for error messages.
func (s Segment) Validate(i int) error {
	switch s.Type {
	case SegmentLevel:
		if s.BigBlind <= 0 {
			return fmt.Errorf("segment %d: big blind must be positive", i)
		}
		if s.SmallBlind < 0 {
			return fmt.Errorf("segment %d: small blind must not be negative", i)
		}
		if s.SmallBlind > s.BigBlind {
			return fmt.Errorf("segment %d: small blind exceeds big blind", i)
		}
		if s.Ante < 0 {
			return fmt.Errorf("segment %d: ante must not be negative", i)
		}
	case SegmentBreak:
	default:
		return fmt.Errorf("segment %d: unknown type %q", i, s.Type)
	}
	if s.Seconds != nil && *s.Seconds <= 0 {
		return fmt.Errorf("segment %d: duration must be positive", i)
	}
	return nil
}

// ValidateSchedule checks a whole schedule; an empty schedule is invalid.
func ValidateSchedule(segments []Segment) error {
	if len(segments) == 0 {
		return ErrEmptySchedule
	}
	for i, s := range segments {
		if err := s.Validate(i); err != nil {
			return err
		}
	}
	return nil
}

func seconds(n int) *int { return &n }

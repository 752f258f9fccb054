// Package events mirrors advisory state-change events onto a message bus for
// anything outside the process (overlays, loggers, sound boxes). Delivery is
// fire-and-forget: failures are logged and dropped, never retried, and never
// affect clock state.
package events

import (
	"context"
	"time"
)

// Event is one advisory notification.
type Event struct {
	TournamentID int64     `json:"tournamentId"`
	Type         string    `json:"type"`
	At           time.Time `json:"at"`
}

// Publisher delivers advisory events best-effort.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close()
}

// NoopPublisher is the default when no bus is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) {}
func (NoopPublisher) Close()                         {}

// Package command validates, authorizes, and applies inbound mutation
// commands. Commands for a tournament are applied strictly sequentially
// through the registry entry's lock; each command observes and transitions a
// single consistent prior state.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"pokerclock/internal/auth"
	"pokerclock/internal/clock"
	"pokerclock/internal/ledger"
	"pokerclock/internal/persist"
	"pokerclock/internal/registry"
)

// Command tags, matching the wire protocol.
const (
	TypeGetSnapshot      = "get_snapshot"
	TypeStart            = "admin_start"
	TypePause            = "admin_pause"
	TypeResetLevel       = "admin_reset_level"
	TypeNext             = "admin_next"
	TypePrev             = "admin_prev"
	TypeJump             = "admin_jump"
	TypeUpdateTournament = "admin_update_tournament"
	TypeAddTime          = "admin_add_time"
	TypeSetPlayers       = "admin_set_players"
	TypeRebuy            = "admin_rebuy"
	TypeAddOn            = "admin_addon"
	TypeAddOnAlt         = "admin_add_on"
	TypeBustOut          = "admin_bustout"
)

// Command is the inbound message envelope. Which fields matter depends on
// Type; everything else is ignored.
type Command struct {
	Type       string          `json:"type"`
	Index      *int            `json:"index,omitempty"`
	Seconds    *int            `json:"seconds,omitempty"`
	Tournament json.RawMessage `json:"tournament,omitempty"`

	// admin_set_players carries the counter patch at the top level.
	Registered *int `json:"registered,omitempty"`
	Busted     *int `json:"busted,omitempty"`
	RebuyCount *int `json:"rebuyCount,omitempty"`
	AddOnCount *int `json:"addOnCount,omitempty"`
}

// Result is what the transport layer does with an applied command: reply with
// a snapshot, broadcast it, and optionally play an advisory sound.
type Result struct {
	Snapshot  *registry.Snapshot
	Broadcast bool
	Sound     string
}

// Router applies commands to the authoritative per-tournament state.
type Router struct {
	registry *registry.Registry
	clock    clockwork.Clock
}

func NewRouter(reg *registry.Registry, clk clockwork.Clock) *Router {
	return &Router{registry: reg, clock: clk}
}

// Apply runs one command against the tournament on behalf of the issuer.
// Authorization and validation failures leave the state untouched and are
// surfaced to the issuer only.
func (r *Router) Apply(ctx context.Context, tournamentID int64, issuer auth.Identity, cmd Command) (Result, error) {
	entry, err := r.registry.Get(ctx, tournamentID)
	if err != nil {
		return Result{}, err
	}

	now := r.clock.Now()

	if cmd.Type == TypeGetSnapshot {
		snap := entry.Snapshot(now)
		return Result{Snapshot: &snap}, nil
	}

	var (
		res       Result
		applyErr  error
		saveState persist.State
		mutated   bool
	)

	entry.With(func(eng *clock.Engine, led *ledger.Ledger) {
		t := eng.Tournament()
		if !issuer.IsAdmin() {
			applyErr = &AuthorizationError{Reason: "admin role required"}
			return
		}
		if t.Owner != "" && t.Owner != issuer.Username {
			applyErr = &AuthorizationError{Reason: "not the tournament admin"}
			return
		}
		if t.Status == clock.StatusFinished {
			applyErr = validationf("tournament is finished")
			return
		}

		var sound string
		var changed bool

		switch cmd.Type {
		case TypeStart:
			changed = eng.Start(now)
			sound = "start"
		case TypePause:
			changed = eng.Pause(now)
			sound = "pause"
		case TypeResetLevel:
			eng.ResetLevel(now)
			changed = true
			sound = "reset_level"
		case TypeNext:
			changed = eng.Advance(now, +1)
			sound = "level_advance"
		case TypePrev:
			changed = eng.Advance(now, -1)
			sound = "level_back"
		case TypeJump:
			if cmd.Index == nil {
				applyErr = validationf("index is required")
				return
			}
			if err := eng.JumpTo(now, *cmd.Index); err != nil {
				applyErr = validationf(err.Error())
				return
			}
			changed = true
			sound = "level_jump"
		case TypeUpdateTournament:
			changed, applyErr = applyTournamentUpdate(eng, now, cmd.Tournament)
			if applyErr != nil {
				return
			}
		case TypeAddTime:
			delta := 60
			if cmd.Seconds != nil {
				delta = *cmd.Seconds
			}
			eng.AddTime(now, delta)
			changed = true
		case TypeSetPlayers:
			led.SetCounts(ledger.CountsPatch{
				Registered: cmd.Registered,
				Busted:     cmd.Busted,
				RebuyCount: cmd.RebuyCount,
				AddOnCount: cmd.AddOnCount,
			})
			changed = true
		case TypeRebuy:
			led.Rebuy()
			changed = true
		case TypeAddOn, TypeAddOnAlt:
			led.AddOn()
			changed = true
		case TypeBustOut:
			changed = led.BustOut()
		default:
			applyErr = validationf(fmt.Sprintf("unknown command %q", cmd.Type))
			return
		}

		if !changed {
			return
		}
		snap := registry.SnapshotLocked(eng, led, now)
		res = Result{Snapshot: &snap, Broadcast: true, Sound: sound}
		saveState = persist.Capture(eng, led)
		mutated = true
	})

	if applyErr != nil {
		return Result{}, applyErr
	}
	if mutated {
		r.registry.ScheduleSave(tournamentID, saveState)
	}
	return res, nil
}

// applyTournamentUpdate parses and validates a replacement tournament
// definition and swaps it in atomically.
func applyTournamentUpdate(eng *clock.Engine, now time.Time, raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, validationf("tournament payload is required")
	}
	var t clock.Tournament
	if err := json.Unmarshal(raw, &t); err != nil {
		return false, validationf("malformed tournament payload")
	}
	if err := eng.ReplaceTournament(now, &t); err != nil {
		if errors.Is(err, clock.ErrEmptySchedule) {
			return false, validationf("schedule must contain at least one segment")
		}
		return false, validationf(err.Error())
	}
	return true, nil
}

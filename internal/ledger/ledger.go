// Package ledger tracks per-tournament player counts and the derived prize
// pool. The ledger is not safe for concurrent use on its own; the registry
// entry's lock serializes all access, the same boundary the clock engine
// lives behind.
package ledger

// Ledger holds the raw counters. The active player count and the prize pool
// are derived on read, never stored.
type Ledger struct {
	Registered int `json:"registered"`
	Busted     int `json:"busted"`
	RebuyCount int `json:"rebuyCount"`
	AddOnCount int `json:"addOnCount"`
}

// Summary is the read-side projection included in snapshots.
type Summary struct {
	Registered int `json:"registered"`
	Busted     int `json:"busted"`
	Active     int `json:"active"`
	RebuyCount int `json:"rebuyCount"`
	AddOnCount int `json:"addOnCount"`
	PrizePool  int `json:"prizePool"`
}

// CountsPatch is a partial update; nil fields are left unchanged.
type CountsPatch struct {
	Registered *int `json:"registered"`
	Busted     *int `json:"busted"`
	RebuyCount *int `json:"rebuyCount"`
	AddOnCount *int `json:"addOnCount"`
}

func New() *Ledger { return &Ledger{} }

// Clone returns a copy that is safe to read after the entry lock is released.
func (l *Ledger) Clone() *Ledger {
	c := *l
	return &c
}

// SetCounts applies a partial counter update, clamping every value to >= 0.
func (l *Ledger) SetCounts(p CountsPatch) {
	if p.Registered != nil {
		l.Registered = clampNonNegative(*p.Registered)
	}
	if p.Busted != nil {
		l.Busted = clampNonNegative(*p.Busted)
	}
	if p.RebuyCount != nil {
		l.RebuyCount = clampNonNegative(*p.RebuyCount)
	}
	if p.AddOnCount != nil {
		l.AddOnCount = clampNonNegative(*p.AddOnCount)
	}
}

// Rebuy records one rebuy.
func (l *Ledger) Rebuy() { l.RebuyCount++ }

// AddOn records one add-on.
func (l *Ledger) AddOn() { l.AddOnCount++ }

// BustOut records one elimination. No-op when no players are active, so the
// active count never goes negative.
func (l *Ledger) BustOut() bool {
	if l.Active() <= 0 {
		return false
	}
	l.Busted++
	return true
}

// Active returns registered minus busted, clamped to >= 0.
func (l *Ledger) Active() int {
	return clampNonNegative(clampNonNegative(l.Registered) - clampNonNegative(l.Busted))
}

// Summary derives the snapshot projection, recomputing the prize pool from
// the current counters and the tournament's financial parameters.
func (l *Ledger) Summary(buyIn, rebuyAmount, addOnAmount int) Summary {
	registered := clampNonNegative(l.Registered)
	busted := clampNonNegative(l.Busted)
	rebuys := clampNonNegative(l.RebuyCount)
	addOns := clampNonNegative(l.AddOnCount)
	return Summary{
		Registered: registered,
		Busted:     busted,
		Active:     clampNonNegative(registered - busted),
		RebuyCount: rebuys,
		AddOnCount: addOns,
		PrizePool: registered*clampNonNegative(buyIn) +
			rebuys*clampNonNegative(rebuyAmount) +
			addOns*clampNonNegative(addOnAmount),
	}
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

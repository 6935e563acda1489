// Package floor implements the single-speaker floor lock: one owner at
// a time, granted first-come-first-served and revoked after a bounded
// transmit time.
package floor

import (
	"sync"
	"time"
)

// LocalCapture is the reserved owner id meaning the server's own capture
// source holds the floor.
const LocalCapture = "local-capture"

// State is the logical floor state.
type State string

const (
	StateIdle         State = "idle"
	StateTransmitting State = "transmitting"
)

// Snapshot is an immutable copy of the floor state.
type Snapshot struct {
	State     State
	Owner     string
	OwnerName string
	Since     time.Time
}

// Elapsed reports how long the current owner has held the floor, zero
// when idle.
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if s.State != StateTransmitting {
		return 0
	}
	return now.Sub(s.Since)
}

// Arbiter serializes floor ownership. All operations are atomic with
// respect to each other, and change notifications leave the arbiter in
// operation order: emitMu spans each mutating operation together with
// its OnChange call, so a release processed before a request can never
// have its notification observed after the request's.
type Arbiter struct {
	emitMu sync.Mutex

	mu        sync.Mutex
	owner     string
	ownerName string
	since     time.Time
	maxHold   time.Duration

	// OnChange, when set, is invoked after every grant, release and
	// revoke with the resulting snapshot. Set before first use. The
	// callback runs with the emission lock held and must not call back
	// into the arbiter's mutating operations.
	OnChange func(Snapshot)
}

// NewArbiter returns an idle arbiter revoking grants after maxHold.
func NewArbiter(maxHold time.Duration) *Arbiter {
	return &Arbiter{maxHold: maxHold}
}

// Request attempts to grant the floor to the given client. When the
// floor is busy it returns granted=false together with the current
// owner; a denied request is a normal outcome, not an error.
func (a *Arbiter) Request(clientID, displayName string) (granted bool, holder Snapshot) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	if a.owner != "" {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return false, snap
	}
	a.owner = clientID
	a.ownerName = displayName
	a.since = time.Now()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return true, snap
}

// Release clears the floor if clientID is the current owner; anything
// else is a no-op. It reports whether ownership changed.
func (a *Arbiter) Release(clientID string) bool {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	if a.owner != clientID || clientID == "" {
		a.mu.Unlock()
		return false
	}
	a.clearLocked()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return true
}

// Tick enforces the maximum transmit time. Called at 1 Hz; if the owner
// has held the floor longer than the configured maximum the grant is
// revoked and the revoked owner id is returned.
func (a *Arbiter) Tick(now time.Time) (revoked string, ok bool) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	if a.owner == "" || now.Sub(a.since) <= a.maxHold {
		a.mu.Unlock()
		return "", false
	}
	revoked = a.owner
	a.clearLocked()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return revoked, true
}

// Snapshot returns an immutable copy of the current floor state.
func (a *Arbiter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Arbiter) clearLocked() {
	a.owner = ""
	a.ownerName = ""
	a.since = time.Time{}
}

func (a *Arbiter) snapshotLocked() Snapshot {
	if a.owner == "" {
		return Snapshot{State: StateIdle}
	}
	return Snapshot{
		State:     StateTransmitting,
		Owner:     a.owner,
		OwnerName: a.ownerName,
		Since:     a.since,
	}
}

func (a *Arbiter) notify(snap Snapshot) {
	if a.OnChange != nil {
		a.OnChange(snap)
	}
}

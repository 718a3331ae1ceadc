package session

import (
	"sync/atomic"
	"time"

	"tc_eqpsim/internal/core/scenario"
)

// faultScope decides whether a fault still applies.
// DURATION scopes expire at a wall clock time, NEXT scopes after a number of outbound frames.
type faultScope struct {
	mode      scenario.FaultScope
	expiresAt time.Time
	remaining atomic.Int64
}

func newFaultScope(f scenario.Fault, now time.Time) *faultScope {
	sc := &faultScope{mode: f.Scope}
	if f.Scope == scenario.ScopeDuration {
		sc.expiresAt = now.Add(f.Duration)
	} else {
		sc.remaining.Store(int64(f.NextCount))
	}
	return sc
}

func (sc *faultScope) active(now time.Time) bool {
	if sc.mode == scenario.ScopeDuration {
		return now.Before(sc.expiresAt)
	}
	return sc.remaining.Load() > 0
}

// tryConsumeOne uses up one frame of a NEXT scope. DURATION scopes always succeed.
func (sc *faultScope) tryConsumeOne() bool {
	if sc.mode != scenario.ScopeNext {
		return true
	}
	for {
		v := sc.remaining.Load()
		if v <= 0 {
			return false
		}
		if sc.remaining.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

type DelayPolicy struct {
	*faultScope
	Delay  time.Duration
	Jitter time.Duration
}

type FragmentPolicy struct {
	*faultScope
	MinParts int
	MaxParts int
}

type DropPolicy struct {
	*faultScope
	Rate float64
}

type CorruptPolicy struct {
	*faultScope
	Rate           float64
	ProtectFraming bool
}

// FaultState holds the outbound faults of one connection. A new fault replaces the previous one of
// the same type; CLEAR removes all of them.
type FaultState struct {
	delay    atomic.Pointer[DelayPolicy]
	fragment atomic.Pointer[FragmentPolicy]
	drop     atomic.Pointer[DropPolicy]
	corrupt  atomic.Pointer[CorruptPolicy]

	now func() time.Time
}

func NewFaultState() *FaultState {
	return &FaultState{now: time.Now}
}

// Apply installs f. DISCONNECT is handled by the runner and ignored here.
func (fs *FaultState) Apply(f scenario.Fault) {
	scope := newFaultScope(f, fs.now())
	switch f.Type {
	case scenario.FaultDelay:
		fs.delay.Store(&DelayPolicy{faultScope: scope, Delay: f.Delay, Jitter: f.Jitter})
	case scenario.FaultFragment:
		fs.fragment.Store(&FragmentPolicy{faultScope: scope, MinParts: f.MinParts, MaxParts: f.MaxParts})
	case scenario.FaultDrop:
		fs.drop.Store(&DropPolicy{faultScope: scope, Rate: f.Rate})
	case scenario.FaultCorrupt:
		fs.corrupt.Store(&CorruptPolicy{faultScope: scope, Rate: f.Rate, ProtectFraming: f.ProtectFraming})
	case scenario.FaultClear:
		fs.Clear()
	}
}

func (fs *FaultState) Clear() {
	fs.delay.Store(nil)
	fs.fragment.Store(nil)
	fs.drop.Store(nil)
	fs.corrupt.Store(nil)
}

// ActiveDelay returns the delay policy if one is installed and still in scope.
func (fs *FaultState) ActiveDelay() (*DelayPolicy, bool) {
	p := fs.delay.Load()
	return p, p != nil && p.active(fs.now())
}

func (fs *FaultState) ActiveFragment() (*FragmentPolicy, bool) {
	p := fs.fragment.Load()
	return p, p != nil && p.active(fs.now())
}

func (fs *FaultState) ActiveDrop() (*DropPolicy, bool) {
	p := fs.drop.Load()
	return p, p != nil && p.active(fs.now())
}

func (fs *FaultState) ActiveCorrupt() (*CorruptPolicy, bool) {
	p := fs.corrupt.Load()
	return p, p != nil && p.active(fs.now())
}

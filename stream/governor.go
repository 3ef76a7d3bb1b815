package stream

import (
	"context"
	"fmt"
	"sync"
)

// RateState is the codec clock trim direction.
type RateState uint8

// Rate trim states.
const (
	RateNone RateState = iota // Nominal clock
	RateUp                    // Consumer clock raised; ring is filling up
	RateDown                  // Consumer clock lowered; ring is draining
)

// String returns the state name.
func (s RateState) String() string {
	switch s {
	case RateNone:
		return "none"
	case RateUp:
		return "up"
	case RateDown:
		return "down"
	default:
		return "unknown"
	}
}

// Trimmer applies codec clock coefficients for a trim state.
type Trimmer interface {
	Trim(ctx context.Context, state RateState, family Family) error
}

// Classify maps a ring occupancy to the trim state that recenters it.
//
// The middle band [slots/2, slots/2+1] is a one-slot hysteresis band and
// maps to [RateNone]. Occupancy at or above slots-2 means the producer is
// outrunning the consumer ([RateUp]); anything else means the consumer is
// outrunning the producer ([RateDown]).
func Classify(count, slots int) RateState {
	half := slots / 2
	switch {
	case count >= half && count <= half+1:
		return RateNone
	case count >= slots-2:
		return RateUp
	default:
		return RateDown
	}
}

// Governor keeps the playback ring centered by trimming the codec clock.
// Coefficients are written only when the state changes.
type Governor struct {
	mutex sync.Mutex

	ring    *Ring
	trimmer Trimmer
	family  Family
	state   RateState
}

// NewGovernor creates a governor that watches ring and trims through trimmer.
func NewGovernor(ring *Ring, trimmer Trimmer) *Governor {
	return &Governor{ring: ring, trimmer: trimmer}
}

// SetFamily selects the coefficient family used by subsequent trims.
func (g *Governor) SetFamily(family Family) {
	g.mutex.Lock()
	g.family = family
	g.mutex.Unlock()
}

// State returns the current trim state.
func (g *Governor) State() RateState {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.state
}

// Tick samples the ring occupancy and moves to the matching state. It
// reports whether the state changed. If the trim fails the state is left
// unchanged so the next tick retries.
func (g *Governor) Tick(ctx context.Context) (RateState, bool, error) {
	return g.Apply(ctx, Classify(g.ring.Occupancy(), g.ring.Size()))
}

// Apply moves to state next, trimming the codec only on a change.
func (g *Governor) Apply(ctx context.Context, next RateState) (RateState, bool, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if next == g.state {
		return g.state, false, nil
	}
	if g.trimmer != nil {
		if err := g.trimmer.Trim(ctx, next, g.family); err != nil {
			return g.state, false, fmt.Errorf("trim %s: %w", next, err)
		}
	}
	g.state = next
	return next, true, nil
}

// Reset returns the governor to [RateNone], restoring nominal coefficients
// if a trim is in effect. It reports whether the state changed.
func (g *Governor) Reset(ctx context.Context) (bool, error) {
	_, changed, err := g.Apply(ctx, RateNone)
	return changed, err
}

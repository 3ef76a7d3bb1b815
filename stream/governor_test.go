package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		slots int
		want  []RateState // Indexed by occupancy 0..slots
	}{
		{3, []RateState{RateDown, RateNone, RateNone, RateUp}},
		{4, []RateState{RateDown, RateDown, RateNone, RateNone, RateUp}},
		{8, []RateState{
			RateDown, RateDown, RateDown, RateDown,
			RateNone, RateNone,
			RateUp, RateUp, RateUp,
		}},
	}

	for _, tt := range tests {
		got := make([]RateState, tt.slots+1)
		for count := range got {
			got[count] = Classify(count, tt.slots)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Classify(_, %d) mismatch (-want +got):\n%s", tt.slots, diff)
		}
	}
}

func TestClassify_NoneBandForAllSizes(t *testing.T) {
	for slots := MinSlots; slots <= 32; slots++ {
		for _, count := range []int{slots / 2, slots/2 + 1} {
			if got := Classify(count, slots); got != RateNone {
				t.Errorf("Classify(%d, %d) = %s, want none", count, slots, got)
			}
		}
	}
}

func TestGovernor_TrimsOncePerChange(t *testing.T) {
	r := newTestRing(t, 8, 1)
	codec := &fakeCodec{}
	g := NewGovernor(r, codec)
	g.SetFamily(Family44k)
	ctx := context.Background()

	commitN(t, r, 7, 1)
	for i := range 5 {
		state, changed, err := g.Tick(ctx)
		if err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
		if state != RateUp {
			t.Errorf("Tick() state = %s, want up", state)
		}
		if changed != (i == 0) {
			t.Errorf("tick %d changed = %v", i, changed)
		}
	}

	want := []trimCall{{RateUp, Family44k}}
	if diff := cmp.Diff(want, codec.trimCalls(), cmp.AllowUnexported(trimCall{})); diff != "" {
		t.Errorf("trims mismatch (-want +got):\n%s", diff)
	}
}

func TestGovernor_HysteresisBand(t *testing.T) {
	r := newTestRing(t, 8, 1)
	codec := &fakeCodec{}
	g := NewGovernor(r, codec)
	ctx := context.Background()

	commitN(t, r, 4, 1)
	for range 10 {
		if _, _, err := g.Tick(ctx); err != nil {
			t.Fatal(err)
		}
		commitN(t, r, 1, 1) // 5
		if _, _, err := g.Tick(ctx); err != nil {
			t.Fatal(err)
		}
		idx, _ := r.AcquireReadSlot()
		if err := r.ReleaseReadSlot(idx); err != nil { // 4
			t.Fatal(err)
		}
	}

	if calls := codec.trimCalls(); len(calls) != 0 {
		t.Errorf("trims = %v, want none", calls)
	}
	if g.State() != RateNone {
		t.Errorf("State() = %s, want none", g.State())
	}
}

func TestGovernor_TrimFailureRetries(t *testing.T) {
	r := newTestRing(t, 8, 1)
	codec := &fakeCodec{trimErr: errors.New("nack")}
	g := NewGovernor(r, codec)
	ctx := context.Background()

	state, changed, err := g.Tick(ctx)
	if err == nil {
		t.Fatal("Tick() error = nil, want trim failure")
	}
	if changed || state != RateNone {
		t.Errorf("Tick() = (%s, %v), want (none, false)", state, changed)
	}

	codec.trimErr = nil
	state, changed, err = g.Tick(ctx)
	if err != nil || !changed || state != RateDown {
		t.Errorf("retry Tick() = (%s, %v, %v), want (down, true, nil)", state, changed, err)
	}
}

func TestGovernor_Reset(t *testing.T) {
	r := newTestRing(t, 8, 1)
	codec := &fakeCodec{}
	g := NewGovernor(r, codec)
	ctx := context.Background()

	if changed, err := g.Reset(ctx); err != nil || changed {
		t.Fatalf("Reset() at nominal = (%v, %v), want (false, nil)", changed, err)
	}
	if len(codec.trimCalls()) != 0 {
		t.Fatal("Reset() at nominal wrote coefficients")
	}

	if _, _, err := g.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if changed, err := g.Reset(ctx); err != nil || !changed {
		t.Fatalf("Reset() after trim = (%v, %v), want (true, nil)", changed, err)
	}
	want := []trimCall{{RateDown, Family48k}, {RateNone, Family48k}}
	if diff := cmp.Diff(want, codec.trimCalls(), cmp.AllowUnexported(trimCall{})); diff != "" {
		t.Errorf("trims mismatch (-want +got):\n%s", diff)
	}
}

func TestGovernor_NilTrimmer(t *testing.T) {
	g := NewGovernor(newTestRing(t, 3, 1), nil)
	state, changed, err := g.Tick(context.Background())
	if err != nil || !changed || state != RateDown {
		t.Errorf("Tick() = (%s, %v, %v), want (down, true, nil)", state, changed, err)
	}
}

func TestRateState_String(t *testing.T) {
	tests := map[RateState]string{
		RateNone:     "none",
		RateUp:       "up",
		RateDown:     "down",
		RateState(9): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("RateState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

package stream

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ardnew/softuac/pkg"
)

func newTestDrain(t *testing.T, slots, slotLength int) (*Ring, *fakeSource, *Drain) {
	t.Helper()
	r := newTestRing(t, slots, 32)
	if err := r.SetSlotLength(slotLength); err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{}
	return r, src, NewDrain(r, src)
}

func TestDrain_BusyIsNoop(t *testing.T) {
	r, src, d := newTestDrain(t, 4, 6)
	src.push(pattern(24, 0))
	src.busy = true

	n, err := d.Service(context.Background())
	if n != 0 || err != nil {
		t.Fatalf("Service() = (%d, %v), want (0, nil)", n, err)
	}
	if src.starts != 0 {
		t.Errorf("StartDMA called %d times while busy", src.starts)
	}
	if _, words := d.Position(); words != 0 {
		t.Errorf("position advanced to %d", words)
	}
	if r.Occupancy() != 0 {
		t.Errorf("Occupancy() = %d, want 0", r.Occupancy())
	}
	if src.PendingLength() != 24 {
		t.Errorf("packet consumed while busy")
	}
}

func TestDrain_NoPendingData(t *testing.T) {
	_, src, d := newTestDrain(t, 4, 6)
	n, err := d.Service(context.Background())
	if n != 0 || err != nil {
		t.Fatalf("Service() = (%d, %v), want (0, nil)", n, err)
	}
	if src.starts != 0 {
		t.Errorf("StartDMA called with nothing pending")
	}
}

func TestDrain_AccumulatesAndCommits(t *testing.T) {
	r, src, d := newTestDrain(t, 4, 12)
	first, second := pattern(24, 0), pattern(24, 100)
	src.push(first, second)

	ctx := context.Background()
	if n, err := d.Service(ctx); n != 24 || err != nil {
		t.Fatalf("first Service() = (%d, %v)", n, err)
	}
	if r.Occupancy() != 0 {
		t.Fatalf("slot committed after half a slot")
	}
	if slot, words := d.Position(); slot != 0 || words != 6 {
		t.Errorf("Position() = (%d, %d), want (0, 6)", slot, words)
	}

	if n, err := d.Service(ctx); n != 24 || err != nil {
		t.Fatalf("second Service() = (%d, %v)", n, err)
	}
	if r.Occupancy() != 1 {
		t.Fatalf("Occupancy() = %d, want 1", r.Occupancy())
	}
	if slot, words := d.Position(); slot != 1 || words != 0 {
		t.Errorf("Position() = (%d, %d), want (1, 0)", slot, words)
	}

	got := make([]byte, 48)
	r.CopyOut(0, 0, got)
	if want := append(append([]byte{}, first...), second...); !bytes.Equal(got, want) {
		t.Errorf("slot data = %v, want %v", got, want)
	}
}

func TestDrain_CommitsEarlyWhenPacketWouldNotFit(t *testing.T) {
	r, src, d := newTestDrain(t, 4, 10)
	src.push(pattern(24, 0), pattern(24, 50))

	ctx := context.Background()
	for range 2 {
		if _, err := d.Service(ctx); err != nil {
			t.Fatalf("Service() error = %v", err)
		}
	}

	if r.Occupancy() != 1 {
		t.Fatalf("Occupancy() = %d, want 1", r.Occupancy())
	}
	if length, full := r.Slot(0); length != 6 || !full {
		t.Errorf("Slot(0) = (%d, %v), want (6, true)", length, full)
	}
	if slot, words := d.Position(); slot != 1 || words != 6 {
		t.Errorf("Position() = (%d, %d), want (1, 6)", slot, words)
	}
}

func TestDrain_TruncatesToSlot(t *testing.T) {
	r, src, d := newTestDrain(t, 4, 4)
	src.push(pattern(24, 0))

	n, err := d.Service(context.Background())
	if err != nil {
		t.Fatalf("Service() error = %v", err)
	}
	if n != 16 {
		t.Errorf("Service() = %d bytes, want 16", n)
	}
	if length, full := r.Slot(0); length != 4 || !full {
		t.Errorf("Slot(0) = (%d, %v), want (4, true)", length, full)
	}
}

func TestDrain_DropsFragment(t *testing.T) {
	r, src, d := newTestDrain(t, 4, 4)
	src.push([]byte{1, 2, 3})

	n, err := d.Service(context.Background())
	if n != 0 || err != nil {
		t.Fatalf("Service() = (%d, %v), want (0, nil)", n, err)
	}
	if src.PendingLength() != 0 {
		t.Errorf("fragment left in FIFO")
	}
	if _, words := d.Position(); words != 0 {
		t.Errorf("fragment advanced position to %d", words)
	}
	if r.Occupancy() != 0 {
		t.Errorf("Occupancy() = %d, want 0", r.Occupancy())
	}
}

func TestDrain_Overrun(t *testing.T) {
	r, src, d := newTestDrain(t, 3, 1)
	ctx := context.Background()
	for i := range 3 {
		src.push(pattern(4, byte(i)))
		if _, err := d.Service(ctx); err != nil {
			t.Fatalf("Service() %d error = %v", i, err)
		}
	}

	src.push(pattern(4, 9))
	n, err := d.Service(ctx)
	if !errors.Is(err, pkg.ErrRingFull) {
		t.Fatalf("Service() error = %v, want ErrRingFull", err)
	}
	if n != 4 {
		t.Errorf("Service() = %d bytes, want 4", n)
	}
	if r.Occupancy() != 3 {
		t.Errorf("Occupancy() = %d, want 3", r.Occupancy())
	}
	write, read := r.Cursors()
	if write != 1 || read != 1 {
		t.Errorf("Cursors() = (%d, %d), want (1, 1)", write, read)
	}
}

func TestDrain_WaitEscapes(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		setup   func(*fakeSource)
		wantErr error
	}{
		{
			name:    "detach",
			ctx:     context.Background(),
			setup:   func(s *fakeSource) { s.stall = true; s.detached = true },
			wantErr: pkg.ErrNoDevice,
		},
		{
			name:    "abort",
			ctx:     context.Background(),
			setup:   func(s *fakeSource) { s.abort = true },
			wantErr: pkg.ErrCancelled,
		},
		{
			name:    "context",
			ctx:     cancelled,
			setup:   func(s *fakeSource) { s.stall = true },
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, src, d := newTestDrain(t, 4, 6)
			tt.setup(src)
			src.push(pattern(24, 0))

			_, err := d.Service(tt.ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Service() error = %v, want %v", err, tt.wantErr)
			}
			if _, words := d.Position(); words != 0 {
				t.Errorf("failed copy advanced position to %d", words)
			}
			if r.Occupancy() != 0 {
				t.Errorf("Occupancy() = %d, want 0", r.Occupancy())
			}
		})
	}
}

// lateSource finishes its DMA copy right after the first DMADone poll
// reports it still running.
type lateSource struct {
	*fakeSource
	polls int
}

func (l *lateSource) DMADone() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.polls++
	if l.polls == 1 {
		l.busy, l.done = false, true
		return false
	}
	return l.done
}

func TestDrain_CompletionBetweenPolls(t *testing.T) {
	r := newTestRing(t, 4, 32)
	if err := r.SetSlotLength(12); err != nil {
		t.Fatal(err)
	}
	src := &lateSource{fakeSource: &fakeSource{stall: true}}
	d := NewDrain(r, src)
	packet := pattern(24, 9)
	src.push(packet)

	n, err := d.Service(context.Background())
	if err != nil || n != 24 {
		t.Fatalf("Service() = (%d, %v), want (24, nil)", n, err)
	}
	if _, words := d.Position(); words != 6 {
		t.Errorf("Position() words = %d, want 6", words)
	}
	if got := r.Region(0, 0, 6); !bytes.Equal(got, packet) {
		t.Errorf("slot data = %v, want %v", got, packet)
	}
}

func TestPlayer_Consume(t *testing.T) {
	r := newTestRing(t, 3, 4)
	p := NewPlayer(r)
	dst := bytes.Repeat([]byte{0xAA}, 16)

	n, err := p.Consume(dst)
	if !errors.Is(err, pkg.ErrUnderrun) || n != 0 {
		t.Fatalf("Consume() on empty ring = (%d, %v), want (0, ErrUnderrun)", n, err)
	}
	if !bytes.Equal(dst, make([]byte, 16)) {
		t.Errorf("underrun did not produce silence: %v", dst)
	}

	w := r.AcquireWriteSlot()
	copy(r.Region(w, 0, 2), pattern(8, 1))
	if err := r.CommitWriteSlot(w, 2); err != nil {
		t.Fatal(err)
	}

	dst = bytes.Repeat([]byte{0xAA}, 16)
	n, err = p.Consume(dst)
	if err != nil || n != 8 {
		t.Fatalf("Consume() = (%d, %v), want (8, nil)", n, err)
	}
	want := append(pattern(8, 1), make([]byte, 8)...)
	if !bytes.Equal(dst, want) {
		t.Errorf("Consume() data = %v, want %v", dst, want)
	}
	if r.Occupancy() != 0 {
		t.Errorf("Occupancy() = %d, want 0", r.Occupancy())
	}
}

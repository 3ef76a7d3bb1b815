package stream

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ardnew/softuac/pkg"
)

// PacketSource is the OUT side of the transport as seen by the [Drain].
type PacketSource interface {
	// PendingLength returns the number of bytes waiting in the OUT FIFO.
	PendingLength() int

	// DMABusy reports whether a DMA copy is in progress.
	DMABusy() bool

	// StartDMA starts copying the pending packet into dst. Bytes beyond
	// len(dst) are discarded.
	StartDMA(dst []byte) error

	// DMADone reports whether the most recent DMA copy has completed.
	DMADone() bool

	// Attached reports whether the device is still attached to the bus.
	Attached() bool

	// Flush discards any pending OUT data.
	Flush() error
}

// Drain moves isochronous OUT packets into the playback ring.
//
// Service is meant to be called from the transport context each time a
// packet-received event arrives. It never blocks on the transport: if the
// DMA engine is still busy it returns immediately and the packet is picked up
// on the next call.
type Drain struct {
	ring *Ring
	src  PacketSource

	slot int // Write slot being filled
	pos  int // Words accumulated in slot

	staging []byte // DMA destination, copied into the slot on completion
	scratch [WordSize]byte
}

// NewDrain creates a drain that fills ring from src.
func NewDrain(ring *Ring, src PacketSource) *Drain {
	d := &Drain{
		ring:    ring,
		src:     src,
		staging: make([]byte, ring.Capacity()*WordSize),
	}
	d.Reset()
	return d
}

// Reset drops the partially filled slot and re-acquires the write cursor.
// Callers must stop the drain before resetting it.
func (d *Drain) Reset() {
	d.slot = d.ring.AcquireWriteSlot()
	d.pos = 0
}

// Position returns the slot being filled and the words accumulated in it.
func (d *Drain) Position() (slot, words int) {
	return d.slot, d.pos
}

// Service copies one pending packet into the ring. It returns the number of
// bytes stored. A commit that overwrote the oldest slot returns
// [pkg.ErrRingFull] together with the byte count; the data is kept.
func (d *Drain) Service(ctx context.Context) (int, error) {
	if d.src.DMABusy() {
		return 0, nil
	}
	n := d.src.PendingLength()
	if n <= 0 {
		return 0, nil
	}

	words := n / WordSize
	if words == 0 {
		// Not even one frame; drop the fragment so the FIFO drains.
		if err := d.src.StartDMA(d.scratch[:]); err != nil {
			return 0, fmt.Errorf("drain fragment: %w", err)
		}
		return 0, d.wait(ctx)
	}

	var overwrite error
	slotLength := d.ring.SlotLength()
	if d.pos > 0 && d.pos+words > slotLength {
		overwrite = d.commit()
	}
	words = min(words, slotLength-d.pos)

	staged := d.staging[:words*WordSize]
	if err := d.src.StartDMA(staged); err != nil {
		return 0, fmt.Errorf("drain start dma: %w", err)
	}
	if err := d.wait(ctx); err != nil {
		return 0, err
	}
	d.ring.CopyIn(d.slot, d.pos, staged)
	d.pos += words

	if d.pos >= slotLength {
		if err := d.commit(); err != nil {
			overwrite = err
		}
	}
	return words * WordSize, overwrite
}

// commit closes the current slot and moves on to the next write slot.
func (d *Drain) commit() error {
	err := d.ring.CommitWriteSlot(d.slot, d.pos)
	d.slot = d.ring.AcquireWriteSlot()
	d.pos = 0
	return err
}

// wait polls for DMA completion. It gives up when the device detaches, the
// engine goes idle without completing, or ctx is cancelled.
func (d *Drain) wait(ctx context.Context) error {
	for !d.src.DMADone() {
		if !d.src.Attached() {
			return pkg.ErrNoDevice
		}
		if !d.src.DMABusy() {
			// The engine may have finished between the two polls.
			if d.src.DMADone() {
				return nil
			}
			return fmt.Errorf("dma aborted: %w", pkg.ErrCancelled)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		runtime.Gosched()
	}
	return nil
}

// Player hands committed playback slots to the codec output.
type Player struct {
	ring *Ring
}

// NewPlayer creates a player that consumes ring.
func NewPlayer(ring *Ring) *Player {
	return &Player{ring: ring}
}

// Consume copies the oldest full slot into dst and releases it. When the
// ring is empty dst is filled with silence and [pkg.ErrUnderrun] is returned.
// It returns the number of bytes of audio copied.
func (p *Player) Consume(dst []byte) (int, error) {
	n, ok := p.ring.ReadSlot(dst)
	clear(dst[n:])
	if !ok {
		return 0, pkg.ErrUnderrun
	}
	return n, nil
}

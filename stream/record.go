package stream

import (
	"context"
	"fmt"

	"github.com/ardnew/softuac/pkg"
)

// PacketSink is an IN endpoint of the transport.
type PacketSink interface {
	// WritePacket queues data for the next IN transaction.
	WritePacket(data []byte) error

	// WriteZeroLength answers the next IN transaction with a zero-length packet.
	WriteZeroLength() error
}

// Fill stores captured codec buffers into the record ring.
type Fill struct {
	ring *Ring
}

// NewFill creates a fill for ring.
func NewFill(ring *Ring) *Fill {
	return &Fill{ring: ring}
}

// Capture copies one codec buffer into the write slot and marks it full.
// Input longer than the slot length is truncated. A commit that overwrote
// the oldest unsent slot returns [pkg.ErrRingFull].
func (f *Fill) Capture(samples []byte) error {
	slot := f.ring.AcquireWriteSlot()
	words := min(len(samples)/WordSize, f.ring.SlotLength())
	f.ring.CopyIn(slot, 0, samples[:words*WordSize])
	return f.ring.CommitWriteSlot(slot, words)
}

// Sender drains the record ring toward the transport one packet per IN
// service opportunity.
type Sender struct {
	ring *Ring
	sink PacketSink

	packetWords int
	slot        int // Read slot the position refers to
	pos         int // Word offset into slot
	packet      []byte
}

// NewSender creates a sender that sends packets of packetWords words from
// ring to sink.
func NewSender(ring *Ring, sink PacketSink, packetWords int) *Sender {
	s := &Sender{ring: ring, sink: sink}
	s.SetPacketWords(packetWords)
	return s
}

// SetPacketWords sets the packet size for the next session and rewinds the
// sender. Callers must stop the sender first.
func (s *Sender) SetPacketWords(words int) {
	words = max(words, 1)
	if cap(s.packet) < words*WordSize {
		s.packet = make([]byte, words*WordSize)
	}
	s.packet = s.packet[:words*WordSize]
	s.packetWords = words
	s.Reset()
}

// Reset rewinds the sender to the start of a slot.
func (s *Sender) Reset() {
	s.slot = -1
	s.pos = 0
}

// Position returns the word offset into the current read slot.
func (s *Sender) Position() int {
	return s.pos
}

// Service sends one packet from the oldest full slot, releasing the slot
// once it cannot supply another full packet. If the slot being sent was
// overwritten, sending restarts at the beginning of the new oldest slot.
// With no full slot it sends a zero-length packet, leaves the read cursor
// alone and returns [pkg.ErrUnderrun]. It returns the number of payload
// bytes queued.
func (s *Sender) Service(ctx context.Context) (int, error) {
	slot, next, n, ok := s.ring.ReadPacket(s.slot, s.pos, s.packetWords, s.packet)
	if !ok {
		if err := s.sink.WriteZeroLength(); err != nil {
			return 0, fmt.Errorf("send zero-length: %w", err)
		}
		return 0, pkg.ErrUnderrun
	}
	s.slot, s.pos = slot, next
	if next == 0 {
		s.slot = -1
	}

	if err := s.sink.WritePacket(s.packet[:n]); err != nil {
		return 0, fmt.Errorf("send packet: %w", err)
	}
	return n, nil
}

package stream

import (
	"context"
	"encoding/binary"
	"sync/atomic"
)

// FeedbackSize is the size of a high-speed feedback packet in bytes.
const FeedbackSize = 4

// Reporter publishes the device's effective sample rate on the feedback
// endpoint so the host can pace its OUT stream.
type Reporter struct {
	sink PacketSink

	nominal atomic.Uint32
	step    atomic.Uint32
	value   atomic.Uint32
}

// NewReporter creates a reporter writing to sink.
func NewReporter(sink PacketSink) *Reporter {
	return &Reporter{sink: sink}
}

// SetNominal sets the nominal feedback value and adjustment step, and
// resets the reported value to nominal.
func (r *Reporter) SetNominal(nominal, step uint32) {
	r.nominal.Store(nominal)
	r.step.Store(step)
	r.value.Store(nominal)
}

// Adjust nudges the reported value to follow a governor trim.
func (r *Reporter) Adjust(state RateState) {
	nominal, step := r.nominal.Load(), r.step.Load()
	switch state {
	case RateUp:
		r.value.Store(nominal + step)
	case RateDown:
		r.value.Store(nominal - step)
	default:
		r.value.Store(nominal)
	}
}

// Value returns the value reported on the next service opportunity.
func (r *Reporter) Value() uint32 {
	return r.value.Load()
}

// Service writes the current value as a 4-byte little-endian packet.
func (r *Reporter) Service(ctx context.Context) error {
	var buf [FeedbackSize]byte
	binary.LittleEndian.PutUint32(buf[:], r.value.Load())
	return r.sink.WritePacket(buf[:])
}

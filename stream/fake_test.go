package stream

import (
	"context"
	"sync"
)

// fakeSource implements PacketSource over a queue of pending packets. DMA
// completes synchronously unless stall is set.
type fakeSource struct {
	mutex    sync.Mutex
	pending  [][]byte
	busy     bool
	done     bool
	detached bool
	stall    bool // StartDMA leaves the engine busy and never completes
	abort    bool // StartDMA leaves the engine idle without completing
	starts   int
	flushes  int
}

func (f *fakeSource) push(packets ...[]byte) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.pending = append(f.pending, packets...)
}

func (f *fakeSource) PendingLength() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.pending) == 0 {
		return 0
	}
	return len(f.pending[0])
}

func (f *fakeSource) DMABusy() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.busy
}

func (f *fakeSource) StartDMA(dst []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.starts++
	if len(f.pending) > 0 {
		copy(dst, f.pending[0])
		f.pending = f.pending[1:]
	}
	switch {
	case f.stall:
		f.busy, f.done = true, false
	case f.abort:
		f.busy, f.done = false, false
	default:
		f.busy, f.done = false, true
	}
	return nil
}

func (f *fakeSource) DMADone() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.done
}

func (f *fakeSource) Attached() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return !f.detached
}

func (f *fakeSource) Flush() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.flushes++
	f.pending = nil
	return nil
}

// fakeSink implements PacketSink and records every packet. A zero-length
// packet is recorded as an empty, non-nil slice.
type fakeSink struct {
	mutex   sync.Mutex
	packets [][]byte
}

func (f *fakeSink) WritePacket(data []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.packets = append(f.packets, append([]byte{}, data...))
	return nil
}

func (f *fakeSink) WriteZeroLength() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.packets = append(f.packets, []byte{})
	return nil
}

func (f *fakeSink) sent() [][]byte {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([][]byte{}, f.packets...)
}

func (f *fakeSink) zeroLength() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	n := 0
	for _, p := range f.packets {
		if len(p) == 0 {
			n++
		}
	}
	return n
}

type trimCall struct {
	state  RateState
	family Family
}

// fakeCodec implements Codec and records every call.
type fakeCodec struct {
	mutex      sync.Mutex
	configured []uint32
	trims      []trimCall
	trimErr    error
}

func (f *fakeCodec) ConfigureSampleRate(ctx context.Context, cfg SampleRateConfig) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.configured = append(f.configured, cfg.Rate)
	return nil
}

func (f *fakeCodec) Trim(ctx context.Context, state RateState, family Family) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.trimErr != nil {
		return f.trimErr
	}
	f.trims = append(f.trims, trimCall{state: state, family: family})
	return nil
}

func (f *fakeCodec) trimCalls() []trimCall {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]trimCall{}, f.trims...)
}

// countingObserver counts pipeline events.
type countingObserver struct {
	mutex     sync.Mutex
	overruns  map[Direction]int
	underruns map[Direction]int
	streaming map[Direction]bool
	states    []RateState
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		overruns:  make(map[Direction]int),
		underruns: make(map[Direction]int),
		streaming: make(map[Direction]bool),
	}
}

func (o *countingObserver) StreamingChanged(dir Direction, streaming bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.streaming[dir] = streaming
}

func (o *countingObserver) OccupancyChanged(Direction, int) {}

func (o *countingObserver) Overrun(dir Direction) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.overruns[dir]++
}

func (o *countingObserver) Underrun(dir Direction) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.underruns[dir]++
}

func (o *countingObserver) RateStateChanged(state RateState) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.states = append(o.states, state)
}

func (o *countingObserver) overrun(dir Direction) int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.overruns[dir]
}

func (o *countingObserver) underrun(dir Direction) int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.underruns[dir]
}

// pattern returns n bytes counting up from seed.
func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

var (
	_ PacketSource = (*fakeSource)(nil)
	_ PacketSink   = (*fakeSink)(nil)
	_ Codec        = (*fakeCodec)(nil)
	_ Observer     = (*countingObserver)(nil)
)

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ardnew/softuac/pkg"
)

// DefaultSlots is the default number of ring slots per direction.
const DefaultSlots = 8

// DefaultGovernorInterval is the default governor tick period.
const DefaultGovernorInterval = 10 * time.Millisecond

// Codec is the codec as seen by the pipeline.
type Codec interface {
	Trimmer

	// ConfigureSampleRate programs the codec clocks for cfg.
	ConfigureSampleRate(ctx context.Context, cfg SampleRateConfig) error
}

// Options configures a [Pipeline].
type Options struct {
	Slots    int      // Ring slots per direction (DefaultSlots if zero)
	Rate     uint32   // Initial sample rate (DefaultRate if zero)
	Codec    Codec    // Required
	Observer Observer // NopObserver if nil

	PlaybackSource PacketSource // Isochronous OUT endpoint
	RecordSink     PacketSink   // Isochronous IN endpoint
	FeedbackSink   PacketSink   // Feedback IN endpoint
}

// direction holds the shared state of one streaming direction. Handlers
// hold gate for reading while they run; Enable and Disable hold it for
// writing, so a reset is never interleaved with a handler.
type direction struct {
	gate      sync.RWMutex
	streaming atomic.Bool
	session   string
	config    SampleRateConfig // Parameters the session was enabled with
	ring      *Ring
}

// Pipeline ties rings, feeders, governor and reporter together and
// implements the per-direction stopped/streaming state machine.
type Pipeline struct {
	codec    Codec
	observer Observer

	mutex  sync.Mutex
	config SampleRateConfig

	play    direction
	rec     direction
	playing atomic.Bool // Prefill reached; codec consumes playback slots
	prefill int

	drain    *Drain
	player   *Player
	fill     *Fill
	sender   *Sender
	governor *Governor
	reporter *Reporter
	source   PacketSource
	recSink  PacketSink
}

// NewPipeline creates a stopped pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Codec == nil {
		return nil, fmt.Errorf("pipeline codec: %w", pkg.ErrInvalidParameter)
	}
	if opts.PlaybackSource == nil || opts.RecordSink == nil || opts.FeedbackSink == nil {
		return nil, fmt.Errorf("pipeline endpoints: %w", pkg.ErrInvalidParameter)
	}
	if opts.Slots == 0 {
		opts.Slots = DefaultSlots
	}
	if opts.Rate == 0 {
		opts.Rate = DefaultRate
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}

	config, err := LookupRate(opts.Rate)
	if err != nil {
		return nil, err
	}

	playRing, err := NewRing(opts.Slots, MaxSlotLength())
	if err != nil {
		return nil, err
	}
	recRing, err := NewRing(opts.Slots, MaxSlotLength())
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		codec:    opts.Codec,
		observer: opts.Observer,
		config:   config,
		prefill:  opts.Slots/2 + 1,
		source:   opts.PlaybackSource,
		recSink:  opts.RecordSink,
	}
	p.play.ring = playRing
	p.rec.ring = recRing
	p.drain = NewDrain(playRing, opts.PlaybackSource)
	p.player = NewPlayer(playRing)
	p.fill = NewFill(recRing)
	p.sender = NewSender(recRing, opts.RecordSink, config.PacketWords)
	p.governor = NewGovernor(playRing, opts.Codec)
	p.governor.SetFamily(config.Family)
	p.reporter = NewReporter(opts.FeedbackSink)
	p.reporter.SetNominal(config.Feedback, config.FeedbackStep())
	return p, nil
}

func (p *Pipeline) dir(d Direction) *direction {
	if d == Record {
		return &p.rec
	}
	return &p.play
}

// Ring returns the ring of a direction.
func (p *Pipeline) Ring(d Direction) *Ring {
	return p.dir(d).ring
}

// Governor returns the playback rate governor.
func (p *Pipeline) Governor() *Governor {
	return p.governor
}

// Reporter returns the feedback reporter.
func (p *Pipeline) Reporter() *Reporter {
	return p.reporter
}

// Config returns the selected sample rate configuration.
func (p *Pipeline) Config() SampleRateConfig {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.config
}

// SampleRate returns the selected sample rate.
func (p *Pipeline) SampleRate() uint32 {
	return p.Config().Rate
}

// SetSampleRate selects the sample rate for subsequent sessions. A
// direction that is already streaming keeps its current parameters until it
// is disabled and enabled again.
func (p *Pipeline) SetSampleRate(rate uint32) error {
	config, err := LookupRate(rate)
	if err != nil {
		return err
	}
	p.mutex.Lock()
	changed := p.config.Rate != config.Rate
	p.config = config
	p.mutex.Unlock()

	if changed {
		pkg.LogInfo(pkg.ComponentPipeline, "sample rate selected",
			"rate", rate,
			"family", config.Family.String(),
			"playbackStreaming", p.Streaming(Playback),
			"recordStreaming", p.Streaming(Record))
	}
	return nil
}

// Streaming reports whether direction d is streaming.
func (p *Pipeline) Streaming(d Direction) bool {
	return p.dir(d).streaming.Load()
}

// SessionConfig returns the parameters of the current session of
// direction d. A stopped direction reports the selected configuration and
// false.
func (p *Pipeline) SessionConfig(d Direction) (SampleRateConfig, bool) {
	dir := p.dir(d)
	dir.gate.RLock()
	config, streaming := dir.config, dir.streaming.Load()
	dir.gate.RUnlock()
	if !streaming {
		return p.Config(), false
	}
	return config, true
}

// Playing reports whether playback has reached its prefill level and the
// codec is consuming slots.
func (p *Pipeline) Playing() bool {
	return p.playing.Load()
}

// Session returns the id of the current session of direction d, or "" when
// it is stopped.
func (p *Pipeline) Session(d Direction) string {
	dir := p.dir(d)
	dir.gate.RLock()
	defer dir.gate.RUnlock()
	return dir.session
}

// Enable starts a streaming session for direction d. Enabling a streaming
// direction is a no-op.
func (p *Pipeline) Enable(ctx context.Context, d Direction) error {
	dir := p.dir(d)
	if dir.streaming.Load() {
		return nil
	}

	config := p.Config()
	if err := p.codec.ConfigureSampleRate(ctx, config); err != nil {
		return fmt.Errorf("enable %s: %w", d, err)
	}

	dir.gate.Lock()
	dir.ring.Reset()
	switch d {
	case Playback:
		if err := dir.ring.SetSlotLength(config.PlaybackSlotLength); err != nil {
			dir.gate.Unlock()
			return err
		}
		p.drain.Reset()
		p.playing.Store(false)
		p.governor.SetFamily(config.Family)
		p.reporter.SetNominal(config.Feedback, config.FeedbackStep())
	case Record:
		if err := dir.ring.SetSlotLength(config.RecordSlotLength); err != nil {
			dir.gate.Unlock()
			return err
		}
		p.sender.SetPacketWords(config.PacketWords)
	}
	dir.session = uuid.NewString()
	dir.config = config
	dir.streaming.Store(true)
	session := dir.session
	dir.gate.Unlock()

	pkg.LogInfo(pkg.ComponentPipeline, "streaming enabled",
		"direction", d.String(),
		"session", session,
		"rate", config.Rate)
	p.observer.StreamingChanged(d, true)
	p.observer.OccupancyChanged(d, 0)
	return nil
}

// Disable stops direction d. Cursors, counters and buffer contents are
// cleared before Disable returns. Disabling a stopped direction is a no-op.
func (p *Pipeline) Disable(ctx context.Context, d Direction) error {
	dir := p.dir(d)

	dir.gate.Lock()
	if !dir.streaming.Load() {
		dir.gate.Unlock()
		return nil
	}
	dir.streaming.Store(false)
	dir.ring.Reset()
	switch d {
	case Playback:
		p.drain.Reset()
		p.playing.Store(false)
	case Record:
		p.sender.Reset()
	}
	session := dir.session
	dir.session = ""
	dir.gate.Unlock()

	var err error
	switch d {
	case Playback:
		if flushErr := p.source.Flush(); flushErr != nil {
			err = errors.Join(err, fmt.Errorf("flush playback endpoint: %w", flushErr))
		}
		p.reporter.Adjust(RateNone)
		changed, resetErr := p.governor.Reset(ctx)
		if resetErr != nil {
			err = errors.Join(err, resetErr)
		}
		if changed {
			p.observer.RateStateChanged(RateNone)
		}
	case Record:
		// A busy endpoint already has a packet armed for the next IN token.
		if zlpErr := p.recSink.WriteZeroLength(); zlpErr != nil && !errors.Is(zlpErr, pkg.ErrBusy) {
			err = errors.Join(err, fmt.Errorf("arm zero-length: %w", zlpErr))
		}
	}

	pkg.LogInfo(pkg.ComponentPipeline, "streaming disabled",
		"direction", d.String(),
		"session", session)
	p.observer.StreamingChanged(d, false)
	p.observer.OccupancyChanged(d, 0)
	return err
}

// HandlePacketReceived services a packet-received event on the playback
// endpoint. Packets arriving while playback is stopped are discarded.
func (p *Pipeline) HandlePacketReceived(ctx context.Context) error {
	dir := &p.play
	dir.gate.RLock()
	defer dir.gate.RUnlock()

	if !dir.streaming.Load() {
		return p.source.Flush()
	}

	_, err := p.drain.Service(ctx)
	if errors.Is(err, pkg.ErrRingFull) {
		pkg.LogDebug(pkg.ComponentFeeder, "playback overrun", "session", dir.session)
		p.observer.Overrun(Playback)
		err = nil
	}

	count := dir.ring.Occupancy()
	p.observer.OccupancyChanged(Playback, count)
	if !p.playing.Load() && count >= p.prefill {
		p.playing.Store(true)
		pkg.LogInfo(pkg.ComponentPipeline, "playback started",
			"session", dir.session,
			"occupancy", count)
	}
	return err
}

// ConsumePlayback fills dst with the next playback slot for the codec.
// Before prefill completes, or after an underrun, dst is silence.
func (p *Pipeline) ConsumePlayback(dst []byte) (int, error) {
	dir := &p.play
	dir.gate.RLock()
	defer dir.gate.RUnlock()

	if !dir.streaming.Load() || !p.playing.Load() {
		clear(dst)
		return 0, nil
	}

	n, err := p.player.Consume(dst)
	if errors.Is(err, pkg.ErrUnderrun) {
		pkg.LogDebug(pkg.ComponentFeeder, "playback underrun", "session", dir.session)
		p.observer.Underrun(Playback)
		err = nil
	}
	p.observer.OccupancyChanged(Playback, dir.ring.Occupancy())
	return n, err
}

// CaptureRecord stores one codec capture buffer. Captures are dropped while
// record is stopped.
func (p *Pipeline) CaptureRecord(samples []byte) error {
	dir := &p.rec
	dir.gate.RLock()
	defer dir.gate.RUnlock()

	if !dir.streaming.Load() {
		return nil
	}

	err := p.fill.Capture(samples)
	if errors.Is(err, pkg.ErrRingFull) {
		pkg.LogDebug(pkg.ComponentFeeder, "record overrun", "session", dir.session)
		p.observer.Overrun(Record)
		err = nil
	}
	p.observer.OccupancyChanged(Record, dir.ring.Occupancy())
	return err
}

// HandleRecordReady services a transmit-ready event on the record endpoint.
// While record is stopped the endpoint answers with zero-length packets.
func (p *Pipeline) HandleRecordReady(ctx context.Context) error {
	dir := &p.rec
	dir.gate.RLock()
	defer dir.gate.RUnlock()

	if !dir.streaming.Load() {
		return p.recSink.WriteZeroLength()
	}

	_, err := p.sender.Service(ctx)
	if errors.Is(err, pkg.ErrUnderrun) {
		p.observer.Underrun(Record)
		err = nil
	}
	p.observer.OccupancyChanged(Record, dir.ring.Occupancy())
	return err
}

// HandleFeedbackReady services a transmit-ready event on the feedback
// endpoint.
func (p *Pipeline) HandleFeedbackReady(ctx context.Context) error {
	return p.reporter.Service(ctx)
}

// GovernorTick runs one governor step. The governor only acts while
// playback is playing.
func (p *Pipeline) GovernorTick(ctx context.Context) (RateState, error) {
	dir := &p.play
	dir.gate.RLock()
	defer dir.gate.RUnlock()

	if !dir.streaming.Load() || !p.playing.Load() {
		return p.governor.State(), nil
	}

	state, changed, err := p.governor.Tick(ctx)
	if err != nil {
		return state, err
	}
	if changed {
		p.reporter.Adjust(state)
		pkg.LogDebug(pkg.ComponentGovernor, "rate trim changed",
			"state", state.String(),
			"occupancy", dir.ring.Occupancy(),
			"feedback", p.reporter.Value())
		p.observer.RateStateChanged(state)
	}
	return state, nil
}

// Run ticks the governor every interval until ctx is cancelled. Trim
// failures are logged and retried on the next tick.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultGovernorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.GovernorTick(ctx); err != nil {
				pkg.LogWarn(pkg.ComponentGovernor, "governor tick failed", "error", err)
			}
		}
	}
}

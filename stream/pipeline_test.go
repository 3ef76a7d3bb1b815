package stream

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/softuac/pkg"
)

type testPipeline struct {
	*Pipeline
	codec    *fakeCodec
	observer *countingObserver
	source   *fakeSource
	record   *fakeSink
	feedback *fakeSink
}

func newTestPipeline(t *testing.T, slots int) *testPipeline {
	t.Helper()
	tp := &testPipeline{
		codec:    &fakeCodec{},
		observer: newCountingObserver(),
		source:   &fakeSource{},
		record:   &fakeSink{},
		feedback: &fakeSink{},
	}
	p, err := NewPipeline(Options{
		Slots:          slots,
		Codec:          tp.codec,
		Observer:       tp.observer,
		PlaybackSource: tp.source,
		RecordSink:     tp.record,
		FeedbackSink:   tp.feedback,
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	tp.Pipeline = p
	return tp
}

// sendSlots delivers k full playback slots, one packet each.
func (tp *testPipeline) sendSlots(t *testing.T, k int) {
	t.Helper()
	size := tp.Config().PlaybackSlotLength * WordSize
	for i := range k {
		tp.source.push(pattern(size, byte(i)))
		if err := tp.HandlePacketReceived(context.Background()); err != nil {
			t.Fatalf("HandlePacketReceived() error = %v", err)
		}
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	src, sink := &fakeSource{}, &fakeSink{}
	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{"no codec", Options{PlaybackSource: src, RecordSink: sink, FeedbackSink: sink}, pkg.ErrInvalidParameter},
		{"no source", Options{Codec: &fakeCodec{}, RecordSink: sink, FeedbackSink: sink}, pkg.ErrInvalidParameter},
		{"few slots", Options{Slots: 2, Codec: &fakeCodec{}, PlaybackSource: src, RecordSink: sink, FeedbackSink: sink}, pkg.ErrInvalidParameter},
		{"bad rate", Options{Rate: 22050, Codec: &fakeCodec{}, PlaybackSource: src, RecordSink: sink, FeedbackSink: sink}, pkg.ErrUnsupportedRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPipeline(tt.opts); !errors.Is(err, tt.wantErr) {
				t.Errorf("NewPipeline() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPipeline_EnableConfiguresSession(t *testing.T) {
	tp := newTestPipeline(t, 8)
	ctx := context.Background()

	if err := tp.SetSampleRate(44100); err != nil {
		t.Fatal(err)
	}
	if err := tp.Enable(ctx, Playback); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if err := tp.Enable(ctx, Playback); err != nil {
		t.Fatalf("second Enable() error = %v", err)
	}

	if diff := cmp.Diff([]uint32{44100}, tp.codec.configured); diff != "" {
		t.Errorf("configured rates mismatch (-want +got):\n%s", diff)
	}
	if !tp.Streaming(Playback) || tp.Streaming(Record) {
		t.Errorf("Streaming() = (%v, %v), want (true, false)", tp.Streaming(Playback), tp.Streaming(Record))
	}
	if tp.Session(Playback) == "" {
		t.Error("Session() is empty while streaming")
	}
	if got := tp.Ring(Playback).SlotLength(); got != 441 {
		t.Errorf("playback SlotLength() = %d, want 441", got)
	}
	if got := tp.Reporter().Value(); got != 0x00058333 {
		t.Errorf("feedback = %#x, want 0x58333", got)
	}
}

func TestPipeline_SessionConfigSurvivesRateChange(t *testing.T) {
	tp := newTestPipeline(t, 8)
	ctx := context.Background()
	if err := tp.Enable(ctx, Record); err != nil {
		t.Fatal(err)
	}
	if err := tp.SetSampleRate(96000); err != nil {
		t.Fatal(err)
	}

	cfg, streaming := tp.SessionConfig(Record)
	if !streaming || cfg.Rate != DefaultRate {
		t.Errorf("SessionConfig(record) = (%d, %v), want (%d, true)", cfg.Rate, streaming, DefaultRate)
	}
	if cfg.RecordSlotLength != tp.Ring(Record).SlotLength() {
		t.Errorf("session slot length %d, ring %d", cfg.RecordSlotLength, tp.Ring(Record).SlotLength())
	}
	if cfg, streaming := tp.SessionConfig(Playback); streaming || cfg.Rate != 96000 {
		t.Errorf("SessionConfig(playback) = (%d, %v), want (96000, false)", cfg.Rate, streaming)
	}

	if err := tp.Disable(ctx, Record); err != nil {
		t.Fatal(err)
	}
	if cfg, streaming := tp.SessionConfig(Record); streaming || cfg.Rate != 96000 {
		t.Errorf("SessionConfig(record) after Disable() = (%d, %v), want (96000, false)", cfg.Rate, streaming)
	}
}

func TestPipeline_SetSampleRateUnsupported(t *testing.T) {
	tp := newTestPipeline(t, 8)
	if err := tp.SetSampleRate(11025); !errors.Is(err, pkg.ErrUnsupportedRate) {
		t.Errorf("SetSampleRate() error = %v, want ErrUnsupportedRate", err)
	}
	if tp.SampleRate() != DefaultRate {
		t.Errorf("SampleRate() = %d, want %d", tp.SampleRate(), DefaultRate)
	}
}

func TestPipeline_PrefillGate(t *testing.T) {
	tp := newTestPipeline(t, 8)
	if err := tp.Enable(context.Background(), Playback); err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, tp.Config().PlaybackSlotLength*WordSize)

	tp.sendSlots(t, 4)
	if tp.Playing() {
		t.Fatal("playing before prefill")
	}
	if n, err := tp.ConsumePlayback(dst); n != 0 || err != nil {
		t.Fatalf("ConsumePlayback() before prefill = (%d, %v)", n, err)
	}
	if tp.Ring(Playback).Occupancy() != 4 {
		t.Errorf("slot consumed before prefill")
	}

	tp.sendSlots(t, 1)
	if !tp.Playing() {
		t.Fatal("not playing after N/2+1 slots")
	}
	n, err := tp.ConsumePlayback(dst)
	if err != nil || n != len(dst) {
		t.Fatalf("ConsumePlayback() = (%d, %v), want (%d, nil)", n, err, len(dst))
	}
	if !bytes.Equal(dst, pattern(len(dst), 0)) {
		t.Error("ConsumePlayback() did not return the oldest slot")
	}
}

func TestPipeline_PlaybackUnderrunAndOverrun(t *testing.T) {
	tp := newTestPipeline(t, 4)
	if err := tp.Enable(context.Background(), Playback); err != nil {
		t.Fatal(err)
	}

	tp.sendSlots(t, 6)
	if got := tp.observer.overrun(Playback); got != 2 {
		t.Errorf("overruns = %d, want 2", got)
	}
	if tp.Ring(Playback).Occupancy() != 4 {
		t.Errorf("Occupancy() = %d, want 4", tp.Ring(Playback).Occupancy())
	}

	dst := make([]byte, 16)
	for range 5 {
		if _, err := tp.ConsumePlayback(dst); err != nil {
			t.Fatal(err)
		}
	}
	if got := tp.observer.underrun(Playback); got != 1 {
		t.Errorf("underruns = %d, want 1", got)
	}
	if !bytes.Equal(dst, make([]byte, 16)) {
		t.Error("underrun did not produce silence")
	}
}

func TestPipeline_PacketsWhileStoppedAreFlushed(t *testing.T) {
	tp := newTestPipeline(t, 8)
	tp.source.push(pattern(24, 0))
	if err := tp.HandlePacketReceived(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tp.source.flushes != 1 || tp.source.PendingLength() != 0 {
		t.Errorf("stopped playback did not flush the endpoint")
	}
	if tp.Ring(Playback).Occupancy() != 0 {
		t.Error("stopped playback stored data")
	}
}

func TestPipeline_DisableResetsPlayback(t *testing.T) {
	tp := newTestPipeline(t, 8)
	ctx := context.Background()
	if err := tp.Enable(ctx, Playback); err != nil {
		t.Fatal(err)
	}
	tp.sendSlots(t, 8)
	// Occupancy 8 classifies as up.
	if state, err := tp.GovernorTick(ctx); err != nil || state != RateUp {
		t.Fatalf("GovernorTick() = (%s, %v), want (up, nil)", state, err)
	}
	tp.source.push(pattern(24, 0))
	if err := tp.HandlePacketReceived(ctx); err != nil {
		t.Fatal(err)
	}

	if err := tp.Disable(ctx, Playback); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}

	r := tp.Ring(Playback)
	if r.Occupancy() != 0 {
		t.Errorf("Occupancy() = %d, want 0", r.Occupancy())
	}
	if write, read := r.Cursors(); write != 0 || read != 0 {
		t.Errorf("Cursors() = (%d, %d), want (0, 0)", write, read)
	}
	for i := range r.Size() {
		if length, full := r.Slot(i); length != 0 || full {
			t.Errorf("Slot(%d) = (%d, %v), want (0, false)", i, length, full)
		}
	}
	if slot, words := tp.drain.Position(); slot != 0 || words != 0 {
		t.Errorf("drain Position() = (%d, %d), want (0, 0)", slot, words)
	}
	if tp.Playing() || tp.Streaming(Playback) || tp.Session(Playback) != "" {
		t.Error("playback still active after Disable()")
	}
	if tp.Governor().State() != RateNone {
		t.Errorf("governor State() = %s, want none", tp.Governor().State())
	}
	if tp.Reporter().Value() != tp.Config().Feedback {
		t.Errorf("feedback = %#x, want nominal", tp.Reporter().Value())
	}
	want := []trimCall{{RateUp, Family48k}, {RateNone, Family48k}}
	if diff := cmp.Diff(want, tp.codec.trimCalls(), cmp.AllowUnexported(trimCall{})); diff != "" {
		t.Errorf("trims mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]RateState{RateUp, RateNone}, tp.observer.states); diff != "" {
		t.Errorf("observed states mismatch (-want +got):\n%s", diff)
	}
	if tp.source.flushes == 0 {
		t.Error("Disable() did not flush the endpoint")
	}

	if err := tp.Disable(ctx, Playback); err != nil {
		t.Errorf("Disable() on stopped direction error = %v", err)
	}
}

func TestPipeline_GovernorOnlyWhilePlaying(t *testing.T) {
	tp := newTestPipeline(t, 8)
	ctx := context.Background()

	if _, err := tp.GovernorTick(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tp.Enable(ctx, Playback); err != nil {
		t.Fatal(err)
	}
	tp.sendSlots(t, 2)
	if _, err := tp.GovernorTick(ctx); err != nil {
		t.Fatal(err)
	}
	if calls := tp.codec.trimCalls(); len(calls) != 0 {
		t.Fatalf("governor trimmed before playing: %v", calls)
	}

	tp.sendSlots(t, 3) // occupancy 5, prefill reached, inside the band
	if state, err := tp.GovernorTick(ctx); err != nil || state != RateNone {
		t.Fatalf("GovernorTick() = (%s, %v), want (none, nil)", state, err)
	}

	dst := make([]byte, 16)
	for range 3 {
		if _, err := tp.ConsumePlayback(dst); err != nil {
			t.Fatal(err)
		}
	}
	state, err := tp.GovernorTick(ctx)
	if err != nil || state != RateDown {
		t.Fatalf("GovernorTick() = (%s, %v), want (down, nil)", state, err)
	}
	cfg := tp.Config()
	if got := tp.Reporter().Value(); got != cfg.Feedback-cfg.FeedbackStep() {
		t.Errorf("feedback = %#x, want %#x", got, cfg.Feedback-cfg.FeedbackStep())
	}
	if diff := cmp.Diff([]RateState{RateDown}, tp.observer.states); diff != "" {
		t.Errorf("observed states mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_Record(t *testing.T) {
	tp := newTestPipeline(t, 8)
	ctx := context.Background()

	// Stopped: captures are dropped and IN answers zero-length.
	if err := tp.CaptureRecord(pattern(24, 0)); err != nil {
		t.Fatal(err)
	}
	if err := tp.HandleRecordReady(ctx); err != nil {
		t.Fatal(err)
	}
	if tp.record.zeroLength() != 1 || tp.Ring(Record).Occupancy() != 0 {
		t.Fatal("stopped record path changed state")
	}

	if err := tp.Enable(ctx, Record); err != nil {
		t.Fatal(err)
	}
	cfg := tp.Config()
	if err := tp.HandleRecordReady(ctx); err != nil {
		t.Fatal(err)
	}
	if tp.observer.underrun(Record) != 1 || tp.record.zeroLength() != 2 {
		t.Error("record underrun not reported as zero-length packet")
	}

	slot := pattern(cfg.RecordSlotLength*WordSize, 3)
	if err := tp.CaptureRecord(slot); err != nil {
		t.Fatal(err)
	}
	if err := tp.HandleRecordReady(ctx); err != nil {
		t.Fatal(err)
	}
	sent := tp.record.sent()
	if got := sent[len(sent)-1]; !bytes.Equal(got, slot[:cfg.PacketBytes()]) {
		t.Errorf("first record packet = %v, want %v", got, slot[:cfg.PacketBytes()])
	}

	if err := tp.Disable(ctx, Record); err != nil {
		t.Fatal(err)
	}
	if tp.Ring(Record).Occupancy() != 0 || tp.sender.Position() != 0 {
		t.Error("record state survived Disable()")
	}
	if tp.record.zeroLength() != 3 {
		t.Errorf("Disable() did not arm a zero-length packet")
	}
}

func TestPipeline_Feedback(t *testing.T) {
	tp := newTestPipeline(t, 8)
	if err := tp.HandleFeedbackReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := [][]byte{{0x00, 0x00, 0x06, 0x00}}
	if diff := cmp.Diff(want, tp.feedback.sent()); diff != "" {
		t.Errorf("feedback packets mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_RunStopsOnCancel(t *testing.T) {
	tp := newTestPipeline(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tp.Run(ctx, time.Millisecond) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

// The codec side and the transport side run on separate goroutines and
// both rings overflow. Run with -race to check the slot copies.
func TestPipeline_ConcurrentOverrun(t *testing.T) {
	const steps = 500
	tp := newTestPipeline(t, MinSlots)
	ctx := context.Background()
	for _, d := range []Direction{Playback, Record} {
		if err := tp.Enable(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	cfg := tp.Config()
	tp.sendSlots(t, MinSlots)
	capture := pattern(cfg.RecordSlotLength*WordSize, 1)
	for range MinSlots {
		if err := tp.CaptureRecord(capture); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		play := make([]byte, cfg.PlaybackSlotLength*WordSize)
		for range steps {
			if _, err := tp.ConsumePlayback(play); err != nil {
				t.Errorf("ConsumePlayback() error = %v", err)
				return
			}
			if err := tp.CaptureRecord(capture); err != nil {
				t.Errorf("CaptureRecord() error = %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		packet := pattern(cfg.PacketBytes(), 7)
		for range steps {
			tp.source.push(packet)
			if err := tp.HandlePacketReceived(ctx); err != nil {
				t.Errorf("HandlePacketReceived() error = %v", err)
				return
			}
			if err := tp.HandleRecordReady(ctx); err != nil {
				t.Errorf("HandleRecordReady() error = %v", err)
				return
			}
		}
	}()
	wg.Wait()

	if tp.observer.overrun(Record) == 0 {
		t.Error("record ring never overflowed")
	}
	for _, d := range []Direction{Playback, Record} {
		if n := tp.Ring(d).Occupancy(); n < 0 || n > MinSlots {
			t.Errorf("%s occupancy %d outside [0, %d]", d, n, MinSlots)
		}
	}
}

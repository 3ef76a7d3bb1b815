package uac

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softuac/device"
	"github.com/ardnew/softuac/device/hal"
	"github.com/ardnew/softuac/pkg"
	"github.com/ardnew/softuac/stream"
)

// Mixer applies feature unit controls to the codec.
type Mixer interface {
	SetPlaybackMute(ctx context.Context, mute bool) error
	SetPlaybackVolume(ctx context.Context, volume int16) error
	SetRecordMute(ctx context.Context, mute bool) error
	SetRecordVolume(ctx context.Context, volume int16) error
}

// Config configures an [Audio] driver.
type Config struct {
	Slots    int             // Ring slots per direction (stream.DefaultSlots if zero)
	Rate     uint32          // Initial sample rate (stream.DefaultRate if zero)
	Codec    stream.Codec    // Required
	Mixer    Mixer           // Feature unit sink; the codec is used if it implements Mixer
	Observer stream.Observer // Pipeline events (optional)
}

// featureUnit holds the controls of one feature unit.
type featureUnit struct {
	mute   bool
	volume int16 // 1/256 dB
}

// Audio implements a USB Audio Class 2.0 driver with one record and one
// playback streaming interface sharing a single clock.
type Audio struct {
	ctrl     hal.Controller
	pipeline *stream.Pipeline
	mixer    Mixer
	record   *InPort

	// State
	mutex       sync.RWMutex
	clockSelect uint8
	playUnit    featureUnit
	recUnit     featureUnit
	txPending   atomic.Bool // Record stream armed; waiting for the first IN token

	// Callbacks
	onSampleRate func(rate uint32)
	onStreaming  func(dir stream.Direction, streaming bool)
	onMute       func(dir stream.Direction, mute bool)
	onVolume     func(dir stream.Direction, volume int16)

	// Buffers
	response [maxResponseSize]byte
}

var _ device.ClassDriver = (*Audio)(nil)

// New creates an audio driver on ctrl and the streaming pipeline behind it.
func New(ctrl hal.Controller, cfg Config) (*Audio, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("audio controller: %w", pkg.ErrInvalidParameter)
	}
	mixer := cfg.Mixer
	if mixer == nil {
		mixer, _ = cfg.Codec.(Mixer)
	}

	a := &Audio{
		ctrl:        ctrl,
		mixer:       mixer,
		record:      NewInPort(ctrl, EndpointRecord),
		clockSelect: ClockSourceInternal,
	}
	p, err := stream.NewPipeline(stream.Options{
		Slots:          cfg.Slots,
		Rate:           cfg.Rate,
		Codec:          cfg.Codec,
		Observer:       cfg.Observer,
		PlaybackSource: NewOutPort(ctrl, EndpointPlayback),
		RecordSink:     a.record,
		FeedbackSink:   NewInPort(ctrl, EndpointFeedback),
	})
	if err != nil {
		return nil, err
	}
	a.pipeline = p
	return a, nil
}

// Pipeline returns the streaming pipeline. The codec side calls
// [stream.Pipeline.ConsumePlayback] and [stream.Pipeline.CaptureRecord] on it
// and the governor runs from [stream.Pipeline.Run].
func (a *Audio) Pipeline() *stream.Pipeline {
	return a.pipeline
}

// SetOnSampleRate sets the callback for host sample rate changes.
func (a *Audio) SetOnSampleRate(cb func(rate uint32)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onSampleRate = cb
}

// SetOnStreaming sets the callback for streaming interface changes.
func (a *Audio) SetOnStreaming(cb func(dir stream.Direction, streaming bool)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onStreaming = cb
}

// SetOnMute sets the callback for mute changes.
func (a *Audio) SetOnMute(cb func(dir stream.Direction, mute bool)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onMute = cb
}

// SetOnVolume sets the callback for volume changes.
func (a *Audio) SetOnVolume(cb func(dir stream.Direction, volume int16)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onVolume = cb
}

// SampleRate returns the selected sample rate.
func (a *Audio) SampleRate() uint32 {
	return a.pipeline.SampleRate()
}

// ClockSelector returns the clock selector input chosen by the host.
func (a *Audio) ClockSelector() uint8 {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.clockSelect
}

// Mute returns the mute control of a direction.
func (a *Audio) Mute(dir stream.Direction) bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.unit(dir).mute
}

// Volume returns the volume control of a direction in 1/256 dB.
func (a *Audio) Volume(dir stream.Direction) int16 {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.unit(dir).volume
}

// TransmitPending reports whether the record stream was started and the
// host has not polled the record endpoint since.
func (a *Audio) TransmitPending() bool {
	return a.txPending.Load()
}

func (a *Audio) unit(dir stream.Direction) *featureUnit {
	if dir == stream.Record {
		return &a.recUnit
	}
	return &a.playUnit
}

// Interfaces returns the interfaces of the audio function.
func (a *Audio) Interfaces() []uint8 {
	return []uint8{InterfaceControl, InterfaceRecord, InterfacePlayback}
}

// Endpoints returns the streaming and feedback endpoints.
func (a *Audio) Endpoints() []hal.EndpointConfig {
	return []hal.EndpointConfig{
		{
			Address:       EndpointPlayback,
			Attributes:    hal.TransferTypeIsochronous | hal.SyncAsync | hal.UsageData,
			MaxPacketSize: MaxPacketSize,
			Interval:      1,
		},
		{
			Address:       EndpointRecord,
			Attributes:    hal.TransferTypeIsochronous | hal.SyncAsync | hal.UsageData,
			MaxPacketSize: MaxPacketSize,
			Interval:      1,
		},
		{
			Address:       EndpointFeedback,
			Attributes:    hal.TransferTypeIsochronous | hal.UsageFeedback,
			MaxPacketSize: FeedbackPacketSize,
			Interval:      4,
		},
	}
}

// HandleSetup processes CUR and RANGE requests addressed to the audio
// control interface. The entity ID is in the high byte of wIndex and the
// control selector in the high byte of wValue. Anything else is rejected,
// which stalls the control pipe.
func (a *Audio) HandleSetup(ctx context.Context, setup *device.SetupPacket, data []byte) ([]byte, error) {
	if !setup.IsInterfaceRecipient() || setup.InterfaceNumber() != InterfaceControl {
		return nil, fmt.Errorf("audio request to %s: %w", setup.String(), pkg.ErrInvalidRequest)
	}

	entity := uint8(setup.Index >> 8)
	selector := uint8(setup.Value >> 8)

	switch {
	case setup.Request == RequestCur && setup.IsDeviceToHost():
		return a.getCur(entity, selector)
	case setup.Request == RequestCur:
		return nil, a.setCur(ctx, entity, selector, data)
	case setup.Request == RequestRange && setup.IsDeviceToHost():
		return a.getRange(entity, selector)
	default:
		return nil, fmt.Errorf("audio request %#02x: %w", setup.Request, pkg.ErrInvalidRequest)
	}
}

func unknownControl(entity, selector uint8) error {
	return fmt.Errorf("entity %#02x selector %#02x: %w", entity, selector, pkg.ErrInvalidRequest)
}

// featureDirection maps a feature unit ID to its direction.
func featureDirection(entity uint8) (stream.Direction, bool) {
	switch entity {
	case EntityPlaybackFeature:
		return stream.Playback, true
	case EntityRecordFeature:
		return stream.Record, true
	default:
		return 0, false
	}
}

func (a *Audio) getCur(entity, selector uint8) ([]byte, error) {
	switch entity {
	case EntityClockSource:
		switch selector {
		case SelectorSamplingFreq:
			binary.LittleEndian.PutUint32(a.response[:4], a.pipeline.SampleRate())
			return a.response[:4], nil
		case SelectorClockValid:
			a.response[0] = 0
			if a.ClockSelector() == ClockSourceInternal {
				a.response[0] = 1
			}
			return a.response[:1], nil
		}

	case EntityClockSelector:
		if selector == SelectorClockSelector {
			a.response[0] = a.ClockSelector()
			return a.response[:1], nil
		}

	default:
		dir, ok := featureDirection(entity)
		if !ok {
			break
		}
		switch selector {
		case SelectorMute:
			a.response[0] = 0
			if a.Mute(dir) {
				a.response[0] = 1
			}
			return a.response[:1], nil
		case SelectorVolume:
			binary.LittleEndian.PutUint16(a.response[:2], uint16(a.Volume(dir)))
			return a.response[:2], nil
		}
	}
	return nil, unknownControl(entity, selector)
}

func (a *Audio) setCur(ctx context.Context, entity, selector uint8, data []byte) error {
	switch entity {
	case EntityClockSource:
		if selector != SelectorSamplingFreq {
			break
		}
		if len(data) < 4 {
			return fmt.Errorf("sampling frequency %d bytes: %w", len(data), pkg.ErrBufferTooSmall)
		}
		return a.setSampleRate(binary.LittleEndian.Uint32(data))

	case EntityClockSelector:
		if selector != SelectorClockSelector {
			break
		}
		if len(data) < 1 {
			return fmt.Errorf("clock selector: %w", pkg.ErrBufferTooSmall)
		}
		a.mutex.Lock()
		a.clockSelect = data[0]
		a.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentClass, "clock selector set", "input", data[0])
		return nil

	default:
		dir, ok := featureDirection(entity)
		if !ok {
			break
		}
		switch selector {
		case SelectorMute:
			if len(data) < 1 {
				return fmt.Errorf("mute: %w", pkg.ErrBufferTooSmall)
			}
			return a.setMute(ctx, dir, data[0] != 0)
		case SelectorVolume:
			if len(data) < 2 {
				return fmt.Errorf("volume %d bytes: %w", len(data), pkg.ErrBufferTooSmall)
			}
			return a.setVolume(ctx, dir, int16(binary.LittleEndian.Uint16(data)))
		}
	}
	return unknownControl(entity, selector)
}

func (a *Audio) getRange(entity, selector uint8) ([]byte, error) {
	switch {
	case entity == EntityClockSource && selector == SelectorSamplingFreq:
		rates := stream.SupportedRates()
		binary.LittleEndian.PutUint16(a.response[:2], uint16(len(rates)))
		b := a.response[2:]
		for _, rate := range rates {
			binary.LittleEndian.PutUint32(b[0:4], rate) // min
			binary.LittleEndian.PutUint32(b[4:8], rate) // max
			binary.LittleEndian.PutUint32(b[8:12], 0)   // res
			b = b[rangeTripletSize:]
		}
		return a.response[:2+len(rates)*rangeTripletSize], nil

	case selector == SelectorVolume:
		if _, ok := featureDirection(entity); !ok {
			break
		}
		lo, hi, res := VolumeMin, VolumeMax, VolumeResolution
		binary.LittleEndian.PutUint16(a.response[0:2], 1)
		binary.LittleEndian.PutUint16(a.response[2:4], uint16(lo))
		binary.LittleEndian.PutUint16(a.response[4:6], uint16(hi))
		binary.LittleEndian.PutUint16(a.response[6:8], uint16(res))
		return a.response[:8], nil
	}
	return nil, unknownControl(entity, selector)
}

func (a *Audio) setSampleRate(rate uint32) error {
	previous := a.pipeline.SampleRate()
	if err := a.pipeline.SetSampleRate(rate); err != nil {
		return err
	}
	if rate == previous {
		return nil
	}

	a.mutex.RLock()
	cb := a.onSampleRate
	a.mutex.RUnlock()
	if cb != nil {
		cb(rate)
	}
	return nil
}

func (a *Audio) setMute(ctx context.Context, dir stream.Direction, mute bool) error {
	if a.mixer != nil {
		var err error
		if dir == stream.Record {
			err = a.mixer.SetRecordMute(ctx, mute)
		} else {
			err = a.mixer.SetPlaybackMute(ctx, mute)
		}
		if err != nil {
			return fmt.Errorf("%s mute: %w", dir, err)
		}
	}

	a.mutex.Lock()
	a.unit(dir).mute = mute
	cb := a.onMute
	a.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentClass, "mute set", "direction", dir.String(), "mute", mute)
	if cb != nil {
		cb(dir, mute)
	}
	return nil
}

func (a *Audio) setVolume(ctx context.Context, dir stream.Direction, volume int16) error {
	volume = min(max(volume, VolumeMin), VolumeMax)
	if a.mixer != nil {
		var err error
		if dir == stream.Record {
			err = a.mixer.SetRecordVolume(ctx, volume)
		} else {
			err = a.mixer.SetPlaybackVolume(ctx, volume)
		}
		if err != nil {
			return fmt.Errorf("%s volume: %w", dir, err)
		}
	}

	a.mutex.Lock()
	a.unit(dir).volume = volume
	cb := a.onVolume
	a.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentClass, "volume set", "direction", dir.String(), "volume", volume)
	if cb != nil {
		cb(dir, volume)
	}
	return nil
}

// SetAlternate starts or stops a streaming direction. The control
// interface only has alternate setting 0.
func (a *Audio) SetAlternate(ctx context.Context, iface, alt uint8) error {
	if iface == InterfaceControl {
		if alt != AlternateIdle {
			return fmt.Errorf("control interface alternate %d: %w", alt, pkg.ErrInvalidRequest)
		}
		return nil
	}

	var dir stream.Direction
	switch iface {
	case InterfaceRecord:
		dir = stream.Record
	case InterfacePlayback:
		dir = stream.Playback
	default:
		return fmt.Errorf("interface %d: %w", iface, pkg.ErrInvalidRequest)
	}

	var err error
	switch alt {
	case AlternateIdle:
		err = a.stop(ctx, dir)
	case AlternateStreaming:
		err = a.start(ctx, dir)
	default:
		return fmt.Errorf("interface %d alternate %d: %w", iface, alt, pkg.ErrInvalidRequest)
	}
	if err != nil {
		return err
	}

	a.mutex.RLock()
	cb := a.onStreaming
	a.mutex.RUnlock()
	if cb != nil {
		cb(dir, alt == AlternateStreaming)
	}
	return nil
}

func (a *Audio) start(ctx context.Context, dir stream.Direction) error {
	if err := a.pipeline.Enable(ctx, dir); err != nil {
		return err
	}
	switch dir {
	case stream.Record:
		// The first IN token finds a zero-length packet; slots follow.
		if err := a.record.WriteZeroLength(); err != nil && !errors.Is(err, pkg.ErrBusy) {
			return fmt.Errorf("arm record endpoint: %w", err)
		}
		a.txPending.Store(true)
	case stream.Playback:
		if err := a.pipeline.HandleFeedbackReady(ctx); err != nil && !errors.Is(err, pkg.ErrBusy) {
			return fmt.Errorf("arm feedback endpoint: %w", err)
		}
	}
	return nil
}

func (a *Audio) stop(ctx context.Context, dir stream.Direction) error {
	if dir == stream.Record {
		a.txPending.Store(false)
	}
	return a.pipeline.Disable(ctx, dir)
}

// HandleEndpoint routes endpoint events to the pipeline.
func (a *Audio) HandleEndpoint(ctx context.Context, event hal.EventType, address uint8) error {
	switch {
	case event == hal.EventPacketReceived && address == EndpointPlayback:
		return a.pipeline.HandlePacketReceived(ctx)
	case event == hal.EventTransmitReady && address == EndpointRecord:
		a.txPending.Store(false)
		return a.pipeline.HandleRecordReady(ctx)
	case event == hal.EventTransmitReady && address == EndpointFeedback:
		return a.pipeline.HandleFeedbackReady(ctx)
	default:
		return fmt.Errorf("%s on endpoint %#02x: %w", event, address, pkg.ErrInvalidEndpoint)
	}
}

// Reset stops both directions.
func (a *Audio) Reset(ctx context.Context) error {
	a.txPending.Store(false)
	return errors.Join(
		a.pipeline.Disable(ctx, stream.Playback),
		a.pipeline.Disable(ctx, stream.Record),
	)
}

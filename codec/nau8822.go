package codec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softuac/pkg"
	"github.com/ardnew/softuac/stream"
)

// NAU8822 registers used by the driver.
const (
	RegReset         = 0
	RegPowerManage1  = 1
	RegPowerManage2  = 2
	RegPowerManage3  = 3
	RegAudioIface    = 4
	RegCompanding    = 5
	RegClockControl1 = 6
	RegClockControl2 = 7
	RegDACControl    = 10
	RegLeftDACVol    = 11
	RegRightDACVol   = 12
	RegADCControl    = 14
	RegLeftADCVol    = 15
	RegRightADCVol   = 16
	RegPLLN          = 36
	RegPLLK1         = 37
	RegPLLK2         = 38
	RegPLLK3         = 39
	RegInputControl  = 44
	RegLeftADCBoost  = 47
	RegRightADCBoost = 48
	RegLeftMixer     = 50
	RegRightMixer    = 51
	RegMiscControl   = 72
)

// Register field values.
const (
	dacControlBase = 0x008 // 128x oversampling
	dacSoftMute    = 0x040
	volumeUpdate   = 0x100 // Latch both channels on the right-channel write
	volumeMax      = 0xFF  // 0 dB
)

// DefaultResetDelay is the settle time after a software reset.
const DefaultResetDelay = time.Millisecond

// setupSequence powers up the DAC, ADC, PLL and mixers for I2S slave
// operation with 16-bit samples.
var setupSequence = []RegisterValue{
	{RegPowerManage1, 0x02F},
	{RegPowerManage2, 0x1B3},
	{RegPowerManage3, 0x07F},
	{RegAudioIface, 0x010},
	{RegCompanding, 0x000},
	{RegDACControl, dacControlBase},
	{RegADCControl, 0x108},
	{RegLeftADCVol, volumeUpdate | volumeMax},
	{RegRightADCVol, volumeUpdate | volumeMax},
	{RegInputControl, 0x000},
	{RegLeftADCBoost, 0x060},
	{RegRightADCBoost, 0x060},
	{RegLeftMixer, 0x001},
	{RegRightMixer, 0x001},
}

// pllFamily holds the PLL N and K registers selecting the master clock of
// each rate family.
var pllFamily = map[stream.Family][]RegisterValue{
	stream.Family48k: {
		{RegPLLN, 0x008},
		{RegPLLK1, 0x00C},
		{RegPLLK2, 0x093},
		{RegPLLK3, 0x0E9},
	},
	stream.Family44k: {
		{RegPLLN, 0x007},
		{RegPLLK1, 0x021},
		{RegPLLK2, 0x161},
		{RegPLLK3, 0x026},
	},
}

// rateClocks holds the clock divider registers of each sample rate.
var rateClocks = map[uint32][]RegisterValue{
	44100:  {{RegClockControl1, 0x14D}, {RegClockControl2, 0x000}},
	48000:  {{RegClockControl1, 0x14D}, {RegClockControl2, 0x000}},
	96000:  {{RegClockControl1, 0x109}, {RegMiscControl, 0x013}},
	192000: {{RegClockControl1, 0x109}, {RegMiscControl, 0x017}},
}

// pllTrim holds the fractional PLL K1..K3 coefficients of each trim state,
// nominal and ±0.5%.
var pllTrim = map[stream.Family]map[stream.RateState][3]uint16{
	stream.Family48k: {
		stream.RateNone: {0x00C, 0x093, 0x0E9},
		stream.RateUp:   {0x00E, 0x1D2, 0x1E3},
		stream.RateDown: {0x009, 0x153, 0x1EF},
	},
	stream.Family44k: {
		stream.RateNone: {0x021, 0x131, 0x026},
		stream.RateUp:   {0x024, 0x010, 0x0C5},
		stream.RateDown: {0x01F, 0x076, 0x191},
	},
}

// NAU8822 is a Nuvoton NAU8822 stereo codec. It implements [stream.Codec].
type NAU8822 struct {
	mutex sync.Mutex
	w     RegisterWriter

	// ResetDelay is the wait after the software reset in Setup.
	ResetDelay time.Duration

	rate       uint32 // Rate the clocks are programmed for; 0 if none
	playMute   bool
	playVolume int16
	recMute    bool
	recVolume  int16
}

var _ stream.Codec = (*NAU8822)(nil)

// NewNAU8822 creates a driver writing through w.
func NewNAU8822(w RegisterWriter) *NAU8822 {
	return &NAU8822{w: w, ResetDelay: DefaultResetDelay}
}

// Setup resets the codec and applies the power-up register sequence.
func (c *NAU8822) Setup(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.w.WriteRegister(ctx, RegReset, 0x000); err != nil {
		return fmt.Errorf("codec reset: %w", err)
	}
	if c.ResetDelay > 0 {
		timer := time.NewTimer(c.ResetDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := WriteSequence(ctx, c.w, setupSequence); err != nil {
		return fmt.Errorf("codec setup: %w", err)
	}

	c.rate = 0
	c.playMute, c.playVolume = false, 0
	c.recMute, c.recVolume = false, 0
	pkg.LogInfo(pkg.ComponentCodec, "codec initialized")
	return nil
}

// SampleRate returns the rate the clocks are programmed for, or 0.
func (c *NAU8822) SampleRate() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.rate
}

// ConfigureSampleRate programs the PLL and clock dividers for cfg. It does
// nothing if the codec is already running at cfg.Rate.
func (c *NAU8822) ConfigureSampleRate(ctx context.Context, cfg stream.SampleRateConfig) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if cfg.Rate == c.rate {
		return nil
	}
	clocks, ok := rateClocks[cfg.Rate]
	if !ok {
		return fmt.Errorf("codec clocks %d Hz: %w", cfg.Rate, pkg.ErrUnsupportedRate)
	}
	pll, ok := pllFamily[cfg.Family]
	if !ok {
		return fmt.Errorf("codec pll family %s: %w", cfg.Family, pkg.ErrUnsupportedRate)
	}

	if err := WriteSequence(ctx, c.w, pll); err != nil {
		return fmt.Errorf("codec pll: %w", err)
	}
	if err := WriteSequence(ctx, c.w, clocks); err != nil {
		return fmt.Errorf("codec clocks: %w", err)
	}

	c.rate = cfg.Rate
	pkg.LogInfo(pkg.ComponentCodec, "codec clocks configured",
		"rate", cfg.Rate,
		"family", cfg.Family.String())
	return nil
}

// Trim writes the fractional PLL coefficients of state for family.
func (c *NAU8822) Trim(ctx context.Context, state stream.RateState, family stream.Family) error {
	coeffs, ok := pllTrim[family][state]
	if !ok {
		return fmt.Errorf("trim %s/%s: %w", family, state, pkg.ErrInvalidParameter)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return WriteSequence(ctx, c.w, []RegisterValue{
		{RegPLLK1, coeffs[0]},
		{RegPLLK2, coeffs[1]},
		{RegPLLK3, coeffs[2]},
	})
}

// VolumeRegister converts a volume in 1/256 dB units to the codec's 0.5 dB
// volume field. 0 dB maps to 0xFF; the field floor of 0x01 is -127 dB.
func VolumeRegister(volume int16) uint16 {
	steps := int(volume) / 128
	return uint16(min(max(volumeMax+steps, 1), volumeMax))
}

// SetPlaybackMute sets the DAC soft mute.
func (c *NAU8822) SetPlaybackMute(ctx context.Context, mute bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	value := uint16(dacControlBase)
	if mute {
		value |= dacSoftMute
	}
	if err := c.w.WriteRegister(ctx, RegDACControl, value); err != nil {
		return fmt.Errorf("playback mute: %w", err)
	}
	c.playMute = mute
	return nil
}

// SetPlaybackVolume sets both DAC channel volumes.
func (c *NAU8822) SetPlaybackVolume(ctx context.Context, volume int16) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.writeVolume(ctx, RegLeftDACVol, RegRightDACVol, VolumeRegister(volume)); err != nil {
		return fmt.Errorf("playback volume: %w", err)
	}
	c.playVolume = volume
	return nil
}

// SetRecordMute mutes the ADC by zeroing its volume. Unmuting restores the
// last record volume.
func (c *NAU8822) SetRecordMute(ctx context.Context, mute bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	value := VolumeRegister(c.recVolume)
	if mute {
		value = 0
	}
	if err := c.writeVolume(ctx, RegLeftADCVol, RegRightADCVol, value); err != nil {
		return fmt.Errorf("record mute: %w", err)
	}
	c.recMute = mute
	return nil
}

// SetRecordVolume sets both ADC channel volumes. While muted the volume is
// stored and applied on unmute.
func (c *NAU8822) SetRecordVolume(ctx context.Context, volume int16) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.recMute {
		if err := c.writeVolume(ctx, RegLeftADCVol, RegRightADCVol, VolumeRegister(volume)); err != nil {
			return fmt.Errorf("record volume: %w", err)
		}
	}
	c.recVolume = volume
	return nil
}

func (c *NAU8822) writeVolume(ctx context.Context, left, right uint8, value uint16) error {
	return WriteSequence(ctx, c.w, []RegisterValue{
		{left, value},
		{right, volumeUpdate | value},
	})
}

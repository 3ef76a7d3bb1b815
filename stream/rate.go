package stream

import (
	"fmt"

	"github.com/ardnew/softuac/pkg"
)

// WordSize is the number of bytes in one ring word: one stereo frame of
// two 16-bit samples.
const WordSize = 4

// Family identifies the base clock a sample rate is derived from.
type Family uint8

// Rate families.
const (
	Family48k Family = iota // Multiples of 8 kHz (12.288 MHz master clock)
	Family44k               // Multiples of 11.025 kHz (11.2896 MHz master clock)
)

// String returns a human-readable family name.
func (f Family) String() string {
	switch f {
	case Family48k:
		return "48k"
	case Family44k:
		return "44.1k"
	default:
		return "unknown"
	}
}

// FamilyOf returns the rate family of a sample rate.
func FamilyOf(rate uint32) Family {
	if rate%8000 == 0 {
		return Family48k
	}
	return Family44k
}

// SampleRateConfig holds the per-session parameters selected by a sample
// rate. Lengths are in ring words.
type SampleRateConfig struct {
	Rate               uint32 // Samples per second
	Family             Family // Codec master clock family
	PlaybackSlotLength int    // Words per playback slot
	RecordSlotLength   int    // Words per record slot
	PacketWords        int    // Words per record IN packet
	MaxPayload         uint16 // Record IN endpoint max payload (bytes)
	Feedback           uint32 // Nominal samples per microframe, 16.16 fixed point
}

// PacketBytes returns the record packet size in bytes.
func (c SampleRateConfig) PacketBytes() int {
	return c.PacketWords * WordSize
}

// FeedbackStep returns the feedback adjustment applied per governor trim.
// It matches the ±0.5% trim of the codec PLL coefficient table.
func (c SampleRateConfig) FeedbackStep() uint32 {
	return c.Feedback / 200
}

var rateTable = [...]SampleRateConfig{
	{
		Rate:               44100,
		Family:             Family44k,
		PlaybackSlotLength: 441,
		RecordSlotLength:   444,
		PacketWords:        6,
		MaxPayload:         24,
		Feedback:           0x00058333,
	},
	{
		Rate:               48000,
		Family:             Family48k,
		PlaybackSlotLength: 768,
		RecordSlotLength:   768,
		PacketWords:        6,
		MaxPayload:         24,
		Feedback:           0x00060000,
	},
	{
		Rate:               96000,
		Family:             Family48k,
		PlaybackSlotLength: 768,
		RecordSlotLength:   768,
		PacketWords:        12,
		MaxPayload:         48,
		Feedback:           0x000C0000,
	},
	{
		Rate:               192000,
		Family:             Family48k,
		PlaybackSlotLength: 768,
		RecordSlotLength:   768,
		PacketWords:        24,
		MaxPayload:         96,
		Feedback:           0x00180000,
	},
}

// DefaultRate is the sample rate selected before the host sets one.
const DefaultRate = 48000

// LookupRate returns the configuration for a supported sample rate.
func LookupRate(rate uint32) (SampleRateConfig, error) {
	for _, c := range rateTable {
		if c.Rate == rate {
			return c, nil
		}
	}
	return SampleRateConfig{}, fmt.Errorf("%d Hz: %w", rate, pkg.ErrUnsupportedRate)
}

// SupportedRates returns the supported sample rates in ascending order.
func SupportedRates() []uint32 {
	rates := make([]uint32, len(rateTable))
	for i, c := range rateTable {
		rates[i] = c.Rate
	}
	return rates
}

// MaxSlotLength returns the largest slot length of any supported rate, so a
// ring sized with it can serve every session without reallocating.
func MaxSlotLength() int {
	n := 0
	for _, c := range rateTable {
		n = max(n, c.PlaybackSlotLength, c.RecordSlotLength)
	}
	return n
}

// MaxPacketWords returns the largest record packet of any supported rate.
func MaxPacketWords() int {
	n := 0
	for _, c := range rateTable {
		n = max(n, c.PacketWords)
	}
	return n
}

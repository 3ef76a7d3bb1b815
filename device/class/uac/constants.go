package uac

import "github.com/ardnew/softuac/stream"

// Interface numbers.
const (
	InterfaceControl  = 0 // Audio control
	InterfaceRecord   = 1 // Record streaming (isochronous IN)
	InterfacePlayback = 2 // Playback streaming (isochronous OUT)
)

// Endpoint addresses.
const (
	EndpointPlayback = 0x02 // Isochronous OUT, asynchronous
	EndpointRecord   = 0x81 // Isochronous IN, asynchronous
	EndpointFeedback = 0x85 // Isochronous IN, explicit feedback
)

// Streaming alternate settings.
const (
	AlternateIdle      = 0 // Zero-bandwidth
	AlternateStreaming = 1
)

// Class request codes (UAC 2.0 Table A-14).
const (
	RequestCur   = 0x01
	RequestRange = 0x02
)

// Entity IDs of the audio function.
const (
	EntityRecordFeature   = 0x05 // Feature unit on the record path
	EntityPlaybackFeature = 0x06 // Feature unit on the playback path
	EntityClockSource     = 0x10 // Internal clock source
	EntityClockSelector   = 0x28 // Clock selector in front of the source
)

// Clock source control selectors (UAC 2.0 Table A-17).
const (
	SelectorSamplingFreq = 0x01
	SelectorClockValid   = 0x02
)

// Clock selector control selector (UAC 2.0 Table A-18).
const SelectorClockSelector = 0x01

// Feature unit control selectors (UAC 2.0 Table A-23).
const (
	SelectorMute   = 0x01
	SelectorVolume = 0x02
)

// Volume range in 1/256 dB steps.
const (
	VolumeMin        int16 = -0x7F00 // -127 dB
	VolumeMax        int16 = 0       // 0 dB
	VolumeResolution int16 = 0x0100  // 1 dB
)

// ClockSourceInternal is the only input of the clock selector.
const ClockSourceInternal = 1

// FeedbackPacketSize is the size of one 16.16 feedback value.
const FeedbackPacketSize = 4

// MaxPacketSize is the largest isochronous audio packet: the largest record
// packet plus one frame of headroom for a host running fast.
var MaxPacketSize = uint16((stream.MaxPacketWords() + 1) * stream.WordSize)

// rangeTripletSize is the size of one 4-byte min/max/res RANGE triplet.
const rangeTripletSize = 12

// maxResponseSize bounds a control response.
const maxResponseSize = 64

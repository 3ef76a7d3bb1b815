// Package stream implements the multi-buffer streaming core of a USB
// Audio Class device.
//
// A bursty, packet-oriented producer (isochronous USB) is decoupled from a
// continuous fixed-rate consumer (a codec clocked by its own PLL) through a
// [Ring] of fixed-length slots. A [Governor] samples the ring occupancy on a
// fixed tick and trims the codec clock up or down to keep the ring centered,
// while a [Reporter] tells the host the device's effective rate so that both
// ends converge.
//
// # Directions
//
// Playback (host to codec):
//
//	OUT packet → [Drain] → Ring → [Player] → codec output
//
// Record (codec to host):
//
//	codec input → [Fill] → Ring → [Sender] → IN packet
//
// Each direction is either stopped or streaming. [Pipeline.Enable] starts a
// session for the currently selected [SampleRateConfig]; [Pipeline.Disable]
// stops advancement and zeroes every cursor and counter of that direction
// before any handler may touch it again.
//
// # Execution contexts
//
// The pipeline expects three kinds of callers, each of which may run on its
// own goroutine: the transport event loop ([Pipeline.HandlePacketReceived],
// [Pipeline.HandleRecordReady], [Pipeline.HandleFeedbackReady]), the
// fixed-period timer ([Pipeline.Run] or [Pipeline.GovernorTick]) and the codec
// side ([Pipeline.ConsumePlayback], [Pipeline.CaptureRecord]). None of them
// blocks beyond a bounded poll for DMA completion.
//
// # Error handling
//
// Overruns and underruns are never fatal. A commit into a full ring
// overwrites the oldest slot and reports [pkg.ErrRingFull]; a consumer that
// finds no data emits silence or a zero-length packet and reports
// [pkg.ErrUnderrun]. The pipeline converts both into [Observer] callbacks.
package stream

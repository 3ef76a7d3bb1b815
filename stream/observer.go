package stream

// Direction identifies a streaming direction.
type Direction uint8

// Streaming directions.
const (
	Playback Direction = iota // Host to codec (isochronous OUT)
	Record                    // Codec to host (isochronous IN)
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Playback:
		return "playback"
	case Record:
		return "record"
	default:
		return "unknown"
	}
}

// Observer receives pipeline events. Implementations must be safe for
// concurrent use and must not block; calls arrive from every execution
// context of the pipeline.
type Observer interface {
	StreamingChanged(dir Direction, streaming bool)
	OccupancyChanged(dir Direction, count int)
	Overrun(dir Direction)
	Underrun(dir Direction)
	RateStateChanged(state RateState)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) StreamingChanged(Direction, bool) {}
func (NopObserver) OccupancyChanged(Direction, int)  {}
func (NopObserver) Overrun(Direction)                {}
func (NopObserver) Underrun(Direction)               {}
func (NopObserver) RateStateChanged(RateState)       {}

var _ Observer = NopObserver{}

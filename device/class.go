package device

import (
	"context"

	"github.com/ardnew/softuac/device/hal"
)

// ClassDriver implements a device class on top of the [Stack].
//
// All methods are called from the stack's event goroutine.
type ClassDriver interface {
	// Interfaces returns the interface numbers the driver owns.
	Interfaces() []uint8

	// Endpoints returns the data endpoints the driver owns.
	Endpoints() []hal.EndpointConfig

	// HandleSetup processes a class request addressed to one of the
	// driver's interfaces or endpoints. data holds the OUT data stage. The
	// returned bytes form the IN data stage; an error stalls the request.
	HandleSetup(ctx context.Context, setup *SetupPacket, data []byte) ([]byte, error)

	// SetAlternate is called when the host selects an alternate setting.
	SetAlternate(ctx context.Context, iface, alt uint8) error

	// HandleEndpoint is called for packet-received and transmit-ready
	// events on the driver's endpoints.
	HandleEndpoint(ctx context.Context, event hal.EventType, address uint8) error

	// Reset returns the driver to its unconfigured state after a bus reset,
	// a deconfiguration, or a detach.
	Reset(ctx context.Context) error
}

package hal

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Endpoint transfer types (USB 2.0 Table 9-13).
const (
	TransferTypeControl     = 0x00
	TransferTypeIsochronous = 0x01
	TransferTypeBulk        = 0x02
	TransferTypeInterrupt   = 0x03
)

// Isochronous synchronization types.
const (
	SyncNone     = 0x00
	SyncAsync    = 0x04
	SyncAdaptive = 0x08
	SyncSync     = 0x0C
)

// Isochronous usage types.
const (
	UsageData     = 0x00
	UsageFeedback = 0x10
)

// EndpointConfig describes a data endpoint for the controller.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval exponent
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type bits.
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacket is a SETUP packet as delivered by the controller.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength
}

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into out. It returns false if data is
// too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return true
}

// MarshalTo writes the setup packet to buf. It returns the number of bytes
// written, or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// EventType identifies a controller event.
type EventType uint8

// Controller events.
const (
	EventNone           EventType = iota
	EventReset                    // Bus reset
	EventSetup                    // SETUP packet on EP0
	EventSetInterface             // Alternate setting selected by the controller
	EventPacketReceived           // OUT packet waiting in an endpoint FIFO
	EventTransmitReady            // IN endpoint can take the next packet
	EventDetach                   // Cable removed
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventReset:
		return "reset"
	case EventSetup:
		return "setup"
	case EventSetInterface:
		return "set-interface"
	case EventPacketReceived:
		return "packet-received"
	case EventTransmitReady:
		return "transmit-ready"
	case EventDetach:
		return "detach"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event is a controller event.
type Event struct {
	Type      EventType
	Endpoint  uint8       // Data endpoint address for packet events
	Setup     SetupPacket // EventSetup
	Interface uint8       // EventSetInterface
	Alternate uint8       // EventSetInterface
}

// Controller is a device-side transport controller.
//
// NextEvent, the control primitives and the data primitives are called from
// the stack's event goroutine. IsAttached, DMABusy and DMADone may be polled
// from any goroutine.
type Controller interface {
	// Init prepares the controller.
	Init(ctx context.Context) error

	// Start attaches to the bus.
	Start() error

	// Stop detaches from the bus and releases the controller.
	Stop() error

	// NextEvent blocks until the next event is available.
	NextEvent(ctx context.Context, out *Event) error

	// ConfigureEndpoints opens the data endpoints. Passing nil closes all
	// data endpoints.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// Control endpoint

	// ReadControl reads the OUT data stage of the current control transfer.
	ReadControl(ctx context.Context, buf []byte) (int, error)

	// WriteControl sends the IN data stage and completes the transfer.
	WriteControl(ctx context.Context, data []byte) error

	// StallControl stalls the current control transfer.
	StallControl() error

	// AckControl completes a control transfer with a zero-length status stage.
	AckControl() error

	// Data endpoints

	// PendingLength returns the bytes waiting in an OUT endpoint FIFO.
	PendingLength(address uint8) int

	// StartDMA starts moving the pending OUT packet into dst. Bytes beyond
	// len(dst) are discarded.
	StartDMA(address uint8, dst []byte) error

	// DMABusy reports whether a DMA copy is in progress.
	DMABusy(address uint8) bool

	// DMADone reports whether the last DMA copy completed.
	DMADone(address uint8) bool

	// AbortDMA cancels a DMA copy in progress.
	AbortDMA(address uint8) error

	// WritePacket arms an IN endpoint with data.
	WritePacket(address uint8, data []byte) error

	// WriteZeroLength arms an IN endpoint with a zero-length packet.
	WriteZeroLength(address uint8) error

	// Flush discards data queued on an endpoint.
	Flush(address uint8) error

	// IsAttached reports whether the device is on the bus.
	IsAttached() bool
}

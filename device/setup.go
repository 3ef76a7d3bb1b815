package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softuac/device/hal"
	"github.com/ardnew/softuac/pkg"
)

// Standard request codes (USB 2.0 Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
)

// Request type masks (USB 2.0 Table 9-2).
const (
	RequestTypeDirectionMask = 0x80
	RequestTypeTypeMask      = 0x60
	RequestTypeRecipientMask = 0x1F
)

// Request directions.
const (
	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80
)

// Request types.
const (
	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40
)

// Request recipients.
const (
	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
	RequestRecipientOther     = 0x03
)

// SetupPacket is an 8-byte SETUP packet.
type SetupPacket hal.SetupPacket

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = hal.SetupPacketSize

// ParseSetupPacket parses a setup packet from data into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// MarshalTo serializes the setup packet to buf. It returns the number of
// bytes written, or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	return (*hal.SetupPacket)(s).MarshalTo(buf)
}

// IsDeviceToHost returns true for a device-to-host transfer.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&RequestTypeDirectionMask == RequestDirectionDeviceToHost
}

// Type returns the request type bits.
func (s *SetupPacket) Type() uint8 {
	return s.RequestType & RequestTypeTypeMask
}

// IsStandard returns true for a standard request.
func (s *SetupPacket) IsStandard() bool {
	return s.Type() == RequestTypeStandard
}

// IsClass returns true for a class-specific request.
func (s *SetupPacket) IsClass() bool {
	return s.Type() == RequestTypeClass
}

// Recipient returns the request recipient bits.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// IsInterfaceRecipient returns true if the recipient is an interface.
func (s *SetupPacket) IsInterfaceRecipient() bool {
	return s.Recipient() == RequestRecipientInterface
}

// IsEndpointRecipient returns true if the recipient is an endpoint.
func (s *SetupPacket) IsEndpointRecipient() bool {
	return s.Recipient() == RequestRecipientEndpoint
}

// InterfaceNumber returns the interface number from the wIndex low byte.
func (s *SetupPacket) InterfaceNumber() uint8 {
	return uint8(s.Index)
}

// EndpointAddress returns the endpoint address from the wIndex low byte.
func (s *SetupPacket) EndpointAddress() uint8 {
	return uint8(s.Index)
}

// String returns a human-readable representation of the setup packet.
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	reqType := "Standard"
	switch s.Type() {
	case RequestTypeClass:
		reqType = "Class"
	case RequestTypeVendor:
		reqType = "Vendor"
	}
	recip := "Device"
	switch s.Recipient() {
	case RequestRecipientInterface:
		recip = "Interface"
	case RequestRecipientEndpoint:
		recip = "Endpoint"
	case RequestRecipientOther:
		recip = "Other"
	}
	return fmt.Sprintf("SETUP[%s %s %s] Request=0x%02X Value=0x%04X Index=0x%04X Length=%d",
		dir, reqType, recip, s.Request, s.Value, s.Index, s.Length)
}

// SetInterfaceSetup returns a SET_INTERFACE request.
func SetInterfaceSetup(iface, alt uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestSetInterface,
		Value:       uint16(alt),
		Index:       uint16(iface),
	}
}

// SetConfigurationSetup returns a SET_CONFIGURATION request.
func SetConfigurationSetup(config uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetConfiguration,
		Value:       uint16(config),
	}
}

// ClassInterfaceSetup returns a class request addressed to an interface.
func ClassInterfaceSetup(in bool, request uint8, value, index, length uint16) SetupPacket {
	dir := uint8(RequestDirectionHostToDevice)
	if in {
		dir = RequestDirectionDeviceToHost
	}
	return SetupPacket{
		RequestType: dir | RequestTypeClass | RequestRecipientInterface,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}

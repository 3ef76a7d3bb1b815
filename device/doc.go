// Package device implements the event-dispatch side of a USB audio device.
//
// The [Stack] pulls events from a [hal.Controller] (defined in
// [github.com/ardnew/softuac/device/hal]) and routes them:
//
//   - Bus reset and detach reset every registered [ClassDriver]
//   - SETUP packets run a complete control transfer: the OUT data stage is
//     read, the request is answered by the stack (standard requests) or by
//     the owning class driver (class requests), IN responses are truncated
//     to wLength, and any error stalls the control pipe
//   - Set-interface requests and events reach the driver owning the interface
//   - Packet-received and transmit-ready events reach the driver owning the
//     endpoint
//
// Descriptors and enumeration are the controller's business; the stack
// answers only the standard requests that change driver state.
//
// # Example
//
//	ctrl := loopback.New()
//	stack := device.NewStack(ctrl)
//	if err := stack.Register(audio); err != nil {
//	    return err
//	}
//	return stack.Run(ctx)
//
// The USB Audio Class 2.0 driver lives in
// [github.com/ardnew/softuac/device/class/uac].
package device

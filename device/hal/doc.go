// Package hal defines the transport controller interface used by the audio
// device stack.
//
// A [Controller] is an event source plus a byte mover. The stack pulls
// events with [Controller.NextEvent] (bus reset, setup, set-interface,
// packet received, transmit ready, detach) and reacts with the control
// endpoint primitives and the per-endpoint data primitives. The data path
// mirrors device controllers with a DMA engine between endpoint FIFOs and
// memory: OUT packets are moved with [Controller.StartDMA] and polled with
// [Controller.DMABusy] and [Controller.DMADone]; IN packets are armed with
// [Controller.WritePacket] or [Controller.WriteZeroLength] and the
// controller reports [EventTransmitReady] once the host has taken them.
//
// # Implementing a Controller
//
//  1. Deliver events in the order they occur on the bus
//  2. Never block in the data primitives; report [pkg.ErrBusy] instead
//  3. Make [Controller.IsAttached] safe to call from any goroutine
//
// An in-memory controller with a host-side API is available in
// [github.com/ardnew/softuac/device/hal/loopback].
//
// [pkg.ErrBusy]: https://pkg.go.dev/github.com/ardnew/softuac/pkg#ErrBusy
package hal

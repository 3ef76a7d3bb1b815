// Package loopback implements an in-memory [hal.Controller] together with
// the host side of the bus.
//
// The device side is driven by the stack through the [hal.Controller]
// methods. The host side is driven by tests and simulators:
//
//	c := loopback.New()
//	// device: stack.Run(ctx) uses c
//	data, err := c.Control(ctx, setup, nil) // class or standard request
//	err = c.SetInterface(ctx, 2, 1)            // start playback
//	err = c.SendPacket(0x02, pcm)              // isochronous OUT
//	pkt, ok := c.PollIn(0x81)                  // isochronous IN
//
// DMA copies complete synchronously, so [Controller.DMABusy] is only true
// between [Controller.SetDMAHold] and the matching release. Packet events
// are coalesced into a bounded queue the way interrupt flags are; control
// transfers block the host until the device completes or stalls them.
package loopback

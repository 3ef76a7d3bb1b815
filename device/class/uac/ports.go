package uac

import (
	"github.com/ardnew/softuac/device/hal"
	"github.com/ardnew/softuac/stream"
)

// OutPort is an isochronous OUT endpoint of a controller seen as a
// [stream.PacketSource].
type OutPort struct {
	ctrl    hal.Controller
	address uint8
}

var _ stream.PacketSource = (*OutPort)(nil)

// NewOutPort binds an OUT endpoint of ctrl.
func NewOutPort(ctrl hal.Controller, address uint8) *OutPort {
	return &OutPort{ctrl: ctrl, address: address}
}

func (p *OutPort) PendingLength() int { return p.ctrl.PendingLength(p.address) }

func (p *OutPort) DMABusy() bool { return p.ctrl.DMABusy(p.address) }

func (p *OutPort) StartDMA(dst []byte) error { return p.ctrl.StartDMA(p.address, dst) }

func (p *OutPort) DMADone() bool { return p.ctrl.DMADone(p.address) }

func (p *OutPort) Attached() bool { return p.ctrl.IsAttached() }

func (p *OutPort) Flush() error { return p.ctrl.Flush(p.address) }

// InPort is an isochronous IN endpoint of a controller seen as a
// [stream.PacketSink].
type InPort struct {
	ctrl    hal.Controller
	address uint8
}

var _ stream.PacketSink = (*InPort)(nil)

// NewInPort binds an IN endpoint of ctrl.
func NewInPort(ctrl hal.Controller, address uint8) *InPort {
	return &InPort{ctrl: ctrl, address: address}
}

func (p *InPort) WritePacket(data []byte) error { return p.ctrl.WritePacket(p.address, data) }

func (p *InPort) WriteZeroLength() error { return p.ctrl.WriteZeroLength(p.address) }

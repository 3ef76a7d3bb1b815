package loopback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softuac/device/hal"
	"github.com/ardnew/softuac/pkg"
)

// Queue depths.
const (
	DefaultEventDepth = 256 // Pending controller events
	DefaultFIFODepth  = 8   // OUT packets buffered per endpoint
	DefaultInDepth    = 4   // IN packets armed per endpoint
)

// MaxPacketSize bounds one data packet.
const MaxPacketSize = 1024

// Standard request fields used by the host helpers.
const (
	requestTypeInterface = 0x01
	requestSetInterface  = 0x0B
)

// controlResult completes a host control transfer.
type controlResult struct {
	status pkg.TransferStatus
	data   []byte
}

// controlTransfer is the control transfer in flight on EP0.
type controlTransfer struct {
	setup hal.SetupPacket
	out   []byte
	done  chan controlResult
}

// endpoint is one data endpoint.
type endpoint struct {
	config hal.EndpointConfig
	out    [][]byte // OUT FIFO, oldest first
	in     [][]byte // Armed IN packets, oldest first

	busy bool   // DMA in progress
	done bool   // Last DMA completed
	hold []byte // Destination of a held DMA

	dropped   uint64 // OUT packets refused on a full FIFO
	delivered uint64 // IN packets taken by the host
}

// Controller is an in-memory transport controller.
type Controller struct {
	mutex sync.Mutex

	running  bool
	attached atomic.Bool
	events   chan hal.Event
	stopCh   chan struct{}

	endpoints map[uint8]*endpoint
	ctrl      *controlTransfer
	hold      bool // Leave DMA copies busy until released

	// Serializes host control transfers.
	ctrlMutex sync.Mutex

	eventDrops atomic.Uint64
}

var _ hal.Controller = (*Controller)(nil)

// New creates a stopped controller.
func New() *Controller {
	return &Controller{
		events:    make(chan hal.Event, DefaultEventDepth),
		stopCh:    make(chan struct{}),
		endpoints: make(map[uint8]*endpoint),
	}
}

// signal queues an event without blocking. Events are dropped when the
// queue is full.
func (c *Controller) signal(ev hal.Event) {
	select {
	case c.events <- ev:
	default:
		c.eventDrops.Add(1)
		pkg.LogDebug(pkg.ComponentHAL, "event dropped",
			"event", ev.Type.String(),
			"endpoint", ev.Endpoint)
	}
}

// post queues an event, waiting for room.
func (c *Controller) post(ctx context.Context, ev hal.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.events <- ev:
		return nil
	}
}

// EventDrops returns how many events were dropped on a full queue.
func (c *Controller) EventDrops() uint64 {
	return c.eventDrops.Load()
}

// Device side

// Init prepares the controller for Start.
func (c *Controller) Init(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.running {
		return pkg.ErrAlreadyRunning
	}
	return ctx.Err()
}

// Start attaches the device to the bus.
func (c *Controller) Start() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.running {
		return pkg.ErrAlreadyRunning
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.attached.Store(true)
	pkg.LogDebug(pkg.ComponentHAL, "loopback controller started")
	return nil
}

// Stop detaches the device and fails any control transfer in flight.
func (c *Controller) Stop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	close(c.stopCh)
	c.attached.Store(false)
	c.completeLocked(controlResult{status: pkg.TransferStatusCancelled})
	pkg.LogDebug(pkg.ComponentHAL, "loopback controller stopped")
	return nil
}

// NextEvent waits for the next event.
func (c *Controller) NextEvent(ctx context.Context, out *hal.Event) error {
	c.mutex.Lock()
	running, stop := c.running, c.stopCh
	c.mutex.Unlock()
	if !running {
		return pkg.ErrNotRunning
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return pkg.ErrNotRunning
	case ev := <-c.events:
		*out = ev
		return nil
	}
}

// ConfigureEndpoints replaces the set of open data endpoints.
func (c *Controller) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	clear(c.endpoints)
	for _, cfg := range endpoints {
		if cfg.Number() == 0 {
			return fmt.Errorf("endpoint %#02x: %w", cfg.Address, pkg.ErrInvalidEndpoint)
		}
		c.endpoints[cfg.Address] = &endpoint{config: cfg}
	}
	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", len(endpoints))
	return nil
}

func (c *Controller) completeLocked(res controlResult) {
	if c.ctrl == nil {
		return
	}
	c.ctrl.done <- res
	c.ctrl = nil
}

// ReadControl copies the OUT data stage of the current transfer into buf.
func (c *Controller) ReadControl(ctx context.Context, buf []byte) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.ctrl == nil {
		return 0, pkg.ErrInvalidRequest
	}
	return copy(buf, c.ctrl.out), nil
}

// WriteControl completes the current transfer with an IN data stage.
// Data beyond the request's wLength is not delivered.
func (c *Controller) WriteControl(ctx context.Context, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.ctrl == nil {
		return pkg.ErrInvalidRequest
	}
	n := min(len(data), int(c.ctrl.setup.Length))
	c.completeLocked(controlResult{
		status: pkg.TransferStatusSuccess,
		data:   append([]byte{}, data[:n]...),
	})
	return nil
}

// StallControl fails the current transfer with a stall.
func (c *Controller) StallControl() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.ctrl == nil {
		return pkg.ErrInvalidRequest
	}
	c.completeLocked(controlResult{status: pkg.TransferStatusStall})
	return nil
}

// AckControl completes the current transfer with a status stage only.
func (c *Controller) AckControl() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.ctrl == nil {
		return pkg.ErrInvalidRequest
	}
	c.completeLocked(controlResult{status: pkg.TransferStatusSuccess})
	return nil
}

func (c *Controller) lookup(address uint8) (*endpoint, error) {
	ep, ok := c.endpoints[address]
	if !ok {
		return nil, fmt.Errorf("endpoint %#02x: %w", address, pkg.ErrInvalidEndpoint)
	}
	return ep, nil
}

// PendingLength returns the size of the oldest packet in an OUT FIFO.
func (c *Controller) PendingLength(address uint8) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, err := c.lookup(address)
	if err != nil || len(ep.out) == 0 {
		return 0
	}
	return len(ep.out[0])
}

// StartDMA moves the oldest OUT packet into dst.
func (c *Controller) StartDMA(address uint8, dst []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.attached.Load() {
		return pkg.ErrNoDevice
	}
	ep, err := c.lookup(address)
	if err != nil {
		return err
	}
	if ep.busy {
		return pkg.ErrBusy
	}
	if len(ep.out) == 0 {
		return fmt.Errorf("endpoint %#02x dma: %w", address, pkg.ErrUnderrun)
	}

	if c.hold {
		// The packet stays at the head of the FIFO until the hold is released.
		ep.busy, ep.done, ep.hold = true, false, dst
		return nil
	}
	copy(dst, ep.out[0])
	ep.out = ep.out[1:]
	ep.busy, ep.done = false, true
	return nil
}

// DMABusy reports whether a DMA copy is in progress on an endpoint.
func (c *Controller) DMABusy(address uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, err := c.lookup(address)
	return err == nil && ep.busy
}

// DMADone reports whether the last DMA copy on an endpoint completed.
func (c *Controller) DMADone(address uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, err := c.lookup(address)
	return err == nil && ep.done
}

// AbortDMA cancels a DMA copy in progress.
func (c *Controller) AbortDMA(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, err := c.lookup(address)
	if err != nil {
		return err
	}
	ep.busy, ep.done, ep.hold = false, false, nil
	return nil
}

// SetDMAHold makes subsequent DMA copies stay busy until the hold is
// released. Releasing completes every held copy.
func (c *Controller) SetDMAHold(hold bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.hold = hold
	if hold {
		return
	}
	for _, ep := range c.endpoints {
		if !ep.busy || ep.hold == nil || len(ep.out) == 0 {
			continue
		}
		copy(ep.hold, ep.out[0])
		ep.out = ep.out[1:]
		ep.busy, ep.done, ep.hold = false, true, nil
	}
}

// WritePacket arms an IN endpoint.
func (c *Controller) WritePacket(address uint8, data []byte) error {
	if len(data) > MaxPacketSize {
		return fmt.Errorf("packet %d bytes: %w", len(data), pkg.ErrInvalidParameter)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	ep, err := c.lookup(address)
	if err != nil {
		return err
	}
	if !ep.config.IsIn() {
		return fmt.Errorf("write to OUT endpoint %#02x: %w", address, pkg.ErrInvalidEndpoint)
	}
	if len(ep.in) >= DefaultInDepth {
		return pkg.ErrBusy
	}
	ep.in = append(ep.in, append([]byte{}, data...))
	return nil
}

// WriteZeroLength arms an IN endpoint with a zero-length packet.
func (c *Controller) WriteZeroLength(address uint8) error {
	return c.WritePacket(address, nil)
}

// Flush discards everything queued on an endpoint.
func (c *Controller) Flush(address uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, err := c.lookup(address)
	if err != nil {
		return err
	}
	if ep.busy && len(ep.out) > 0 {
		ep.out = ep.out[:1]
	} else {
		ep.out = nil
	}
	ep.in = nil
	return nil
}

// IsAttached reports whether the device is on the bus.
func (c *Controller) IsAttached() bool {
	return c.attached.Load()
}

// Host side

// Control runs a control transfer. For host-to-device requests data is the
// OUT data stage; for device-to-host requests the IN data stage is
// returned. A stalled request returns [pkg.ErrStall].
func (c *Controller) Control(ctx context.Context, setup hal.SetupPacket, data []byte) ([]byte, error) {
	c.ctrlMutex.Lock()
	defer c.ctrlMutex.Unlock()

	if !c.attached.Load() {
		return nil, pkg.ErrNoDevice
	}

	t := &controlTransfer{
		setup: setup,
		out:   append([]byte{}, data...),
		done:  make(chan controlResult, 1),
	}
	c.mutex.Lock()
	c.ctrl = t
	c.mutex.Unlock()

	abandon := func() {
		c.mutex.Lock()
		if c.ctrl == t {
			c.ctrl = nil
		}
		c.mutex.Unlock()
	}

	if err := c.post(ctx, hal.Event{Type: hal.EventSetup, Setup: setup}); err != nil {
		abandon()
		return nil, err
	}

	select {
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case res := <-t.done:
		if err := res.status.Error(); err != nil {
			return nil, err
		}
		return res.data, nil
	}
}

// SetInterface selects an alternate setting with a standard request.
func (c *Controller) SetInterface(ctx context.Context, iface, alt uint8) error {
	_, err := c.Control(ctx, hal.SetupPacket{
		RequestType: requestTypeInterface,
		Request:     requestSetInterface,
		Value:       uint16(alt),
		Index:       uint16(iface),
	}, nil)
	return err
}

// SendPacket delivers an OUT packet to the device. A full FIFO drops the
// packet and returns [pkg.ErrOverrun].
func (c *Controller) SendPacket(address uint8, data []byte) error {
	if len(data) > MaxPacketSize {
		return fmt.Errorf("packet %d bytes: %w", len(data), pkg.ErrInvalidParameter)
	}

	c.mutex.Lock()
	if !c.attached.Load() {
		c.mutex.Unlock()
		return pkg.ErrNoDevice
	}
	ep, err := c.lookup(address)
	if err != nil {
		c.mutex.Unlock()
		return err
	}
	if ep.config.IsIn() {
		c.mutex.Unlock()
		return fmt.Errorf("send to IN endpoint %#02x: %w", address, pkg.ErrInvalidEndpoint)
	}
	if len(ep.out) >= DefaultFIFODepth {
		ep.dropped++
		c.mutex.Unlock()
		return pkg.TransferStatusOverrun.Error()
	}
	ep.out = append(ep.out, append([]byte{}, data...))
	c.mutex.Unlock()

	c.signal(hal.Event{Type: hal.EventPacketReceived, Endpoint: address})
	return nil
}

// PollIn takes the oldest armed packet of an IN endpoint, as an IN token
// would, and tells the device the endpoint is ready for more. It returns
// false if nothing was armed. A zero-length packet is returned as an empty,
// non-nil slice.
func (c *Controller) PollIn(address uint8) ([]byte, bool) {
	c.mutex.Lock()
	ep, err := c.lookup(address)
	if err != nil || !ep.config.IsIn() || !c.attached.Load() {
		c.mutex.Unlock()
		return nil, false
	}
	var packet []byte
	ok := len(ep.in) > 0
	if ok {
		packet = ep.in[0]
		ep.in = ep.in[1:]
		ep.delivered++
	}
	c.mutex.Unlock()

	c.signal(hal.Event{Type: hal.EventTransmitReady, Endpoint: address})
	return packet, ok
}

// Stats returns the OUT packets dropped and IN packets delivered on an
// endpoint.
func (c *Controller) Stats(address uint8) (dropped, delivered uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep, err := c.lookup(address)
	if err != nil {
		return 0, 0
	}
	return ep.dropped, ep.delivered
}

// Reset signals a bus reset and empties every endpoint.
func (c *Controller) Reset() {
	c.mutex.Lock()
	for _, ep := range c.endpoints {
		ep.out, ep.in = nil, nil
		ep.busy, ep.done, ep.hold = false, false, nil
	}
	c.mutex.Unlock()
	c.signal(hal.Event{Type: hal.EventReset})
}

// Detach removes the device from the bus.
func (c *Controller) Detach() {
	c.mutex.Lock()
	c.attached.Store(false)
	c.completeLocked(controlResult{status: pkg.TransferStatusCancelled})
	c.mutex.Unlock()
	c.signal(hal.Event{Type: hal.EventDetach})
}

// Attach puts a detached device back on the bus.
func (c *Controller) Attach() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.running {
		c.attached.Store(true)
	}
}

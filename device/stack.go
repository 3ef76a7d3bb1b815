package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softuac/device/hal"
	"github.com/ardnew/softuac/pkg"
)

// MaxControlDataSize is the largest control data stage the stack handles.
const MaxControlDataSize = 512

// Stack dispatches controller events to class drivers.
type Stack struct {
	ctrl hal.Controller

	mutex         sync.RWMutex
	running       bool
	drivers       []ClassDriver
	interfaces    map[uint8]ClassDriver
	endpoints     map[uint8]ClassDriver
	alternates    map[uint8]uint8
	address       uint8
	configuration uint8

	// Event loop buffers
	event    hal.Event
	ep0Buf   [MaxControlDataSize]byte
	response [MaxControlDataSize]byte

	// Event callbacks
	onReset  func()
	onDetach func()
}

// NewStack creates a stack on ctrl.
func NewStack(ctrl hal.Controller) *Stack {
	return &Stack{
		ctrl:       ctrl,
		interfaces: make(map[uint8]ClassDriver),
		endpoints:  make(map[uint8]ClassDriver),
		alternates: make(map[uint8]uint8),
	}
}

// Register adds a class driver. Drivers must be registered before Run and
// may not share interfaces or endpoints.
func (s *Stack) Register(driver ClassDriver) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return pkg.ErrAlreadyRunning
	}
	for _, iface := range driver.Interfaces() {
		if _, ok := s.interfaces[iface]; ok {
			return fmt.Errorf("interface %d already registered: %w", iface, pkg.ErrInvalidParameter)
		}
	}
	for _, ep := range driver.Endpoints() {
		if _, ok := s.endpoints[ep.Address]; ok {
			return fmt.Errorf("endpoint %#02x already registered: %w", ep.Address, pkg.ErrInvalidParameter)
		}
	}

	for _, iface := range driver.Interfaces() {
		s.interfaces[iface] = driver
	}
	for _, ep := range driver.Endpoints() {
		s.endpoints[ep.Address] = driver
	}
	s.drivers = append(s.drivers, driver)
	return nil
}

// SetOnReset sets the bus reset callback.
func (s *Stack) SetOnReset(cb func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onReset = cb
}

// SetOnDetach sets the detach callback.
func (s *Stack) SetOnDetach(cb func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onDetach = cb
}

// IsRunning returns true while Run is processing events.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Address returns the address assigned by the host.
func (s *Stack) Address() uint8 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.address
}

// Configuration returns the selected configuration value.
func (s *Stack) Configuration() uint8 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.configuration
}

// Alternate returns the selected alternate setting of an interface.
func (s *Stack) Alternate(iface uint8) uint8 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.alternates[iface]
}

func (s *Stack) driver(iface uint8) ClassDriver {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.interfaces[iface]
}

func (s *Stack) endpointDriver(address uint8) ClassDriver {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.endpoints[address]
}

// Run starts the controller and processes events until ctx is cancelled
// or the controller stops. It returns nil on cancellation.
func (s *Stack) Run(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	s.running = true
	var endpoints []hal.EndpointConfig
	for _, d := range s.drivers {
		endpoints = append(endpoints, d.Endpoints()...)
	}
	s.mutex.Unlock()

	defer func() {
		s.mutex.Lock()
		s.running = false
		s.mutex.Unlock()
	}()

	if err := s.ctrl.Init(ctx); err != nil {
		return fmt.Errorf("controller init: %w", err)
	}
	if err := s.ctrl.ConfigureEndpoints(endpoints); err != nil {
		return fmt.Errorf("configure endpoints: %w", err)
	}
	if err := s.ctrl.Start(); err != nil {
		return fmt.Errorf("controller start: %w", err)
	}
	defer func() {
		// Drivers are reset with a fresh context; ctx is usually done here.
		if err := s.resetDrivers(context.Background()); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "driver reset on stop failed", "error", err)
		}
		if err := s.ctrl.Stop(); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "controller stop failed", "error", err)
		}
	}()

	pkg.LogDebug(pkg.ComponentStack, "device stack started",
		"drivers", len(s.drivers),
		"endpoints", len(endpoints))

	for {
		if err := s.ctrl.NextEvent(ctx, &s.event); err != nil {
			if ctx.Err() != nil || errors.Is(err, pkg.ErrNotRunning) {
				pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
				return nil
			}
			return fmt.Errorf("next event: %w", err)
		}
		s.dispatch(ctx, &s.event)
	}
}

// dispatch handles one controller event. Errors are absorbed: a failed
// setup stalls the control pipe and a failed endpoint handler is logged.
func (s *Stack) dispatch(ctx context.Context, ev *hal.Event) {
	switch ev.Type {
	case hal.EventReset:
		s.reset(ctx)

	case hal.EventSetup:
		setup := SetupPacket(ev.Setup)
		if err := s.handleSetup(ctx, &setup); err != nil {
			pkg.LogDebug(pkg.ComponentStack, "request stalled",
				"request", setup.String(),
				"error", err)
			if stallErr := s.ctrl.StallControl(); stallErr != nil {
				pkg.LogWarn(pkg.ComponentStack, "stall failed", "error", stallErr)
			}
		}

	case hal.EventSetInterface:
		if err := s.setInterface(ctx, ev.Interface, ev.Alternate); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "set interface failed",
				"interface", ev.Interface,
				"alternate", ev.Alternate,
				"error", err)
		}

	case hal.EventPacketReceived, hal.EventTransmitReady:
		driver := s.endpointDriver(ev.Endpoint)
		if driver == nil {
			pkg.LogDebug(pkg.ComponentStack, "event for unowned endpoint",
				"event", ev.Type.String(),
				"endpoint", ev.Endpoint)
			return
		}
		if err := driver.HandleEndpoint(ctx, ev.Type, ev.Endpoint); err != nil {
			pkg.LogDebug(pkg.ComponentStack, "endpoint handler failed",
				"event", ev.Type.String(),
				"endpoint", ev.Endpoint,
				"error", err)
		}

	case hal.EventDetach:
		if err := s.resetDrivers(ctx); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "driver reset on detach failed", "error", err)
		}
		s.mutex.RLock()
		cb := s.onDetach
		s.mutex.RUnlock()
		pkg.LogInfo(pkg.ComponentStack, "device detached")
		if cb != nil {
			cb()
		}
	}
}

// reset handles a bus reset.
func (s *Stack) reset(ctx context.Context) {
	s.mutex.Lock()
	s.address = 0
	s.configuration = 0
	clear(s.alternates)
	cb := s.onReset
	s.mutex.Unlock()

	if err := s.resetDrivers(ctx); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "driver reset failed", "error", err)
	}
	pkg.LogDebug(pkg.ComponentStack, "bus reset")
	if cb != nil {
		cb()
	}
}

func (s *Stack) resetDrivers(ctx context.Context) error {
	s.mutex.RLock()
	drivers := append([]ClassDriver{}, s.drivers...)
	s.mutex.RUnlock()

	var err error
	for _, d := range drivers {
		err = errors.Join(err, d.Reset(ctx))
	}
	return err
}

// handleSetup runs one control transfer.
func (s *Stack) handleSetup(ctx context.Context, setup *SetupPacket) error {
	var data []byte
	if !setup.IsDeviceToHost() && setup.Length > 0 {
		n, err := s.ctrl.ReadControl(ctx, s.ep0Buf[:min(int(setup.Length), MaxControlDataSize)])
		if err != nil {
			return fmt.Errorf("control data stage: %w", err)
		}
		data = s.ep0Buf[:n]
	}

	var response []byte
	var err error
	switch {
	case setup.IsStandard():
		response, err = s.handleStandard(ctx, setup)
	case setup.IsClass():
		var driver ClassDriver
		switch {
		case setup.IsInterfaceRecipient():
			driver = s.driver(setup.InterfaceNumber())
		case setup.IsEndpointRecipient():
			driver = s.endpointDriver(setup.EndpointAddress())
		}
		if driver == nil {
			return fmt.Errorf("class request without driver: %w", pkg.ErrInvalidRequest)
		}
		response, err = driver.HandleSetup(ctx, setup, data)
	default:
		err = pkg.ErrInvalidRequest
	}
	if err != nil {
		return err
	}

	if setup.IsDeviceToHost() {
		n := min(len(response), int(setup.Length))
		return s.ctrl.WriteControl(ctx, response[:n])
	}
	return s.ctrl.AckControl()
}

package codec

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/softuac/pkg"
)

// Status is a two-wire interface status code reported after a start
// condition or a transmitted byte.
type Status uint8

// Master-transmitter status codes.
const (
	StatusStart           Status = 0x08
	StatusRepeatedStart   Status = 0x10
	StatusAddressACK      Status = 0x18
	StatusAddressNACK     Status = 0x20
	StatusDataACK         Status = 0x28
	StatusDataNACK        Status = 0x30
	StatusArbitrationLost Status = 0x38
)

// Bus is a byte-level I2C master.
type Bus interface {
	// Start issues a start condition.
	Start() error

	// Transmit sends one byte and returns the resulting status.
	Transmit(b byte) (Status, error)

	// Stop issues a stop condition.
	Stop() error

	// Recover resets the bus engine after arbitration loss.
	Recover() error
}

// BusWriter writes codec registers over a [Bus]. A write that loses
// arbitration is recovered and retried up to the attempt bound; any other
// unexpected status ends the write with [pkg.ErrBusError].
type BusWriter struct {
	mutex    sync.Mutex
	bus      Bus
	addr     uint8
	attempts int
	onResult ResultFunc
}

// NewBusWriter creates a writer for the device at 7-bit address addr.
// attempts below one are raised to one.
func NewBusWriter(bus Bus, addr uint8, attempts int) *BusWriter {
	return &BusWriter{bus: bus, addr: addr, attempts: max(attempts, 1)}
}

// SetOnResult sets a callback invoked after each attempt.
func (w *BusWriter) SetOnResult(fn ResultFunc) {
	w.mutex.Lock()
	w.onResult = fn
	w.mutex.Unlock()
}

// WriteRegister writes value to reg.
func (w *BusWriter) WriteRegister(ctx context.Context, reg uint8, value uint16) error {
	frame, err := Frame(reg, value)
	if err != nil {
		return err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	packet := [3]byte{w.addr << 1, frame[0], frame[1]}
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, status, err := w.transfer(packet)
		if w.onResult != nil {
			w.onResult(reg, result)
		}
		switch result {
		case ResultOK:
			return nil
		case ResultArbitrationLost:
			pkg.LogDebug(pkg.ComponentCodec, "arbitration lost",
				"reg", reg,
				"attempt", attempt)
			if err := w.bus.Recover(); err != nil {
				return fmt.Errorf("recover bus: %w", err)
			}
		default:
			if err != nil {
				return fmt.Errorf("write R%d: %w: %w", reg, pkg.ErrBusError, err)
			}
			return fmt.Errorf("write R%d status %#02x: %w", reg, uint8(status), pkg.ErrBusError)
		}
	}

	pkg.LogWarn(pkg.ComponentCodec, "register write abandoned",
		"reg", reg,
		"attempts", w.attempts)
	return fmt.Errorf("write R%d after %d attempts: %w", reg, w.attempts, pkg.ErrArbitrationLost)
}

// transfer runs one start/address/data/stop transaction.
func (w *BusWriter) transfer(packet [3]byte) (Result, Status, error) {
	if err := w.bus.Start(); err != nil {
		return ResultBusError, 0, err
	}
	for i, b := range packet {
		status, err := w.bus.Transmit(b)
		if err != nil {
			_ = w.bus.Stop()
			return ResultBusError, status, err
		}
		want := StatusDataACK
		if i == 0 {
			want = StatusAddressACK
		}
		switch status {
		case want:
		case StatusArbitrationLost:
			// The bus is released on arbitration loss; no stop is needed.
			return ResultArbitrationLost, status, nil
		default:
			_ = w.bus.Stop()
			return ResultBusError, status, nil
		}
	}
	if err := w.bus.Stop(); err != nil {
		return ResultBusError, 0, err
	}
	return ResultOK, 0, nil
}

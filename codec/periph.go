package codec

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/softuac/pkg"
)

// DefaultBusSpeed is the I2C clock used for codec control.
const DefaultBusSpeed = 400 * physic.KiloHertz

// DevWriter writes codec registers through a periph.io I2C bus. periph
// reports failed transactions without a status code, so every failed
// attempt is retried up to the attempt bound.
type DevWriter struct {
	mutex    sync.Mutex
	dev      *i2c.Dev
	attempts int
	onResult ResultFunc
}

// NewDevWriter creates a writer for the device at addr on bus.
func NewDevWriter(bus i2c.Bus, addr uint16, attempts int) *DevWriter {
	return &DevWriter{
		dev:      &i2c.Dev{Bus: bus, Addr: addr},
		attempts: max(attempts, 1),
	}
}

// SetOnResult sets a callback invoked after each attempt.
func (w *DevWriter) SetOnResult(fn ResultFunc) {
	w.mutex.Lock()
	w.onResult = fn
	w.mutex.Unlock()
}

// SetSpeed sets the bus clock.
func (w *DevWriter) SetSpeed(f physic.Frequency) error {
	return w.dev.Bus.SetSpeed(f)
}

// String returns the device description.
func (w *DevWriter) String() string {
	return w.dev.String()
}

// WriteRegister writes value to reg.
func (w *DevWriter) WriteRegister(ctx context.Context, reg uint8, value uint16) error {
	frame, err := Frame(reg, value)
	if err != nil {
		return err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	var last error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = w.dev.Tx(frame[:], nil)
		result := ResultOK
		if last != nil {
			result = ResultBusError
		}
		if w.onResult != nil {
			w.onResult(reg, result)
		}
		if last == nil {
			return nil
		}
		pkg.LogDebug(pkg.ComponentCodec, "register write failed",
			"device", w.dev.String(),
			"reg", reg,
			"attempt", attempt,
			"error", last)
	}
	return fmt.Errorf("write R%d after %d attempts: %w: %w", reg, w.attempts, pkg.ErrBusError, last)
}

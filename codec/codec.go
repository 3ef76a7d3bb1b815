package codec

import (
	"context"
	"fmt"

	"github.com/ardnew/softuac/pkg"
)

// Register address and value limits.
const (
	MaxRegister = 0x7F
	MaxValue    = 0x1FF
)

// DefaultAddress is the 7-bit I2C address of the NAU8822.
const DefaultAddress = 0x1A

// DefaultAttempts bounds the number of tries for one register write.
const DefaultAttempts = 3

// RegisterWriter writes codec control registers.
type RegisterWriter interface {
	WriteRegister(ctx context.Context, reg uint8, value uint16) error
}

// Result classifies the outcome of one register write attempt.
type Result uint8

// Attempt results.
const (
	ResultOK              Result = iota // Every byte acknowledged
	ResultArbitrationLost               // Another master took the bus
	ResultBusError                      // NACK or unexpected status
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultArbitrationLost:
		return "arbitration_lost"
	case ResultBusError:
		return "bus_error"
	default:
		return "unknown"
	}
}

// ResultFunc is called once per write attempt.
type ResultFunc func(reg uint8, result Result)

// Frame encodes a register write as the two data bytes sent after the
// device address: the register in the upper seven bits of the first byte,
// the value's ninth bit in its lowest bit, and the low value byte second.
func Frame(reg uint8, value uint16) ([2]byte, error) {
	if reg > MaxRegister {
		return [2]byte{}, fmt.Errorf("register %#x: %w", reg, pkg.ErrInvalidParameter)
	}
	if value > MaxValue {
		return [2]byte{}, fmt.Errorf("register %#x value %#x: %w", reg, value, pkg.ErrInvalidParameter)
	}
	return [2]byte{reg<<1 | byte(value>>8), byte(value)}, nil
}

// RegisterValue is one entry of a register write sequence.
type RegisterValue struct {
	Reg   uint8
	Value uint16
}

// WriteSequence writes regs in order, stopping at the first failure.
func WriteSequence(ctx context.Context, w RegisterWriter, regs []RegisterValue) error {
	for _, rv := range regs {
		if err := w.WriteRegister(ctx, rv.Reg, rv.Value); err != nil {
			return fmt.Errorf("write R%d=%#03x: %w", rv.Reg, rv.Value, err)
		}
	}
	return nil
}

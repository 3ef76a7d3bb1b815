package pkg

import "errors"

// Transport errors.
var (
	// ErrStall indicates the control pipe or an endpoint was stalled.
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout indicates a transfer did not complete in time.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled or aborted transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrNoDevice indicates the device is detached from the bus.
	ErrNoDevice = errors.New("device not present")

	// ErrInvalidEndpoint indicates an endpoint address the controller does not know.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidRequest indicates an unrecognized or malformed control request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrBusy indicates the DMA engine or FIFO is still in use.
	ErrBusy = errors.New("resource busy")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrAlreadyRunning indicates the stack or controller is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the stack or controller is not running.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Streaming errors. None of these is fatal; the pipeline absorbs them.
var (
	// ErrRingFull indicates a commit overwrote the oldest unread slot.
	ErrRingFull = errors.New("ring full")

	// ErrOverrun indicates the producer outran the consumer.
	ErrOverrun = errors.New("data overrun")

	// ErrUnderrun indicates the consumer found no data to consume.
	ErrUnderrun = errors.New("data underrun")

	// ErrInvalidSlot indicates a slot index that is not the current cursor.
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrUnsupportedRate indicates a sample rate missing from the rate table.
	ErrUnsupportedRate = errors.New("unsupported sample rate")
)

// Codec bus errors.
var (
	// ErrArbitrationLost indicates another bus master won arbitration on
	// every permitted attempt.
	ErrArbitrationLost = errors.New("bus arbitration lost")

	// ErrBusError indicates an unexpected bus status (NACK or protocol fault).
	ErrBusError = errors.New("bus error")
)

// TransferStatus represents the completion status of a transport transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess   TransferStatus = iota // Transfer completed successfully
	TransferStatusError                           // Transfer failed with error
	TransferStatusStall                           // Endpoint stalled
	TransferStatusTimeout                         // Transfer timed out
	TransferStatusCancelled                       // Transfer was cancelled
	TransferStatusOverrun                         // Data overrun
	TransferStatusUnderrun                        // Data underrun
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusOverrun:
		return "overrun"
	case TransferStatusUnderrun:
		return "underrun"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusCancelled:
		return ErrCancelled
	case TransferStatusOverrun:
		return ErrOverrun
	case TransferStatusUnderrun:
		return ErrUnderrun
	default:
		return ErrBusError
	}
}

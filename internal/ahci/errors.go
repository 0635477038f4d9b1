package ahci

import "errors"

var (
	// ErrNoCommandSlot means every supported command slot is busy.
	ErrNoCommandSlot = errors.New("no free command slot")
	// ErrPortHung means the device stayed busy past the spin budget.
	ErrPortHung = errors.New("port is hung")
	// ErrTaskFileError means the device reported a task file error.
	ErrTaskFileError = errors.New("task file error")
	// ErrInvalidTransfer rejects a zero, oversized or under-buffered request.
	ErrInvalidTransfer = errors.New("invalid transfer")
	// ErrNotRebased means the port has no command memory assigned.
	ErrNotRebased = errors.New("port not rebased")
	// ErrNoDevice means no SATA device is attached to the port.
	ErrNoDevice = errors.New("no device attached")
	// ErrPortNotImplemented means PI does not list the port.
	ErrPortNotImplemented = errors.New("port not implemented")
)

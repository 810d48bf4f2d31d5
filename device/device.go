// Package device defines the probe-facing collaborator interfaces.
//
// A Backend discovers probes and opens sessions. A Session owns exactly one
// open hardware connection and is used by one goroutine at a time; callers
// must Close it on every exit path.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/multiflash/types"
)

// UICRBase is the start address of the user information configuration registers.
const UICRBase uint32 = 0x10001000

// Session is an open connection to one target through its probe.
type Session interface {
	// ID returns the probe serial number the session is bound to.
	ID() types.DeviceID
	// Recover unlocks the access port and erases all flash and UICR.
	// It succeeds on a locked target.
	Recover(ctx context.Context) error
	// EraseAll erases all user flash and UICR.
	EraseAll(ctx context.Context) error
	// EraseUICR erases the UICR region only.
	EraseUICR(ctx context.Context) error
	// ErasePage erases the flash page starting at addr.
	ErasePage(ctx context.Context, addr uint32) error
	// Write programs data starting at addr.
	Write(ctx context.Context, addr uint32, data []byte) error
	// Read returns n bytes starting at addr.
	Read(ctx context.Context, addr uint32, n int) ([]byte, error)
	// Reset issues a system reset and lets the core run.
	Reset(ctx context.Context) error
	// Close disconnects from the probe. It is safe to call more than once.
	Close() error
}

// Backend discovers probes and opens sessions.
type Backend interface {
	// Enumerate lists the serial numbers of all attached probes using a
	// temporary connection that is closed before it returns.
	Enumerate(ctx context.Context, family types.Family) ([]types.DeviceID, error)
	// Open connects to the probe with the given serial number.
	Open(ctx context.Context, family types.Family, id types.DeviceID) (Session, error)
}

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// ConnectionError reports a session that could not be opened or was lost.
type ConnectionError struct {
	Device types.DeviceID
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Device == 0 {
		return fmt.Sprintf("probe connection failed: %v", e.Err)
	}
	return fmt.Sprintf("device %s: connection failed: %v", e.Device, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// EnumerationError reports a failure to list attached probes.
type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("probe enumeration failed: %v", e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// ErrNoDevices is returned when enumeration finds no attached probes.
var ErrNoDevices = errors.New("no debug probes attached")

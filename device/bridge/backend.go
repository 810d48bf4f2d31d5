// Package bridge implements device.Backend over a helper process that wraps
// the vendor programming library.
//
// One helper is started per session with `<path> [args] --family F --snr N`
// (no --snr for enumeration). Requests and responses travel as ipc frames on
// the helper's stdin and stdout.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/iox"
	"github.com/pithecene-io/multiflash/types"
)

// DefaultStopTimeout bounds how long Close waits for a helper to exit.
const DefaultStopTimeout = 5 * time.Second

// Backend launches bridge helpers.
type Backend struct {
	// Path is the helper executable.
	Path string
	// Args are passed before the family and serial arguments.
	Args []string
	// StopTimeout bounds helper shutdown. Zero means DefaultStopTimeout.
	StopTimeout time.Duration
}

var _ device.Backend = (*Backend)(nil)

// NewBackend returns a backend that runs path with args.
func NewBackend(path string, args ...string) *Backend {
	return &Backend{Path: path, Args: args}
}

func (b *Backend) stopTimeout() time.Duration {
	if b.StopTimeout > 0 {
		return b.StopTimeout
	}
	return DefaultStopTimeout
}

// connect starts a helper and wraps it in a Client.
func (b *Backend) connect(ctx context.Context, family types.Family, id types.DeviceID) (*Client, error) {
	if b.Path == "" {
		return nil, errors.New("bridge path not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := append([]string(nil), b.Args...)
	args = append(args, "--family", string(family))
	if id != 0 {
		args = append(args, "--snr", strconv.Itoa(int(id)))
	}

	proc, err := startProcess(b.Path, args)
	if err != nil {
		return nil, err
	}

	timeout := b.stopTimeout()
	c := NewClient(id, proc.stdout, proc.stdin, func() error {
		res, err := proc.stop(timeout)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("bridge exited with code %d: %s", res.ExitCode, res.Stderr)
		}
		return nil
	})
	c.diag = proc.stderr.String
	return c, nil
}

// Enumerate runs a temporary helper to list attached probes.
func (b *Backend) Enumerate(ctx context.Context, family types.Family) (ids []types.DeviceID, err error) {
	c, err := b.connect(ctx, family, 0)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return c.Enumerate(ctx)
}

// Open starts a helper bound to id and confirms the probe connection.
func (b *Backend) Open(ctx context.Context, family types.Family, id types.DeviceID) (device.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := b.connect(ctx, family, id)
	if err != nil {
		return nil, &device.ConnectionError{Device: id, Err: err}
	}
	if err := c.Ping(ctx); err != nil {
		iox.DiscardClose(c)
		if device.IsConnectionError(err) {
			return nil, err
		}
		return nil, &device.ConnectionError{Device: id, Err: err}
	}
	return c, nil
}

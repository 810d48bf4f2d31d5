package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/types"
)

// ErrBusy is returned when a second session is opened on the same probe.
var ErrBusy = errors.New("probe already in use")

// Backend serves a fixed set of simulated devices.
type Backend struct {
	mu sync.Mutex

	devices  map[types.DeviceID]*Device
	openErrs map[types.DeviceID]error
	enumErr  error
	latency  time.Duration

	open         map[types.DeviceID]bool
	opened       int
	enumerations int
}

var _ device.Backend = (*Backend)(nil)

// NewBackend returns a backend with one erased device per id.
func NewBackend(cfg Config, ids ...types.DeviceID) *Backend {
	b := &Backend{
		devices:  make(map[types.DeviceID]*Device),
		openErrs: make(map[types.DeviceID]error),
		open:     make(map[types.DeviceID]bool),
	}
	for _, id := range ids {
		b.devices[id] = NewDevice(id, cfg)
	}
	return b
}

// Device returns the simulated target behind id, or nil.
func (b *Backend) Device(id types.DeviceID) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[id]
}

// FailOpen makes Open(id) fail with err.
func (b *Backend) FailOpen(id types.DeviceID, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErrs[id] = err
}

// FailEnumerate makes Enumerate fail with err.
func (b *Backend) FailEnumerate(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enumErr = err
}

// SetLatency delays every session operation by d.
func (b *Backend) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
}

// OpenSessions returns the number of sessions not yet closed.
func (b *Backend) OpenSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, open := range b.open {
		if open {
			n++
		}
	}
	return n
}

// Opened returns the number of successful Open calls.
func (b *Backend) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// Enumerations returns the number of Enumerate calls.
func (b *Backend) Enumerations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enumerations
}

// Enumerate returns the serial numbers of all devices in ascending order.
func (b *Backend) Enumerate(ctx context.Context, _ types.Family) ([]types.DeviceID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enumerations++
	if b.enumErr != nil {
		return nil, b.enumErr
	}
	ids := make([]types.DeviceID, 0, len(b.devices))
	for id := range b.devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Open connects to the device with serial number id.
func (b *Backend) Open(ctx context.Context, _ types.Family, id types.DeviceID) (device.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &device.ConnectionError{Device: id, Err: err}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.openErrs[id]; err != nil {
		return nil, &device.ConnectionError{Device: id, Err: err}
	}
	dev, ok := b.devices[id]
	if !ok {
		return nil, &device.ConnectionError{Device: id, Err: fmt.Errorf("no probe with serial number %s", id)}
	}
	if b.open[id] {
		return nil, &device.ConnectionError{Device: id, Err: ErrBusy}
	}
	b.open[id] = true
	b.opened++
	return &session{backend: b, dev: dev, latency: b.latency}, nil
}

func (b *Backend) release(id types.DeviceID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open[id] = false
}

// session is a device.Session over a simulated Device.
type session struct {
	backend *Backend
	dev     *Device
	latency time.Duration

	mu     sync.Mutex
	closed bool
}

var _ device.Session = (*session)(nil)

func (s *session) ID() types.DeviceID { return s.dev.id }

// enter checks the session state and waits out the simulated latency.
func (s *session) enter(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return device.ErrSessionClosed
	}
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *session) Recover(ctx context.Context) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	return s.dev.recover()
}

func (s *session) EraseAll(ctx context.Context) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	return s.dev.eraseAll()
}

func (s *session) EraseUICR(ctx context.Context) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	return s.dev.eraseUICR()
}

func (s *session) ErasePage(ctx context.Context, addr uint32) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	return s.dev.erasePage(addr)
}

func (s *session) Write(ctx context.Context, addr uint32, data []byte) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	return s.dev.write(addr, data)
}

func (s *session) Read(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	return s.dev.read(addr, n)
}

func (s *session) Reset(ctx context.Context) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	return s.dev.reset()
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.backend.release(s.dev.id)
	return nil
}

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/ipc"
	"github.com/pithecene-io/multiflash/types"
)

// OpError is a failure reported by the bridge for one operation.
type OpError struct {
	Op   ipc.Op
	Code string
	Msg  string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("bridge %s failed (%s): %s", e.Op, e.Code, e.Msg)
}

// Client speaks the bridge protocol over a reader/writer pair. Round trips
// are serialized; a Client bound to a device implements device.Session.
type Client struct {
	id  types.DeviceID
	enc *ipc.FrameEncoder
	dec *ipc.FrameDecoder

	mu     sync.Mutex
	nextID uint64
	broken error
	closed bool

	// shutdown releases the transport after the close request.
	shutdown func() error
	// diag returns diagnostic text attached to connection errors.
	diag func() string
}

var _ device.Session = (*Client)(nil)

// NewClient returns a client reading responses from r and writing requests to w.
// shutdown is called once by Close and may be nil.
func NewClient(id types.DeviceID, r io.Reader, w io.Writer, shutdown func() error) *Client {
	return &Client{
		id:       id,
		enc:      ipc.NewFrameEncoder(w),
		dec:      ipc.NewFrameDecoder(r),
		shutdown: shutdown,
		diag:     func() string { return "" },
	}
}

// ID returns the serial number the client is bound to (0 for enumeration).
func (c *Client) ID() types.DeviceID { return c.id }

// call sends req and waits for the matching response.
func (c *Client) call(ctx context.Context, op ipc.Op, fill func(*ipc.Request)) (*ipc.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, device.ErrSessionClosed
	}
	if c.broken != nil {
		return nil, c.broken
	}

	c.nextID++
	req := ipc.NewRequest(c.nextID, op)
	if fill != nil {
		fill(req)
	}

	if err := c.enc.Encode(req); err != nil {
		return nil, c.fail(err)
	}

	payload, err := c.dec.ReadFrame()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, c.fail(err)
	}
	resp, err := ipc.DecodeResponse(payload)
	if err != nil {
		return nil, c.fail(err)
	}

	switch {
	case resp.ID == req.ID && resp.OK:
		return resp, nil
	case resp.ID == req.ID, resp.ID == 0 && resp.Code == ipc.CodeProtocol:
		// ID 0 answers a request the bridge could not decode.
		return nil, c.responseError(op, resp)
	default:
		return nil, c.fail(fmt.Errorf("response id %d does not match request %d", resp.ID, req.ID))
	}
}

// fail marks the transport unusable. Must be called with c.mu held.
func (c *Client) fail(err error) error {
	if d := c.diag(); d != "" {
		err = fmt.Errorf("%w (bridge stderr: %s)", err, d)
	}
	c.broken = &device.ConnectionError{Device: c.id, Err: err}
	return c.broken
}

func (c *Client) responseError(op ipc.Op, resp *ipc.Response) error {
	opErr := &OpError{Op: op, Code: resp.Code, Msg: resp.Error}
	if resp.Code == ipc.CodeConnection {
		return &device.ConnectionError{Device: c.id, Err: opErr}
	}
	return opErr
}

// Ping confirms the bridge is connected to its probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, ipc.OpPing, nil)
	return err
}

// Enumerate asks the bridge for the attached probe serial numbers.
func (c *Client) Enumerate(ctx context.Context) ([]types.DeviceID, error) {
	resp, err := c.call(ctx, ipc.OpEnumerate, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]types.DeviceID, 0, len(resp.Serials))
	for _, s := range resp.Serials {
		ids = append(ids, types.DeviceID(s))
	}
	return ids, nil
}

func (c *Client) Recover(ctx context.Context) error {
	_, err := c.call(ctx, ipc.OpRecover, nil)
	return err
}

func (c *Client) EraseAll(ctx context.Context) error {
	_, err := c.call(ctx, ipc.OpEraseAll, nil)
	return err
}

func (c *Client) EraseUICR(ctx context.Context) error {
	_, err := c.call(ctx, ipc.OpEraseUICR, nil)
	return err
}

func (c *Client) ErasePage(ctx context.Context, addr uint32) error {
	_, err := c.call(ctx, ipc.OpErasePage, func(r *ipc.Request) { r.Address = addr })
	return err
}

func (c *Client) Write(ctx context.Context, addr uint32, data []byte) error {
	_, err := c.call(ctx, ipc.OpWrite, func(r *ipc.Request) {
		r.Address = addr
		r.Data = data
	})
	return err
}

func (c *Client) Read(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("read: negative length %d", n)
	}
	resp, err := c.call(ctx, ipc.OpRead, func(r *ipc.Request) {
		r.Address = addr
		r.Length = uint32(n)
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) Reset(ctx context.Context) error {
	_, err := c.call(ctx, ipc.OpReset, nil)
	return err
}

// Close sends a close request when the transport is healthy and then
// releases it. Subsequent calls return nil.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	healthy := c.broken == nil
	c.mu.Unlock()

	var errs []error
	if healthy {
		if _, err := c.call(context.Background(), ipc.OpClose, nil); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if c.shutdown != nil {
		if err := c.shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

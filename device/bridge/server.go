package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/iox"
	"github.com/pithecene-io/multiflash/ipc"
	"github.com/pithecene-io/multiflash/types"
)

// Serve answers bridge requests read from r on w until a close request or
// end of input. When id is non-zero a session is opened on backend first and
// closed on return; an open failure is returned without reading any request.
// Without a session only ping and enumerate are served.
func Serve(ctx context.Context, r io.Reader, w io.Writer, backend device.Backend, family types.Family, id types.DeviceID) error {
	var sess device.Session
	if id != 0 {
		s, err := backend.Open(ctx, family, id)
		if err != nil {
			return err
		}
		sess = s
		defer iox.DiscardClose(sess)
	}

	dec := ipc.NewFrameDecoder(r)
	enc := ipc.NewFrameEncoder(w)

	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		req, err := ipc.DecodeRequest(payload)
		if err != nil {
			// The request id is unknown; answer with id 0.
			if werr := enc.Encode(&ipc.Response{Type: ipc.ResponseType, Code: ipc.CodeProtocol, Error: err.Error()}); werr != nil {
				return werr
			}
			continue
		}

		resp := handle(ctx, backend, family, sess, req)
		if err := enc.Encode(resp); err != nil {
			return err
		}
		if req.Op == ipc.OpClose {
			return nil
		}
	}
}

func handle(ctx context.Context, backend device.Backend, family types.Family, sess device.Session, req *ipc.Request) *ipc.Response {
	switch req.Op {
	case ipc.OpPing, ipc.OpClose:
		return ipc.OKResponse(req)
	case ipc.OpEnumerate:
		ids, err := backend.Enumerate(ctx, family)
		if err != nil {
			return errorResponse(req, err)
		}
		resp := ipc.OKResponse(req)
		resp.Serials = make([]int, len(ids))
		for i, id := range ids {
			resp.Serials[i] = int(id)
		}
		return resp
	}

	if sess == nil {
		return ipc.ErrorResponse(req, ipc.CodeProtocol, fmt.Sprintf("%s requires a device session", req.Op))
	}

	var err error
	resp := ipc.OKResponse(req)
	switch req.Op {
	case ipc.OpRecover:
		err = sess.Recover(ctx)
	case ipc.OpEraseAll:
		err = sess.EraseAll(ctx)
	case ipc.OpEraseUICR:
		err = sess.EraseUICR(ctx)
	case ipc.OpErasePage:
		err = sess.ErasePage(ctx, req.Address)
	case ipc.OpWrite:
		err = sess.Write(ctx, req.Address, req.Data)
	case ipc.OpRead:
		resp.Data, err = sess.Read(ctx, req.Address, int(req.Length))
	case ipc.OpReset:
		err = sess.Reset(ctx)
	default:
		return ipc.ErrorResponse(req, ipc.CodeProtocol, fmt.Sprintf("unknown op %q", req.Op))
	}
	if err != nil {
		return errorResponse(req, err)
	}
	return resp
}

func errorResponse(req *ipc.Request, err error) *ipc.Response {
	code := ipc.CodeOperation
	if device.IsConnectionError(err) || errors.Is(err, device.ErrSessionClosed) {
		code = ipc.CodeConnection
	}
	return ipc.ErrorResponse(req, code, err.Error())
}

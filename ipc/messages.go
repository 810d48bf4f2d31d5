package ipc

// Frame type discriminants.
const (
	RequestType  = "request"
	ResponseType = "response"
)

// Op names a probe operation carried by a Request.
type Op string

// Bridge operations. Each maps to exactly one probe primitive.
const (
	OpPing      Op = "ping"
	OpEnumerate Op = "enumerate"
	OpRecover   Op = "recover"
	OpEraseAll  Op = "erase_all"
	OpEraseUICR Op = "erase_uicr"
	OpErasePage Op = "erase_page"
	OpWrite     Op = "write"
	OpRead      Op = "read"
	OpReset     Op = "reset"
	OpClose     Op = "close"
)

// Response error codes.
const (
	// CodeConnection means the probe or target could not be reached.
	CodeConnection = "connection"
	// CodeOperation means the probe accepted the request but the operation failed.
	CodeOperation = "operation"
	// CodeProtocol means the request was malformed or the op is unknown.
	CodeProtocol = "protocol"
)

// Request asks the bridge to perform one operation.
type Request struct {
	Type    string `msgpack:"type"`
	ID      uint64 `msgpack:"id"`
	Op      Op     `msgpack:"op"`
	Address uint32 `msgpack:"address,omitempty"`
	Length  uint32 `msgpack:"length,omitempty"`
	Data    []byte `msgpack:"data,omitempty"`
}

// NewRequest returns a request frame for op.
func NewRequest(id uint64, op Op) *Request {
	return &Request{Type: RequestType, ID: id, Op: op}
}

// Response answers the Request with the same ID.
type Response struct {
	Type    string `msgpack:"type"`
	ID      uint64 `msgpack:"id"`
	OK      bool   `msgpack:"ok"`
	Error   string `msgpack:"error,omitempty"`
	Code    string `msgpack:"code,omitempty"`
	Data    []byte `msgpack:"data,omitempty"`
	Serials []int  `msgpack:"serials,omitempty"`
}

// OKResponse returns a successful response to req.
func OKResponse(req *Request) *Response {
	return &Response{Type: ResponseType, ID: req.ID, OK: true}
}

// ErrorResponse returns a failed response to req.
func ErrorResponse(req *Request, code, msg string) *Response {
	return &Response{Type: ResponseType, ID: req.ID, Code: code, Error: msg}
}

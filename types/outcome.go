package types

import "time"

// OutcomeStatus is the final status of one device.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates every step completed.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeFailed indicates the device stopped at a failing step.
	OutcomeFailed OutcomeStatus = "failed"
)

// ErrorKind classifies why a device or a whole run failed.
type ErrorKind string

// Per-device error kinds.
const (
	ErrorConnection     ErrorKind = "connection_failure"
	ErrorErase          ErrorKind = "erase_failure"
	ErrorWrite          ErrorKind = "write_failure"
	ErrorRead           ErrorKind = "read_failure"
	ErrorVerifyMismatch ErrorKind = "verify_mismatch"
	ErrorReset          ErrorKind = "reset_failure"
	ErrorCanceled       ErrorKind = "canceled"
	ErrorInternal       ErrorKind = "internal_error"
)

// Run-level error kinds. These abort the run before any device session opens.
const (
	ErrorConfiguration ErrorKind = "configuration_error"
	ErrorImageParse    ErrorKind = "image_parse_error"
	ErrorEnumeration   ErrorKind = "enumeration_failure"
)

// Mismatch locates the first difference found by a verify step.
type Mismatch struct {
	// Address is the absolute address of the first differing byte.
	Address uint32 `json:"address" yaml:"address"`
	// Offset is the offset of that byte within the verified range.
	Offset int `json:"offset" yaml:"offset"`
	// Expected is the byte that was written.
	Expected byte `json:"expected" yaml:"expected"`
	// Actual is the byte read back.
	Actual byte `json:"actual" yaml:"actual"`
	// ExpectedLen and ActualLen differ when the readback was short.
	ExpectedLen int `json:"expected_len" yaml:"expected_len"`
	ActualLen   int `json:"actual_len" yaml:"actual_len"`
}

// Outcome is the result of one device task.
// Each task produces its own value; outcomes are never shared between tasks.
type Outcome struct {
	Device       DeviceID      `json:"device" yaml:"device"`
	Status       OutcomeStatus `json:"status" yaml:"status"`
	Kind         ErrorKind     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Step         string        `json:"step,omitempty" yaml:"step,omitempty"`
	Message      string        `json:"message,omitempty" yaml:"message,omitempty"`
	Mismatch     *Mismatch     `json:"mismatch,omitempty" yaml:"mismatch,omitempty"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	PagesErased  int           `json:"pages_erased" yaml:"pages_erased"`
	BytesWritten int64         `json:"bytes_written" yaml:"bytes_written"`
}

// Succeeded reports whether the device completed its work.
func (o *Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

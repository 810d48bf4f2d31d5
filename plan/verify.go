package plan

import (
	"fmt"

	"github.com/pithecene-io/multiflash/types"
)

// MismatchError reports the first difference between written and read-back data.
type MismatchError struct {
	types.Mismatch
}

func (e *MismatchError) Error() string {
	if e.Offset >= min(e.ExpectedLen, e.ActualLen) {
		return fmt.Sprintf("verify mismatch at 0x%08X: read back %d bytes, expected %d",
			e.Address, e.ActualLen, e.ExpectedLen)
	}
	return fmt.Sprintf("verify mismatch at 0x%08X (offset %d): expected 0x%02X, read 0x%02X",
		e.Address, e.Offset, e.Expected, e.Actual)
}

// Compare checks actual against expected byte-for-byte and length-for-length.
// addr is the absolute address of expected[0]. It returns nil on a match and a
// *MismatchError locating the first difference otherwise.
func Compare(addr uint32, expected, actual []byte) error {
	n := min(len(expected), len(actual))
	for i := 0; i < n; i++ {
		if expected[i] != actual[i] {
			return &MismatchError{types.Mismatch{
				Address:     addr + uint32(i),
				Offset:      i,
				Expected:    expected[i],
				Actual:      actual[i],
				ExpectedLen: len(expected),
				ActualLen:   len(actual),
			}}
		}
	}

	if len(expected) != len(actual) {
		m := types.Mismatch{
			Address:     addr + uint32(n),
			Offset:      n,
			ExpectedLen: len(expected),
			ActualLen:   len(actual),
		}
		if n < len(expected) {
			m.Expected = expected[n]
		}
		return &MismatchError{m}
	}

	return nil
}

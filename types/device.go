// Package types defines core domain types for multiflash.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceID is the serial number of a debug probe.
// It addresses exactly one physical target for the duration of a run.
type DeviceID int

// String formats the serial number in decimal, as printed on the probe.
func (d DeviceID) String() string {
	return strconv.Itoa(int(d))
}

// ParseDeviceID parses a decimal probe serial number.
func ParseDeviceID(s string) (DeviceID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid serial number %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid serial number %q: must be positive", s)
	}
	return DeviceID(n), nil
}

// Family selects the target device family and therefore its flash page size.
type Family string

const (
	// FamilyNRF51 is the small-page family (1 KiB pages). It is the default.
	FamilyNRF51 Family = "NRF51"
	// FamilyNRF52 is the large-page family (4 KiB pages).
	FamilyNRF52 Family = "NRF52"
)

// DefaultFamily is used when no family is configured.
const DefaultFamily = FamilyNRF51

// Page sizes per family.
const (
	PageSizeNRF51 uint32 = 0x400
	PageSizeNRF52 uint32 = 0x1000
)

// ParseFamily parses a family name case-insensitively.
// An empty string selects DefaultFamily.
func ParseFamily(s string) (Family, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return DefaultFamily, nil
	case string(FamilyNRF51):
		return FamilyNRF51, nil
	case string(FamilyNRF52):
		return FamilyNRF52, nil
	default:
		return "", fmt.Errorf("invalid family: %q (must be NRF51 or NRF52)", s)
	}
}

// PageSize returns the erase granularity of the family in bytes.
func (f Family) PageSize() uint32 {
	if f == FamilyNRF52 {
		return PageSizeNRF52
	}
	return PageSizeNRF51
}

// Segment is a contiguous run of image bytes starting at Address.
// Segments of one image never overlap.
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns the first address past the segment.
func (s Segment) End() uint32 {
	return s.Address + uint32(len(s.Data))
}

package types

import (
	"errors"
	"fmt"
)

// Command is the top-level operation performed on every target device.
type Command string

const (
	// CommandRecover unlocks and fully erases each device.
	CommandRecover Command = "recover"
	// CommandProgram erases (per policy), writes, verifies and resets each device.
	CommandProgram Command = "program"
)

// ErasePolicy selects what is erased before programming.
// The policies are mutually exclusive.
type ErasePolicy int

const (
	// EraseNone assumes the touched flash is already erased.
	EraseNone ErasePolicy = iota
	// EraseAll erases all user flash and UICR before programming.
	EraseAll
	// EraseSectors erases only the pages the image touches.
	EraseSectors
	// EraseSectorsAndUICR erases UICR plus the pages the image touches.
	EraseSectorsAndUICR
)

// String returns the policy name used in logs and reports.
func (p ErasePolicy) String() string {
	switch p {
	case EraseNone:
		return "none"
	case EraseAll:
		return "erase_all"
	case EraseSectors:
		return "sectors"
	case EraseSectorsAndUICR:
		return "sectors_and_uicr"
	default:
		return fmt.Sprintf("erase_policy(%d)", int(p))
	}
}

// MarshalText renders the policy by name in JSON and YAML output.
func (p ErasePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ErrConflictingErase is returned when more than one erase flag is set.
var ErrConflictingErase = errors.New("--eraseall, --sectorserase and --sectorsanduicrerase are mutually exclusive")

// ErasePolicyFromFlags folds the three erase flags into one policy.
func ErasePolicyFromFlags(eraseAll, sectors, sectorsAndUICR bool) (ErasePolicy, error) {
	set := 0
	for _, b := range []bool{eraseAll, sectors, sectorsAndUICR} {
		if b {
			set++
		}
	}
	if set > 1 {
		return EraseNone, ErrConflictingErase
	}

	switch {
	case eraseAll:
		return EraseAll, nil
	case sectors:
		return EraseSectors, nil
	case sectorsAndUICR:
		return EraseSectorsAndUICR, nil
	default:
		return EraseNone, nil
	}
}

// RunConfig is the validated, immutable description of one invocation.
// It is built once by the CLI and shared read-only by every device task.
type RunConfig struct {
	// RunID identifies this invocation in logs, reports and the journal.
	RunID string
	// Command is recover or program.
	Command Command
	// Family selects the page size.
	Family Family
	// Devices lists the target serial numbers. Empty means all attached probes.
	Devices []DeviceID
	// Erase is the erase policy (program only).
	Erase ErasePolicy
	// Verify reads back and compares every written segment (program only).
	Verify bool
	// Reset issues a system reset after programming (program only).
	Reset bool
	// ImagePath is the Intel HEX file to program (program only).
	ImagePath string
}

// Validate checks the invariants the CLI must guarantee before any
// device is touched.
func (c *RunConfig) Validate() error {
	if c.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	if c.Family != FamilyNRF51 && c.Family != FamilyNRF52 {
		return fmt.Errorf("invalid family: %q", c.Family)
	}

	seen := make(map[DeviceID]struct{}, len(c.Devices))
	for _, id := range c.Devices {
		if id <= 0 {
			return fmt.Errorf("invalid serial number: %d", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("serial number %d listed more than once", id)
		}
		seen[id] = struct{}{}
	}

	switch c.Command {
	case CommandRecover:
		if c.Erase != EraseNone || c.Verify || c.Reset || c.ImagePath != "" {
			return errors.New("recover does not take erase, verify, reset or file options")
		}
	case CommandProgram:
		if c.ImagePath == "" {
			return errors.New("program requires --file")
		}
		if c.Erase < EraseNone || c.Erase > EraseSectorsAndUICR {
			return fmt.Errorf("invalid erase policy: %s", c.Erase)
		}
	default:
		return fmt.Errorf("invalid command: %q", c.Command)
	}

	return nil
}

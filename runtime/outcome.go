package runtime

import (
	"errors"

	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/image"
	"github.com/pithecene-io/multiflash/types"
)

// Process exit codes.
const (
	ExitCodeSuccess       = 0 // every device succeeded
	ExitCodeDeviceFailure = 1 // one or more device outcomes failed
	ExitCodeConfigError   = 2 // invalid or conflicting configuration
	ExitCodeImageError    = 3 // image could not be read or parsed
	ExitCodeEnumeration   = 4 // attached probes could not be listed
)

// ConfigError wraps a configuration problem detected before any device work.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// ClassifyRunError maps an error that aborted a run before or during device
// resolution to its error kind.
func ClassifyRunError(err error) types.ErrorKind {
	var cfgErr *ConfigError
	var enumErr *device.EnumerationError
	switch {
	case errors.As(err, &cfgErr):
		return types.ErrorConfiguration
	case image.IsParseError(err):
		return types.ErrorImageParse
	case errors.As(err, &enumErr):
		return types.ErrorEnumeration
	default:
		return types.ErrorInternal
	}
}

// ExitCode returns the process exit code for a run. err is the error that
// aborted the run, if any; result may be nil when err is set.
func ExitCode(result *RunResult, err error) int {
	if err != nil {
		switch ClassifyRunError(err) {
		case types.ErrorConfiguration:
			return ExitCodeConfigError
		case types.ErrorImageParse:
			return ExitCodeImageError
		case types.ErrorEnumeration:
			return ExitCodeEnumeration
		default:
			return ExitCodeDeviceFailure
		}
	}
	if result == nil || !result.Success() {
		return ExitCodeDeviceFailure
	}
	return ExitCodeSuccess
}

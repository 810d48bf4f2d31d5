package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/multiflash/cli/render"
	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/runtime"
	"github.com/pithecene-io/multiflash/types"
)

// ProbeInfo is one row of the ids listing.
type ProbeInfo struct {
	Serial types.DeviceID `json:"serial" yaml:"serial"`
	Family types.Family   `json:"family" yaml:"family"`
}

// IDsCommand returns the ids command.
// It lists attached probes without touching any target.
func IDsCommand() *cli.Command {
	return &cli.Command{
		Name:   "ids",
		Usage:  "List the serial numbers of attached debug probes",
		Flags:  append(OutputFlags(), TargetFlags()...),
		Action: idsAction,
	}
}

func idsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return exitWith(configErr(err))
	}

	opts, err := resolveOptions(c)
	if err != nil {
		return exitWith(err)
	}

	ids, err := buildBackend(opts).Enumerate(c.Context, opts.family)
	if err != nil {
		var enumErr *device.EnumerationError
		if !errors.As(err, &enumErr) {
			err = &device.EnumerationError{Err: err}
		}
		return exitWith(err)
	}

	probes := make([]ProbeInfo, 0, len(ids))
	for _, id := range ids {
		probes = append(probes, ProbeInfo{Serial: id, Family: opts.family})
	}
	if err := r.Render(probes); err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeDeviceFailure)
	}
	return nil
}

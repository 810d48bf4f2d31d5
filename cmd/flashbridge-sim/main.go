// Package main provides flashbridge-sim, a flash bridge helper backed by
// simulated devices.
//
// multiflash starts one helper per session as
//
//	flashbridge-sim [--devices 1001,1002] --family NRF52 [--snr 1001]
//
// and speaks the framed bridge protocol over stdin and stdout. Without
// --snr the helper serves enumeration only. Each process starts from
// erased flash, so state does not persist between sessions.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/multiflash/device/bridge"
	"github.com/pithecene-io/multiflash/device/sim"
	"github.com/pithecene-io/multiflash/types"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "flashbridge-sim",
		Usage:     "Flash bridge helper serving simulated nRF5 devices",
		Version:   types.Version,
		Reader:    os.Stdin,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "family",
				Value: string(types.DefaultFamily),
				Usage: "Device family: NRF51 or NRF52",
			},
			&cli.IntFlag{
				Name:  "snr",
				Usage: "Serial number of the device to open (0: enumeration only)",
			},
			&cli.IntSliceFlag{
				Name:  "devices",
				Value: cli.NewIntSlice(1001, 1002),
				Usage: "Serial numbers of the simulated probes",
			},
			&cli.UintFlag{
				Name:  "flash-size",
				Usage: "Simulated flash size in bytes (default: family size)",
			},
			&cli.BoolFlag{
				Name:  "locked",
				Usage: "Start every device with readback protection enabled",
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	family, err := types.ParseFamily(c.String("family"))
	if err != nil {
		return err
	}

	var ids []types.DeviceID
	for _, n := range c.IntSlice("devices") {
		if n <= 0 {
			return fmt.Errorf("invalid serial number: %d", n)
		}
		ids = append(ids, types.DeviceID(n))
	}

	backend := sim.NewBackend(sim.Config{
		Family:    family,
		FlashSize: uint32(c.Uint("flash-size")),
		Locked:    c.Bool("locked"),
	}, ids...)

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return bridge.Serve(ctx, c.App.Reader, c.App.Writer, backend, family, types.DeviceID(c.Int("snr")))
}

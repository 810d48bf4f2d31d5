// Package cmd provides CLI commands for the multiflash binary.
package cmd

import "github.com/urfave/cli/v2"

// Output flags shared by every command.
var (
	// FormatFlag selects output format: json, table, yaml.
	// It has no short alias; -f is --file on program.
	FormatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// QuietFlag suppresses the end-of-run summary.
	QuietFlag = &cli.BoolFlag{
		Name:  "quiet",
		Usage: "Suppress summary output",
	}
)

// Target flags shared by commands that talk to probes.
var (
	// ConfigFlag points at a multiflash.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to config file (default: ./multiflash.yaml if present)",
	}

	// FamilyFlag selects the device family.
	FamilyFlag = &cli.StringFlag{
		Name:  "family",
		Usage: "Device family: NRF51 or NRF52 (default NRF51)",
	}

	// SnrsFlag lists target serial numbers. Repeatable or comma-separated.
	SnrsFlag = &cli.IntSliceFlag{
		Name:    "snrs",
		Aliases: []string{"s"},
		Usage:   "Probe serial numbers to target, after all other flags (default: all attached probes)",
	}

	// BackendFlag selects the device backend.
	BackendFlag = &cli.StringFlag{
		Name:  "backend",
		Usage: "Device backend: bridge or sim (default bridge)",
	}

	// BridgeFlag is the vendor-library helper executable.
	BridgeFlag = &cli.StringFlag{
		Name:  "bridge",
		Usage: "Path to the flash bridge helper executable",
	}

	// LogLevelFlag sets the minimum log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error (default info)",
	}

	// LogFileFlag redirects logs to a file.
	LogFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Write logs to this file instead of stderr",
	}
)

// Flags of the commands that flash devices.
var (
	// TUIFlag enables the live progress view.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show live per-device progress",
	}

	// ReportFlag writes a JSON run report.
	ReportFlag = &cli.StringFlag{
		Name:  "report",
		Usage: "Write a JSON run report to this path (- for stderr)",
	}
)

// Journal flags.
var (
	JournalBackendFlag = &cli.StringFlag{
		Name:  "journal-backend",
		Usage: "Flash journal backend: fs or s3 (default fs)",
	}
	JournalPathFlag = &cli.StringFlag{
		Name:  "journal-path",
		Usage: "Flash journal location (fs: directory, s3: bucket/prefix); empty disables the journal",
	}
	JournalRegionFlag = &cli.StringFlag{
		Name:  "journal-s3-region",
		Usage: "AWS region for the s3 journal backend",
	}
	JournalEndpointFlag = &cli.StringFlag{
		Name:  "journal-s3-endpoint",
		Usage: "Custom S3 endpoint for S3-compatible storage",
	}
	JournalPathStyleFlag = &cli.BoolFlag{
		Name:  "journal-s3-path-style",
		Usage: "Use path-style S3 addressing",
	}
)

// Adapter flags.
var (
	AdapterFlag = &cli.StringFlag{
		Name:  "adapter",
		Usage: "Completion adapter: webhook, redis or mqtt",
	}
	AdapterURLFlag = &cli.StringFlag{
		Name:  "adapter-url",
		Usage: "Adapter endpoint (webhook URL, redis:// or mqtt:// URL)",
	}
	AdapterChannelFlag = &cli.StringFlag{
		Name:  "adapter-channel",
		Usage: "Redis channel for the redis adapter",
	}
	AdapterTopicFlag = &cli.StringFlag{
		Name:  "adapter-topic",
		Usage: "MQTT topic for the mqtt adapter",
	}
	AdapterTimeoutFlag = &cli.DurationFlag{
		Name:  "adapter-timeout",
		Usage: "Adapter publish timeout",
	}
	AdapterRetriesFlag = &cli.IntFlag{
		Name:  "adapter-retries",
		Usage: "Adapter retry attempts (default 3)",
	}
)

// OutputFlags returns the output flags shared by every command.
func OutputFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag, QuietFlag}
}

// TargetFlags returns the flags of commands that talk to probes.
func TargetFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, FamilyFlag, BackendFlag, BridgeFlag, LogLevelFlag, LogFileFlag}
}

// RunFlags returns every flag shared by recover and program.
func RunFlags() []cli.Flag {
	flags := append(OutputFlags(), TargetFlags()...)
	return append(flags,
		SnrsFlag, TUIFlag, ReportFlag,
		JournalBackendFlag, JournalPathFlag, JournalRegionFlag, JournalEndpointFlag, JournalPathStyleFlag,
		AdapterFlag, AdapterURLFlag, AdapterChannelFlag, AdapterTopicFlag, AdapterTimeoutFlag, AdapterRetriesFlag,
	)
}

// ProgramFlags returns the flags of the program command.
func ProgramFlags() []cli.Flag {
	return append(RunFlags(),
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "Intel HEX file to program (required)",
		},
		&cli.BoolFlag{
			Name:    "eraseall",
			Aliases: []string{"e"},
			Usage:   "Erase all flash and UICR before programming",
		},
		&cli.BoolFlag{
			Name:    "sectorserase",
			Aliases: []string{"se"},
			Usage:   "Erase only the pages the image touches",
		},
		&cli.BoolFlag{
			Name:    "sectorsanduicrerase",
			Aliases: []string{"u"},
			Usage:   "Erase UICR and the pages the image touches",
		},
		&cli.BoolFlag{
			Name:    "systemreset",
			Aliases: []string{"r"},
			Usage:   "Reset and run each device after programming",
		},
		&cli.BoolFlag{
			Name:    "verify",
			Aliases: []string{"v"},
			Usage:   "Read back and compare every written segment",
		},
	)
}

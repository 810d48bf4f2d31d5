package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/multiflash/cli/config"
	"github.com/pithecene-io/multiflash/runtime"
	"github.com/pithecene-io/multiflash/types"
)

// DefaultAdapterRetries applies when neither flag nor config sets retries.
const DefaultAdapterRetries = 3

// options is the resolved invocation: config file values overridden by flags.
type options struct {
	family   types.Family
	devices  []types.DeviceID
	backend  string
	bridge   config.BridgeConfig
	sim      config.SimConfig
	logLevel string
	logFile  string
	report   string
	journal  journalChoice
	adapter  adapterChoice
	tui      bool
	quiet    bool
}

// journalChoice holds the flash journal configuration.
type journalChoice struct {
	dataset   string
	backend   string // "fs" or "s3"
	path      string // fs: directory, s3: bucket/prefix
	region    string
	endpoint  string
	pathStyle bool
}

// adapterChoice holds the completion adapter configuration.
type adapterChoice struct {
	kind    string
	url     string
	channel string
	topic   string
	headers map[string]string
	timeout time.Duration
	retries int
}

// configErr wraps err as a configuration error.
func configErr(err error) error {
	return &runtime.ConfigError{Err: err}
}

// resolveOptions merges the config file and flags shared by every probe
// command. All failures are configuration errors.
func resolveOptions(c *cli.Context) (*options, error) {
	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return nil, configErr(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, configErr(err)
	}

	opts := &options{
		backend:  firstNonEmpty(c.String("backend"), cfg.Backend, "bridge"),
		bridge:   cfg.Bridge,
		sim:      cfg.Sim,
		logLevel: firstNonEmpty(c.String("log-level"), cfg.Log.Level, "info"),
		logFile:  firstNonEmpty(c.String("log-file"), cfg.Log.File),
		report:   firstNonEmpty(c.String("report"), cfg.Report),
		tui:      c.Bool("tui"),
		quiet:    c.Bool("quiet"),
	}

	family, err := types.ParseFamily(firstNonEmpty(c.String("family"), cfg.Family))
	if err != nil {
		return nil, configErr(err)
	}
	opts.family = family

	switch opts.backend {
	case "bridge":
		if p := c.String("bridge"); p != "" {
			opts.bridge.Path = p
		}
		if opts.bridge.Path == "" {
			return nil, configErr(errors.New("bridge backend requires --bridge or bridge.path"))
		}
	case "sim":
	default:
		return nil, configErr(fmt.Errorf("invalid backend %q (must be bridge or sim)", opts.backend))
	}

	devices, err := parseDevices(c)
	if err != nil {
		return nil, configErr(err)
	}
	opts.devices = devices

	opts.journal = journalChoice{
		dataset:   cfg.Journal.Dataset,
		backend:   firstNonEmpty(c.String("journal-backend"), cfg.Journal.Backend, "fs"),
		path:      firstNonEmpty(c.String("journal-path"), cfg.Journal.Path),
		region:    firstNonEmpty(c.String("journal-s3-region"), cfg.Journal.Region),
		endpoint:  firstNonEmpty(c.String("journal-s3-endpoint"), cfg.Journal.Endpoint),
		pathStyle: c.Bool("journal-s3-path-style") || cfg.Journal.S3PathStyle,
	}
	if b := opts.journal.backend; b != "fs" && b != "s3" {
		return nil, configErr(fmt.Errorf("invalid journal backend %q (must be fs or s3)", b))
	}

	opts.adapter, err = resolveAdapter(c, cfg.Adapter)
	if err != nil {
		return nil, configErr(err)
	}

	return opts, nil
}

func resolveAdapter(c *cli.Context, cfg config.AdapterConfig) (adapterChoice, error) {
	choice := adapterChoice{
		kind:    firstNonEmpty(c.String("adapter"), cfg.Type),
		url:     firstNonEmpty(c.String("adapter-url"), cfg.URL),
		channel: firstNonEmpty(c.String("adapter-channel"), cfg.Channel),
		topic:   firstNonEmpty(c.String("adapter-topic"), cfg.Topic),
		headers: cfg.Headers,
		timeout: cfg.Timeout.Duration,
		retries: DefaultAdapterRetries,
	}
	if c.IsSet("adapter-timeout") {
		choice.timeout = c.Duration("adapter-timeout")
	}
	if cfg.Retries != nil {
		choice.retries = *cfg.Retries
	}
	if c.IsSet("adapter-retries") {
		choice.retries = c.Int("adapter-retries")
	}

	if choice.kind == "" {
		if choice.url != "" {
			return choice, errors.New("--adapter-url requires --adapter")
		}
		return choice, nil
	}
	switch choice.kind {
	case "webhook", "redis", "mqtt":
	default:
		return choice, fmt.Errorf("invalid adapter %q (must be webhook, redis or mqtt)", choice.kind)
	}
	if choice.url == "" {
		return choice, fmt.Errorf("%s adapter requires --adapter-url", choice.kind)
	}
	if choice.retries < 0 {
		return choice, fmt.Errorf("adapter retries must be >= 0, got %d", choice.retries)
	}
	return choice, nil
}

// parseDevices collects --snrs values followed by trailing positional
// serial numbers, in the order given. Flag parsing stops at the first
// positional argument, so a flag after the serial numbers is reported by
// name instead of as a bad serial number.
func parseDevices(c *cli.Context) ([]types.DeviceID, error) {
	var ids []types.DeviceID
	for _, n := range c.IntSlice("snrs") {
		if n <= 0 {
			return nil, fmt.Errorf("invalid serial number: %d", n)
		}
		ids = append(ids, types.DeviceID(n))
	}
	for _, arg := range c.Args().Slice() {
		if len(arg) > 1 && strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %s follows the serial numbers; put flags before -s/--snrs and trailing serials", arg)
		}
		for _, part := range strings.Split(arg, ",") {
			id, err := types.ParseDeviceID(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// simDevices returns the ids served by the sim backend: the configured
// sim devices, or the requested targets when none are configured.
func (o *options) simDevices() []types.DeviceID {
	if len(o.sim.Devices) == 0 {
		return o.devices
	}
	ids := make([]types.DeviceID, 0, len(o.sim.Devices))
	for _, n := range o.sim.Devices {
		ids = append(ids, types.DeviceID(n))
	}
	return ids
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

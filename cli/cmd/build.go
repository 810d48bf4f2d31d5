package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pithecene-io/multiflash/adapter"
	"github.com/pithecene-io/multiflash/adapter/mqtt"
	"github.com/pithecene-io/multiflash/adapter/redis"
	"github.com/pithecene-io/multiflash/adapter/webhook"
	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/device/bridge"
	"github.com/pithecene-io/multiflash/device/sim"
	"github.com/pithecene-io/multiflash/iox"
	"github.com/pithecene-io/multiflash/lode"
	"github.com/pithecene-io/multiflash/log"
	"github.com/pithecene-io/multiflash/types"
)

// buildLogger creates the run logger. Logs go to --log-file when set;
// otherwise to stderr, or nowhere while the live progress view owns the
// terminal. The returned closer releases the log file.
func buildLogger(run *types.RunConfig, opts *options) (*log.Logger, func(), error) {
	logger := log.NewLogger(run)
	if err := logger.SetLevel(opts.logLevel); err != nil {
		return nil, nil, configErr(err)
	}

	closeFn := func() { iox.DiscardErr(logger.Sync) }
	switch {
	case opts.logFile != "":
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, configErr(fmt.Errorf("failed to open log file: %w", err))
		}
		logger = logger.WithOutput(f)
		closeFn = func() {
			iox.DiscardErr(logger.Sync)
			iox.DiscardClose(f)
		}
	case opts.tui:
		logger = logger.WithOutput(io.Discard)
	}
	return logger, closeFn, nil
}

// buildBackend creates the device backend selected by --backend.
func buildBackend(opts *options) device.Backend {
	if opts.backend == "sim" {
		cfg := sim.Config{
			Family:    opts.family,
			FlashSize: opts.sim.FlashSize,
			Locked:    opts.sim.Locked,
		}
		return sim.NewBackend(cfg, opts.simDevices()...)
	}

	b := bridge.NewBackend(opts.bridge.Path, opts.bridge.Args...)
	b.StopTimeout = opts.bridge.StopTimeout.Duration
	return b
}

// buildJournal creates the flash journal, or returns nil when no journal
// path is configured.
func buildJournal(choice journalChoice, run *types.RunConfig, imageSHA string, startTime time.Time) (lode.Journal, error) {
	if choice.path == "" {
		return nil, nil
	}

	cfg := lode.Config{
		Dataset:     choice.dataset,
		Family:      run.Family,
		Day:         lode.DeriveDay(startTime),
		RunID:       run.RunID,
		Command:     run.Command,
		ImageSHA256: imageSHA,
	}

	switch choice.backend {
	case "fs", "":
		if err := os.MkdirAll(choice.path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		return lode.NewLodeClient(cfg, choice.path)
	case "s3":
		bucket, prefix := lode.ParseS3Path(choice.path)
		return lode.NewLodeS3Client(cfg, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       choice.region,
			Endpoint:     choice.endpoint,
			UsePathStyle: choice.pathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown journal backend: %s (must be fs or s3)", choice.backend)
	}
}

// buildAdapter creates the completion adapter, or returns nil when none is
// configured.
func buildAdapter(choice adapterChoice) (adapter.Adapter, error) {
	switch choice.kind {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     choice.url,
			Headers: choice.headers,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     choice.url,
			Channel: choice.channel,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
	case "mqtt":
		return mqtt.New(mqtt.Config{
			URL:     choice.url,
			Topic:   choice.topic,
			Timeout: choice.timeout,
			Retries: choice.retries,
		})
	default:
		return nil, errors.New("unknown adapter: " + choice.kind)
	}
}

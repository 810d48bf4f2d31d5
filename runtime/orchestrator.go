// Package runtime runs one job on many devices at once.
//
// The Orchestrator resolves the target serial numbers, starts one goroutine
// per device, and joins them all before returning. Each goroutine opens and
// closes its own session; the only shared values are the read-only run
// configuration and plan, the logger and the metrics collector.
package runtime

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/log"
	"github.com/pithecene-io/multiflash/metrics"
	"github.com/pithecene-io/multiflash/plan"
	"github.com/pithecene-io/multiflash/types"
)

// Config configures a run.
type Config struct {
	// Run is the validated run configuration.
	Run *types.RunConfig
	// Plan is the program sequence shared by all devices. Required for program.
	Plan *plan.Plan
	// Backend discovers probes and opens sessions.
	Backend device.Backend
	// Logger is the run logger. If nil, a logger writing to stderr is created.
	Logger *log.Logger
	// Collector receives run metrics. If nil, no metrics are recorded.
	Collector *metrics.Collector
	// Progress receives per-device progress. Optional.
	Progress ProgressFunc
}

// RunResult is the aggregate of all device outcomes.
type RunResult struct {
	RunID   string
	Command types.Command
	Family  types.Family
	// Devices is the resolved target list in the order it was resolved.
	Devices []types.DeviceID
	// Outcomes holds one outcome per device, sorted by serial number.
	Outcomes  []types.Outcome
	StartedAt time.Time
	Duration  time.Duration
}

// Success reports whether every device succeeded.
func (r *RunResult) Success() bool {
	if len(r.Outcomes) == 0 {
		return false
	}
	for i := range r.Outcomes {
		if !r.Outcomes[i].Succeeded() {
			return false
		}
	}
	return true
}

// Failed returns the failed outcomes.
func (r *RunResult) Failed() []types.Outcome {
	var out []types.Outcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// Succeeded returns the number of successful devices.
func (r *RunResult) Succeeded() int {
	return len(r.Outcomes) - len(r.Failed())
}

// Orchestrator fans a job out to every target device.
type Orchestrator struct {
	config *Config
	logger *log.Logger
}

// NewOrchestrator creates an orchestrator.
// Returns error if the configuration is incomplete or invalid.
func NewOrchestrator(config *Config) (*Orchestrator, error) {
	if config.Run == nil {
		return nil, errors.New("run configuration is required")
	}
	if err := config.Run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run configuration: %w", err)
	}
	if config.Backend == nil {
		return nil, errors.New("device backend is required")
	}
	if config.Run.Command == types.CommandProgram && config.Plan == nil {
		return nil, errors.New("program requires a flash plan")
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(config.Run)
	}
	return &Orchestrator{config: config, logger: logger}, nil
}

// ResolveDevices returns the configured serial numbers, or enumerates the
// attached probes when none are configured. Enumeration uses its own
// temporary connection, closed before any device session opens.
func (o *Orchestrator) ResolveDevices(ctx context.Context) ([]types.DeviceID, error) {
	if len(o.config.Run.Devices) > 0 {
		return slices.Clone(o.config.Run.Devices), nil
	}

	ids, err := o.config.Backend.Enumerate(ctx, o.config.Run.Family)
	if err != nil {
		return nil, &device.EnumerationError{Err: err}
	}
	if len(ids) == 0 {
		return nil, &device.EnumerationError{Err: device.ErrNoDevices}
	}

	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	o.logger.Info("enumerated probes", map[string]any{
		"count":   len(ids),
		"devices": ids,
	})
	return ids, nil
}

// Execute runs the job on every device and waits for all of them.
// The returned error is non-nil only when the device set cannot be resolved;
// device failures are reported in the result.
func (o *Orchestrator) Execute(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	ids, err := o.ResolveDevices(ctx)
	if err != nil {
		o.logger.Error("device resolution failed", map[string]any{"error": err.Error()})
		return nil, err
	}

	o.logger.Info("starting run", map[string]any{
		"devices": ids,
		"steps":   o.stepCount(),
	})

	job := Job{Command: o.config.Run.Command, Plan: o.config.Plan}
	results := make(chan types.Outcome, len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id types.DeviceID) {
			defer wg.Done()
			results <- o.runDevice(ctx, id, job)
		}(id)
	}
	wg.Wait()
	close(results)

	outcomes := make([]types.Outcome, 0, len(ids))
	for out := range results {
		outcomes = append(outcomes, out)
	}
	slices.SortFunc(outcomes, func(a, b types.Outcome) int { return cmp.Compare(a.Device, b.Device) })

	result := &RunResult{
		RunID:     o.config.Run.RunID,
		Command:   o.config.Run.Command,
		Family:    o.config.Run.Family,
		Devices:   ids,
		Outcomes:  outcomes,
		StartedAt: start,
		Duration:  time.Since(start),
	}

	o.logger.Info("run completed", map[string]any{
		"devices":   len(ids),
		"succeeded": result.Succeeded(),
		"failed":    len(ids) - result.Succeeded(),
		"duration":  result.Duration.String(),
	})
	return result, nil
}

// runDevice owns one device for the whole job: it opens the session, runs
// the worker and closes the session on every path, including panics.
func (o *Orchestrator) runDevice(ctx context.Context, id types.DeviceID, job Job) (out types.Outcome) {
	start := time.Now()
	logger := o.logger.WithDevice(id)
	collector := o.config.Collector
	collector.IncDeviceStarted()

	defer func() {
		if r := recover(); r != nil {
			out = types.Outcome{Device: id}
			applyError(&out, &StepError{Kind: types.ErrorInternal, Step: "worker", Err: fmt.Errorf("panic: %v", r)})
		}
		out.Duration = time.Since(start)
		o.finish(logger, &out)
	}()

	o.emit(Progress{Device: id, Step: "connect", Total: o.stepCount()})

	sess, err := o.config.Backend.Open(ctx, o.config.Run.Family, id)
	if err != nil {
		collector.IncConnectionFailure()
		out = types.Outcome{Device: id}
		applyError(&out, &StepError{Kind: types.ErrorConnection, Step: "connect", Err: err})
		return out
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("session close failed", map[string]any{"error": cerr.Error()})
		}
	}()

	logger.Debug("session opened", nil)
	w := NewWorker(sess, logger, collector, o.config.Progress)
	return *w.Run(ctx, job)
}

func (o *Orchestrator) finish(logger *log.Logger, out *types.Outcome) {
	if out.Succeeded() {
		o.config.Collector.IncDeviceSucceeded()
		logger.Info("device succeeded", map[string]any{"duration": out.Duration.String()})
	} else {
		o.config.Collector.IncDeviceFailed(string(out.Kind))
		fields := map[string]any{
			"kind":    out.Kind,
			"step":    out.Step,
			"error":   out.Message,
			"elapsed": out.Duration.String(),
		}
		if out.Mismatch != nil {
			fields["mismatch_address"] = fmt.Sprintf("0x%08X", out.Mismatch.Address)
			fields["mismatch_offset"] = out.Mismatch.Offset
		}
		logger.Error("device failed", fields)
	}

	final := *out
	o.emit(Progress{Device: out.Device, Step: "done", Total: o.stepCount(), Outcome: &final})
}

func (o *Orchestrator) emit(p Progress) {
	if o.config.Progress != nil {
		o.config.Progress(p)
	}
}

func (o *Orchestrator) stepCount() int {
	if o.config.Run.Command == types.CommandRecover {
		return 1
	}
	return o.config.Plan.Len()
}

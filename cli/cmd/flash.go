package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/multiflash/adapter"
	"github.com/pithecene-io/multiflash/cli/render"
	"github.com/pithecene-io/multiflash/cli/tui"
	"github.com/pithecene-io/multiflash/image"
	"github.com/pithecene-io/multiflash/iox"
	"github.com/pithecene-io/multiflash/lode"
	"github.com/pithecene-io/multiflash/log"
	"github.com/pithecene-io/multiflash/metrics"
	"github.com/pithecene-io/multiflash/plan"
	"github.com/pithecene-io/multiflash/runtime"
	"github.com/pithecene-io/multiflash/types"
)

// finishTimeout bounds journal writes and adapter publishing after the run.
const finishTimeout = 30 * time.Second

// ProgramCommand returns the program command.
func ProgramCommand() *cli.Command {
	return &cli.Command{
		Name:      "program",
		Usage:     "Erase, write, verify and reset every target device",
		ArgsUsage: "[SNR...]",
		Flags:     ProgramFlags(),
		Action:    flashAction(types.CommandProgram),
	}
}

// RecoverCommand returns the recover command.
func RecoverCommand() *cli.Command {
	return &cli.Command{
		Name:      "recover",
		Usage:     "Unlock and fully erase every target device",
		ArgsUsage: "[SNR...]",
		Flags:     RunFlags(),
		Action:    flashAction(types.CommandRecover),
	}
}

// flashRun carries one program or recover invocation through its phases.
type flashRun struct {
	opts      *options
	run       *types.RunConfig
	renderer  *render.Renderer
	logger    *log.Logger
	collector *metrics.Collector
	image     *image.Image
	plan      *plan.Plan
	start     time.Time

	// closers are released when the run ends.
	closers []io.Closer
}

func flashAction(command types.Command) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return exitWith(configErr(err))
		}

		opts, err := resolveOptions(c)
		if err != nil {
			return exitWith(err)
		}

		run, err := buildRunConfig(c, command, opts)
		if err != nil {
			return exitWith(err)
		}

		logger, closeLog, err := buildLogger(run, opts)
		if err != nil {
			return exitWith(err)
		}
		defer closeLog()

		journalBackend := ""
		if opts.journal.path != "" {
			journalBackend = opts.journal.backend
		}

		f := &flashRun{
			opts:      opts,
			run:       run,
			renderer:  r,
			logger:    logger,
			collector: metrics.NewCollector(string(command), string(run.Family), opts.backend, journalBackend, run.RunID),
			start:     time.Now(),
		}
		return f.execute(c.Context)
	}
}

// buildRunConfig folds the resolved options and command flags into the
// immutable run configuration.
func buildRunConfig(c *cli.Context, command types.Command, opts *options) (*types.RunConfig, error) {
	run := &types.RunConfig{
		RunID:   uuid.NewString(),
		Command: command,
		Family:  opts.family,
		Devices: opts.devices,
	}

	if command == types.CommandProgram {
		erase, err := types.ErasePolicyFromFlags(c.Bool("eraseall"), c.Bool("sectorserase"), c.Bool("sectorsanduicrerase"))
		if err != nil {
			return nil, configErr(err)
		}
		run.Erase = erase
		run.Verify = c.Bool("verify")
		run.Reset = c.Bool("systemreset")
		run.ImagePath = c.String("file")
	}

	if err := run.Validate(); err != nil {
		return nil, configErr(err)
	}
	return run, nil
}

func (f *flashRun) execute(ctx context.Context) error {
	defer f.release()

	if f.run.Command == types.CommandProgram {
		if err := f.loadImage(); err != nil {
			return f.abort(err)
		}
	}

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			f.logger.Warn("interrupted, stopping after the current step", nil)
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := f.orchestrate(ctx)
	if err != nil {
		return f.abort(err)
	}

	exitCode := runtime.ExitCode(result, nil)

	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer finishCancel()

	journalPath := f.writeJournal(finishCtx, result, exitCode)
	f.publish(finishCtx, result, journalPath)

	if f.opts.report != "" {
		report := runtime.BuildRunReport(result, f.collector.Snapshot(), f.reportInput(nil), exitCode)
		if err := runtime.WriteRunReport(report, f.opts.report); err != nil {
			f.logger.Error("report write failed", map[string]any{"error": err.Error()})
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	if !f.opts.quiet {
		if err := f.renderer.RenderSummary(render.NewSummary(result, f.run.ImagePath)); err != nil {
			return fmt.Errorf("failed to render summary: %w", err)
		}
	}

	if exitCode != runtime.ExitCodeSuccess {
		return cli.Exit("", exitCode)
	}
	return nil
}

// loadImage parses the image and builds the shared flash plan.
func (f *flashRun) loadImage() error {
	img, err := image.Load(f.run.ImagePath)
	if err != nil {
		return err
	}
	f.image = img

	p, err := plan.Build(img.Segments, plan.Options{
		Erase:    f.run.Erase,
		PageSize: f.run.Family.PageSize(),
		Verify:   f.run.Verify,
		Reset:    f.run.Reset,
	})
	if err != nil {
		return configErr(err)
	}
	f.plan = p

	f.logger.Info("image loaded", map[string]any{
		"path":     img.Path,
		"sha256":   img.SHA256,
		"segments": len(img.Segments),
		"bytes":    img.Size(),
		"steps":    p.Len(),
		"erase":    f.run.Erase.String(),
	})
	return nil
}

// orchestrate runs every device, behind the live progress view when --tui
// is set.
func (f *flashRun) orchestrate(ctx context.Context) (*runtime.RunResult, error) {
	var result *runtime.RunResult
	work := func(ctx context.Context, progress runtime.ProgressFunc) error {
		orch, err := runtime.NewOrchestrator(&runtime.Config{
			Run:       f.run,
			Plan:      f.plan,
			Backend:   buildBackend(f.opts),
			Logger:    f.logger,
			Collector: f.collector,
			Progress:  progress,
		})
		if err != nil {
			return configErr(err)
		}
		result, err = orch.Execute(ctx)
		return err
	}

	if !f.opts.tui {
		return result, work(ctx, nil)
	}

	title := fmt.Sprintf("multiflash %s (%s)", f.run.Command, f.run.Family)
	err := tui.RunProgress(ctx, title, work, tea.WithOutput(os.Stderr))
	return result, err
}

// writeJournal appends the run to the flash journal. Failures are logged
// and never change device outcomes. Returns the journal location, or ""
// when nothing was written.
func (f *flashRun) writeJournal(ctx context.Context, result *runtime.RunResult, exitCode int) string {
	sha := ""
	if f.image != nil {
		sha = f.image.SHA256
	}

	j, err := buildJournal(f.opts.journal, f.run, sha, f.start)
	if err != nil {
		f.collector.IncJournalWriteFailure()
		f.logger.Error("journal unavailable", map[string]any{"error": err.Error()})
		return ""
	}
	if j == nil {
		return ""
	}
	journal := lode.NewInstrumentedJournal(j, f.collector)
	f.closers = append(f.closers, journal)

	if err := journal.WriteOutcomes(ctx, result.Outcomes); err != nil {
		f.logger.Error("journal write failed", map[string]any{"error": err.Error(), "record_kind": lode.RecordKindDeviceOutcome})
		return ""
	}
	summary := lode.RunSummary{
		Image:     f.run.ImagePath,
		ExitCode:  exitCode,
		StartedAt: result.StartedAt,
		Duration:  result.Duration,
		Outcomes:  result.Outcomes,
		Metrics:   f.collector.Snapshot(),
	}
	if err := journal.WriteRunSummary(ctx, summary); err != nil {
		f.logger.Error("journal write failed", map[string]any{"error": err.Error(), "record_kind": lode.RecordKindRunSummary})
		return ""
	}

	f.logger.Info("journal written", map[string]any{"path": f.opts.journal.path, "backend": f.opts.journal.backend})
	return f.opts.journal.path
}

// publish sends the flash_completed event. Failures are logged and never
// change the exit code.
func (f *flashRun) publish(ctx context.Context, result *runtime.RunResult, journalPath string) {
	a, err := buildAdapter(f.opts.adapter)
	if err != nil {
		f.collector.IncAdapterPublishFailure()
		f.logger.Error("adapter unavailable", map[string]any{"adapter": f.opts.adapter.kind, "error": err.Error()})
		return
	}
	if a == nil {
		return
	}
	f.closers = append(f.closers, a)

	in := adapter.EventInput{Image: f.run.ImagePath, JournalPath: journalPath}
	if f.image != nil {
		in.ImageSHA256 = f.image.SHA256
	}
	if err := a.Publish(ctx, adapter.NewFlashCompletedEvent(result, in)); err != nil {
		f.collector.IncAdapterPublishFailure()
		f.logger.Error("adapter publish failed", map[string]any{"adapter": f.opts.adapter.kind, "error": err.Error()})
		return
	}
	f.collector.IncAdapterPublishSuccess()
	f.logger.Info("completion event published", map[string]any{"adapter": f.opts.adapter.kind})
}

// release closes the journal and adapter.
func (f *flashRun) release() {
	if err := iox.CloseAll(f.closers...); err != nil {
		f.logger.Warn("close failed", map[string]any{"error": err.Error()})
	}
}

// abort ends a run that failed before producing device outcomes.
func (f *flashRun) abort(err error) error {
	code := runtime.ExitCode(nil, err)
	f.logger.Error("run aborted", map[string]any{
		"kind":  runtime.ClassifyRunError(err),
		"error": err.Error(),
	})

	if f.opts.report != "" {
		report := runtime.BuildRunReport(nil, f.collector.Snapshot(), f.reportInput(err), code)
		if werr := runtime.WriteRunReport(report, f.opts.report); werr != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", werr)
		}
	}
	return cli.Exit(err.Error(), code)
}

func (f *flashRun) reportInput(err error) runtime.ReportInput {
	in := runtime.ReportInput{Run: f.run, Err: err}
	if f.image != nil {
		in.Image = &runtime.ReportImage{
			Path:     f.image.Path,
			SHA256:   f.image.SHA256,
			Segments: len(f.image.Segments),
			Bytes:    int(f.image.Size()),
		}
	}
	return in
}

// exitWith converts a setup error into a cli exit error with its exit code.
func exitWith(err error) error {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		return err
	}
	return cli.Exit(err.Error(), runtime.ExitCode(nil, err))
}

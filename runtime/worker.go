package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/log"
	"github.com/pithecene-io/multiflash/metrics"
	"github.com/pithecene-io/multiflash/plan"
	"github.com/pithecene-io/multiflash/types"
)

// StepError is a failure of one step on one device.
type StepError struct {
	// Kind classifies the failure.
	Kind types.ErrorKind
	// Step describes the failing step, e.g. "erase_page(0x00000400)".
	Step string
	// Err is the underlying session or verification error.
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Job is the work assigned to every device of a run.
type Job struct {
	Command types.Command
	// Plan is the program sequence; ignored for recover.
	Plan *plan.Plan
}

// Progress reports a device moving through its work.
type Progress struct {
	Device types.DeviceID
	// Step is the step about to run ("connect", "recover", "write(...)", ...).
	Step string
	// Index is the 1-based step number; 0 while connecting.
	Index int
	// Total is the number of steps in the job.
	Total int
	// Outcome is set on the final report for the device.
	Outcome *types.Outcome
}

// ProgressFunc receives progress reports. It is called from device
// goroutines and must be safe for concurrent use.
type ProgressFunc func(Progress)

// Worker executes one job against one session it exclusively owns.
// Closing the session is the caller's responsibility.
type Worker struct {
	session   device.Session
	logger    *log.Logger
	collector *metrics.Collector
	progress  ProgressFunc

	pagesErased  int
	bytesWritten int64
}

// NewWorker creates a worker. logger must not be nil; collector and progress may be.
func NewWorker(session device.Session, logger *log.Logger, collector *metrics.Collector, progress ProgressFunc) *Worker {
	return &Worker{
		session:   session,
		logger:    logger,
		collector: collector,
		progress:  progress,
	}
}

// Run executes job and returns the device outcome. Duration is left to the caller.
func (w *Worker) Run(ctx context.Context, job Job) *types.Outcome {
	var err error
	switch job.Command {
	case types.CommandRecover:
		err = w.Recover(ctx)
	case types.CommandProgram:
		err = w.Execute(ctx, job.Plan)
	default:
		err = &StepError{Kind: types.ErrorInternal, Step: "dispatch", Err: fmt.Errorf("unknown command %q", job.Command)}
	}
	return w.outcome(err)
}

// Recover unlocks and fully erases the device.
func (w *Worker) Recover(ctx context.Context) error {
	w.report(Progress{Step: "recover", Index: 1, Total: 1})
	if err := w.session.Recover(ctx); err != nil {
		return &StepError{Kind: classify(err, types.ErrorErase), Step: "recover", Err: err}
	}
	w.collector.IncRecover()
	w.logger.Info("device recovered", nil)
	return nil
}

// Execute runs the plan steps strictly in order, stopping at the first failure.
// Cancellation is observed between steps only.
func (w *Worker) Execute(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return &StepError{Kind: types.ErrorInternal, Step: "plan", Err: errors.New("no plan")}
	}

	total := p.Len()
	for i, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Kind: types.ErrorCanceled, Step: step.String(), Err: err}
		}

		w.report(Progress{Step: step.String(), Index: i + 1, Total: total})
		w.logger.Debug("executing step", map[string]any{
			"step":  step.String(),
			"index": i + 1,
			"total": total,
		})

		if err := w.execStep(ctx, step); err != nil {
			return err
		}
	}

	w.logger.Info("device programmed", map[string]any{
		"steps":         total,
		"pages_erased":  w.pagesErased,
		"bytes_written": w.bytesWritten,
	})
	return nil
}

func (w *Worker) execStep(ctx context.Context, step plan.Step) error {
	fail := func(kind types.ErrorKind, err error) error {
		return &StepError{Kind: classify(err, kind), Step: step.String(), Err: err}
	}

	switch step.Kind {
	case plan.StepEraseAll:
		if err := w.session.EraseAll(ctx); err != nil {
			return fail(types.ErrorErase, err)
		}
		w.collector.IncEraseAll()

	case plan.StepEraseUICR:
		if err := w.session.EraseUICR(ctx); err != nil {
			return fail(types.ErrorErase, err)
		}
		w.collector.IncUICRErase()

	case plan.StepErasePage:
		if err := w.session.ErasePage(ctx, step.Address); err != nil {
			return fail(types.ErrorErase, err)
		}
		w.pagesErased++
		w.collector.IncPageErased()

	case plan.StepWrite:
		if err := w.session.Write(ctx, step.Address, step.Data); err != nil {
			return fail(types.ErrorWrite, err)
		}
		w.bytesWritten += int64(len(step.Data))
		w.collector.AddBytesWritten(int64(len(step.Data)))

	case plan.StepVerify:
		actual, err := w.session.Read(ctx, step.Address, len(step.Data))
		if err != nil {
			return fail(types.ErrorRead, err)
		}
		if err := plan.Compare(step.Address, step.Data, actual); err != nil {
			w.collector.IncVerifyMismatch()
			return fail(types.ErrorVerifyMismatch, err)
		}
		w.collector.AddBytesVerified(int64(len(step.Data)))

	case plan.StepReset:
		if err := w.session.Reset(ctx); err != nil {
			return fail(types.ErrorReset, err)
		}
		w.collector.IncReset()

	default:
		return fail(types.ErrorInternal, fmt.Errorf("unknown step kind %d", step.Kind))
	}
	return nil
}

// outcome converts the result of a job into the device outcome.
func (w *Worker) outcome(err error) *types.Outcome {
	out := &types.Outcome{
		Device:       w.session.ID(),
		Status:       types.OutcomeSuccess,
		PagesErased:  w.pagesErased,
		BytesWritten: w.bytesWritten,
	}
	if err != nil {
		applyError(out, err)
	}
	return out
}

func (w *Worker) report(p Progress) {
	if w.progress == nil {
		return
	}
	p.Device = w.session.ID()
	w.progress(p)
}

// classify lets connection loss and cancellation override the step's own kind.
func classify(err error, kind types.ErrorKind) types.ErrorKind {
	switch {
	case device.IsConnectionError(err):
		return types.ErrorConnection
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.ErrorCanceled
	default:
		return kind
	}
}

// applyError marks out as failed with the details carried by err.
func applyError(out *types.Outcome, err error) {
	out.Status = types.OutcomeFailed
	out.Message = err.Error()
	out.Kind = types.ErrorInternal

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		out.Kind = stepErr.Kind
		out.Step = stepErr.Step
		out.Message = stepErr.Err.Error()
	}

	var mm *plan.MismatchError
	if errors.As(err, &mm) {
		m := mm.Mismatch
		out.Mismatch = &m
	}
}

package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/multiflash/metrics"
	"github.com/pithecene-io/multiflash/types"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	RunID      string        `json:"run_id"`
	Command    types.Command `json:"command"`
	Family     types.Family  `json:"family"`
	Erase      string        `json:"erase,omitempty"`
	Verify     bool          `json:"verify"`
	Reset      bool          `json:"reset"`
	ExitCode   int           `json:"exit_code"`
	DurationMs int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`

	Image   *ReportImage      `json:"image,omitempty"`
	Summary *ReportSummary    `json:"summary"`
	Devices []ReportDevice    `json:"devices"`
	Metrics *metrics.Snapshot `json:"metrics"`
}

// ReportImage describes the programmed image.
type ReportImage struct {
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	Segments int    `json:"segments"`
	Bytes    int    `json:"bytes"`
}

// ReportSummary holds the device totals.
type ReportSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ReportDevice is the per-device entry of the report.
type ReportDevice struct {
	Device       types.DeviceID      `json:"device"`
	Status       types.OutcomeStatus `json:"status"`
	Kind         types.ErrorKind     `json:"kind,omitempty"`
	Step         string              `json:"step,omitempty"`
	Message      string              `json:"message,omitempty"`
	Mismatch     *types.Mismatch     `json:"mismatch,omitempty"`
	DurationMs   int64               `json:"duration_ms"`
	PagesErased  int                 `json:"pages_erased"`
	BytesWritten int64               `json:"bytes_written"`
}

// ReportInput carries the run context that RunResult does not hold.
type ReportInput struct {
	Run *types.RunConfig
	// Image is nil for recover and for runs that failed before parsing.
	Image *ReportImage
	// Err is the error that aborted the run, if any.
	Err error
}

// BuildRunReport composes a RunReport from a RunResult and metrics snapshot.
// result may be nil when the run was aborted before any device started.
func BuildRunReport(result *RunResult, snap metrics.Snapshot, in ReportInput, exitCode int) *RunReport {
	report := &RunReport{
		ExitCode: exitCode,
		Image:    in.Image,
		Summary:  &ReportSummary{},
		Devices:  []ReportDevice{},
		Metrics:  &snap,
	}

	if in.Run != nil {
		report.RunID = in.Run.RunID
		report.Command = in.Run.Command
		report.Family = in.Run.Family
		report.Verify = in.Run.Verify
		report.Reset = in.Run.Reset
		if in.Run.Command == types.CommandProgram {
			report.Erase = in.Run.Erase.String()
		}
	}
	if in.Err != nil {
		report.Error = in.Err.Error()
	}
	if result == nil {
		return report
	}

	report.DurationMs = result.Duration.Milliseconds()
	report.Summary.Total = len(result.Outcomes)
	report.Summary.Succeeded = result.Succeeded()
	report.Summary.Failed = report.Summary.Total - report.Summary.Succeeded

	for _, o := range result.Outcomes {
		report.Devices = append(report.Devices, ReportDevice{
			Device:       o.Device,
			Status:       o.Status,
			Kind:         o.Kind,
			Step:         o.Step,
			Message:      o.Message,
			Mismatch:     o.Mismatch,
			DurationMs:   o.Duration.Milliseconds(),
			PagesErased:  o.PagesErased,
			BytesWritten: o.BytesWritten,
		})
	}
	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeRunReportTo writes report JSON to any writer.
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

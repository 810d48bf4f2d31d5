package render

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pithecene-io/multiflash/cli/tui"
	"github.com/pithecene-io/multiflash/runtime"
	"github.com/pithecene-io/multiflash/types"
)

// Summary is the end-of-run view: one row per device plus totals.
type Summary struct {
	RunID     string          `json:"run_id" yaml:"run_id"`
	Command   types.Command   `json:"command" yaml:"command"`
	Family    types.Family    `json:"family" yaml:"family"`
	Image     string          `json:"image,omitempty" yaml:"image,omitempty"`
	Succeeded int             `json:"succeeded" yaml:"succeeded"`
	Failed    int             `json:"failed" yaml:"failed"`
	Duration  string          `json:"duration" yaml:"duration"`
	Devices   []DeviceSummary `json:"devices" yaml:"devices"`
}

// DeviceSummary is one device row of the summary.
type DeviceSummary struct {
	Device   types.DeviceID      `json:"device" yaml:"device"`
	Status   types.OutcomeStatus `json:"status" yaml:"status"`
	Kind     types.ErrorKind     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Step     string              `json:"step,omitempty" yaml:"step,omitempty"`
	Message  string              `json:"message,omitempty" yaml:"message,omitempty"`
	Mismatch *types.Mismatch     `json:"mismatch,omitempty" yaml:"mismatch,omitempty"`
	Duration string              `json:"duration" yaml:"duration"`
}

// NewSummary builds the summary view of a finished run.
// image is the programmed file, empty for recover.
func NewSummary(result *runtime.RunResult, image string) *Summary {
	s := &Summary{
		RunID:    result.RunID,
		Command:  result.Command,
		Family:   result.Family,
		Image:    image,
		Duration: roundDuration(result.Duration),
		Devices:  make([]DeviceSummary, 0, len(result.Outcomes)),
	}
	for _, o := range result.Outcomes {
		if o.Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.Devices = append(s.Devices, DeviceSummary{
			Device:   o.Device,
			Status:   o.Status,
			Kind:     o.Kind,
			Step:     o.Step,
			Message:  o.Message,
			Mismatch: o.Mismatch,
			Duration: roundDuration(o.Duration),
		})
	}
	return s
}

// RenderSummary writes the summary. Table output gets a device table and a
// totals line; json and yaml output encode the Summary as is.
func (r *Renderer) RenderSummary(s *Summary) error {
	if r.format != FormatTable {
		return r.Render(s)
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tSTATUS\tKIND\tSTEP\tDURATION\tMESSAGE")
	for _, d := range s.Devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Device, r.status(d.Status), dash(string(d.Kind)), dash(d.Step), d.Duration, dash(oneLine(d.Message)))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(r.out, "\n%s %s: %d succeeded, %d failed (%s)\n",
		s.Command, s.RunID, s.Succeeded, s.Failed, s.Duration)
	return err
}

// status pads before styling so ANSI sequences do not skew column widths.
func (r *Renderer) status(st types.OutcomeStatus) string {
	text := fmt.Sprintf("%-7s", st)
	if r.noColor {
		return text
	}
	return tui.StateStyle(string(st)).Render(text)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func roundDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// Package adapter defines the completion-notification boundary.
//
// Adapters publish a flash_completed event to a downstream system (a line
// controller, MES or dashboard) once every device of a run has finished.
// The CLI owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/multiflash/runtime"
	"github.com/pithecene-io/multiflash/types"
)

// ContractVersion is the version of the event payload shape.
const ContractVersion = "1.0.0"

// EventTypeFlashCompleted is the event_type of every published event.
const EventTypeFlashCompleted = "flash_completed"

// FlashCompletedEvent is the payload published when a run finishes.
type FlashCompletedEvent struct {
	ContractVersion  string           `json:"contract_version"`
	EventType        string           `json:"event_type"` // always "flash_completed"
	RunID            string           `json:"run_id"`
	Command          string           `json:"command"`
	Family           string           `json:"family"`
	Outcome          string           `json:"outcome"` // success or failed
	DevicesTotal     int              `json:"devices_total"`
	DevicesSucceeded int              `json:"devices_succeeded"`
	DevicesFailed    int              `json:"devices_failed"`
	FailedDevices    []types.DeviceID `json:"failed_devices"`
	Image            string           `json:"image,omitempty"`
	ImageSHA256      string           `json:"image_sha256,omitempty"`
	JournalPath      string           `json:"journal_path,omitempty"`
	Timestamp        string           `json:"timestamp"` // RFC 3339
	DurationMs       int64            `json:"duration_ms"`
}

// EventInput carries the run context not held by the RunResult.
type EventInput struct {
	Image       string
	ImageSHA256 string
	JournalPath string
	// Now stamps the event; zero means time.Now.
	Now time.Time
}

// NewFlashCompletedEvent builds the event for a finished run.
func NewFlashCompletedEvent(result *runtime.RunResult, in EventInput) *FlashCompletedEvent {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	outcome := string(types.OutcomeSuccess)
	if !result.Success() {
		outcome = string(types.OutcomeFailed)
	}

	failed := make([]types.DeviceID, 0)
	for _, o := range result.Failed() {
		failed = append(failed, o.Device)
	}

	return &FlashCompletedEvent{
		ContractVersion:  ContractVersion,
		EventType:        EventTypeFlashCompleted,
		RunID:            result.RunID,
		Command:          string(result.Command),
		Family:           string(result.Family),
		Outcome:          outcome,
		DevicesTotal:     len(result.Outcomes),
		DevicesSucceeded: result.Succeeded(),
		DevicesFailed:    len(failed),
		FailedDevices:    failed,
		Image:            in.Image,
		ImageSHA256:      in.ImageSHA256,
		JournalPath:      in.JournalPath,
		Timestamp:        now.UTC().Format(time.RFC3339),
		DurationMs:       result.Duration.Milliseconds(),
	}
}

// Adapter publishes flash completion events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *FlashCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

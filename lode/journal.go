// Package lode records flash runs in a Lode dataset.
//
// Every run appends one device_outcome record per device and one
// run_summary record. Records are Hive-partitioned by
// family/day/run_id/record_kind and encoded as JSONL, so a production
// line can answer "what was flashed onto serial N, when, and with which
// image" from the filesystem or an S3 bucket.
package lode

import (
	"context"
	"time"

	"github.com/pithecene-io/multiflash/metrics"
	"github.com/pithecene-io/multiflash/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "multiflash"

// DeriveDay computes the partition day from run start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// Config holds the partition keys of one run.
type Config struct {
	// Dataset is the Lode dataset ID (default "multiflash").
	Dataset string
	// Family is the device family partition key.
	Family types.Family
	// Day is derived from run start time (YYYY-MM-DD UTC).
	Day string
	// RunID is the run identifier partition key.
	RunID string
	// Command is the command that produced the run.
	Command types.Command
	// ImageSHA256 identifies the programmed image. Empty for recover.
	ImageSHA256 string
}

// RunSummary is the run-level journal entry.
type RunSummary struct {
	Image      string
	ExitCode   int
	StartedAt  time.Time
	Duration   time.Duration
	Outcomes   []types.Outcome
	Metrics    metrics.Snapshot
	FinishedAt time.Time
}

// Journal abstracts the journal storage client.
type Journal interface {
	// WriteOutcomes appends one device_outcome record per outcome.
	WriteOutcomes(ctx context.Context, outcomes []types.Outcome) error

	// WriteRunSummary appends the run_summary record.
	WriteRunSummary(ctx context.Context, summary RunSummary) error

	// Close releases client resources.
	Close() error
}

// StubJournal records writes without persisting.
type StubJournal struct {
	Outcomes  []types.Outcome
	Summaries []RunSummary
	Closed    bool
	// Err, when set, is returned by every write.
	Err error
}

// NewStubJournal creates a new stub journal.
func NewStubJournal() *StubJournal {
	return &StubJournal{}
}

// WriteOutcomes implements Journal.
func (j *StubJournal) WriteOutcomes(_ context.Context, outcomes []types.Outcome) error {
	if j.Err != nil {
		return j.Err
	}
	j.Outcomes = append(j.Outcomes, outcomes...)
	return nil
}

// WriteRunSummary implements Journal.
func (j *StubJournal) WriteRunSummary(_ context.Context, summary RunSummary) error {
	if j.Err != nil {
		return j.Err
	}
	j.Summaries = append(j.Summaries, summary)
	return nil
}

// Close implements Journal.
func (j *StubJournal) Close() error {
	j.Closed = true
	return nil
}

var _ Journal = (*StubJournal)(nil)

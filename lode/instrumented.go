package lode

import (
	"context"

	"github.com/pithecene-io/multiflash/metrics"
	"github.com/pithecene-io/multiflash/types"
)

// InstrumentedJournal wraps a Journal and counts write successes and
// failures on the metrics collector.
type InstrumentedJournal struct {
	inner     Journal
	collector *metrics.Collector
}

// NewInstrumentedJournal wraps a journal with metrics instrumentation.
func NewInstrumentedJournal(inner Journal, collector *metrics.Collector) *InstrumentedJournal {
	return &InstrumentedJournal{inner: inner, collector: collector}
}

// WriteOutcomes delegates to the inner journal and records the result.
func (j *InstrumentedJournal) WriteOutcomes(ctx context.Context, outcomes []types.Outcome) error {
	return j.record(j.inner.WriteOutcomes(ctx, outcomes))
}

// WriteRunSummary delegates to the inner journal and records the result.
// The summary's metrics snapshot is taken by the caller, so it does not
// include this write.
func (j *InstrumentedJournal) WriteRunSummary(ctx context.Context, summary RunSummary) error {
	return j.record(j.inner.WriteRunSummary(ctx, summary))
}

func (j *InstrumentedJournal) record(err error) error {
	if err != nil {
		j.collector.IncJournalWriteFailure()
	} else {
		j.collector.IncJournalWriteSuccess()
	}
	return err
}

// Close delegates to the inner journal.
func (j *InstrumentedJournal) Close() error {
	return j.inner.Close()
}

var _ Journal = (*InstrumentedJournal)(nil)

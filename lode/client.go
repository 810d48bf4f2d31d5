package lode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/multiflash/types"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("journal closed")

// LodeClient is a Lode-backed implementation of Journal.
// Uses Lode's HiveLayout with partition keys family/day/run_id/record_kind.
type LodeClient struct {
	dataset lode.Dataset
	config  Config
	now     func() time.Time

	mu     sync.Mutex // serializes dataset writes
	closed bool
}

// NewLodeClient creates a journal client with filesystem storage.
// The root parameter is the base directory for Hive-partitioned storage.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a journal client with a custom store
// factory. Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	if cfg.RunID == "" {
		return nil, errors.New("journal requires a run id")
	}
	if cfg.Day == "" {
		cfg.Day = DeriveDay(time.Now())
	}

	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &LodeClient{dataset: ds, config: cfg, now: time.Now}, nil
}

// WriteOutcomes writes one device_outcome record per outcome in a single
// dataset snapshot.
func (c *LodeClient) WriteOutcomes(ctx context.Context, outcomes []types.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	ts := c.now()
	records := make([]any, 0, len(outcomes))
	for _, o := range outcomes {
		records = append(records, toOutcomeRecordMap(o, c.config, ts))
	}
	return c.write(ctx, records)
}

// WriteRunSummary writes the run_summary record.
func (c *LodeClient) WriteRunSummary(ctx context.Context, summary RunSummary) error {
	if summary.FinishedAt.IsZero() {
		summary.FinishedAt = c.now()
	}
	return c.write(ctx, []any{toRunSummaryRecordMap(summary, c.config)})
}

func (c *LodeClient) write(ctx context.Context, records []any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.partitionPath())
	}
	return nil
}

// partitionPath is the run's partition prefix, used in error messages.
func (c *LodeClient) partitionPath() string {
	return fmt.Sprintf("%s/family=%s/day=%s/run_id=%s",
		c.config.Dataset, c.config.Family, c.config.Day, c.config.RunID)
}

// Close releases client resources.
func (c *LodeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Dataset doesn't require explicit close in current Lode API
	c.closed = true
	return nil
}

var _ Journal = (*LodeClient)(nil)

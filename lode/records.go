package lode

import (
	"time"

	"github.com/pithecene-io/multiflash/metrics"
	"github.com/pithecene-io/multiflash/types"
)

// Record kinds. record_kind is also the last Hive partition key.
const (
	RecordKindDeviceOutcome = "device_outcome"
	RecordKindRunSummary    = "run_summary"
)

// hiveKeys is the partition layout shared by the write and read paths.
var hiveKeys = []string{"family", "day", "run_id", "record_kind"}

// partitionMap returns the keys every record carries.
// Lode HiveLayout requires records as map[string]any.
func partitionMap(kind string, cfg Config) map[string]any {
	return map[string]any{
		"record_kind": kind,
		"family":      string(cfg.Family),
		"day":         cfg.Day,
		"run_id":      cfg.RunID,
		"command":     string(cfg.Command),
	}
}

// toOutcomeRecordMap converts one device outcome to a journal record.
func toOutcomeRecordMap(o types.Outcome, cfg Config, ts time.Time) map[string]any {
	m := partitionMap(RecordKindDeviceOutcome, cfg)
	m["ts"] = ts.UTC().Format(time.RFC3339Nano)
	m["device"] = int64(o.Device)
	m["status"] = string(o.Status)
	m["duration_ms"] = o.Duration.Milliseconds()
	m["pages_erased"] = int64(o.PagesErased)
	m["bytes_written"] = o.BytesWritten
	if cfg.ImageSHA256 != "" {
		m["image_sha256"] = cfg.ImageSHA256
	}
	if o.Kind != "" {
		m["kind"] = string(o.Kind)
	}
	if o.Step != "" {
		m["step"] = o.Step
	}
	if o.Message != "" {
		m["message"] = o.Message
	}
	if mm := o.Mismatch; mm != nil {
		m["mismatch"] = map[string]any{
			"address":      int64(mm.Address),
			"offset":       int64(mm.Offset),
			"expected":     int64(mm.Expected),
			"actual":       int64(mm.Actual),
			"expected_len": int64(mm.ExpectedLen),
			"actual_len":   int64(mm.ActualLen),
		}
	}
	return m
}

// toRunSummaryRecordMap converts a run summary to a journal record.
func toRunSummaryRecordMap(s RunSummary, cfg Config) map[string]any {
	failed := make([]any, 0)
	succeeded := 0
	for _, o := range s.Outcomes {
		if o.Succeeded() {
			succeeded++
		} else {
			failed = append(failed, int64(o.Device))
		}
	}

	outcome := string(types.OutcomeSuccess)
	if len(s.Outcomes) == 0 || len(failed) > 0 {
		outcome = string(types.OutcomeFailed)
	}

	m := partitionMap(RecordKindRunSummary, cfg)
	m["ts"] = s.FinishedAt.UTC().Format(time.RFC3339Nano)
	m["started_at"] = s.StartedAt.UTC().Format(time.RFC3339Nano)
	m["duration_ms"] = s.Duration.Milliseconds()
	m["exit_code"] = int64(s.ExitCode)
	m["outcome"] = outcome
	m["devices_total"] = int64(len(s.Outcomes))
	m["devices_succeeded"] = int64(succeeded)
	m["devices_failed"] = int64(len(failed))
	m["failed_devices"] = failed
	m["metrics"] = toMetricsMap(s.Metrics)
	if s.Image != "" {
		m["image"] = s.Image
	}
	if cfg.ImageSHA256 != "" {
		m["image_sha256"] = cfg.ImageSHA256
	}
	return m
}

// toMetricsMap flattens a metrics snapshot into *_total counters.
func toMetricsMap(snap metrics.Snapshot) map[string]any {
	m := map[string]any{
		"devices_started_total":         snap.DevicesStarted,
		"devices_succeeded_total":       snap.DevicesSucceeded,
		"devices_failed_total":          snap.DevicesFailed,
		"connection_failures_total":     snap.ConnectionFailures,
		"recovers_total":                snap.Recovers,
		"erase_alls_total":              snap.EraseAlls,
		"uicr_erases_total":             snap.UICRErases,
		"pages_erased_total":            snap.PagesErased,
		"bytes_written_total":           snap.BytesWritten,
		"bytes_verified_total":          snap.BytesVerified,
		"verify_mismatches_total":       snap.VerifyMismatches,
		"resets_total":                  snap.Resets,
		"journal_write_success_total":   snap.JournalWriteSuccess,
		"journal_write_failure_total":   snap.JournalWriteFailure,
		"adapter_publish_success_total": snap.AdapterPublishSuccess,
		"adapter_publish_failure_total": snap.AdapterPublishFailure,
		"backend":                       snap.Backend,
	}
	if len(snap.FailuresByKind) > 0 {
		byKind := make(map[string]any, len(snap.FailuresByKind))
		for k, v := range snap.FailuresByKind {
			byKind[k] = v
		}
		m["failures_by_kind"] = byKind
	}
	if snap.JournalBackend != "" {
		m["journal_backend"] = snap.JournalBackend
	}
	return m
}

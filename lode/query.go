package lode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/multiflash/types"
)

// ErrNoRecords is returned when no matching journal records exist.
var ErrNoRecords = errors.New("no matching journal records found")

// QueryLatestRunSummary finds the most recent run_summary record.
// Filters by runID and family if non-empty.
func QueryLatestRunSummary(ctx context.Context, ds lode.Dataset, runID string, family types.Family) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	filters := map[string]string{
		"record_kind": RecordKindRunSummary,
		"run_id":      runID,
		"family":      string(family),
	}

	// Snapshots are ordered by creation time; walk latest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, filters) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", string(ds.ID()), snap.ID))
		}

		// Manifest paths are a coarse pre-filter; record fields are authoritative.
		for j := len(data) - 1; j >= 0; j-- {
			record, ok := data[j].(map[string]any)
			if ok && recordMatches(record, filters) {
				return record, nil
			}
		}
	}

	return nil, ErrNoRecords
}

// QueryDeviceHistory returns every device_outcome record for one serial
// number, oldest first.
func QueryDeviceHistory(ctx context.Context, ds lode.Dataset, device types.DeviceID) ([]map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	filters := map[string]string{"record_kind": RecordKindDeviceOutcome}
	var history []map[string]any
	seen := make(map[string]struct{})
	for _, snap := range snapshots {
		if !snapshotMatches(snap, filters) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", string(ds.ID()), snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || toString(record["record_kind"]) != RecordKindDeviceOutcome {
				continue
			}
			if types.DeviceID(toInt64(record["device"])) != device {
				continue
			}
			// A record may appear in more than one snapshot.
			key := toString(record["run_id"]) + "/" + toString(record["ts"])
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			history = append(history, record)
		}
	}

	if len(history) == 0 {
		return nil, ErrNoRecords
	}
	slices.SortStableFunc(history, func(a, b map[string]any) int {
		return strings.Compare(toString(a["ts"]), toString(b["ts"]))
	})
	return history, nil
}

// snapshotMatches reports whether any file of the snapshot lies in a
// partition matching every non-empty filter.
func snapshotMatches(snap *lode.DatasetSnapshot, filters map[string]string) bool {
	for _, f := range snap.Manifest.Files {
		ok := true
		for key, value := range filters {
			if value != "" && !matchesPartitionValue(f.Path, key, value) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func recordMatches(record map[string]any, filters map[string]string) bool {
	for key, value := range filters {
		if value != "" && toString(record[key]) != value {
			return false
		}
	}
	return true
}

// matchesPartitionValue checks if a Hive-partitioned path contains an exact
// key=value segment. This avoids substring false positives
// (run_id=run-1 matching run_id=run-10).
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	return slices.Contains(strings.Split(path, "/"), segment)
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 converts a decoded JSON number to int64.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

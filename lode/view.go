package lode

// RunView is the typed form of a run_summary record.
type RunView struct {
	RunID         string  `json:"run_id" yaml:"run_id"`
	Command       string  `json:"command" yaml:"command"`
	Family        string  `json:"family" yaml:"family"`
	Timestamp     string  `json:"ts" yaml:"ts"`
	Outcome       string  `json:"outcome" yaml:"outcome"`
	ExitCode      int64   `json:"exit_code" yaml:"exit_code"`
	DurationMs    int64   `json:"duration_ms" yaml:"duration_ms"`
	Total         int64   `json:"devices_total" yaml:"devices_total"`
	Succeeded     int64   `json:"devices_succeeded" yaml:"devices_succeeded"`
	Failed        int64   `json:"devices_failed" yaml:"devices_failed"`
	FailedDevices []int64 `json:"failed_devices" yaml:"failed_devices"`
	Image         string  `json:"image,omitempty" yaml:"image,omitempty"`
	ImageSHA256   string  `json:"image_sha256,omitempty" yaml:"image_sha256,omitempty"`
}

// NewRunView decodes a run_summary record as returned by
// QueryLatestRunSummary.
func NewRunView(record map[string]any) RunView {
	v := RunView{
		RunID:         toString(record["run_id"]),
		Command:       toString(record["command"]),
		Family:        toString(record["family"]),
		Timestamp:     toString(record["ts"]),
		Outcome:       toString(record["outcome"]),
		ExitCode:      toInt64(record["exit_code"]),
		DurationMs:    toInt64(record["duration_ms"]),
		Total:         toInt64(record["devices_total"]),
		Succeeded:     toInt64(record["devices_succeeded"]),
		Failed:        toInt64(record["devices_failed"]),
		FailedDevices: []int64{},
		Image:         toString(record["image"]),
		ImageSHA256:   toString(record["image_sha256"]),
	}
	if failed, ok := record["failed_devices"].([]any); ok {
		for _, d := range failed {
			v.FailedDevices = append(v.FailedDevices, toInt64(d))
		}
	}
	return v
}

// HistoryEntry is the typed form of a device_outcome record.
type HistoryEntry struct {
	Timestamp   string `json:"ts" yaml:"ts"`
	RunID       string `json:"run_id" yaml:"run_id"`
	Command     string `json:"command" yaml:"command"`
	Status      string `json:"status" yaml:"status"`
	Kind        string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Step        string `json:"step,omitempty" yaml:"step,omitempty"`
	Message     string `json:"message,omitempty" yaml:"message,omitempty"`
	DurationMs  int64  `json:"duration_ms" yaml:"duration_ms"`
	ImageSHA256 string `json:"image_sha256,omitempty" yaml:"image_sha256,omitempty"`
}

// NewHistoryEntries decodes the records returned by QueryDeviceHistory.
func NewHistoryEntries(records []map[string]any) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, HistoryEntry{
			Timestamp:   toString(r["ts"]),
			RunID:       toString(r["run_id"]),
			Command:     toString(r["command"]),
			Status:      toString(r["status"]),
			Kind:        toString(r["kind"]),
			Step:        toString(r["step"]),
			Message:     toString(r["message"]),
			DurationMs:  toInt64(r["duration_ms"]),
			ImageSHA256: toString(r["image_sha256"]),
		})
	}
	return entries
}

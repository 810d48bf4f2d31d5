// Package metrics provides per-run flashing counters.
//
// The Collector accumulates counters during a single run and is shared by all
// device goroutines. It is a leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Devices
	DevicesStarted     int64 `json:"devices_started"`
	DevicesSucceeded   int64 `json:"devices_succeeded"`
	DevicesFailed      int64 `json:"devices_failed"`
	ConnectionFailures int64 `json:"connection_failures"`
	// FailuresByKind counts failed devices per error kind.
	FailuresByKind map[string]int64 `json:"failures_by_kind,omitempty"`

	// Flash operations
	Recovers         int64 `json:"recovers"`
	EraseAlls        int64 `json:"erase_alls"`
	UICRErases       int64 `json:"uicr_erases"`
	PagesErased      int64 `json:"pages_erased"`
	BytesWritten     int64 `json:"bytes_written"`
	BytesVerified    int64 `json:"bytes_verified"`
	VerifyMismatches int64 `json:"verify_mismatches"`
	Resets           int64 `json:"resets"`

	// Journal / adapter
	JournalWriteSuccess   int64 `json:"journal_write_success"`
	JournalWriteFailure   int64 `json:"journal_write_failure"`
	AdapterPublishSuccess int64 `json:"adapter_publish_success"`
	AdapterPublishFailure int64 `json:"adapter_publish_failure"`

	// Dimensions (informational, set at construction)
	Command        string `json:"command"`
	Family         string `json:"family"`
	Backend        string `json:"backend"`
	JournalBackend string `json:"journal_backend,omitempty"`
	RunID          string `json:"run_id"`
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	devicesStarted     int64
	devicesSucceeded   int64
	devicesFailed      int64
	connectionFailures int64
	failuresByKind     map[string]int64

	recovers         int64
	eraseAlls        int64
	uicrErases       int64
	pagesErased      int64
	bytesWritten     int64
	bytesVerified    int64
	verifyMismatches int64
	resets           int64

	journalWriteSuccess   int64
	journalWriteFailure   int64
	adapterPublishSuccess int64
	adapterPublishFailure int64

	command        string
	family         string
	backend        string
	journalBackend string
	runID          string
}

// NewCollector creates a Collector with dimension labels.
// journalBackend is empty when no journal is configured.
func NewCollector(command, family, backend, journalBackend, runID string) *Collector {
	return &Collector{
		failuresByKind: make(map[string]int64),
		command:        command,
		family:         family,
		backend:        backend,
		journalBackend: journalBackend,
		runID:          runID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Devices ---

// IncDeviceStarted records a device task start.
func (c *Collector) IncDeviceStarted() {
	if c == nil {
		return
	}
	c.add(&c.devicesStarted, 1)
}

// IncDeviceSucceeded records a device that completed every step.
func (c *Collector) IncDeviceSucceeded() {
	if c == nil {
		return
	}
	c.add(&c.devicesSucceeded, 1)
}

// IncDeviceFailed records a failed device under its error kind.
func (c *Collector) IncDeviceFailed(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.devicesFailed++
	c.failuresByKind[kind]++
	c.mu.Unlock()
}

// IncConnectionFailure records a session that could not be opened.
func (c *Collector) IncConnectionFailure() {
	if c == nil {
		return
	}
	c.add(&c.connectionFailures, 1)
}

// --- Flash operations ---

// IncRecover records a completed recover.
func (c *Collector) IncRecover() {
	if c == nil {
		return
	}
	c.add(&c.recovers, 1)
}

// IncEraseAll records a completed full erase.
func (c *Collector) IncEraseAll() {
	if c == nil {
		return
	}
	c.add(&c.eraseAlls, 1)
}

// IncUICRErase records a completed UICR erase.
func (c *Collector) IncUICRErase() {
	if c == nil {
		return
	}
	c.add(&c.uicrErases, 1)
}

// IncPageErased records a completed page erase.
func (c *Collector) IncPageErased() {
	if c == nil {
		return
	}
	c.add(&c.pagesErased, 1)
}

// AddBytesWritten records n programmed bytes.
func (c *Collector) AddBytesWritten(n int64) {
	if c == nil {
		return
	}
	c.add(&c.bytesWritten, n)
}

// AddBytesVerified records n bytes that matched on readback.
func (c *Collector) AddBytesVerified(n int64) {
	if c == nil {
		return
	}
	c.add(&c.bytesVerified, n)
}

// IncVerifyMismatch records a failed verify step.
func (c *Collector) IncVerifyMismatch() {
	if c == nil {
		return
	}
	c.add(&c.verifyMismatches, 1)
}

// IncReset records a completed system reset.
func (c *Collector) IncReset() {
	if c == nil {
		return
	}
	c.add(&c.resets, 1)
}

// --- Journal / adapter ---
// Journal counters are per-call, not per-record.

// IncJournalWriteSuccess records a successful journal write.
func (c *Collector) IncJournalWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.journalWriteSuccess, 1)
}

// IncJournalWriteFailure records a failed journal write.
func (c *Collector) IncJournalWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.journalWriteFailure, 1)
}

// IncAdapterPublishSuccess records a delivered completion event.
func (c *Collector) IncAdapterPublishSuccess() {
	if c == nil {
		return
	}
	c.add(&c.adapterPublishSuccess, 1)
}

// IncAdapterPublishFailure records a completion event that could not be delivered.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.adapterPublishFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.failuresByKind))
	for k, v := range c.failuresByKind {
		byKind[k] = v
	}

	return Snapshot{
		DevicesStarted:     c.devicesStarted,
		DevicesSucceeded:   c.devicesSucceeded,
		DevicesFailed:      c.devicesFailed,
		ConnectionFailures: c.connectionFailures,
		FailuresByKind:     byKind,

		Recovers:         c.recovers,
		EraseAlls:        c.eraseAlls,
		UICRErases:       c.uicrErases,
		PagesErased:      c.pagesErased,
		BytesWritten:     c.bytesWritten,
		BytesVerified:    c.bytesVerified,
		VerifyMismatches: c.verifyMismatches,
		Resets:           c.resets,

		JournalWriteSuccess:   c.journalWriteSuccess,
		JournalWriteFailure:   c.journalWriteFailure,
		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,

		Command:        c.command,
		Family:         c.family,
		Backend:        c.backend,
		JournalBackend: c.journalBackend,
		RunID:          c.runID,
	}
}

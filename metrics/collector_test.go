package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("program", "NRF52", "sim", "fs", "run-001")

	c.IncDeviceStarted()
	c.IncDeviceStarted()
	c.IncDeviceStarted()
	c.IncDeviceSucceeded()
	c.IncDeviceFailed("connection_failure")
	c.IncDeviceFailed("verify_mismatch")
	c.IncConnectionFailure()
	c.IncRecover()
	c.IncEraseAll()
	c.IncUICRErase()
	c.IncPageErased()
	c.IncPageErased()
	c.AddBytesWritten(256)
	c.AddBytesWritten(100)
	c.AddBytesVerified(256)
	c.IncVerifyMismatch()
	c.IncReset()
	c.IncJournalWriteSuccess()
	c.IncJournalWriteFailure()
	c.IncAdapterPublishSuccess()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()

	checks := []struct {
		name      string
		got, want int64
	}{
		{"DevicesStarted", s.DevicesStarted, 3},
		{"DevicesSucceeded", s.DevicesSucceeded, 1},
		{"DevicesFailed", s.DevicesFailed, 2},
		{"ConnectionFailures", s.ConnectionFailures, 1},
		{"Recovers", s.Recovers, 1},
		{"EraseAlls", s.EraseAlls, 1},
		{"UICRErases", s.UICRErases, 1},
		{"PagesErased", s.PagesErased, 2},
		{"BytesWritten", s.BytesWritten, 356},
		{"BytesVerified", s.BytesVerified, 256},
		{"VerifyMismatches", s.VerifyMismatches, 1},
		{"Resets", s.Resets, 1},
		{"JournalWriteSuccess", s.JournalWriteSuccess, 1},
		{"JournalWriteFailure", s.JournalWriteFailure, 1},
		{"AdapterPublishSuccess", s.AdapterPublishSuccess, 1},
		{"AdapterPublishFailure", s.AdapterPublishFailure, 1},
		{"FailuresByKind[connection_failure]", s.FailuresByKind["connection_failure"], 1},
		{"FailuresByKind[verify_mismatch]", s.FailuresByKind["verify_mismatch"], 1},
	}
	for _, tt := range checks {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("recover", "NRF51", "bridge", "s3", "run-42")
	s := c.Snapshot()

	if s.Command != "recover" {
		t.Errorf("Command = %q, want %q", s.Command, "recover")
	}
	if s.Family != "NRF51" {
		t.Errorf("Family = %q, want %q", s.Family, "NRF51")
	}
	if s.Backend != "bridge" {
		t.Errorf("Backend = %q, want %q", s.Backend, "bridge")
	}
	if s.JournalBackend != "s3" {
		t.Errorf("JournalBackend = %q, want %q", s.JournalBackend, "s3")
	}
	if s.RunID != "run-42" {
		t.Errorf("RunID = %q, want %q", s.RunID, "run-42")
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("program", "NRF51", "sim", "", "run-001")
	c.IncDeviceStarted()
	c.IncDeviceFailed("write_failure")

	s1 := c.Snapshot()

	c.IncDeviceSucceeded()
	c.IncDeviceFailed("write_failure")

	if s1.DevicesSucceeded != 0 {
		t.Errorf("s1.DevicesSucceeded = %d, want 0 (snapshot should be frozen)", s1.DevicesSucceeded)
	}
	if s1.FailuresByKind["write_failure"] != 1 {
		t.Errorf("s1.FailuresByKind = %v, want write_failure=1", s1.FailuresByKind)
	}

	// Mutating the snapshot map must not leak into the collector.
	s1.FailuresByKind["injected"] = 5

	s2 := c.Snapshot()
	if s2.FailuresByKind["write_failure"] != 2 {
		t.Errorf("s2.FailuresByKind[write_failure] = %d, want 2", s2.FailuresByKind["write_failure"])
	}
	if _, ok := s2.FailuresByKind["injected"]; ok {
		t.Error("collector should be isolated from snapshot mutation")
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncDeviceStarted()
	c.IncDeviceSucceeded()
	c.IncDeviceFailed("erase_failure")
	c.IncConnectionFailure()
	c.IncRecover()
	c.IncEraseAll()
	c.IncUICRErase()
	c.IncPageErased()
	c.AddBytesWritten(1)
	c.AddBytesVerified(1)
	c.IncVerifyMismatch()
	c.IncReset()
	c.IncJournalWriteSuccess()
	c.IncJournalWriteFailure()
	c.IncAdapterPublishSuccess()
	c.IncAdapterPublishFailure()

	s := c.Snapshot()
	if s.DevicesStarted != 0 {
		t.Errorf("nil collector snapshot DevicesStarted = %d, want 0", s.DevicesStarted)
	}
	if s.FailuresByKind != nil {
		t.Errorf("nil collector snapshot FailuresByKind should be nil, got %v", s.FailuresByKind)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("program", "NRF51", "sim", "", "run-001")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncPageErased()
				c.AddBytesWritten(4)
				c.IncDeviceFailed("write_failure")
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.PagesErased != want {
		t.Errorf("PagesErased = %d, want %d", s.PagesErased, want)
	}
	if s.BytesWritten != 4*want {
		t.Errorf("BytesWritten = %d, want %d", s.BytesWritten, 4*want)
	}
	if s.FailuresByKind["write_failure"] != want {
		t.Errorf("FailuresByKind[write_failure] = %d, want %d", s.FailuresByKind["write_failure"], want)
	}
}

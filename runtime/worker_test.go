package runtime

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/device/sim"
	"github.com/pithecene-io/multiflash/iox"
	"github.com/pithecene-io/multiflash/log"
	"github.com/pithecene-io/multiflash/metrics"
	"github.com/pithecene-io/multiflash/plan"
	"github.com/pithecene-io/multiflash/types"
)

// testSegments spans three 1 KiB pages with a gap before the last segment.
func testSegments() []types.Segment {
	a := make([]byte, 0x500)
	for i := range a {
		a[i] = byte(i)
	}
	b := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	return []types.Segment{
		{Address: 0x0000, Data: a},
		{Address: 0x0800, Data: b},
	}
}

func mustPlan(t *testing.T, opts plan.Options) *plan.Plan {
	t.Helper()
	if opts.PageSize == 0 {
		opts.PageSize = types.PageSizeNRF51
	}
	p, err := plan.Build(testSegments(), opts)
	if err != nil {
		t.Fatalf("plan.Build: %v", err)
	}
	return p
}

func openSession(t *testing.T, b *sim.Backend, id types.DeviceID) device.Session {
	t.Helper()
	sess, err := b.Open(t.Context(), types.FamilyNRF51, id)
	if err != nil {
		t.Fatalf("Open(%d): %v", id, err)
	}
	t.Cleanup(iox.CloseFunc(sess))
	return sess
}

func stepStrings(p *plan.Plan) []string {
	out := make([]string, 0, p.Len())
	for _, s := range p.Steps {
		out = append(out, s.String())
	}
	return out
}

func TestWorker_ProgramSuccess(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 1)
	sess := openSession(t, b, 1)
	collector := metrics.NewCollector("program", "NRF51", "sim", "", "run-1")
	p := mustPlan(t, plan.Options{Erase: types.EraseSectors, Verify: true, Reset: true})

	w := NewWorker(sess, log.NewNop(), collector, nil)
	out := w.Run(t.Context(), Job{Command: types.CommandProgram, Plan: p})

	if !out.Succeeded() {
		t.Fatalf("outcome = %+v, want success", out)
	}
	if out.Device != 1 {
		t.Errorf("Device = %d, want 1", out.Device)
	}
	if out.PagesErased != 3 {
		t.Errorf("PagesErased = %d, want 3", out.PagesErased)
	}
	if out.BytesWritten != p.WriteBytes() {
		t.Errorf("BytesWritten = %d, want %d", out.BytesWritten, p.WriteBytes())
	}

	dev := b.Device(1)
	for _, seg := range testSegments() {
		if got := dev.Bytes(seg.Address, len(seg.Data)); !slices.Equal(got, seg.Data) {
			t.Errorf("flash at 0x%08X does not match image", seg.Address)
		}
	}
	if !dev.Stats().Running {
		t.Error("device should be running after reset")
	}

	s := collector.Snapshot()
	if s.PagesErased != 3 || s.Resets != 1 || s.BytesVerified != p.WriteBytes() {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestWorker_StepsIssuedInPlanOrder(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 1)
	sess := openSession(t, b, 1)
	p := mustPlan(t, plan.Options{Erase: types.EraseSectorsAndUICR, Reset: true})

	var seen []string
	progress := func(pr Progress) { seen = append(seen, pr.Step) }

	out := NewWorker(sess, log.NewNop(), nil, progress).Run(t.Context(), Job{Command: types.CommandProgram, Plan: p})
	if !out.Succeeded() {
		t.Fatalf("outcome = %+v, want success", out)
	}

	want := stepStrings(p)
	if got := b.Device(1).Ops(); !slices.Equal(got, want) {
		t.Errorf("device ops = %v, want %v", got, want)
	}
	if !slices.Equal(seen, want) {
		t.Errorf("progress steps = %v, want %v", seen, want)
	}
}

func TestWorker_VerifyMismatch(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 1)
	sess := openSession(t, b, 1)
	b.Device(1).CorruptRead(0x0801, 0x01)
	collector := metrics.NewCollector("program", "NRF51", "sim", "", "run-1")
	p := mustPlan(t, plan.Options{Erase: types.EraseSectors, Verify: true, Reset: true})

	out := NewWorker(sess, log.NewNop(), collector, nil).Run(t.Context(), Job{Command: types.CommandProgram, Plan: p})

	if out.Succeeded() {
		t.Fatal("expected verify failure")
	}
	if out.Kind != types.ErrorVerifyMismatch {
		t.Errorf("Kind = %q, want %q", out.Kind, types.ErrorVerifyMismatch)
	}
	if out.Step != "verify(0x00000800+4)" {
		t.Errorf("Step = %q, want %q", out.Step, "verify(0x00000800+4)")
	}
	if out.Mismatch == nil {
		t.Fatal("Mismatch is nil")
	}
	if out.Mismatch.Address != 0x0801 || out.Mismatch.Offset != 1 {
		t.Errorf("Mismatch = %+v, want address 0x0801 offset 1", *out.Mismatch)
	}
	if out.Mismatch.Expected != 0xAD || out.Mismatch.Actual != 0xAC {
		t.Errorf("Mismatch bytes = %#x/%#x, want 0xad/0xac", out.Mismatch.Expected, out.Mismatch.Actual)
	}
	if b.Device(1).Stats().Resets != 0 {
		t.Error("reset must not run after a failed verify")
	}
	if got := collector.Snapshot().VerifyMismatches; got != 1 {
		t.Errorf("VerifyMismatches = %d, want 1", got)
	}
}

func TestWorker_StepFailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		erase    types.ErasePolicy
		wantKind types.ErrorKind
		wantStep string
	}{
		{"erase page", "erase_page", types.EraseSectors, types.ErrorErase, "erase_page(0x00000000)"},
		{"erase all", "erase_all", types.EraseAll, types.ErrorErase, "erase_all"},
		{"erase uicr", "erase_uicr", types.EraseSectorsAndUICR, types.ErrorErase, "erase_uicr"},
		{"write", "write", types.EraseNone, types.ErrorWrite, "write(0x00000000+1280)"},
		{"read", "read", types.EraseNone, types.ErrorRead, "verify(0x00000000+1280)"},
		{"reset", "reset", types.EraseNone, types.ErrorReset, "reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 7)
			sess := openSession(t, b, 7)
			b.Device(7).FailOn(tt.op, errors.New("injected"))
			p := mustPlan(t, plan.Options{Erase: tt.erase, Verify: true, Reset: true})

			out := NewWorker(sess, log.NewNop(), nil, nil).Run(t.Context(), Job{Command: types.CommandProgram, Plan: p})

			if out.Status != types.OutcomeFailed {
				t.Fatalf("Status = %q, want failed", out.Status)
			}
			if out.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", out.Kind, tt.wantKind)
			}
			if out.Step != tt.wantStep {
				t.Errorf("Step = %q, want %q", out.Step, tt.wantStep)
			}
			if out.Message != "injected" {
				t.Errorf("Message = %q, want %q", out.Message, "injected")
			}
		})
	}
}

func TestWorker_StopsAtFirstFailure(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 1)
	sess := openSession(t, b, 1)
	b.Device(1).FailOn("write", errors.New("injected"))
	p := mustPlan(t, plan.Options{Erase: types.EraseSectors, Verify: true, Reset: true})

	_ = NewWorker(sess, log.NewNop(), nil, nil).Run(t.Context(), Job{Command: types.CommandProgram, Plan: p})

	ops := b.Device(1).Ops()
	want := []string{
		"erase_page(0x00000000)",
		"erase_page(0x00000400)",
		"erase_page(0x00000800)",
		"write(0x00000000+1280)",
	}
	if !slices.Equal(ops, want) {
		t.Errorf("ops = %v, want %v", ops, want)
	}
}

func TestWorker_ConnectionLossOverridesKind(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 1)
	sess := openSession(t, b, 1)
	b.Device(1).FailOn("write", &device.ConnectionError{Device: 1, Err: errors.New("usb reset")})
	p := mustPlan(t, plan.Options{})

	out := NewWorker(sess, log.NewNop(), nil, nil).Run(t.Context(), Job{Command: types.CommandProgram, Plan: p})

	if out.Kind != types.ErrorConnection {
		t.Errorf("Kind = %q, want %q", out.Kind, types.ErrorConnection)
	}
}

func TestWorker_CanceledBeforeFirstStep(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 1)
	sess := openSession(t, b, 1)
	p := mustPlan(t, plan.Options{Erase: types.EraseSectors})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	out := NewWorker(sess, log.NewNop(), nil, nil).Run(ctx, Job{Command: types.CommandProgram, Plan: p})

	if out.Kind != types.ErrorCanceled {
		t.Errorf("Kind = %q, want %q", out.Kind, types.ErrorCanceled)
	}
	if ops := b.Device(1).Ops(); len(ops) != 0 {
		t.Errorf("ops = %v, want none", ops)
	}
}

func TestWorker_LockedDevice(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51, Locked: true}, 1)
	sess := openSession(t, b, 1)
	p := mustPlan(t, plan.Options{Erase: types.EraseAll})

	out := NewWorker(sess, log.NewNop(), nil, nil).Run(t.Context(), Job{Command: types.CommandProgram, Plan: p})
	if out.Kind != types.ErrorErase {
		t.Fatalf("Kind = %q, want %q", out.Kind, types.ErrorErase)
	}
	if !strings.Contains(out.Message, sim.ErrLocked.Error()) {
		t.Errorf("Message = %q, want locked access port", out.Message)
	}

	collector := metrics.NewCollector("recover", "NRF51", "sim", "", "run-1")
	out = NewWorker(sess, log.NewNop(), collector, nil).Run(t.Context(), Job{Command: types.CommandRecover})
	if !out.Succeeded() {
		t.Fatalf("recover outcome = %+v, want success", out)
	}
	if b.Device(1).Stats().Locked {
		t.Error("device still locked after recover")
	}
	if got := collector.Snapshot().Recovers; got != 1 {
		t.Errorf("Recovers = %d, want 1", got)
	}

	out = NewWorker(sess, log.NewNop(), nil, nil).Run(t.Context(), Job{Command: types.CommandProgram, Plan: p})
	if !out.Succeeded() {
		t.Errorf("program after recover = %+v, want success", out)
	}
}

func TestWorker_RecoverFailure(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 1)
	sess := openSession(t, b, 1)
	b.Device(1).FailOn("recover", errors.New("ctrl-ap timeout"))

	out := NewWorker(sess, log.NewNop(), nil, nil).Run(t.Context(), Job{Command: types.CommandRecover})

	if out.Kind != types.ErrorErase || out.Step != "recover" {
		t.Errorf("outcome = %+v, want erase_failure at recover", out)
	}
}

func TestWorker_ProgramTwiceIsIdempotent(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 1)
	sess := openSession(t, b, 1)
	p := mustPlan(t, plan.Options{Erase: types.EraseSectors, Verify: true})

	for i := range 2 {
		out := NewWorker(sess, log.NewNop(), nil, nil).Run(t.Context(), Job{Command: types.CommandProgram, Plan: p})
		if !out.Succeeded() {
			t.Fatalf("run %d: outcome = %+v, want success", i+1, out)
		}
	}

	dev := b.Device(1)
	for _, seg := range testSegments() {
		if got := dev.Bytes(seg.Address, len(seg.Data)); !slices.Equal(got, seg.Data) {
			t.Errorf("flash at 0x%08X does not match image after second run", seg.Address)
		}
	}
	for addr, n := range dev.Stats().PageErases {
		if n != 2 {
			t.Errorf("page 0x%08X erased %d times, want 2", addr, n)
		}
	}
}

func TestWorker_NoEraseOverDirtyFlashFailsVerify(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 1)
	sess := openSession(t, b, 1)

	first := NewWorker(sess, log.NewNop(), nil, nil)
	if err := first.session.Write(t.Context(), 0x0800, []byte{0x00, 0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	p := mustPlan(t, plan.Options{Verify: true})
	out := NewWorker(sess, log.NewNop(), nil, nil).Run(t.Context(), Job{Command: types.CommandProgram, Plan: p})

	if out.Kind != types.ErrorVerifyMismatch {
		t.Errorf("Kind = %q, want %q", out.Kind, types.ErrorVerifyMismatch)
	}
}

func TestWorker_UnknownCommand(t *testing.T) {
	b := sim.NewBackend(sim.Config{Family: types.FamilyNRF51}, 1)
	sess := openSession(t, b, 1)

	out := NewWorker(sess, log.NewNop(), nil, nil).Run(t.Context(), Job{Command: "flash"})
	if out.Kind != types.ErrorInternal {
		t.Errorf("Kind = %q, want %q", out.Kind, types.ErrorInternal)
	}
}

package plan

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/pithecene-io/multiflash/types"
)

func seg(addr uint32, n int) types.Segment {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return types.Segment{Address: addr, Data: data}
}

func kinds(p *Plan) []StepKind {
	out := make([]StepKind, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Kind
	}
	return out
}

func assertKinds(t *testing.T, p *Plan, want ...StepKind) {
	t.Helper()
	got := kinds(p)
	if len(got) != len(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("steps = %v, want %v", got, want)
		}
	}
}

func TestBuild_WriteOnly(t *testing.T) {
	p, err := Build([]types.Segment{seg(0x0000, 256)}, Options{PageSize: 0x400})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	assertKinds(t, p, StepWrite)
	if p.Steps[0].Address != 0 || len(p.Steps[0].Data) != 256 {
		t.Errorf("write = %s, want write(0x00000000+256)", p.Steps[0])
	}
}

func TestBuild_SectorErase(t *testing.T) {
	p, err := Build([]types.Segment{seg(0x0000, 256)}, Options{
		Erase:    types.EraseSectors,
		PageSize: 0x400,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	assertKinds(t, p, StepErasePage, StepWrite)
	if p.Steps[0].Address != 0 {
		t.Errorf("erase page = 0x%X, want 0", p.Steps[0].Address)
	}
}

func TestBuild_SectorsUICRVerifyReset(t *testing.T) {
	// One segment spanning two 1 KiB pages.
	p, err := Build([]types.Segment{seg(0x0300, 0x200)}, Options{
		Erase:    types.EraseSectorsAndUICR,
		PageSize: 0x400,
		Verify:   true,
		Reset:    true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	assertKinds(t, p, StepEraseUICR, StepErasePage, StepErasePage, StepWrite, StepVerify, StepReset)
	if p.Steps[1].Address != 0x000 || p.Steps[2].Address != 0x400 {
		t.Errorf("pages = 0x%X, 0x%X; want 0x0, 0x400", p.Steps[1].Address, p.Steps[2].Address)
	}
	if p.Steps[4].Address != 0x300 || len(p.Steps[4].Data) != 0x200 {
		t.Errorf("verify = %s", p.Steps[4])
	}
}

func TestBuild_EraseAll(t *testing.T) {
	p, err := Build([]types.Segment{seg(0x0, 16), seg(0x2000, 16)}, Options{
		Erase:    types.EraseAll,
		PageSize: 0x1000,
		Reset:    true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	assertKinds(t, p, StepEraseAll, StepWrite, StepWrite, StepReset)
}

func TestBuild_EmptyImage(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []StepKind
	}{
		{"nothing", Options{PageSize: 0x400}, nil},
		{"erase all and reset", Options{Erase: types.EraseAll, PageSize: 0x400, Reset: true}, []StepKind{StepEraseAll, StepReset}},
		{"uicr only", Options{Erase: types.EraseSectorsAndUICR, PageSize: 0x400, Verify: true}, []StepKind{StepEraseUICR}},
		{"sectors yields nothing", Options{Erase: types.EraseSectors, PageSize: 0x400}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Build(nil, tt.opts)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			assertKinds(t, p, tt.want...)
		})
	}
}

func TestBuild_SegmentEndingOnPageBoundary(t *testing.T) {
	// [0x000, 0x400) touches exactly one page; the page at 0x400 must not be erased.
	p, err := Build([]types.Segment{seg(0x0, 0x400)}, Options{Erase: types.EraseSectors, PageSize: 0x400})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n := p.Count(StepErasePage); n != 1 {
		t.Errorf("page erases = %d, want 1", n)
	}
}

func TestBuild_DedupAcrossSegments(t *testing.T) {
	segments := []types.Segment{
		seg(0x0000, 0x100),
		seg(0x0200, 0x100), // same page as the first
		seg(0x0380, 0x100), // spills into page 0x400
		seg(0x0500, 0x10),  // page 0x400 again
	}
	p, err := Build(segments, Options{Erase: types.EraseSectors, PageSize: 0x400, Verify: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	assertKinds(t, p,
		StepErasePage, StepErasePage,
		StepWrite, StepVerify,
		StepWrite, StepVerify,
		StepWrite, StepVerify,
		StepWrite, StepVerify,
	)
	if p.Steps[0].Address != 0 || p.Steps[1].Address != 0x400 {
		t.Errorf("pages = %s, %s", p.Steps[0], p.Steps[1])
	}
}

func TestBuild_PreservesSegmentOrder(t *testing.T) {
	segments := []types.Segment{seg(0x3000, 4), seg(0x1000, 4), seg(0x2000, 4)}
	p, err := Build(segments, Options{Erase: types.EraseSectors, PageSize: 0x1000})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantPages := []uint32{0x3000, 0x1000, 0x2000}
	for i, addr := range wantPages {
		if p.Steps[i].Kind != StepErasePage || p.Steps[i].Address != addr {
			t.Errorf("step %d = %s, want erase_page(0x%08X)", i, p.Steps[i], addr)
		}
	}
	for i, addr := range wantPages {
		s := p.Steps[len(wantPages)+i]
		if s.Kind != StepWrite || s.Address != addr {
			t.Errorf("step %d = %s, want write at 0x%08X", len(wantPages)+i, s, addr)
		}
	}
}

func TestBuild_ErasesInFirstSeenOrder(t *testing.T) {
	segments := []types.Segment{
		seg(0x2F00, 0x200), // pages 0x2000 and 0x3000
		seg(0x1000, 4),
		seg(0x3800, 4), // page 0x3000 again
		seg(0x0000, 4),
	}
	p, err := Build(segments, Options{Erase: types.EraseSectors, PageSize: 0x1000})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []uint32{0x2000, 0x3000, 0x1000, 0x0000}
	for i, addr := range want {
		if p.Steps[i].Kind != StepErasePage || p.Steps[i].Address != addr {
			t.Errorf("step %d = %s, want erase_page(0x%08X)", i, p.Steps[i], addr)
		}
	}
	if p.Steps[len(want)].Kind != StepWrite {
		t.Errorf("step %d = %s, want first write", len(want), p.Steps[len(want)])
	}
}

func TestBuild_InvalidPageSize(t *testing.T) {
	for _, ps := range []uint32{0, 128, 0x300, 1000} {
		if _, err := Build(nil, Options{PageSize: ps}); err == nil {
			t.Errorf("Build with page size %#x should fail", ps)
		}
	}
}

func TestBuild_WriteCountWithoutErase(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 50; iter++ {
		segments := randomSegments(rng, 1+rng.Intn(8), 0x400)
		p, err := Build(segments, Options{PageSize: 0x400})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if p.Count(StepWrite) != len(segments) {
			t.Fatalf("writes = %d, want %d", p.Count(StepWrite), len(segments))
		}
		if p.Len() != len(segments) {
			t.Fatalf("plan has %d steps, want only %d writes", p.Len(), len(segments))
		}
	}
}

// Page erases cover every written byte, touch no other page, and never repeat.
func TestBuild_ErasePagesCoverExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, ps := range []uint32{0x400, 0x1000} {
		for iter := 0; iter < 100; iter++ {
			segments := randomSegments(rng, 1+rng.Intn(6), ps)
			p, err := Build(segments, Options{Erase: types.EraseSectors, PageSize: ps})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}

			erased := make(map[uint32]int)
			for _, s := range p.Steps {
				if s.Kind == StepErasePage {
					if s.Address%ps != 0 {
						t.Fatalf("unaligned page erase %s", s)
					}
					erased[s.Address]++
				}
			}

			touched := make(map[uint32]bool)
			for _, sg := range segments {
				for a := sg.Address; a < sg.End(); a++ {
					page := a / ps * ps
					touched[page] = true
					if erased[page] == 0 {
						t.Fatalf("byte 0x%X written without its page erased", a)
					}
				}
			}

			for page, n := range erased {
				if n != 1 {
					t.Fatalf("page 0x%X erased %d times", page, n)
				}
				if !touched[page] {
					t.Fatalf("page 0x%X erased but not touched by any segment", page)
				}
			}
		}
	}
}

// randomSegments returns non-overlapping segments in random order.
func randomSegments(rng *rand.Rand, n int, pageSize uint32) []types.Segment {
	var segments []types.Segment
	addr := uint32(rng.Intn(int(pageSize)))
	for i := 0; i < n; i++ {
		size := 1 + rng.Intn(int(pageSize)*2)
		segments = append(segments, seg(addr, size))
		addr += uint32(size) + uint32(rng.Intn(int(pageSize)))
	}
	rng.Shuffle(len(segments), func(i, j int) { segments[i], segments[j] = segments[j], segments[i] })
	return segments
}

func TestPageRange(t *testing.T) {
	tests := []struct {
		seg         types.Segment
		first, last uint32
		ok          bool
	}{
		{seg(0x0, 0x100), 0x0, 0x0, true},
		{seg(0x3FF, 2), 0x0, 0x400, true},
		{seg(0x400, 0x400), 0x400, 0x400, true},
		{seg(0x123, 0), 0, 0, false},
	}

	for _, tt := range tests {
		first, last, ok := PageRange(tt.seg, 0x400)
		if ok != tt.ok || first != tt.first || last != tt.last {
			t.Errorf("PageRange(0x%X+%d) = (0x%X, 0x%X, %v), want (0x%X, 0x%X, %v)",
				tt.seg.Address, len(tt.seg.Data), first, last, ok, tt.first, tt.last, tt.ok)
		}
	}
}

func TestCompare(t *testing.T) {
	written := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02}

	if err := Compare(0x1000, written, append([]byte(nil), written...)); err != nil {
		t.Fatalf("identical data should verify: %v", err)
	}

	for i := range written {
		mutated := append([]byte(nil), written...)
		mutated[i] ^= 0x40

		err := Compare(0x1000, written, mutated)
		var mm *MismatchError
		if !errors.As(err, &mm) {
			t.Fatalf("offset %d: err = %v, want *MismatchError", i, err)
		}
		if mm.Offset != i || mm.Address != 0x1000+uint32(i) {
			t.Errorf("offset %d: got offset %d address 0x%X", i, mm.Offset, mm.Address)
		}
		if mm.Expected != written[i] || mm.Actual != mutated[i] {
			t.Errorf("offset %d: expected/actual = 0x%02X/0x%02X", i, mm.Expected, mm.Actual)
		}
	}
}

func TestCompare_LengthMismatch(t *testing.T) {
	err := Compare(0x20, []byte{1, 2, 3}, []byte{1, 2})
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("err = %v, want *MismatchError", err)
	}
	if mm.Offset != 2 || mm.ExpectedLen != 3 || mm.ActualLen != 2 {
		t.Errorf("mismatch = %+v", mm.Mismatch)
	}
	if got := mm.Error(); got != "verify mismatch at 0x00000022: read back 2 bytes, expected 3" {
		t.Errorf("Error() = %q", got)
	}

	if err := Compare(0x20, []byte{1}, []byte{1, 0xFF}); err == nil {
		t.Error("longer readback should not verify")
	}
}

// Package plan builds the ordered flashing sequence for one device.
//
// A Plan is computed once per run from the parsed image and the run flags
// and is then shared read-only by every device task. Ordering rules:
//   - erase steps come first (EraseAll, or EraseUICR followed by page erases)
//   - each page is erased at most once per plan
//   - one Write per segment, in image order, each optionally followed by Verify
//   - an optional Reset closes the plan
package plan

import (
	"fmt"

	"github.com/pithecene-io/multiflash/types"
)

// MinPageSize is the smallest erase granularity accepted by Build.
const MinPageSize = 256

// StepKind identifies the hardware primitive a step maps to.
type StepKind int

const (
	// StepEraseAll erases all user flash and UICR.
	StepEraseAll StepKind = iota
	// StepEraseUICR erases the UICR region.
	StepEraseUICR
	// StepErasePage erases the page starting at Address.
	StepErasePage
	// StepWrite writes Data at Address.
	StepWrite
	// StepVerify reads back len(Data) bytes at Address and compares them to Data.
	StepVerify
	// StepReset issues a system reset and lets the core run.
	StepReset
)

// String returns the step kind name used in logs and outcomes.
func (k StepKind) String() string {
	switch k {
	case StepEraseAll:
		return "erase_all"
	case StepEraseUICR:
		return "erase_uicr"
	case StepErasePage:
		return "erase_page"
	case StepWrite:
		return "write"
	case StepVerify:
		return "verify"
	case StepReset:
		return "reset"
	default:
		return fmt.Sprintf("step(%d)", int(k))
	}
}

// Step is one operation in a Plan.
// Data aliases the image segment and must not be modified.
type Step struct {
	Kind    StepKind
	Address uint32
	Data    []byte
}

// String describes the step with its address range, e.g. "write(0x00001000+256)".
func (s Step) String() string {
	switch s.Kind {
	case StepErasePage:
		return fmt.Sprintf("erase_page(0x%08X)", s.Address)
	case StepWrite, StepVerify:
		return fmt.Sprintf("%s(0x%08X+%d)", s.Kind, s.Address, len(s.Data))
	default:
		return s.Kind.String()
	}
}

// Options are the run flags that shape a plan.
type Options struct {
	// Erase is the erase policy.
	Erase types.ErasePolicy
	// PageSize is the erase granularity; a power of two >= MinPageSize.
	PageSize uint32
	// Verify appends a Verify step after each Write.
	Verify bool
	// Reset appends a trailing Reset step.
	Reset bool
}

// Plan is an ordered, immutable list of steps.
type Plan struct {
	Steps []Step
}

// Build computes the plan for the given image segments.
//
// Page erases cover [floor(start/ps), floor((end-1)/ps)] for every segment and
// are deduplicated across segments in first-seen order. Empty segments
// contribute no pages and no writes.
func Build(segments []types.Segment, opts Options) (*Plan, error) {
	if err := validatePageSize(opts.PageSize); err != nil {
		return nil, err
	}

	p := &Plan{}

	switch opts.Erase {
	case types.EraseNone:
	case types.EraseAll:
		p.Steps = append(p.Steps, Step{Kind: StepEraseAll})
	case types.EraseSectorsAndUICR:
		p.Steps = append(p.Steps, Step{Kind: StepEraseUICR})
		p.Steps = append(p.Steps, pageErases(segments, opts.PageSize)...)
	case types.EraseSectors:
		p.Steps = append(p.Steps, pageErases(segments, opts.PageSize)...)
	default:
		return nil, fmt.Errorf("unknown erase policy: %s", opts.Erase)
	}

	for _, seg := range segments {
		if len(seg.Data) == 0 {
			continue
		}
		p.Steps = append(p.Steps, Step{Kind: StepWrite, Address: seg.Address, Data: seg.Data})
		if opts.Verify {
			p.Steps = append(p.Steps, Step{Kind: StepVerify, Address: seg.Address, Data: seg.Data})
		}
	}

	if opts.Reset {
		p.Steps = append(p.Steps, Step{Kind: StepReset})
	}

	return p, nil
}

// PageRange returns the first and last page start addresses touched by seg.
// ok is false for an empty segment.
func PageRange(seg types.Segment, pageSize uint32) (first, last uint32, ok bool) {
	if len(seg.Data) == 0 {
		return 0, 0, false
	}
	end := uint64(seg.Address) + uint64(len(seg.Data))
	first = seg.Address / pageSize * pageSize
	last = uint32((end-1)/uint64(pageSize)) * pageSize
	return first, last, true
}

func pageErases(segments []types.Segment, pageSize uint32) []Step {
	var steps []Step
	seen := make(map[uint32]struct{})
	for _, seg := range segments {
		first, last, ok := PageRange(seg, pageSize)
		if !ok {
			continue
		}
		for page := uint64(first); page <= uint64(last); page += uint64(pageSize) {
			addr := uint32(page)
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			steps = append(steps, Step{Kind: StepErasePage, Address: addr})
		}
	}
	return steps
}

func validatePageSize(ps uint32) error {
	if ps < MinPageSize || ps&(ps-1) != 0 {
		return fmt.Errorf("invalid page size %#x: must be a power of two >= %#x", ps, MinPageSize)
	}
	return nil
}

// Count returns the number of steps of the given kind.
func (p *Plan) Count(kind StepKind) int {
	n := 0
	for _, s := range p.Steps {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	return len(p.Steps)
}

// WriteBytes returns the total number of bytes written by the plan.
func (p *Plan) WriteBytes() int64 {
	var n int64
	for _, s := range p.Steps {
		if s.Kind == StepWrite {
			n += int64(len(s.Data))
		}
	}
	return n
}

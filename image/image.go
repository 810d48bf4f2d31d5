// Package image loads Intel HEX firmware images into address-ordered segments.
//
// An Image is parsed once per run and shared read-only by every device task.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/marcinbor85/gohex"

	"github.com/pithecene-io/multiflash/iox"
	"github.com/pithecene-io/multiflash/types"
)

// Image is a parsed firmware image.
type Image struct {
	// Path is the file the image was loaded from ("" when parsed from a reader).
	Path string
	// Segments are the contiguous data runs, sorted by address and non-overlapping.
	Segments []types.Segment
	// SHA256 is the hex digest of the raw file contents.
	SHA256 string
}

// ParseError reports a file that could not be read or is not valid Intel HEX.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("image parse error: %v", e.Err)
	}
	return fmt.Sprintf("image parse error: %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Load reads and parses the Intel HEX file at path.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer iox.DiscardClose(f)

	img, err := Parse(f)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	img.Path = path
	return img, nil
}

// Parse decodes Intel HEX records from r.
func Parse(r io.Reader) (*Image, error) {
	h := sha256.New()
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(io.TeeReader(r, h)); err != nil {
		return nil, &ParseError{Err: err}
	}

	raw := mem.GetDataSegments()
	segments := make([]types.Segment, 0, len(raw))
	for _, s := range raw {
		if len(s.Data) == 0 {
			continue
		}
		data := make([]byte, len(s.Data))
		copy(data, s.Data)
		segments = append(segments, types.Segment{Address: s.Address, Data: data})
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Address < segments[j].Address
	})

	for i := 1; i < len(segments); i++ {
		if segments[i].Address < segments[i-1].End() {
			return nil, &ParseError{Err: fmt.Errorf(
				"overlapping segments at 0x%08X and 0x%08X", segments[i-1].Address, segments[i].Address)}
		}
	}

	return &Image{
		Segments: segments,
		SHA256:   hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Size returns the total number of data bytes in the image.
func (img *Image) Size() int64 {
	var n int64
	for _, s := range img.Segments {
		n += int64(len(s.Data))
	}
	return n
}

// Bounds returns the lowest and one-past-highest addresses covered by the image.
// ok is false for an image with no data.
func (img *Image) Bounds() (lo, hi uint64, ok bool) {
	if len(img.Segments) == 0 {
		return 0, 0, false
	}
	lo = uint64(img.Segments[0].Address)
	last := img.Segments[len(img.Segments)-1]
	hi = uint64(last.Address) + uint64(len(last.Data))
	return lo, hi, true
}

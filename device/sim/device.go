// Package sim provides an in-memory nRF5-style target and a device.Backend
// that serves it. Code flash and UICR follow NOR semantics: an erase sets every
// byte to 0xFF and a write can only clear bits.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/multiflash/device"
	"github.com/pithecene-io/multiflash/types"
)

// DefaultFlashSize is the code flash size used when Config.FlashSize is zero.
const DefaultFlashSize uint32 = 256 * 1024

// Erased is the value of an erased flash byte.
const Erased byte = 0xFF

// ErrLocked is returned by every operation except Recover while the access
// port is protected.
var ErrLocked = errors.New("access port protected")

// Config describes one simulated target.
type Config struct {
	// Family selects the page size.
	Family types.Family
	// FlashSize is the code flash size in bytes (a multiple of the page size).
	FlashSize uint32
	// Locked starts the target with its access port protected.
	Locked bool
}

// Device is one simulated target. All methods are safe for concurrent use;
// the hardware model itself has no notion of sessions.
type Device struct {
	mu sync.Mutex

	id       types.DeviceID
	pageSize uint32
	flash    []byte
	uicr     []byte
	locked   bool
	running  bool

	pageErases map[uint32]int
	uicrErases int
	eraseAlls  int
	recovers   int
	resets     int
	ops        []string

	faults  map[string]error
	corrupt map[uint32]byte
}

// NewDevice returns an erased target.
func NewDevice(id types.DeviceID, cfg Config) *Device {
	family := cfg.Family
	if family == "" {
		family = types.DefaultFamily
	}
	size := cfg.FlashSize
	if size == 0 {
		size = DefaultFlashSize
	}
	ps := family.PageSize()

	d := &Device{
		id:         id,
		pageSize:   ps,
		flash:      make([]byte, size),
		uicr:       make([]byte, ps),
		locked:     cfg.Locked,
		pageErases: make(map[uint32]int),
		faults:     make(map[string]error),
		corrupt:    make(map[uint32]byte),
	}
	fill(d.flash)
	fill(d.uicr)
	return d
}

// ID returns the probe serial number.
func (d *Device) ID() types.DeviceID { return d.id }

// PageSize returns the erase granularity.
func (d *Device) PageSize() uint32 { return d.pageSize }

// FailOn makes every subsequent call of op return err. op is one of the
// ipc operation names ("erase_page", "write", "read", ...). A nil err clears
// the fault.
func (d *Device) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.faults, op)
		return
	}
	d.faults[op] = err
}

// CorruptRead flips the bits in mask whenever addr is read back.
func (d *Device) CorruptRead(addr uint32, mask byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt[addr] = mask
}

// Lock protects the access port.
func (d *Device) Lock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = true
}

func (d *Device) recover() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("recover")
	if err := d.faults["recover"]; err != nil {
		return err
	}
	fill(d.flash)
	fill(d.uicr)
	d.locked = false
	d.running = false
	d.recovers++
	return nil
}

func (d *Device) eraseAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("erase_all")
	if err := d.check("erase_all"); err != nil {
		return err
	}
	fill(d.flash)
	fill(d.uicr)
	d.eraseAlls++
	return nil
}

func (d *Device) eraseUICR() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("erase_uicr")
	if err := d.check("erase_uicr"); err != nil {
		return err
	}
	fill(d.uicr)
	d.uicrErases++
	return nil
}

func (d *Device) erasePage(addr uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(fmt.Sprintf("erase_page(0x%08X)", addr))
	if err := d.check("erase_page"); err != nil {
		return err
	}
	if addr%d.pageSize != 0 {
		return fmt.Errorf("erase_page: address 0x%08X not aligned to page size 0x%X", addr, d.pageSize)
	}
	if addr == device.UICRBase {
		fill(d.uicr)
		d.uicrErases++
		return nil
	}
	region, off, err := d.region(addr, int(d.pageSize))
	if err != nil {
		return fmt.Errorf("erase_page: %w", err)
	}
	fill(region[off : off+d.pageSize])
	d.pageErases[addr]++
	return nil
}

func (d *Device) write(addr uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(fmt.Sprintf("write(0x%08X+%d)", addr, len(data)))
	if err := d.check("write"); err != nil {
		return err
	}
	region, off, err := d.region(addr, len(data))
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	for i, b := range data {
		region[off+uint32(i)] &= b
	}
	return nil
}

func (d *Device) read(addr uint32, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(fmt.Sprintf("read(0x%08X+%d)", addr, n))
	if err := d.check("read"); err != nil {
		return nil, err
	}
	region, off, err := d.region(addr, n)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	out := make([]byte, n)
	copy(out, region[off:off+uint32(n)])
	for a, mask := range d.corrupt {
		if a >= addr && a < addr+uint32(n) {
			out[a-addr] ^= mask
		}
	}
	return out, nil
}

func (d *Device) reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("reset")
	if err := d.check("reset"); err != nil {
		return err
	}
	d.resets++
	d.running = true
	return nil
}

// check must be called with d.mu held.
func (d *Device) check(op string) error {
	if err := d.faults[op]; err != nil {
		return err
	}
	if d.locked {
		return fmt.Errorf("%s: %w", op, ErrLocked)
	}
	return nil
}

// record must be called with d.mu held.
func (d *Device) record(op string) {
	d.ops = append(d.ops, op)
}

// region resolves [addr, addr+n) to a backing slice and offset.
func (d *Device) region(addr uint32, n int) ([]byte, uint32, error) {
	end := uint64(addr) + uint64(n)
	switch {
	case end <= uint64(len(d.flash)):
		return d.flash, addr, nil
	case addr >= device.UICRBase && end <= uint64(device.UICRBase)+uint64(len(d.uicr)):
		return d.uicr, addr - device.UICRBase, nil
	default:
		return nil, 0, fmt.Errorf("range 0x%08X+%d outside flash and UICR", addr, n)
	}
}

func fill(b []byte) {
	for i := range b {
		b[i] = Erased
	}
}

// Bytes returns a copy of n bytes at addr, bypassing locks and faults.
func (d *Device) Bytes(addr uint32, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	region, off, err := d.region(addr, n)
	if err != nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, region[off:off+uint32(n)])
	return out
}

// Stats is a point-in-time view of the wear and control counters.
type Stats struct {
	PageErases map[uint32]int
	UICRErases int
	EraseAlls  int
	Recovers   int
	Resets     int
	Locked     bool
	Running    bool
}

// Stats returns the current counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	pages := make(map[uint32]int, len(d.pageErases))
	for k, v := range d.pageErases {
		pages[k] = v
	}
	return Stats{
		PageErases: pages,
		UICRErases: d.uicrErases,
		EraseAlls:  d.eraseAlls,
		Recovers:   d.recovers,
		Resets:     d.resets,
		Locked:     d.locked,
		Running:    d.running,
	}
}

// Ops returns the operations issued so far, oldest first.
func (d *Device) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

// ResetOps clears the operation log.
func (d *Device) ResetOps() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = nil
}

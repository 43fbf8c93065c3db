// internal/flash/models.go
package flash

import "fmt"

// Model is a known chip variant.
type Model uint8

const (
	ModelUnknown Model = iota
	ModelW25Q16
	ModelW25Q32
	ModelW25Q64
	ModelGD25Q64
	ModelW25Q128
	ModelW25Q256
)

// Capability is the static description of a Model.
type Capability struct {
	JEDEC      uint32
	Name       string
	CapacityMB uint32
	AddrBytes  int
	Needs4Byte bool
	Protection Protection
}

// CapacityBytes returns the array size in bytes.
func (c Capability) CapacityBytes() uint64 {
	return uint64(c.CapacityMB) * MiB
}

// bp3 is the SR1 layout of parts with BP0..BP2, TB at bit 5 and SEC at
// bit 6; level 1 guards 1/64 of the array.
func bp3(capacityMB uint32) Protection {
	return Protection{BPBits: 3, TB: 1 << 5, SEC: 1 << 6, Unit: capacityMB * MiB / 64}
}

var capabilities = map[Model]Capability{
	ModelW25Q16:  {JEDEC: 0xEF4015, Name: "W25Q16", CapacityMB: 2, AddrBytes: 3, Protection: bp3(2)},
	ModelW25Q32:  {JEDEC: 0xEF4016, Name: "W25Q32", CapacityMB: 4, AddrBytes: 3, Protection: bp3(4)},
	ModelW25Q64:  {JEDEC: 0xEF4017, Name: "W25Q64", CapacityMB: 8, AddrBytes: 3, Protection: bp3(8)},
	ModelGD25Q64: {JEDEC: 0xC84017, Name: "GD25Q64", CapacityMB: 8, AddrBytes: 3, Protection: bp3(8)},
	ModelW25Q128: {JEDEC: 0xEF4018, Name: "W25Q128", CapacityMB: 16, AddrBytes: 4, Needs4Byte: true, Protection: bp3(16)},
	// BP0..BP3 at bits 2..5 push TB to bit 6; level 1 is one 64 KiB block
	ModelW25Q256: {JEDEC: 0xEF4019, Name: "W25Q256", CapacityMB: 32, AddrBytes: 4, Needs4Byte: true,
		Protection: Protection{BPBits: 4, TB: 1 << 6, Unit: BlockSize}},
}

// Lookup resolves a 24-bit JEDEC ID to a Model.
func Lookup(jedec uint32) (Model, bool) {
	for m, c := range capabilities {
		if c.JEDEC == jedec&0xFFFFFF {
			return m, true
		}
	}
	return ModelUnknown, false
}

// Capability returns the capability record of m. ModelUnknown yields the zero value.
func (m Model) Capability() Capability {
	return capabilities[m]
}

func (m Model) String() string {
	if c, ok := capabilities[m]; ok {
		return c.Name
	}
	return fmt.Sprintf("Model(%d)", uint8(m))
}

// ---- BLOCK PROTECTION ----

// Protection is the SR1 block-protection layout of a part. BP levels
// between 1 and the all-ones value guard Unit << (level-1) bytes at the
// top of the array, or at the bottom when TB is set. The all-ones level
// guards everything. SEC is the sector-granularity bit, 0 when absent.
type Protection struct {
	BPBits int    // BP0.. from SR1 bit 2 upwards
	TB     byte   // top/bottom select
	SEC    byte   // 4 KiB granularity select
	Unit   uint32 // bytes guarded by level 1
}

// BPMask covers the BP bits.
func (p Protection) BPMask() byte {
	return byte((1<<p.BPBits)-1) << 2
}

// Mask covers every SR1 bit that shapes protection.
func (p Protection) Mask() byte {
	return p.BPMask() | p.TB | p.SEC
}

// Level extracts the BP value from sr1.
func (p Protection) Level(sr1 byte) byte {
	return (sr1 & p.BPMask()) >> 2
}

// Bits encodes a BP level and region as SR1 bits.
func (p Protection) Bits(level byte, bottom bool) byte {
	v := (level << 2) & p.BPMask()
	if bottom {
		v |= p.TB
	}
	return v
}

// Range returns the guarded byte range [start, end) that sr1 selects on
// an array of capacity bytes. SEC is not modelled; an empty range means
// no protection.
func (p Protection) Range(sr1 byte, capacity uint64) (start, end uint64) {
	level := p.Level(sr1)
	if p.BPBits == 0 || level == 0 {
		return 0, 0
	}
	size := capacity
	if all := byte((1 << p.BPBits) - 1); level < all {
		if s := uint64(p.Unit) << (level - 1); s < capacity {
			size = s
		}
	}
	if sr1&p.TB != 0 {
		return 0, size
	}
	return capacity - size, capacity
}

// Covers reports whether sr1 guards addr.
func (p Protection) Covers(sr1 byte, capacity uint64, addr uint32) bool {
	start, end := p.Range(sr1, capacity)
	a := uint64(addr)
	return a >= start && a < end
}

// internal/flash/flashsim/chip.go
package flashsim

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/tamzrod/flashqa/internal/flash"
)

// Op identifies a timed chip operation.
type Op uint8

const (
	OpRead Op = iota
	OpProgram
	OpSectorErase
	OpChipErase
	OpStatusWrite
	OpWake
)

// Timing is the latency model of the chip.
type Timing struct {
	ByteTime    time.Duration // per byte clocked on the bus
	PageProgram time.Duration
	SectorErase time.Duration
	ChipErase   time.Duration
	StatusWrite time.Duration
	Wake        time.Duration // release from deep power-down
}

// DefaultTiming is close to a W25Q64JV datasheet at 8 MHz.
func DefaultTiming() Timing {
	return Timing{
		ByteTime:    time.Microsecond,
		PageProgram: 700 * time.Microsecond,
		SectorErase: 45 * time.Millisecond,
		ChipErase:   2 * time.Second,
		StatusWrite: 10 * time.Millisecond,
		Wake:        3 * time.Microsecond,
	}
}

// Faults injects misbehaviour.
type Faults struct {
	// Ignore4Byte leaves SR3 bit7 clear after the enter-4-byte command.
	Ignore4Byte bool
	// StatusLocked accepts status writes without changing the register.
	StatusLocked bool
	// ProtectionIgnored stores BP bits but never enforces them.
	ProtectionIgnored bool
	// NoPowerDown ignores the deep power-down command.
	NoPowerDown bool
	// EchoUnknown answers unknown opcodes with the opcode itself
	// instead of an idle bus.
	EchoUnknown bool
	// WELNeverSets ignores write enable.
	WELNeverSets bool
	// StuckSectors lists sector indices whose cells fail to program bit 6.
	StuckSectors map[uint32]bool
	// DisturbEvery drains one bit from the preceding page every N array reads.
	DisturbEvery int
	// BusErr is returned by every transaction when set.
	BusErr error
}

// Config describes the simulated part.
type Config struct {
	JEDEC      uint32
	CapacityMB uint32
	Protection flash.Protection // SR1 layout; zero uses the BP0..BP2 layout
	UniqueID   uint64
	SFDP       []byte
	Timing     Timing
	Faults     Faults

	// Latency overrides Timing per operation. seq counts calls per Op.
	Latency func(op Op, seq int) time.Duration
}

// Option adjusts a Config.
type Option func(*Config)

func WithFaults(f Faults) Option      { return func(c *Config) { c.Faults = f } }
func WithTiming(t Timing) Option      { return func(c *Config) { c.Timing = t } }
func WithUniqueID(id uint64) Option   { return func(c *Config) { c.UniqueID = id } }
func WithSFDP(table []byte) Option    { return func(c *Config) { c.SFDP = table } }
func WithJEDEC(jedec uint32) Option   { return func(c *Config) { c.JEDEC = jedec } }
func WithCapacityMB(mb uint32) Option { return func(c *Config) { c.CapacityMB = mb } }
func WithLatency(fn func(Op, int) time.Duration) Option {
	return func(c *Config) { c.Latency = fn }
}

// GenuineSFDP returns a minimal valid SFDP header and basic parameter table.
func GenuineSFDP() []byte {
	t := make([]byte, 256)
	for i := range t {
		t[i] = 0xFF
	}
	copy(t[0:], []byte{'S', 'F', 'D', 'P', 0x06, 0x01, 0x00, 0xFF})
	copy(t[8:], []byte{0x00, 0x06, 0x01, 0x10, 0x80, 0x00, 0x00, 0xFF})
	copy(t[0x80:], []byte{0xE5, 0x20, 0xF9, 0xFF, 0xFF, 0xFF, 0xFF, 0x03})
	return t
}

// Chip is a behavioural model of a W25Q part. It implements flash.Bus.
type Chip struct {
	mu    sync.Mutex
	cfg   Config
	clock *Clock

	sectors  map[uint32][]byte // sparse; missing sector is erased
	capacity uint32

	sr1, sr2, sr3 byte
	busyUntil     time.Time
	wakeAt        time.Time
	asleep        bool

	reads   int
	seq     map[Op]int
	txCount int
}

// New models the given known part.
func New(clock *Clock, model flash.Model, opts ...Option) *Chip {
	c := model.Capability()
	cfg := Config{
		JEDEC:      c.JEDEC,
		CapacityMB: c.CapacityMB,
		Protection: c.Protection,
		UniqueID:   0xD1A2B3C4E5F60718,
		SFDP:       GenuineSFDP(),
		Timing:     DefaultTiming(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CapacityMB == 0 {
		cfg.CapacityMB = 8
	}
	if cfg.Protection.BPBits == 0 {
		cfg.Protection = flash.Protection{BPBits: 3, TB: 1 << 5, SEC: 1 << 6, Unit: cfg.CapacityMB * flash.MiB / 64}
	}
	return &Chip{
		cfg:      cfg,
		clock:    clock,
		sectors:  make(map[uint32][]byte),
		capacity: cfg.CapacityMB * flash.MiB,
		seq:      make(map[Op]int),
	}
}

// Transactions counts bus transactions, including failed ones.
func (c *Chip) Transactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txCount
}

// Peek returns a copy of the array contents without bus side effects.
func (c *Chip) Peek(addr uint32, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = c.load(addr + uint32(i))
	}
	return out
}

// SetStatus1 forces SR1, e.g. to model protection left by a previous owner.
func (c *Chip) SetStatus1(v byte) {
	c.mu.Lock()
	c.sr1 = v &^ (flash.SR1Busy | flash.SR1WEL)
	c.mu.Unlock()
}

// SetStatus2 forces SR2.
func (c *Chip) SetStatus2(v byte) {
	c.mu.Lock()
	c.sr2 = v
	c.mu.Unlock()
}

// Asleep reports whether the chip is in deep power-down.
func (c *Chip) Asleep() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asleep
}

// Tx implements flash.Bus.
func (c *Chip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.txCount++
	if c.cfg.Faults.BusErr != nil {
		return c.cfg.Faults.BusErr
	}

	c.clock.Advance(time.Duration(len(w)+len(r)) * c.cfg.Timing.ByteTime)
	for i := range r {
		r[i] = 0xFF
	}
	if len(w) == 0 {
		return nil
	}

	now := c.clock.Now()
	op := w[0]

	if c.asleep {
		if op == flash.CmdReleasePowerDown {
			c.asleep = false
			c.wakeAt = now.Add(c.latency(OpWake))
		}
		return nil
	}
	if now.Before(c.wakeAt) {
		return nil
	}

	busy := now.Before(c.busyUntil)

	switch op {
	case flash.CmdReadStatus1:
		v := c.sr1
		if busy {
			v |= flash.SR1Busy
		}
		fill(r, v)
		return nil
	case flash.CmdReadStatus2:
		fill(r, c.sr2)
		return nil
	case flash.CmdReadStatus3:
		fill(r, c.sr3)
		return nil
	}

	if busy {
		return nil
	}

	switch op {
	case flash.CmdReadJEDEC:
		copy(r, []byte{byte(c.cfg.JEDEC >> 16), byte(c.cfg.JEDEC >> 8), byte(c.cfg.JEDEC)})

	case flash.CmdReadUniqueID:
		var id [8]byte
		binary.BigEndian.PutUint64(id[:], c.cfg.UniqueID)
		copy(r, id[:])

	case flash.CmdReadSFDP:
		if len(w) < 4 {
			return nil
		}
		base := uint32(w[1])<<16 | uint32(w[2])<<8 | uint32(w[3])
		for i := range r {
			if idx := int(base) + i; idx < len(c.cfg.SFDP) {
				r[i] = c.cfg.SFDP[idx]
			}
		}

	case flash.CmdReadData, flash.CmdReadData4B:
		addr, _, ok := c.decodeAddr(op, w)
		if !ok {
			return nil
		}
		for i := range r {
			r[i] = c.load(addr + uint32(i))
		}
		c.clock.Advance(c.latencyExtra(OpRead))
		c.disturb(addr)

	case flash.CmdPageProgram, flash.CmdPageProgram4B:
		addr, data, ok := c.decodeAddr(op, w)
		if !ok || !c.consumeWEL() {
			return nil
		}
		if !c.protected(addr) {
			c.program(addr, data)
		}
		c.busyUntil = now.Add(c.latency(OpProgram))

	case flash.CmdSectorErase, flash.CmdSectorErase4B:
		addr, _, ok := c.decodeAddr(op, w)
		if !ok || !c.consumeWEL() {
			return nil
		}
		if !c.protected(addr) {
			delete(c.sectors, addr/flash.SectorSize)
		}
		c.busyUntil = now.Add(c.latency(OpSectorErase))

	case flash.CmdChipErase:
		if !c.consumeWEL() {
			return nil
		}
		if c.cfg.Protection.Level(c.sr1) == 0 || c.cfg.Faults.ProtectionIgnored {
			c.sectors = make(map[uint32][]byte)
		}
		c.busyUntil = now.Add(c.latency(OpChipErase))

	case flash.CmdWriteEnable:
		if !c.cfg.Faults.WELNeverSets {
			c.sr1 |= flash.SR1WEL
		}

	case flash.CmdWriteDisable:
		c.sr1 &^= flash.SR1WEL

	case flash.CmdWriteStatus1, flash.CmdWriteStatus2, flash.CmdWriteStatus3:
		if len(w) < 2 || !c.consumeWEL() {
			return nil
		}
		if !c.cfg.Faults.StatusLocked {
			switch op {
			case flash.CmdWriteStatus1:
				c.sr1 = c.sr1&0x03 | w[1]&0xFC
				if len(w) >= 3 {
					c.sr2 = w[2]
				}
			case flash.CmdWriteStatus2:
				c.sr2 = w[1]
			case flash.CmdWriteStatus3:
				c.sr3 = c.sr3&flash.SR3AddrMode | w[1]&^flash.SR3AddrMode
			}
		}
		c.busyUntil = now.Add(c.latency(OpStatusWrite))

	case flash.CmdEnter4ByteMode:
		if c.cfg.CapacityMB >= 16 && !c.cfg.Faults.Ignore4Byte {
			c.sr3 |= flash.SR3AddrMode
		}

	case flash.CmdExit4ByteMode:
		c.sr3 &^= flash.SR3AddrMode

	case flash.CmdPowerDown:
		if !c.cfg.Faults.NoPowerDown {
			c.asleep = true
		}

	case flash.CmdReleasePowerDown:
		fill(r, 0x00)

	default:
		if c.cfg.Faults.EchoUnknown {
			fill(r, op)
		}
	}
	return nil
}

// decodeAddr splits an array command into address and payload. The
// 4-byte opcodes always carry four address bytes; the legacy opcodes
// follow SR3 bit7.
func (c *Chip) decodeAddr(op byte, w []byte) (uint32, []byte, bool) {
	n := 3
	switch op {
	case flash.CmdReadData4B, flash.CmdPageProgram4B, flash.CmdSectorErase4B:
		n = 4
	default:
		if c.sr3&flash.SR3AddrMode != 0 {
			n = 4
		}
	}
	if len(w) < 1+n {
		return 0, nil, false
	}
	var addr uint32
	for _, b := range w[1 : 1+n] {
		addr = addr<<8 | uint32(b)
	}
	return addr % c.capacity, w[1+n:], true
}

func (c *Chip) consumeWEL() bool {
	if c.sr1&flash.SR1WEL == 0 {
		return false
	}
	c.sr1 &^= flash.SR1WEL
	return true
}

// protected applies the part's BP/TB table. CMP and SEC are not
// modelled.
func (c *Chip) protected(addr uint32) bool {
	if c.cfg.Faults.ProtectionIgnored {
		return false
	}
	return c.cfg.Protection.Covers(c.sr1, uint64(c.capacity), addr)
}

// program ANDs data into one page, wrapping at the page end like the real part.
func (c *Chip) program(addr uint32, data []byte) {
	if len(data) > flash.PageSize {
		data = data[len(data)-flash.PageSize:]
	}
	page := addr &^ (flash.PageSize - 1)
	off := addr & (flash.PageSize - 1)
	for i, b := range data {
		a := page + (off+uint32(i))%flash.PageSize
		if c.cfg.Faults.StuckSectors[a/flash.SectorSize] {
			b |= 0x40
		}
		c.store(a, c.load(a)&b)
	}
}

// disturb drains one charged bit from the page preceding addr.
func (c *Chip) disturb(addr uint32) {
	c.reads++
	every := c.cfg.Faults.DisturbEvery
	if every <= 0 || c.reads%every != 0 {
		return
	}
	page := addr &^ (flash.PageSize - 1)
	if page < flash.PageSize {
		return
	}
	victim := page - flash.PageSize
	for i := uint32(0); i < flash.PageSize; i++ {
		if v := c.load(victim + i); v != 0 {
			c.store(victim+i, v&(v-1))
			return
		}
	}
}

func (c *Chip) load(addr uint32) byte {
	s, ok := c.sectors[addr/flash.SectorSize]
	if !ok {
		return 0xFF
	}
	return s[addr%flash.SectorSize]
}

func (c *Chip) store(addr uint32, v byte) {
	idx := addr / flash.SectorSize
	s, ok := c.sectors[idx]
	if !ok {
		s = make([]byte, flash.SectorSize)
		fill(s, 0xFF)
		c.sectors[idx] = s
	}
	s[addr%flash.SectorSize] = v
}

func (c *Chip) latency(op Op) time.Duration {
	seq := c.seq[op]
	c.seq[op] = seq + 1
	if c.cfg.Latency != nil {
		if d := c.cfg.Latency(op, seq); d > 0 {
			return d
		}
	}
	switch op {
	case OpProgram:
		return c.cfg.Timing.PageProgram
	case OpSectorErase:
		return c.cfg.Timing.SectorErase
	case OpChipErase:
		return c.cfg.Timing.ChipErase
	case OpStatusWrite:
		return c.cfg.Timing.StatusWrite
	case OpWake:
		return c.cfg.Timing.Wake
	}
	return 0
}

// latencyExtra is the additional delay of a read; only the Latency hook
// adds one.
func (c *Chip) latencyExtra(op Op) time.Duration {
	seq := c.seq[op]
	c.seq[op] = seq + 1
	if c.cfg.Latency == nil {
		return 0
	}
	return c.cfg.Latency(op, seq)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

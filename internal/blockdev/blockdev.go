// internal/blockdev/blockdev.go
package blockdev

import (
	"errors"
	"fmt"
	"time"

	"github.com/tamzrod/flashqa/internal/flash"
)

// ErrIO is the single fault the filesystem sees. Driver error kinds are
// collapsed into it; the filesystem's own retry policy decides what next.
var ErrIO = errors.New("blockdev: io fault")

// Geometry defaults for W25Q parts.
const (
	DefaultReadSize        = flash.PageSize
	DefaultProgSize        = flash.PageSize
	DefaultBlockSize       = flash.SectorSize
	DefaultBlockCycles     = 500
	DefaultCacheSize       = flash.PageSize
	DefaultLookaheadBuffer = 64
	minLookahead           = 8
)

// Driver is the part of the flash driver the adapter needs.
type Driver interface {
	Info() (flash.Info, error)
	Read(addr uint32, buf []byte) error
	Write(addr uint32, data []byte) error
	EraseSector(addr uint32) error
	WaitReady(timeout time.Duration) error
}

// Config is the littlefs geometry handed to the filesystem. It is fixed
// once the adapter is built.
type Config struct {
	ReadSize      uint32
	ProgSize      uint32
	BlockSize     uint32
	BlockCount    uint32
	BlockCycles   int32
	CacheSize     uint32
	LookaheadSize uint32

	// StartBlock offsets the partition inside the chip.
	StartBlock uint32
}

// Option adjusts the adapter.
type Option func(*options)

type options struct {
	startBlock      uint32
	blockCount      uint32
	blockCycles     int32
	lookaheadBuffer uint32
}

// WithPartition restricts the filesystem to count blocks starting at start.
// A zero count means "to the end of the chip".
func WithPartition(start, count uint32) Option {
	return func(o *options) {
		o.startBlock = start
		o.blockCount = count
	}
}

// WithBlockCycles sets the wear-levelling erase budget per block.
func WithBlockCycles(n int32) Option {
	return func(o *options) {
		if n != 0 {
			o.blockCycles = n
		}
	}
}

// WithLookaheadBuffer sets the capacity of the lookahead bitmap buffer in bytes.
func WithLookaheadBuffer(n uint32) Option {
	return func(o *options) {
		if n != 0 {
			o.lookaheadBuffer = n
		}
	}
}

// LookaheadSize derives the lookahead bitmap size: block_count/8 clamped
// to [8, bufferCap] and rounded down to a multiple of 8, never below 8.
func LookaheadSize(blockCount, bufferCap uint32) uint32 {
	size := blockCount / 8
	if size < minLookahead {
		size = minLookahead
	}
	if size > bufferCap {
		size = bufferCap
	}
	size &^= 7
	if size < minLookahead {
		size = minLookahead
	}
	return size
}

// BlockDevice implements the littlefs block device contract
// (ReadBlock, ProgramBlock, EraseBlock, Sync) on top of the flash driver.
// It holds no cache; every call maps 1:1 onto driver calls.
type BlockDevice struct {
	drv Driver
	cfg Config
}

// New builds the adapter. The driver must already be initialized.
func New(drv Driver, opts ...Option) (*BlockDevice, error) {
	info, err := drv.Info()
	if err != nil {
		return nil, fmt.Errorf("blockdev: driver not ready: %w", err)
	}

	o := options{
		blockCycles:     DefaultBlockCycles,
		lookaheadBuffer: DefaultLookaheadBuffer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	total := uint32(info.CapacityBytes() / DefaultBlockSize)
	if o.startBlock >= total {
		return nil, fmt.Errorf("blockdev: start block %d beyond %d blocks", o.startBlock, total)
	}
	count := o.blockCount
	if count == 0 {
		count = total - o.startBlock
	}
	if uint64(o.startBlock)+uint64(count) > uint64(total) {
		return nil, fmt.Errorf("blockdev: partition %d+%d exceeds %d blocks", o.startBlock, count, total)
	}
	if o.lookaheadBuffer < minLookahead {
		return nil, fmt.Errorf("blockdev: lookahead buffer %d below %d bytes", o.lookaheadBuffer, minLookahead)
	}

	return &BlockDevice{
		drv: drv,
		cfg: Config{
			ReadSize:      DefaultReadSize,
			ProgSize:      DefaultProgSize,
			BlockSize:     DefaultBlockSize,
			BlockCount:    count,
			BlockCycles:   o.blockCycles,
			CacheSize:     DefaultCacheSize,
			LookaheadSize: LookaheadSize(count, o.lookaheadBuffer),
			StartBlock:    o.startBlock,
		},
	}, nil
}

// Config returns the geometry.
func (b *BlockDevice) Config() Config {
	return b.cfg
}

// ReadBlock reads len(buf) bytes at off within block.
func (b *BlockDevice) ReadBlock(block, off uint32, buf []byte) error {
	addr, err := b.addr(block, off, len(buf))
	if err != nil {
		return err
	}
	if err := b.drv.Read(addr, buf); err != nil {
		return fmt.Errorf("%w: read block %d+%d: %v", ErrIO, block, off, err)
	}
	return nil
}

// ProgramBlock programs buf at off within an erased block.
func (b *BlockDevice) ProgramBlock(block, off uint32, buf []byte) error {
	addr, err := b.addr(block, off, len(buf))
	if err != nil {
		return err
	}
	if err := b.drv.Write(addr, buf); err != nil {
		return fmt.Errorf("%w: program block %d+%d: %v", ErrIO, block, off, err)
	}
	return nil
}

// EraseBlock erases one block (one sector).
func (b *BlockDevice) EraseBlock(block uint32) error {
	addr, err := b.addr(block, 0, 0)
	if err != nil {
		return err
	}
	if err := b.drv.EraseSector(addr); err != nil {
		return fmt.Errorf("%w: erase block %d: %v", ErrIO, block, err)
	}
	return nil
}

// Sync waits for the chip to go idle. Nothing is buffered here.
func (b *BlockDevice) Sync() error {
	if err := b.drv.WaitReady(0); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

// addr maps (block, off) to a linear address, bounds-checked in 64 bits
// against the partition.
func (b *BlockDevice) addr(block, off uint32, n int) (uint32, error) {
	end := uint64(block)*uint64(b.cfg.BlockSize) + uint64(off) + uint64(n)
	if block >= b.cfg.BlockCount || end > uint64(b.cfg.BlockCount)*uint64(b.cfg.BlockSize) {
		return 0, fmt.Errorf("%w: block %d+%d len %d outside partition", ErrIO, block, off, n)
	}
	return (b.cfg.StartBlock+block)*b.cfg.BlockSize + off, nil
}

// internal/blockdev/superblock.go
package blockdev

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// littlefs keeps its superblock in the metadata pair at blocks 0 and 1.
// The first commit starts with the revision count, the superblock name
// tag, the magic, the inline-struct tag and the geometry.
const (
	sbMagicOff  = 8
	sbStructOff = 20
	sbHeaderLen = sbStructOff + 12
)

var sbMagic = []byte("littlefs")

// Superblock is the geometry a littlefs image was formatted with.
type Superblock struct {
	Block      uint32 // metadata block holding the newest copy
	Revision   uint32
	Version    uint32 // major<<16 | minor
	BlockSize  uint32
	BlockCount uint32
}

// VersionString renders the on-disk version as major.minor.
func (s Superblock) VersionString() string {
	return fmt.Sprintf("%d.%d", s.Version>>16, s.Version&0xFFFF)
}

// FindSuperblock looks for a littlefs superblock in blocks 0 and 1 of
// the partition. When both carry one, the higher revision wins. found is
// false for a blank or foreign partition.
func (b *BlockDevice) FindSuperblock() (sb Superblock, found bool, err error) {
	buf := make([]byte, sbHeaderLen)
	for block := uint32(0); block < 2 && block < b.cfg.BlockCount; block++ {
		if err := b.ReadBlock(block, 0, buf); err != nil {
			return Superblock{}, false, err
		}
		if !bytes.Equal(buf[sbMagicOff:sbMagicOff+len(sbMagic)], sbMagic) {
			continue
		}
		cand := Superblock{
			Block:      block,
			Revision:   binary.LittleEndian.Uint32(buf[0:]),
			Version:    binary.LittleEndian.Uint32(buf[sbStructOff:]),
			BlockSize:  binary.LittleEndian.Uint32(buf[sbStructOff+4:]),
			BlockCount: binary.LittleEndian.Uint32(buf[sbStructOff+8:]),
		}
		if !found || cand.Revision > sb.Revision {
			sb, found = cand, true
		}
	}
	return sb, found, nil
}

// Check compares a superblock against the adapter geometry and returns
// one line per mismatch.
func (b *BlockDevice) Check(sb Superblock) []string {
	var issues []string
	if sb.BlockSize != b.cfg.BlockSize {
		issues = append(issues, fmt.Sprintf("block size %d, adapter uses %d", sb.BlockSize, b.cfg.BlockSize))
	}
	if sb.BlockCount != b.cfg.BlockCount {
		issues = append(issues, fmt.Sprintf("block count %d, adapter uses %d", sb.BlockCount, b.cfg.BlockCount))
	}
	if sb.Version>>16 != 2 {
		issues = append(issues, fmt.Sprintf("on-disk version %s, want 2.x", sb.VersionString()))
	}
	return issues
}

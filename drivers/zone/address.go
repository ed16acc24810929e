// Package zone implements block translation for removable SmartMedia cards:
// the card's physical blocks are grouped into zones of 1024, and each block
// records in its spare area which logical block (0-999) of its zone it holds.
package zone

import (
	"encoding/binary"
	"fmt"

	c "github.com/dargueta/yepp/drivers/common"
)

const (
	// BlocksPerZone is the number of physical blocks in one zone.
	BlocksPerZone = 1024
	// LogicalPerZone is the number of logical blocks a zone exposes. The
	// remaining physical blocks are spares for wear leveling and defects.
	LogicalPerZone = 1000
)

// Slot is the state of one physical block in the zone table: a zone-relative
// logical block number if non-negative, otherwise one of the Slot* markers.
type Slot int16

const (
	SlotFree     Slot = -1
	SlotDefect   Slot = -2
	SlotCIS      Slot = -3
	SlotReserved Slot = -4
)

func (s Slot) String() string {
	switch s {
	case SlotFree:
		return "FREE"
	case SlotDefect:
		return "DEFECT"
	case SlotCIS:
		return "CIS"
	case SlotReserved:
		return "RESERVED"
	default:
		return fmt.Sprintf("%d", int16(s))
	}
}

// IsMapped reports whether the slot holds a logical block.
func (s Slot) IsMapped() bool {
	return s >= 0
}

const (
	addressTag     = 0x1000
	addressTagMask = 0xf800
	addressMask    = 0x03ff
)

// EncodeAddress packs a zone-relative logical block number into the 16-bit
// value stored in a block's spare area. Bit 0 makes the parity of the whole
// value even.
func EncodeAddress(n uint16) uint16 {
	value := addressTag | (n&addressMask)<<1
	if parity(value) {
		value |= 1
	}
	return value
}

// parity returns true if `value` has an odd number of set bits.
func parity(value uint16) bool {
	value ^= value >> 8
	value ^= value >> 4
	value ^= value >> 2
	value ^= value >> 1
	return value&1 != 0
}

// DecodeAddress reads both address copies out of a spare area and returns the
// slot state they describe.
func DecodeAddress(spare []byte) Slot {
	if len(spare) < c.SpareAddress2+2 {
		return SlotDefect
	}

	first := binary.BigEndian.Uint16(spare[c.SpareAddress1:])
	second := binary.BigEndian.Uint16(spare[c.SpareAddress2:])

	switch {
	case first == 0 && second == 0:
		return SlotDefect
	case first == 0xffff && second == 0xffff:
		return SlotFree
	case first != second:
		return SlotDefect
	case parity(first):
		return SlotDefect
	case first&addressTagMask != addressTag:
		return SlotDefect
	}

	return Slot((first >> 1) & addressMask)
}

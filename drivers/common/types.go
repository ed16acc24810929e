// Package common contains definitions of fundamental types and functions used
// across the flash translation, FAT and directory layers.
package common

import "math"

// LogicalBlock is a block number as the file system sees it. On the card it is
// resolved to a physical block through the zone table; on internal flash the
// two are the same.
type LogicalBlock uint

// PhysicalBlock is the index of an erase block on a flash chip.
type PhysicalBlock uint

// SectorID is the absolute index of a 512-byte sector within a bank's logical
// address space.
type SectorID uint

// ClusterID is the index of an entry in a file allocation table.
type ClusterID uint32

const InvalidLogicalBlock = LogicalBlock(math.MaxUint)
const InvalidPhysicalBlock = PhysicalBlock(math.MaxUint)

const (
	// BytesPerSector is the size of the data part of a sector.
	BytesPerSector = 512
	// SpareSize is the size of the out-of-band area that follows each sector.
	SpareSize = 64
	// RawSectorSize is the size of a sector as it comes off the chip.
	RawSectorSize = BytesPerSector + SpareSize

	// SectorsPerBlock is the size of an erase block on standard chips.
	SectorsPerBlock = 32
	// SectorsPerMegablock is the size of the erase unit on newer internal
	// chips, which gang eight standard blocks together.
	SectorsPerMegablock = 8 * SectorsPerBlock
)

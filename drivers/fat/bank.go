// Package fat maintains the file allocation tables of the player's two kinds
// of memory: a proprietary table of 16-byte records on internal flash, and a
// standard FAT12 or FAT16 table on SmartMedia cards.
package fat

import (
	"fmt"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/disks"
	c "github.com/dargueta/yepp/drivers/common"
	"github.com/dargueta/yepp/drivers/zone"
)

// The firmware never places clusters in the last two logical blocks of each
// zone. These values come from the firmware and are kept as is.
const (
	gapInterval = zone.LogicalPerZone
	gapBlocks   = 2
)

const (
	externalFATCopies   = 2
	externalRootEntries = 256
	externalRootSectors = externalRootEntries * 32 / c.BytesPerSector
	firstCluster        = 2
)

// MemoryBank is the layout of one memory. Everything in it follows from the
// memory's size and model, so it's never stored anywhere.
type MemoryBank struct {
	Kind     yepp.Bank
	Capacity uint64
	Chips    uint

	// Legacy disk geometry, only used for the partition table.
	Cylinders       uint
	Heads           uint
	SectorsPerTrack uint

	SectorsPerBlock uint
	// TotalBlocks is the number of blocks the file system can address: logical
	// blocks on a card, physical blocks on internal flash.
	TotalBlocks uint

	HiddenSectors  uint
	FATOffset      c.SectorID
	FATSectors     uint
	FATCopies      uint
	RootDirSector  c.SectorID
	RootDirSectors uint
	DataStart      c.SectorID
	// Bits is the width of a card's FAT entries. It's 0 for internal memory.
	Bits uint
	// MaxCluster is the number of entries in the allocation table, including
	// the reserved ones.
	MaxCluster      c.ClusterID
	Signature       [2]byte
	SupportsFolders bool
}

// DetermineFATVersion returns the FAT width for a volume with the given number
// of data clusters. The thresholds are from Microsoft's FAT specification.
func DetermineFATVersion(totalClusters uint) uint {
	if totalClusters < 4085 {
		return 12
	}
	return 16
}

func fatSectorsFor(entries uint, bits uint) uint {
	bytes := (entries*bits + 7) / 8
	return (bytes + c.BytesPerSector - 1) / c.BytesPerSector
}

// usableBlocks is the number of logical blocks left for system area and data
// once the per-zone gaps are taken out.
func usableBlocks(logicalBlocks uint) uint {
	zones := logicalBlocks / gapInterval
	return zones * (gapInterval - gapBlocks)
}

// NewExternalBank computes the layout of a SmartMedia card. The PBR is placed
// so that the first data cluster starts on a block boundary.
func NewExternalBank(card disks.Card) (MemoryBank, error) {
	totalBlocks := card.TotalSectors() / c.SectorsPerBlock
	if totalBlocks == 0 || totalBlocks%gapInterval != 0 {
		return MemoryBank{}, yepp.ErrMemoryNotAvailable.WithMessage(
			fmt.Sprintf("%dMB card geometry doesn't cover whole zones", card.MegaBytes))
	}

	usable := usableBlocks(totalBlocks)
	bank := MemoryBank{
		Kind:            yepp.BankExternal,
		Capacity:        uint64(card.MegaBytes) * 1024 * 1024,
		Chips:           1,
		Cylinders:       card.Cylinders,
		Heads:           card.Heads,
		SectorsPerTrack: card.SectorsPerTrack,
		SectorsPerBlock: c.SectorsPerBlock,
		TotalBlocks:     totalBlocks,
		FATCopies:       externalFATCopies,
		RootDirSectors:  externalRootSectors,
	}

	// The cluster count depends on where the data area starts, which depends on
	// the size of the FAT, which depends on the cluster count. Start from an
	// upper bound and shrink until it settles.
	clusters := usable
	for {
		bank.Bits = DetermineFATVersion(clusters)
		bank.FATSectors = fatSectorsFor(clusters+firstCluster, bank.Bits)

		systemSectors := 1 + bank.FATCopies*bank.FATSectors + bank.RootDirSectors
		// The MBR needs sector 0 to itself, so there's at least one hidden
		// sector.
		bank.HiddenSectors = c.SectorsPerBlock - systemSectors%c.SectorsPerBlock

		dataStart := bank.HiddenSectors + systemSectors
		newClusters := usable - dataStart/c.SectorsPerBlock
		if newClusters == clusters {
			break
		}
		clusters = newClusters
	}

	bank.FATOffset = c.SectorID(bank.HiddenSectors + 1)
	bank.RootDirSector = bank.FATOffset + c.SectorID(bank.FATCopies*bank.FATSectors)
	bank.DataStart = bank.RootDirSector + c.SectorID(bank.RootDirSectors)
	bank.MaxCluster = c.ClusterID(clusters + firstCluster)
	return bank, nil
}

// internalRecordsPerBlock is the number of 16-byte records in one block.
func internalRecordsPerBlock(sectorsPerBlock uint) uint {
	return sectorsPerBlock * c.BytesPerSector / RecordSize
}

// NewInternalBank computes the layout of a model's internal memory: a header
// block, the allocation table, one block of root directory, then data.
func NewInternalBank(model disks.Model) (MemoryBank, error) {
	sectorsPerBlock := uint(c.SectorsPerBlock)
	if model.Megablock {
		sectorsPerBlock = c.SectorsPerMegablock
	}

	if model.Chips > MaxChips {
		return MemoryBank{}, yepp.ErrMemoryNotAvailable.WithMessage(
			fmt.Sprintf("%s: %d chips, at most %d supported", model.Slug, model.Chips, MaxChips))
	}

	capacity := uint64(model.InternalMB) * 1024 * 1024
	totalBlocks := uint(capacity / uint64(sectorsPerBlock*c.BytesPerSector))
	if model.Chips == 0 || totalBlocks == 0 || totalBlocks%model.Chips != 0 {
		return MemoryBank{}, yepp.ErrMemoryNotAvailable.WithMessage(
			fmt.Sprintf(
				"%s: %d blocks can't be split across %d chips",
				model.Slug,
				totalBlocks,
				model.Chips))
	}

	perBlock := internalRecordsPerBlock(sectorsPerBlock)
	fatBlocks := (totalBlocks + perBlock - 1) / perBlock

	return MemoryBank{
		Kind:            yepp.BankInternal,
		Capacity:        capacity,
		Chips:           model.Chips,
		SectorsPerBlock: sectorsPerBlock,
		TotalBlocks:     totalBlocks,
		FATOffset:       c.SectorID(sectorsPerBlock),
		FATSectors:      fatBlocks * sectorsPerBlock,
		FATCopies:       1,
		RootDirSector:   c.SectorID((1 + fatBlocks) * sectorsPerBlock),
		RootDirSectors:  sectorsPerBlock,
		DataStart:       c.SectorID((2 + fatBlocks) * sectorsPerBlock),
		MaxCluster:      c.ClusterID(totalBlocks),
		Signature:       model.Signature,
		SupportsFolders: model.SupportsFolders,
	}, nil
}

// BlockSize returns the number of data bytes in one block. Clusters are always
// one block.
func (bank *MemoryBank) BlockSize() uint {
	return bank.SectorsPerBlock * c.BytesPerSector
}

// SystemBlocks returns the number of blocks before the data area.
func (bank *MemoryBank) SystemBlocks() uint {
	return uint(bank.DataStart) / bank.SectorsPerBlock
}

// IsExternal reports whether the bank is a card using a standard FAT.
func (bank *MemoryBank) IsExternal() bool {
	return bank.Kind == yepp.BankExternal
}

// FirstDataCluster returns the lowest cluster number that can hold file data.
func (bank *MemoryBank) FirstDataCluster() c.ClusterID {
	if bank.IsExternal() {
		return firstCluster
	}
	return c.ClusterID(bank.SystemBlocks())
}

// DataClusters returns the number of clusters available for file data.
func (bank *MemoryBank) DataClusters() uint {
	return uint(bank.MaxCluster - bank.FirstDataCluster())
}

// IsDataCluster reports whether `cluster` may appear in a chain.
func (bank *MemoryBank) IsDataCluster(cluster c.ClusterID) bool {
	return cluster >= bank.FirstDataCluster() && cluster < bank.MaxCluster
}

// ClusterToBlock returns the block holding `cluster`: a logical block on a
// card, skipping the gap at the end of each zone, or the physical block on
// internal memory.
func (bank *MemoryBank) ClusterToBlock(cluster c.ClusterID) (c.LogicalBlock, error) {
	if !bank.IsDataCluster(cluster) {
		return c.InvalidLogicalBlock, yepp.ErrFATError.WithMessage(
			fmt.Sprintf(
				"invalid cluster %d: not in range [%d, %d)",
				cluster,
				bank.FirstDataCluster(),
				bank.MaxCluster))
	}

	if !bank.IsExternal() {
		return c.LogicalBlock(cluster), nil
	}

	usable := bank.SystemBlocks() + uint(cluster-firstCluster)
	perZone := uint(gapInterval - gapBlocks)
	return c.LogicalBlock((usable/perZone)*gapInterval + usable%perZone), nil
}

// ChipAddress splits an internal cluster number into its chip and the block
// offset within that chip.
func (bank *MemoryBank) ChipAddress(cluster c.ClusterID) Address {
	perChip := uint(bank.MaxCluster) / bank.Chips
	return Address{
		Chip:   uint8(uint(cluster) / perChip),
		Offset: uint32(uint(cluster) % perChip),
	}
}

// ClusterForAddress is the inverse of ChipAddress.
func (bank *MemoryBank) ClusterForAddress(address Address) c.ClusterID {
	perChip := uint(bank.MaxCluster) / bank.Chips
	return c.ClusterID(uint(address.Chip)*perChip + uint(address.Offset))
}

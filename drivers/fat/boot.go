package fat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
)

const (
	partitionTableOffset = 0x1be
	bootSignatureOffset  = 0x1fe
	partitionActive      = 0x80
	fsTypeOffset         = 0x36
	mediaDescriptor      = 0xf8
)

// Partition types written into the MBR.
const (
	PartitionFAT12      = 0x01
	PartitionFAT16Small = 0x04
	PartitionFAT16      = 0x06
)

var bootSignature = []byte{0x55, 0xaa}

// CHS is a legacy cylinder/head/sector disk address. Sectors count from 1.
type CHS struct {
	Cylinder uint
	Head     uint
	Sector   uint
}

func (bank *MemoryBank) lbaToCHS(lba uint) CHS {
	perCylinder := bank.Heads * bank.SectorsPerTrack
	return CHS{
		Cylinder: lba / perCylinder,
		Head:     (lba / bank.SectorsPerTrack) % bank.Heads,
		Sector:   lba%bank.SectorsPerTrack + 1,
	}
}

func encodeCHS(chs CHS) [3]byte {
	return [3]byte{
		byte(chs.Head),
		byte(chs.Sector&0x3f) | byte((chs.Cylinder>>8)&0x03)<<6,
		byte(chs.Cylinder),
	}
}

func decodeCHS(raw []byte) CHS {
	return CHS{
		Head:     uint(raw[0]),
		Sector:   uint(raw[1] & 0x3f),
		Cylinder: uint(raw[1]>>6)<<8 | uint(raw[2]),
	}
}

// PartitionEntry is one decoded slot of the MBR's partition table.
type PartitionEntry struct {
	Active     bool
	Type       byte
	Start      CHS
	End        CHS
	StartLBA   uint32
	NumSectors uint32
}

// TotalSectors returns the number of sectors in the partition, counting from
// the PBR.
func (bank *MemoryBank) TotalSectors() uint {
	return uint(bank.DataStart) - bank.HiddenSectors + bank.DataClusters()*bank.SectorsPerBlock
}

func (bank *MemoryBank) partitionType() byte {
	if bank.Bits == 12 {
		return PartitionFAT12
	}
	if bank.HiddenSectors+bank.TotalSectors() < 0x10000 {
		return PartitionFAT16Small
	}
	return PartitionFAT16
}

// BuildMBR returns the master boot record for a card: no boot code, and one
// active partition starting at the PBR.
func BuildMBR(bank *MemoryBank) []byte {
	sector := make([]byte, c.BytesPerSector)
	entry := sector[partitionTableOffset : partitionTableOffset+16]

	lastSector := bank.HiddenSectors + bank.TotalSectors() - 1
	start := encodeCHS(bank.lbaToCHS(bank.HiddenSectors))
	end := encodeCHS(bank.lbaToCHS(lastSector))

	entry[0] = partitionActive
	copy(entry[1:4], start[:])
	entry[4] = bank.partitionType()
	copy(entry[5:8], end[:])
	binary.LittleEndian.PutUint32(entry[8:], uint32(bank.HiddenSectors))
	binary.LittleEndian.PutUint32(entry[12:], uint32(bank.TotalSectors()))

	copy(sector[bootSignatureOffset:], bootSignature)
	return sector
}

// ParseMBR returns the active partition of a master boot record.
func ParseMBR(sector []byte) (PartitionEntry, error) {
	if len(sector) < c.BytesPerSector {
		return PartitionEntry{}, yepp.ErrFATError.WithMessage("MBR is truncated")
	}
	if !bytes.Equal(sector[bootSignatureOffset:bootSignatureOffset+2], bootSignature) {
		return PartitionEntry{}, yepp.ErrFATError.WithMessage("MBR has no boot signature")
	}

	for i := 0; i < 4; i++ {
		entry := sector[partitionTableOffset+i*16 : partitionTableOffset+(i+1)*16]
		if entry[0] != partitionActive {
			continue
		}
		return PartitionEntry{
			Active:     true,
			Type:       entry[4],
			Start:      decodeCHS(entry[1:4]),
			End:        decodeCHS(entry[5:8]),
			StartLBA:   binary.LittleEndian.Uint32(entry[8:]),
			NumSectors: binary.LittleEndian.Uint32(entry[12:]),
		}, nil
	}
	return PartitionEntry{}, yepp.ErrFATError.WithMessage("MBR has no active partition")
}

// RawBootSector is the on-disk layout of the start of a FAT12/16 partition
// boot record, up to and including the file system type.
type RawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	DriveNumber       uint8
	Reserved          uint8
	ExtendedSignature uint8
	VolumeID          uint32
	VolumeLabel       [11]byte
	FSType            [8]byte
}

// BootSector is a decoded PBR with the derived values filled in.
type BootSector struct {
	RawBootSector
	SectorsPerFAT  uint
	TotalSectors   uint
	RootDirSectors uint
	Bits           uint
}

// BuildPBR returns the partition boot record for a card.
func BuildPBR(bank *MemoryBank, volumeID uint32) []byte {
	raw := RawBootSector{
		JmpBoot:           [3]byte{0xeb, 0x3c, 0x90},
		BytesPerSector:    c.BytesPerSector,
		SectorsPerCluster: uint8(bank.SectorsPerBlock),
		ReservedSectors:   1,
		NumFATs:           uint8(bank.FATCopies),
		RootEntryCount:    uint16(bank.RootDirSectors * c.BytesPerSector / 32),
		Media:             mediaDescriptor,
		SectorsPerFAT16:   uint16(bank.FATSectors),
		SectorsPerTrack:   uint16(bank.SectorsPerTrack),
		NumHeads:          uint16(bank.Heads),
		HiddenSectors:     uint32(bank.HiddenSectors),
		DriveNumber:       0x80,
		ExtendedSignature: 0x29,
		VolumeID:          volumeID,
	}
	copy(raw.OEMName[:], "YEPP    ")
	copy(raw.VolumeLabel[:], "NO NAME    ")
	copy(raw.FSType[:], fmt.Sprintf("FAT%-5d", bank.Bits))

	total := bank.TotalSectors()
	if total < 0x10000 {
		raw.TotalSectors16 = uint16(total)
	} else {
		raw.TotalSectors32 = uint32(total)
	}

	var buffer bytes.Buffer
	binary.Write(&buffer, binary.LittleEndian, &raw)

	sector := make([]byte, c.BytesPerSector)
	copy(sector, buffer.Bytes())
	copy(sector[bootSignatureOffset:], bootSignature)
	return sector
}

// ParsePBR decodes a partition boot record and checks that it describes a
// volume this package can handle.
func ParsePBR(sector []byte) (*BootSector, error) {
	if len(sector) < c.BytesPerSector {
		return nil, yepp.ErrFATError.WithMessage("PBR is truncated")
	}
	if !bytes.Equal(sector[fsTypeOffset:fsTypeOffset+4], []byte("FAT1")) {
		return nil, yepp.ErrFATError.WithMessage(
			fmt.Sprintf("PBR isn't FAT12 or FAT16: %q", sector[fsTypeOffset:fsTypeOffset+8]))
	}

	boot := &BootSector{}
	err := binary.Read(bytes.NewReader(sector), binary.LittleEndian, &boot.RawBootSector)
	if err != nil {
		return nil, yepp.ErrFATError.Wrap(err)
	}

	if boot.BytesPerSector != c.BytesPerSector {
		return nil, yepp.ErrFATError.WithMessage(
			fmt.Sprintf("bad value for BytesPerSector: need %d, got %d", c.BytesPerSector, boot.BytesPerSector))
	}
	if boot.SectorsPerCluster == 0 || boot.NumFATs == 0 {
		return nil, yepp.ErrFATError.WithMessage("corruption detected: PBR has zero-sized fields")
	}

	switch sector[fsTypeOffset+4] {
	case '2':
		boot.Bits = 12
	case '6':
		boot.Bits = 16
	default:
		return nil, yepp.ErrFATError.WithMessage(
			fmt.Sprintf("unsupported FAT type %q", sector[fsTypeOffset:fsTypeOffset+8]))
	}

	if boot.TotalSectors16 != 0 {
		boot.TotalSectors = uint(boot.TotalSectors16)
	} else {
		boot.TotalSectors = uint(boot.TotalSectors32)
	}
	boot.RootDirSectors = (uint(boot.RootEntryCount)*32 + c.BytesPerSector - 1) / c.BytesPerSector

	if boot.SectorsPerFAT16 != 0 {
		boot.SectorsPerFAT = uint(boot.SectorsPerFAT16)
	} else {
		// Older formatters left this blank. Size the FAT for the largest
		// cluster count the partition could possibly have.
		overhead := uint(boot.ReservedSectors) + boot.RootDirSectors
		if boot.TotalSectors <= overhead {
			return nil, yepp.ErrFATError.WithMessage("corruption detected: partition has no data area")
		}
		clusters := (boot.TotalSectors - overhead) / uint(boot.SectorsPerCluster)
		boot.SectorsPerFAT = fatSectorsFor(clusters+firstCluster, boot.Bits)
	}
	return boot, nil
}

// ApplyBootRecords replaces the FAT and directory layout of `bank` with the
// one described by the card's boot records, after checking that it fits the
// card.
func (bank *MemoryBank) ApplyBootRecords(partition PartitionEntry, boot *BootSector) error {
	if uint(boot.SectorsPerCluster) != bank.SectorsPerBlock {
		return yepp.ErrFATError.WithMessage(
			fmt.Sprintf(
				"clusters must be one block (%d sectors), got %d",
				bank.SectorsPerBlock,
				boot.SectorsPerCluster))
	}

	hidden := uint(partition.StartLBA)
	if uint(boot.HiddenSectors) != hidden {
		return yepp.ErrFATError.WithMessage(
			fmt.Sprintf("PBR says it's at sector %d, MBR says %d", boot.HiddenSectors, hidden))
	}

	fatOffset := hidden + uint(boot.ReservedSectors)
	rootDir := fatOffset + uint(boot.NumFATs)*boot.SectorsPerFAT
	dataStart := rootDir + boot.RootDirSectors
	if dataStart%bank.SectorsPerBlock != 0 {
		return yepp.ErrFATError.WithMessage(
			fmt.Sprintf("data area at sector %d isn't block-aligned", dataStart))
	}

	systemSize := dataStart - hidden
	if boot.TotalSectors <= systemSize {
		return yepp.ErrFATError.WithMessage("corruption detected: partition has no data area")
	}
	clusters := (boot.TotalSectors - systemSize) / bank.SectorsPerBlock
	if dataStart/bank.SectorsPerBlock+clusters > usableBlocks(bank.TotalBlocks) {
		return yepp.ErrFATError.WithMessage(
			fmt.Sprintf("%d clusters don't fit on a %dMB card", clusters, bank.Capacity>>20))
	}
	if fatSectorsFor(clusters+firstCluster, boot.Bits) > boot.SectorsPerFAT {
		return yepp.ErrFATError.WithMessage(
			fmt.Sprintf("%d-sector FAT is too small for %d clusters", boot.SectorsPerFAT, clusters))
	}

	bank.HiddenSectors = hidden
	bank.FATOffset = c.SectorID(fatOffset)
	bank.FATSectors = boot.SectorsPerFAT
	bank.FATCopies = uint(boot.NumFATs)
	bank.RootDirSector = c.SectorID(rootDir)
	bank.RootDirSectors = boot.RootDirSectors
	bank.DataStart = c.SectorID(dataStart)
	bank.Bits = boot.Bits
	bank.MaxCluster = c.ClusterID(clusters + firstCluster)
	return nil
}

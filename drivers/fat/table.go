package fat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
	"github.com/dargueta/yepp/drivers/common/blockcache"
	"github.com/dargueta/yepp/drivers/zone"
)

// Table is the allocation table of one mounted memory. The whole system area
// (boot records, allocation tables, root directory) is cached in memory, and
// changes to it only reach flash on Sync.
type Table struct {
	bank    MemoryBank
	flash   c.FlashIO
	zones   *zone.Table
	cache   *blockcache.BlockCache
	pending c.Allocator
	logger  *slog.Logger
	hint    c.ClusterID
}

// NewTable sets up access to a memory with the given layout without reading
// anything. `zones` is required for cards and ignored for internal memory.
func NewTable(bank MemoryBank, flash c.FlashIO, zones *zone.Table, logger *slog.Logger) (*Table, error) {
	if bank.IsExternal() && zones == nil {
		return nil, yepp.ErrInternal.WithMessage("a card needs a zone table")
	}
	if uint(flash.SectorsPerBlock()) != bank.SectorsPerBlock {
		return nil, yepp.ErrInternal.WithMessage(
			fmt.Sprintf(
				"memory has %d sectors per block, layout expects %d",
				flash.SectorsPerBlock(),
				bank.SectorsPerBlock))
	}

	table := &Table{
		bank:    bank,
		flash:   flash,
		zones:   zones,
		pending: c.NewAllocator(uint(bank.MaxCluster)),
		logger:  c.LoggerOrDiscard(logger),
		hint:    bank.FirstDataCluster(),
	}
	table.cache = blockcache.New(
		bank.BlockSize(), bank.SystemBlocks(), table.fetchSystemBlock, table.flushSystemBlock)
	return table, nil
}

// Bank returns the layout of the memory.
func (table *Table) Bank() *MemoryBank {
	return &table.bank
}

func (table *Table) fetchSystemBlock(block c.LogicalBlock, buffer []byte) error {
	if table.bank.IsExternal() {
		data, err := table.zones.ReadLogical(block)
		if err != nil {
			return err
		}
		copy(buffer, data)
		return nil
	}

	data, err := table.readPhysical(block)
	if err != nil {
		return err
	}
	copy(buffer, data)
	return nil
}

func (table *Table) flushSystemBlock(block c.LogicalBlock, buffer []byte) error {
	if table.bank.IsExternal() {
		return table.zones.WriteLogical(block, buffer)
	}
	return table.writePhysical(block, buffer)
}

func (table *Table) readPhysical(block c.LogicalBlock) ([]byte, error) {
	raw, err := table.flash.ReadBlock(uint32(block))
	if err != nil {
		return nil, err
	}
	data, corrected, err := c.UnpackBlock(raw)
	if err != nil {
		return nil, yepp.ErrReadingFile.Wrap(err)
	}
	if corrected > 0 {
		table.logger.Info(
			"corrected bit errors",
			slog.Uint64("block", uint64(block)),
			slog.Int("sectors", corrected))
	}
	return data, nil
}

func (table *Table) writePhysical(block c.LogicalBlock, data []byte) error {
	err := table.flash.EraseBlock(uint32(block))
	if err != nil {
		return err
	}
	return table.flash.WriteBlock(uint32(block), c.PackBlock(data, c.NoAddress))
}

// ReadSystemArea reads bytes from the cached system area. Offsets are bytes
// from the start of the memory.
func (table *Table) ReadSystemArea(buffer []byte, offset int64) error {
	_, err := table.cache.ReadAt(buffer, offset)
	if err != nil {
		return yepp.ErrFATError.Wrap(err)
	}
	return nil
}

// WriteSystemArea changes bytes in the cached system area.
func (table *Table) WriteSystemArea(buffer []byte, offset int64) error {
	_, err := table.cache.WriteAt(buffer, offset)
	if err != nil {
		return yepp.ErrFATError.Wrap(err)
	}
	return nil
}

func (table *Table) rootDirOffset() int64 {
	return int64(table.bank.RootDirSector) * c.BytesPerSector
}

// RootDirSize returns the size of the root directory region in bytes.
func (table *Table) RootDirSize() uint {
	return table.bank.RootDirSectors * c.BytesPerSector
}

// ReadRootDir returns a copy of the root directory region.
func (table *Table) ReadRootDir() ([]byte, error) {
	buffer := make([]byte, table.RootDirSize())
	return buffer, table.ReadSystemArea(buffer, table.rootDirOffset())
}

// WriteRootDir replaces the root directory region.
func (table *Table) WriteRootDir(data []byte) error {
	if uint(len(data)) != table.RootDirSize() {
		return yepp.ErrInternal.WithMessage(
			fmt.Sprintf("root directory must be %d bytes, got %d", table.RootDirSize(), len(data)))
	}
	return table.WriteSystemArea(data, table.rootDirOffset())
}

// ClusterSize returns the number of bytes in a cluster.
func (table *Table) ClusterSize() uint {
	return table.bank.BlockSize()
}

// ReadCluster returns the contents of one data cluster.
func (table *Table) ReadCluster(cluster c.ClusterID) ([]byte, error) {
	block, err := table.bank.ClusterToBlock(cluster)
	if err != nil {
		return nil, err
	}

	if table.bank.IsExternal() {
		return table.zones.ReadLogical(block)
	}

	data, err := table.readPhysical(block)
	if err != nil {
		if errors.Is(err, yepp.ErrReadingFile) {
			table.MarkDefect(cluster)
		}
		return nil, err
	}
	return data, nil
}

// WriteCluster replaces the contents of one data cluster.
func (table *Table) WriteCluster(cluster c.ClusterID, data []byte) error {
	if uint(len(data)) != table.ClusterSize() {
		return yepp.ErrInternal.WithMessage(
			fmt.Sprintf("cluster data must be %d bytes, got %d", table.ClusterSize(), len(data)))
	}

	block, err := table.bank.ClusterToBlock(cluster)
	if err != nil {
		return err
	}

	if table.bank.IsExternal() {
		return table.zones.WriteLogical(block, data)
	}
	return table.writePhysical(block, data)
}

// Sync writes every modified block of the system area to flash.
func (table *Table) Sync() error {
	err := table.cache.FlushAll()
	if err != nil {
		return yepp.ErrWritingFile.Wrap(err)
	}
	return nil
}

// IsDirty reports whether there are changes that Sync hasn't written yet.
func (table *Table) IsDirty() bool {
	return table.cache.IsDirty()
}

////////////////////////////////////////////////////////////////////////////////
// Internal memory header

const (
	headerSignature  = 0x00
	headerChips      = 0x02
	headerFlags      = 0x03
	headerBlocks     = 0x04
	headerFATSectors = 0x08
	headerMagic      = 0x10

	flagMegablock = 0x01
	flagFolders   = 0x02
)

var internalMagic = []byte("YP-FLASH")

func (table *Table) buildHeader() []byte {
	header := make([]byte, c.BytesPerSector)
	for i := range header {
		header[i] = 0xff
	}

	bank := &table.bank
	copy(header[headerSignature:], bank.Signature[:])
	header[headerChips] = byte(bank.Chips)
	header[headerFlags] = 0
	if bank.SectorsPerBlock == c.SectorsPerMegablock {
		header[headerFlags] |= flagMegablock
	}
	if bank.SupportsFolders {
		header[headerFlags] |= flagFolders
	}
	binary.LittleEndian.PutUint32(header[headerBlocks:], uint32(bank.TotalBlocks))
	binary.LittleEndian.PutUint32(header[headerFATSectors:], uint32(bank.FATSectors))
	copy(header[headerMagic:], internalMagic)
	return header
}

func (table *Table) checkHeader() error {
	header := make([]byte, c.BytesPerSector)
	err := table.ReadSystemArea(header, 0)
	if err != nil {
		return err
	}

	if !bytes.Equal(header[headerMagic:headerMagic+len(internalMagic)], internalMagic) {
		return yepp.ErrFATError.WithMessage("internal memory isn't formatted")
	}
	if header[headerSignature] != table.bank.Signature[0] ||
		header[headerSignature+1] != table.bank.Signature[1] {
		return yepp.ErrFATError.WithMessage(
			fmt.Sprintf(
				"memory was formatted by another model: signature %02x%02x, expected %02x%02x",
				header[headerSignature],
				header[headerSignature+1],
				table.bank.Signature[0],
				table.bank.Signature[1]))
	}

	blocks := binary.LittleEndian.Uint32(header[headerBlocks:])
	fatSectors := binary.LittleEndian.Uint32(header[headerFATSectors:])
	if uint(blocks) != table.bank.TotalBlocks || uint(fatSectors) != table.bank.FATSectors {
		return yepp.ErrFATError.WithMessage(
			fmt.Sprintf(
				"header describes %d blocks with a %d-sector table, memory has %d and %d",
				blocks,
				fatSectors,
				table.bank.TotalBlocks,
				table.bank.FATSectors))
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Mount and format

// Mount opens a memory that has already been formatted. For cards, the FAT
// layout is taken from the boot records rather than `bank`.
func Mount(bank MemoryBank, flash c.FlashIO, zones *zone.Table, logger *slog.Logger) (*Table, error) {
	if bank.IsExternal() {
		if zones == nil {
			return nil, yepp.ErrInternal.WithMessage("a card needs a zone table")
		}

		first, err := zones.ReadLogical(0)
		if err != nil {
			return nil, yepp.ErrFATError.Wrap(err)
		}
		partition, err := ParseMBR(first[:c.BytesPerSector])
		if err != nil {
			return nil, err
		}

		pbrBlock := c.LogicalBlock(uint(partition.StartLBA) / bank.SectorsPerBlock)
		pbrData, err := zones.ReadLogical(pbrBlock)
		if err != nil {
			return nil, yepp.ErrFATError.Wrap(err)
		}
		pbrOffset := (uint(partition.StartLBA) % bank.SectorsPerBlock) * c.BytesPerSector
		boot, err := ParsePBR(pbrData[pbrOffset : pbrOffset+c.BytesPerSector])
		if err != nil {
			return nil, err
		}

		err = bank.ApplyBootRecords(partition, boot)
		if err != nil {
			return nil, err
		}
	}

	table, err := NewTable(bank, flash, zones, logger)
	if err != nil {
		return nil, err
	}

	if !bank.IsExternal() {
		err = table.checkHeader()
		if err != nil {
			return nil, err
		}
	}

	table.logger.Debug(
		"mounted",
		slog.String("bank", bank.Kind.String()),
		slog.Uint64("clusters", uint64(bank.DataClusters())),
		slog.Uint64("fat_bits", uint64(bank.Bits)))
	return table, nil
}

// Format writes an empty file system onto a memory and returns the mounted
// table. Everything previously stored is lost.
func Format(bank MemoryBank, flash c.FlashIO, zones *zone.Table, volumeID uint32, logger *slog.Logger) (*Table, error) {
	table, err := NewTable(bank, flash, zones, logger)
	if err != nil {
		return nil, err
	}

	if bank.IsExternal() {
		err = table.formatExternal(volumeID)
	} else {
		err = table.formatInternal()
	}
	if err != nil {
		return nil, err
	}

	err = table.Sync()
	if err != nil {
		return nil, err
	}

	table.logger.Info(
		"formatted",
		slog.String("bank", bank.Kind.String()),
		slog.Uint64("clusters", uint64(bank.DataClusters())))
	return table, nil
}

func (table *Table) formatExternal(volumeID uint32) error {
	bank := &table.bank
	table.cache.Fill(0)

	err := table.WriteSystemArea(BuildMBR(bank), 0)
	if err != nil {
		return err
	}
	err = table.WriteSystemArea(BuildPBR(bank, volumeID), int64(bank.HiddenSectors)*c.BytesPerSector)
	if err != nil {
		return err
	}

	// The first two entries hold the media descriptor and an end-of-chain
	// marker.
	err = table.setEntryValue(0, table.eofValue()&^0xff|mediaDescriptor)
	if err != nil {
		return err
	}
	return table.setEntryValue(1, table.eofValue())
}

func (table *Table) formatInternal() error {
	bank := &table.bank
	table.cache.Fill(0xff)

	err := table.WriteSystemArea(table.buildHeader(), 0)
	if err != nil {
		return err
	}

	for cluster := c.ClusterID(0); cluster < bank.FirstDataCluster(); cluster++ {
		var rec record
		rec.stamp(StateSystem, KindSystem, 0, bank.Signature)
		err = table.setRecord(cluster, rec)
		if err != nil {
			return err
		}
	}

	// Carry over the factory's bad block marks.
	bad := 0
	for cluster := bank.FirstDataCluster(); cluster < bank.MaxCluster; cluster++ {
		spare, err := table.flash.ReadSpare(uint32(cluster) * uint32(bank.SectorsPerBlock))
		if err != nil {
			return err
		}
		if spare[c.SpareBlockStatus] == 0xff {
			continue
		}

		rec := freeRecord()
		rec[offsetState] = StateBad
		err = table.setRecord(cluster, rec)
		if err != nil {
			return err
		}
		bad++
	}
	if bad > 0 {
		table.logger.Warn("factory bad blocks found", slog.Int("count", bad))
	}

	return table.WriteRootDir(make([]byte, table.RootDirSize()))
}

package zone

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/boljen/go-bitmap"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
)

// CISHeader is the start of the Card Information Structure written into the
// first sector of the CIS block at the factory.
var CISHeader = []byte{0x01, 0x03, 0xd9, 0x01, 0xff, 0x18, 0x02, 0xdf, 0x01, 0x20}

// Stats summarizes the state of every slot in the table.
type Stats struct {
	Zones    uint
	Mapped   uint
	Free     uint
	Defect   uint
	Reserved uint
}

// Table maps each zone's logical blocks to physical blocks. It's rebuilt from
// the card by Scan and kept in memory afterwards; the spare areas on the card
// are the only persistent copy.
type Table struct {
	flash    c.FlashIO
	logger   *slog.Logger
	slots    [][]Slot
	cursors  []uint
	cisBlock c.PhysicalBlock
}

// NewTable creates an empty table for a card with `totalBlocks` physical
// blocks, which must be a whole number of zones. Call Scan before using it.
func NewTable(flash c.FlashIO, totalBlocks uint, logger *slog.Logger) (*Table, error) {
	if totalBlocks == 0 || totalBlocks%BlocksPerZone != 0 {
		return nil, yepp.ErrInternal.WithMessage(
			fmt.Sprintf("card must have a multiple of %d blocks, got %d", BlocksPerZone, totalBlocks))
	}

	numZones := totalBlocks / BlocksPerZone
	table := &Table{
		flash:    flash,
		logger:   c.LoggerOrDiscard(logger),
		slots:    make([][]Slot, numZones),
		cursors:  make([]uint, numZones),
		cisBlock: c.InvalidPhysicalBlock,
	}
	for zone := range table.slots {
		table.slots[zone] = make([]Slot, BlocksPerZone)
		for slot := range table.slots[zone] {
			table.slots[zone][slot] = SlotFree
		}
	}
	return table, nil
}

// NumZones returns the number of zones on the card.
func (table *Table) NumZones() uint {
	return uint(len(table.slots))
}

// LogicalBlocks returns the number of logical blocks the card exposes.
func (table *Table) LogicalBlocks() uint {
	return table.NumZones() * LogicalPerZone
}

func (table *Table) blockDataSize() int {
	return int(table.flash.SectorsPerBlock()) * c.BytesPerSector
}

func (table *Table) firstSector(block c.PhysicalBlock) uint32 {
	return uint32(block) * table.flash.SectorsPerBlock()
}

// Scan reads the spare area of the first sector of every physical block and
// rebuilds the table from the addresses found there.
func (table *Table) Scan() error {
	table.cisBlock = c.InvalidPhysicalBlock

	for zone := range table.slots {
		seen := bitmap.New(LogicalPerZone)
		table.cursors[zone] = 0

		for slot := 0; slot < BlocksPerZone; slot++ {
			block := c.PhysicalBlock(zone*BlocksPerZone + slot)
			spare, err := table.flash.ReadSpare(table.firstSector(block))
			if err != nil {
				return err
			}

			state, err := table.classify(block, spare)
			if err != nil {
				return err
			}

			if state.IsMapped() {
				if state >= LogicalPerZone {
					table.logger.Warn(
						"logical block out of range",
						slog.Int("zone", zone),
						slog.Int("slot", slot),
						slog.Int("logical", int(state)))
					state = SlotDefect
				} else if seen.Get(int(state)) {
					table.logger.Warn(
						"logical block mapped more than once",
						slog.Int("zone", zone),
						slog.Int("slot", slot),
						slog.Int("logical", int(state)))
				} else {
					seen.Set(int(state), true)
				}
			}
			table.slots[zone][slot] = state
		}
	}

	stats := table.Stats()
	table.logger.Debug(
		"zone table scanned",
		slog.Uint64("zones", uint64(stats.Zones)),
		slog.Uint64("mapped", uint64(stats.Mapped)),
		slog.Uint64("free", uint64(stats.Free)),
		slog.Uint64("defect", uint64(stats.Defect)))
	return nil
}

func (table *Table) classify(block c.PhysicalBlock, spare []byte) (Slot, error) {
	if len(spare) != c.SpareSize {
		return SlotDefect, yepp.ErrDeviceNotReady.WithMessage(
			fmt.Sprintf("spare area must be %d bytes, got %d", c.SpareSize, len(spare)))
	}

	addressIsZero := spare[c.SpareAddress1] == 0 &&
		spare[c.SpareAddress1+1] == 0 &&
		spare[c.SpareAddress2] == 0 &&
		spare[c.SpareAddress2+1] == 0

	if spare[c.SpareBlockStatus] != 0xff {
		return SlotDefect, nil
	}

	if addressIsZero && block < BlocksPerZone && table.cisBlock == c.InvalidPhysicalBlock {
		raw, err := table.flash.ReadSector(table.firstSector(block))
		if err != nil {
			return SlotDefect, err
		}
		if bytes.HasPrefix(raw, CISHeader) {
			table.cisBlock = block
			return SlotCIS, nil
		}
	}
	return DecodeAddress(spare), nil
}

// CISBlock returns the physical block holding the card information structure,
// if Scan found one.
func (table *Table) CISBlock() (c.PhysicalBlock, bool) {
	return table.cisBlock, table.cisBlock != c.InvalidPhysicalBlock
}

func (table *Table) checkZone(zone uint) error {
	if zone >= table.NumZones() {
		return yepp.ErrInternal.WithMessage(
			fmt.Sprintf("invalid zone %d: not in range [0, %d)", zone, table.NumZones()))
	}
	return nil
}

// Slot returns the state of one slot.
func (table *Table) Slot(zone uint, slot uint) Slot {
	return table.slots[zone][slot]
}

// FindByLogical returns the slot in `zone` holding logical block `n`. If the
// card has more than one block claiming `n`, the first one wins.
func (table *Table) FindByLogical(zone uint, n uint16) (uint, bool) {
	if zone >= table.NumZones() {
		return 0, false
	}

	found := false
	var result uint
	for slot, state := range table.slots[zone] {
		if state != Slot(n) {
			continue
		}
		if found {
			table.logger.Warn(
				"duplicate mapping ignored",
				slog.Uint64("zone", uint64(zone)),
				slog.Uint64("logical", uint64(n)),
				slog.Uint64("using", uint64(result)),
				slog.Int("ignored", slot))
			continue
		}
		found = true
		result = uint(slot)
	}
	return result, found
}

// FindFree reserves a free slot in `zone` and returns it. Slots are handed out
// round-robin starting after the one most recently reserved, so writes are
// spread across the whole zone.
func (table *Table) FindFree(zone uint) (uint, error) {
	if err := table.checkZone(zone); err != nil {
		return 0, err
	}

	start := table.cursors[zone]
	for i := uint(0); i < BlocksPerZone; i++ {
		slot := (start + i) % BlocksPerZone
		if table.slots[zone][slot] == SlotFree {
			table.slots[zone][slot] = SlotReserved
			table.cursors[zone] = (slot + 1) % BlocksPerZone
			return slot, nil
		}
	}
	return 0, yepp.ErrNotEnoughSpace.WithMessage(
		fmt.Sprintf("no free blocks left in zone %d", zone))
}

// Unreserve returns a slot reserved by FindFree to the free pool.
func (table *Table) Unreserve(zone uint, slot uint) {
	if table.slots[zone][slot] == SlotReserved {
		table.slots[zone][slot] = SlotFree
	}
}

// MarkDefect retires a slot. It's never handed out again until the next scan
// finds it usable.
func (table *Table) MarkDefect(zone uint, slot uint) {
	table.logger.Warn(
		"block marked defective",
		slog.Uint64("zone", uint64(zone)),
		slog.Uint64("slot", uint64(slot)),
		slog.String("was", table.slots[zone][slot].String()))
	table.slots[zone][slot] = SlotDefect
}

// SequentialBlock returns the physical block at position `seq` counting
// through every zone in order, whatever its state. The CIS and spare areas
// are reached this way.
func (table *Table) SequentialBlock(seq uint) (c.PhysicalBlock, error) {
	total := table.NumZones() * BlocksPerZone
	if seq >= total {
		return c.InvalidPhysicalBlock, yepp.ErrInternal.WithMessage(
			fmt.Sprintf("invalid sequential block %d: not in range [0, %d)", seq, total))
	}
	return c.PhysicalBlock(seq), nil
}

func (table *Table) splitLogical(block c.LogicalBlock) (uint, uint16, error) {
	if uint(block) >= table.LogicalBlocks() {
		return 0, 0, yepp.ErrInternal.WithMessage(
			fmt.Sprintf(
				"invalid logical block %d: not in range [0, %d)",
				block,
				table.LogicalBlocks()))
	}
	return uint(block) / LogicalPerZone, uint16(uint(block) % LogicalPerZone), nil
}

// PhysicalForLogical resolves a file system block number through the table.
func (table *Table) PhysicalForLogical(block c.LogicalBlock) (c.PhysicalBlock, error) {
	zone, n, err := table.splitLogical(block)
	if err != nil {
		return c.InvalidPhysicalBlock, err
	}

	slot, found := table.FindByLogical(zone, n)
	if !found {
		return c.InvalidPhysicalBlock, yepp.ErrFATError.WithMessage(
			fmt.Sprintf("logical block %d isn't mapped", block))
	}
	return c.PhysicalBlock(zone*BlocksPerZone + slot), nil
}

// IsMapped reports whether a logical block has ever been written.
func (table *Table) IsMapped(block c.LogicalBlock) bool {
	zone, n, err := table.splitLogical(block)
	if err != nil {
		return false
	}
	_, found := table.FindByLogical(zone, n)
	return found
}

// ReadLogical returns the data of a logical block, correcting single-bit
// errors. A block with an uncorrectable error is marked defective.
func (table *Table) ReadLogical(block c.LogicalBlock) ([]byte, error) {
	physical, err := table.PhysicalForLogical(block)
	if err != nil {
		return nil, err
	}

	raw, err := table.flash.ReadBlock(uint32(physical))
	if err != nil {
		return nil, err
	}

	data, corrected, err := c.UnpackBlock(raw)
	if err != nil {
		zone := uint(physical) / BlocksPerZone
		table.MarkDefect(zone, uint(physical)%BlocksPerZone)
		return nil, yepp.ErrReadingFile.Wrap(err)
	}
	if corrected > 0 {
		table.logger.Info(
			"corrected bit errors",
			slog.Uint64("logical", uint64(block)),
			slog.Uint64("physical", uint64(physical)),
			slog.Int("sectors", corrected))
	}
	return data, nil
}

// WriteLogical stores `data` as logical block `block`. The data always goes to
// a fresh block; the one previously holding `block`, if any, is erased and
// freed afterwards. An old block that can't be erased is retired as defective.
// If programming a block doesn't stick, it's marked
// defective and another one is tried.
func (table *Table) WriteLogical(block c.LogicalBlock, data []byte) error {
	zone, n, err := table.splitLogical(block)
	if err != nil {
		return err
	}
	if len(data) != table.blockDataSize() {
		return yepp.ErrInternal.WithMessage(
			fmt.Sprintf("block data must be %d bytes, got %d", table.blockDataSize(), len(data)))
	}

	oldSlot, hadOld := table.FindByLogical(zone, n)
	raw := c.PackBlock(data, EncodeAddress(n))

	for {
		slot, err := table.FindFree(zone)
		if err != nil {
			return err
		}

		physical := c.PhysicalBlock(zone*BlocksPerZone + slot)
		ok, err := table.program(physical, raw, n)
		if err != nil {
			table.Unreserve(zone, slot)
			return err
		}
		if !ok {
			table.MarkDefect(zone, slot)
			continue
		}

		table.slots[zone][slot] = Slot(n)
		break
	}

	if hadOld {
		// The old block stays out of the mapping even if erasing it fails, so
		// reads can only reach the new copy.
		table.slots[zone][oldSlot] = SlotDefect
		oldPhysical := c.PhysicalBlock(zone*BlocksPerZone + oldSlot)
		err = table.flash.EraseBlock(uint32(oldPhysical))
		if err != nil {
			return err
		}
		table.slots[zone][oldSlot] = SlotFree
	}
	return nil
}

// program erases and writes one block, then reads back its address to make sure
// it took. Transport failures are returned as errors; a block that didn't take
// just returns false.
func (table *Table) program(physical c.PhysicalBlock, raw []byte, n uint16) (bool, error) {
	err := table.flash.EraseBlock(uint32(physical))
	if err != nil {
		return false, err
	}
	err = table.flash.WriteBlock(uint32(physical), raw)
	if err != nil {
		return false, err
	}

	spare, err := table.flash.ReadSpare(table.firstSector(physical))
	if err != nil {
		return false, err
	}
	return DecodeAddress(spare) == Slot(n), nil
}

// FreeBlocks returns the number of free slots in one zone.
func (table *Table) FreeBlocks(zone uint) uint {
	if zone >= table.NumZones() {
		return 0
	}
	count := uint(0)
	for _, state := range table.slots[zone] {
		if state == SlotFree {
			count++
		}
	}
	return count
}

// Stats counts the slots in each state across the whole card.
func (table *Table) Stats() Stats {
	stats := Stats{Zones: table.NumZones()}
	for _, zone := range table.slots {
		for _, state := range zone {
			switch {
			case state.IsMapped():
				stats.Mapped++
			case state == SlotFree:
				stats.Free++
			case state == SlotDefect:
				stats.Defect++
			case state == SlotReserved:
				stats.Reserved++
			}
		}
	}
	return stats
}

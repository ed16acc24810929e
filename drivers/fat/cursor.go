package fat

import (
	"fmt"
	"log/slog"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
)

////////////////////////////////////////////////////////////////////////////////
// Raw entry access

func (table *Table) eofValue() uint32 {
	if table.bank.Bits == 12 {
		return 0xfff
	}
	return 0xffff
}

func (table *Table) eofThreshold() uint32 {
	if table.bank.Bits == 12 {
		return 0xff8
	}
	return 0xfff8
}

func (table *Table) badValue() uint32 {
	if table.bank.Bits == 12 {
		return 0xff7
	}
	return 0xfff7
}

func (table *Table) checkIndex(index c.ClusterID) error {
	if index >= table.bank.MaxCluster {
		return yepp.ErrFATError.WithMessage(
			fmt.Sprintf("invalid cluster %d: not in range [0, %d)", index, table.bank.MaxCluster))
	}
	return nil
}

// entryOffset returns the byte offset of an external FAT entry within the
// first copy of the FAT.
func (table *Table) entryOffset(index c.ClusterID) int64 {
	base := int64(table.bank.FATOffset) * c.BytesPerSector
	if table.bank.Bits == 12 {
		return base + int64(index)*3/2
	}
	return base + int64(index)*2
}

func (table *Table) entryValue(index c.ClusterID) (uint32, error) {
	var raw [2]byte
	err := table.ReadSystemArea(raw[:], table.entryOffset(index))
	if err != nil {
		return 0, err
	}

	value := uint32(raw[0]) | uint32(raw[1])<<8
	if table.bank.Bits == 12 {
		if index&1 != 0 {
			value >>= 4
		}
		value &= 0xfff
	}
	return value, nil
}

// setEntryValue writes an external FAT entry into every copy of the FAT.
func (table *Table) setEntryValue(index c.ClusterID, value uint32) error {
	copySize := int64(table.bank.FATSectors) * c.BytesPerSector

	for i := uint(0); i < table.bank.FATCopies; i++ {
		offset := table.entryOffset(index) + int64(i)*copySize

		var raw [2]byte
		err := table.ReadSystemArea(raw[:], offset)
		if err != nil {
			return err
		}

		current := uint32(raw[0]) | uint32(raw[1])<<8
		if table.bank.Bits == 12 {
			if index&1 != 0 {
				current = current&0x000f | (value&0xfff)<<4
			} else {
				current = current&0xf000 | value&0xfff
			}
		} else {
			current = value & 0xffff
		}

		raw[0] = byte(current)
		raw[1] = byte(current >> 8)
		err = table.WriteSystemArea(raw[:], offset)
		if err != nil {
			return err
		}
	}
	return nil
}

func (table *Table) recordOffset(index c.ClusterID) int64 {
	return int64(table.bank.FATOffset)*c.BytesPerSector + int64(index)*RecordSize
}

func (table *Table) getRecord(index c.ClusterID) (record, error) {
	var rec record
	err := table.ReadSystemArea(rec[:], table.recordOffset(index))
	return rec, err
}

func (table *Table) setRecord(index c.ClusterID, rec record) error {
	return table.WriteSystemArea(rec[:], table.recordOffset(index))
}

////////////////////////////////////////////////////////////////////////////////
// Cursor

// Cursor is a view of one allocation table entry. Changes made through it are
// only written to the table by Store.
type Cursor struct {
	table *Table
	Index c.ClusterID
	// Address is the hardware address of Index. Only set on internal memory.
	Address Address
	raw     record
	value   uint32
}

// ReadEntry returns a cursor loaded with the entry for `index`.
func (table *Table) ReadEntry(index c.ClusterID) (*Cursor, error) {
	cur := &Cursor{table: table, Index: index}
	return cur, cur.Load()
}

// Load reads the entry at the cursor's index.
func (cur *Cursor) Load() error {
	table := cur.table
	err := table.checkIndex(cur.Index)
	if err != nil {
		return err
	}

	if table.bank.IsExternal() {
		cur.value, err = table.entryValue(cur.Index)
		return err
	}

	cur.Address = table.bank.ChipAddress(cur.Index)
	cur.raw, err = table.getRecord(cur.Index)
	return err
}

// Store writes the cursor's entry back to the table.
func (cur *Cursor) Store() error {
	if cur.table.bank.IsExternal() {
		return cur.table.setEntryValue(cur.Index, cur.value)
	}
	return cur.table.setRecord(cur.Index, cur.raw)
}

// Raw returns the 16-byte record under the cursor. It's only meaningful on
// internal memory.
func (cur *Cursor) Raw() [RecordSize]byte {
	return cur.raw
}

// Value returns the FAT entry under the cursor. It's only meaningful on cards.
func (cur *Cursor) Value() uint32 {
	return cur.value
}

func (cur *Cursor) IsFree() bool {
	if cur.table.bank.IsExternal() {
		return cur.value == 0
	}
	return cur.raw.state() == StateFree
}

func (cur *Cursor) IsDefect() bool {
	if cur.table.bank.IsExternal() {
		return cur.value == cur.table.badValue()
	}
	return cur.raw.isDefect(cur.table.bank.Signature)
}

// IsEOF reports whether the entry ends its chain.
func (cur *Cursor) IsEOF() bool {
	if cur.table.bank.IsExternal() {
		return cur.value >= cur.table.eofThreshold()
	}
	return !cur.IsFree() && cur.raw.isEOF()
}

// IsHead reports whether the entry starts a chain. Cards don't record this and
// always return false.
func (cur *Cursor) IsHead() bool {
	return !cur.table.bank.IsExternal() && cur.raw.state() == StateHead
}

// Kind returns what the chain holds. Cards don't record this and always
// report KindFile.
func (cur *Cursor) Kind() Kind {
	if cur.table.bank.IsExternal() {
		return KindFile
	}
	return Kind(cur.raw[offsetKind])
}

// Next returns the cluster the entry links to.
func (cur *Cursor) Next() (c.ClusterID, error) {
	if cur.IsFree() || cur.IsDefect() || cur.IsEOF() {
		return 0, yepp.ErrFATError.WithMessage(
			fmt.Sprintf("cluster %d doesn't link anywhere", cur.Index))
	}

	var next c.ClusterID
	if cur.table.bank.IsExternal() {
		next = c.ClusterID(cur.value)
	} else {
		next = cur.table.bank.ClusterForAddress(cur.raw.next())
	}

	if !cur.table.bank.IsDataCluster(next) {
		return 0, yepp.ErrFATError.WithMessage(
			fmt.Sprintf("cluster %d links to invalid cluster %d", cur.Index, next))
	}
	return next, nil
}

// Link points the entry at `next`.
func (cur *Cursor) Link(next c.ClusterID) {
	if cur.table.bank.IsExternal() {
		cur.value = uint32(next)
	} else {
		cur.raw.setNext(cur.table.bank.ChipAddress(next))
	}
}

// SetEOF makes the entry the end of its chain.
func (cur *Cursor) SetEOF() {
	if cur.table.bank.IsExternal() {
		cur.value = cur.table.eofValue()
	} else {
		cur.raw.setEOF()
	}
}

// SetFree releases the entry.
func (cur *Cursor) SetFree() {
	if cur.table.bank.IsExternal() {
		cur.value = 0
	} else {
		cur.raw = freeRecord()
	}
}

// SetDefect marks the entry's cluster as unusable.
func (cur *Cursor) SetDefect() {
	if cur.table.bank.IsExternal() {
		cur.value = cur.table.badValue()
	} else {
		cur.raw = freeRecord()
		cur.raw[offsetState] = StateBad
	}
}

// begin claims a free entry for a chain. On internal memory the record is
// stamped with the chain's kind and file index; cards only get an EOF.
func (cur *Cursor) begin(state byte, kind Kind, fileIndex byte) {
	if !cur.table.bank.IsExternal() {
		cur.raw.stamp(state, kind, fileIndex, cur.table.bank.Signature)
	}
	cur.SetEOF()
}

////////////////////////////////////////////////////////////////////////////////
// Chain operations

// Allocate finds a free data cluster, scanning forward from `hint` and
// wrapping around. The cluster is remembered as pending until Commit or
// Abort; its entry isn't changed.
func (table *Table) Allocate(hint c.ClusterID) (c.ClusterID, error) {
	first := table.bank.FirstDataCluster()
	total := table.bank.DataClusters()
	if !table.bank.IsDataCluster(hint) {
		hint = first
	}

	start := uint(hint - first)
	for i := uint(0); i < total; i++ {
		index := first + c.ClusterID((start+i)%total)
		if table.pending.IsClaimed(c.UnitID(index)) {
			continue
		}

		cur, err := table.ReadEntry(index)
		if err != nil {
			return 0, err
		}
		if !cur.IsFree() {
			continue
		}

		err = table.pending.Claim(c.UnitID(index))
		if err != nil {
			return 0, err
		}
		table.hint = index + 1
		return index, nil
	}
	return 0, yepp.ErrNotEnoughSpace
}

// Hint returns the cluster the next allocation search should start from: the
// one after the last cluster allocated.
func (table *Table) Hint() c.ClusterID {
	return table.hint
}

// AllocateChain starts a new one-cluster chain holding `kind`, searching for a
// free cluster from `hint`.
func (table *Table) AllocateChain(hint c.ClusterID, kind Kind) (*Cursor, error) {
	index, err := table.Allocate(hint)
	if err != nil {
		return nil, err
	}

	cur, err := table.ReadEntry(index)
	if err != nil {
		return nil, err
	}
	cur.begin(StateHead, kind, byte(index))
	return cur, cur.Store()
}

// Extend appends a cluster to the chain whose last entry is `tail`, and
// returns a cursor on the new last entry.
func (table *Table) Extend(tail *Cursor) (*Cursor, error) {
	if !tail.IsEOF() {
		return nil, yepp.ErrFATError.WithMessage(
			fmt.Sprintf("cluster %d isn't the end of its chain", tail.Index))
	}

	index, err := table.Allocate(tail.Index + 1)
	if err != nil {
		return nil, err
	}

	next, err := table.ReadEntry(index)
	if err != nil {
		return nil, err
	}
	next.begin(StateContinuation, tail.Kind(), tail.raw[offsetFileIndex])
	err = next.Store()
	if err != nil {
		return nil, err
	}

	tail.Link(index)
	return next, tail.Store()
}

// Advance moves the cursor to the next entry of its chain. It returns false
// without moving if the entry is the end of the chain, free, or defective.
func (table *Table) Advance(cur *Cursor) (bool, error) {
	if cur.IsFree() || cur.IsDefect() || cur.IsEOF() {
		return false, nil
	}

	next, err := cur.Next()
	if err != nil {
		return false, err
	}
	cur.Index = next
	return true, cur.Load()
}

// Chain returns every cluster of the chain starting at `start`, in order.
func (table *Table) Chain(start c.ClusterID) ([]c.ClusterID, error) {
	cur, err := table.ReadEntry(start)
	if err != nil {
		return nil, err
	}

	clusters := []c.ClusterID{}
	for {
		if cur.IsFree() || cur.IsDefect() {
			return nil, yepp.ErrFATError.WithMessage(
				fmt.Sprintf("chain from cluster %d is broken at cluster %d", start, cur.Index))
		}
		clusters = append(clusters, cur.Index)
		if uint(len(clusters)) > table.bank.DataClusters() {
			return nil, yepp.ErrFATError.WithMessage(
				fmt.Sprintf("chain from cluster %d loops", start))
		}

		more, err := table.Advance(cur)
		if err != nil {
			return nil, err
		}
		if !more {
			return clusters, nil
		}
	}
}

func (table *Table) freeEntry(index c.ClusterID) error {
	cur, err := table.ReadEntry(index)
	if err != nil {
		return err
	}
	cur.SetFree()
	if table.pending.IsClaimed(c.UnitID(index)) {
		err = table.pending.Release(c.UnitID(index))
		if err != nil {
			return err
		}
	}
	return cur.Store()
}

// FreeChain releases every cluster of a chain and returns how many were freed.
// Each entry is freed only after the cursor has moved past it, so the link to
// the rest of the chain is never lost. The walk stops at a defective entry,
// which stays marked.
func (table *Table) FreeChain(start c.ClusterID) (uint, error) {
	cur, err := table.ReadEntry(start)
	if err != nil {
		return 0, err
	}

	freed := uint(0)
	for steps := uint(0); steps <= table.bank.DataClusters(); steps++ {
		previous := cur.Index
		skip := cur.IsFree() || cur.IsDefect()
		if cur.IsDefect() {
			table.logger.Warn(
				"defective cluster in chain",
				slog.Uint64("start", uint64(start)),
				slog.Uint64("cluster", uint64(previous)))
		}

		more, err := table.Advance(cur)
		if err != nil {
			return freed, err
		}

		if !skip {
			err = table.freeEntry(previous)
			if err != nil {
				return freed, err
			}
			freed++
		}
		if !more {
			return freed, nil
		}
	}
	return freed, yepp.ErrFATError.WithMessage(fmt.Sprintf("chain from cluster %d loops", start))
}

// MarkDefect retires a cluster so it's never allocated again.
func (table *Table) MarkDefect(cluster c.ClusterID) error {
	cur, err := table.ReadEntry(cluster)
	if err != nil {
		return err
	}
	table.logger.Warn("cluster marked defective", slog.Uint64("cluster", uint64(cluster)))
	cur.SetDefect()
	return cur.Store()
}

// CountFree returns the number of free data clusters.
func (table *Table) CountFree() (uint, error) {
	count := uint(0)
	for index := table.bank.FirstDataCluster(); index < table.bank.MaxCluster; index++ {
		cur, err := table.ReadEntry(index)
		if err != nil {
			return 0, err
		}
		if cur.IsFree() {
			count++
		}
	}
	return count, nil
}

// Commit forgets the clusters allocated since the last Commit or Abort; they
// now belong to whatever chains reference them.
func (table *Table) Commit() {
	table.pending.Reset()
}

// Abort frees every cluster allocated since the last Commit or Abort.
func (table *Table) Abort() error {
	claimed := table.pending.Claimed()
	for _, unit := range claimed {
		cur, err := table.ReadEntry(c.ClusterID(unit))
		if err != nil {
			return err
		}
		cur.SetFree()
		err = cur.Store()
		if err != nil {
			return err
		}
	}
	if len(claimed) > 0 {
		table.logger.Debug("allocation abandoned", slog.Int("clusters", len(claimed)))
	}
	table.pending.Reset()
	return nil
}

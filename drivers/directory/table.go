package directory

import (
	"fmt"
	"strings"

	"github.com/dargueta/yepp"
)

// Record is one file or folder in a directory table: a short entry and the
// long-name slots in front of it, if any.
type Record struct {
	// Offset is where the record's first slot (or its entry, if it has no long
	// name) starts.
	Offset int
	Slots  int
	Entry  Entry
	// LongName is empty if the record has no long name.
	LongName  string
	ShortName string
}

// Span returns the number of bytes the record occupies.
func (rec *Record) Span() int {
	return rec.Slots*EntrySize + EntrySize
}

// EntryOffset returns the offset of the short entry.
func (rec *Record) EntryOffset() int {
	return rec.Offset + rec.Slots*EntrySize
}

// Name returns the long name if there is one, otherwise the short name.
func (rec *Record) Name() string {
	if rec.LongName != "" {
		return rec.LongName
	}
	return rec.ShortName
}

// IsDotEntry reports whether the record is a folder's "." or ".." entry.
func (rec *Record) IsDotEntry() bool {
	return rec.ShortName == "." || rec.ShortName == ".."
}

// Table is a directory table: one fixed-size buffer holding a packed run of
// records, ended by an entry whose first byte is zero. The table owns its
// buffer; edits go through a Tx.
type Table struct {
	data  []byte
	codec *Codec
	dirty bool
}

// NewTable wraps `data`, which the table takes ownership of.
func NewTable(data []byte, codec *Codec) *Table {
	return &Table{data: data, codec: codec}
}

// NewFolderTable returns an empty folder table of `size` bytes holding only
// the "." and ".." entries.
func NewFolderTable(size int, self Entry, parent Entry, codec *Codec) *Table {
	data := make([]byte, size)

	self.Alias = blankAlias()
	self.Alias[0] = '.'
	self.Attributes |= yepp.AttrDirectory
	entryView{arena: data, offset: 0}.setEntry(&self)

	parent.Alias = blankAlias()
	parent.Alias[0] = '.'
	parent.Alias[1] = '.'
	parent.Attributes |= yepp.AttrDirectory
	entryView{arena: data, offset: EntrySize}.setEntry(&parent)

	return NewTable(data, codec)
}

// Bytes returns the table's buffer. Callers must not modify it.
func (table *Table) Bytes() []byte {
	return table.data
}

// Size returns the capacity of the table in bytes.
func (table *Table) Size() int {
	return len(table.data)
}

// Used returns the number of bytes before the terminator.
func (table *Table) Used() int {
	return findEnd(table.data)
}

// IsDirty reports whether a transaction has been committed since the table
// was loaded or last marked clean.
func (table *Table) IsDirty() bool {
	return table.dirty
}

// MarkClean records that the table has been written back to flash.
func (table *Table) MarkClean() {
	table.dirty = false
}

func findEnd(data []byte) int {
	for offset := 0; offset+EntrySize <= len(data); offset += EntrySize {
		if data[offset] == markerFree {
			return offset
		}
	}
	return len(data) - len(data)%EntrySize
}

// parseRecords returns every record in `data`. Deleted entries and long-name
// slots that don't belong to the entry after them are skipped.
func (codec *Codec) parseRecords(data []byte) []Record {
	records := []Record{}
	groupStart := -1

	for offset := 0; offset+EntrySize <= len(data); offset += EntrySize {
		view := entryView{arena: data, offset: offset}
		if view.isEnd() {
			break
		}
		if view.isDeleted() {
			groupStart = -1
			continue
		}
		if view.isSlot() {
			if view.marker()&lastSlotFlag != 0 || groupStart < 0 {
				groupStart = offset
			}
			continue
		}

		rec := Record{Offset: offset, Entry: view.entry()}
		rec.ShortName = codec.AliasString(rec.Entry.Alias)
		if groupStart >= 0 {
			name, err := codec.DecodeLongName(
				data[groupStart:offset], Checksum(rec.Entry.Alias), 0)
			if err == nil {
				rec.Offset = groupStart
				rec.Slots = (offset - groupStart) / EntrySize
				rec.LongName = name
			}
		}
		records = append(records, rec)
		groupStart = -1
	}
	return records
}

// Records returns every record in the table in storage order, including "."
// and "..".
func (table *Table) Records() []Record {
	return table.codec.parseRecords(table.data)
}

func (codec *Codec) lookup(data []byte, name string) (Record, bool) {
	for _, rec := range codec.parseRecords(data) {
		if strings.EqualFold(rec.LongName, name) || strings.EqualFold(rec.ShortName, name) {
			return rec, true
		}
	}
	return Record{}, false
}

func (codec *Codec) aliasTaken(data []byte, alias Alias, ignoreOffset int) bool {
	for _, rec := range codec.parseRecords(data) {
		if rec.Entry.Alias == alias && rec.Offset != ignoreOffset {
			return true
		}
	}
	return false
}

// Lookup finds a record by its long or short name, ignoring case.
func (table *Table) Lookup(name string) (Record, error) {
	rec, found := table.codec.lookup(table.data, name)
	if !found {
		return Record{}, yepp.ErrFileNotFound.WithMessage(name)
	}
	return rec, nil
}

// LookupAlias finds a record by its exact short name.
func (table *Table) LookupAlias(alias Alias) (Record, error) {
	for _, rec := range table.Records() {
		if rec.Entry.Alias == alias {
			return rec, nil
		}
	}
	return Record{}, yepp.ErrFileNotFound.WithMessage(table.codec.AliasString(alias))
}

// IsEmptyFolder reports whether the table holds nothing but "." and "..".
func (table *Table) IsEmptyFolder() bool {
	for _, rec := range table.Records() {
		if !rec.IsDotEntry() && !rec.Entry.IsVolumeLabel() {
			return false
		}
	}
	return true
}

// validate checks that `data` has no gaps before its terminator and that every
// long-name group is well formed and belongs to the entry after it.
func validate(data []byte) error {
	offset := 0
	for ; offset+EntrySize <= len(data); offset += EntrySize {
		view := entryView{arena: data, offset: offset}
		if view.isEnd() {
			break
		}
		if view.isDeleted() {
			return yepp.ErrFATError.WithMessage(
				fmt.Sprintf("deleted entry at offset %d leaves a gap", offset))
		}
		if !view.isSlot() {
			continue
		}

		if view.marker()&lastSlotFlag == 0 {
			return yepp.ErrFATError.WithMessage(
				fmt.Sprintf("long-name group at offset %d doesn't start with its last slot", offset))
		}
		count := int(view.marker() & sequenceMask)
		entryOffset := offset + count*EntrySize
		if count == 0 || entryOffset+EntrySize > len(data) {
			return yepp.ErrFATError.WithMessage(
				fmt.Sprintf("long-name group at offset %d overruns the table", offset))
		}

		entry := entryView{arena: data, offset: entryOffset}
		if entry.isEnd() || entry.isDeleted() || entry.isSlot() {
			return yepp.ErrFATError.WithMessage(
				fmt.Sprintf("long-name group at offset %d has no entry after it", offset))
		}
		err := checkSlots(data[offset:entryOffset], Checksum(entry.alias()))
		if err != nil {
			return err
		}
		offset = entryOffset
	}

	for ; offset+EntrySize <= len(data); offset += EntrySize {
		if data[offset] != markerFree {
			return yepp.ErrFATError.WithMessage(
				fmt.Sprintf("entry at offset %d comes after the end of the table", offset))
		}
	}
	return nil
}

// compact rewrites `data` in place so that it only holds the records
// parseRecords finds, packed from the start, and returns the number of bytes
// reclaimed.
func (codec *Codec) compact(data []byte) int {
	before := findEnd(data)
	records := codec.parseRecords(data)

	packed := make([]byte, 0, len(data))
	for _, rec := range records {
		packed = append(packed, data[rec.Offset:rec.Offset+rec.Span()]...)
	}
	copy(data, packed)
	clear(data[len(packed):])
	return before - len(packed)
}

// Compact removes deleted entries and orphaned long-name slots left behind by
// other systems, and returns the number of bytes reclaimed.
func (table *Table) Compact() int {
	reclaimed := table.codec.compact(table.data)
	if reclaimed > 0 {
		table.dirty = true
	}
	return reclaimed
}

// Check verifies the structure of the table.
func (table *Table) Check() error {
	return validate(table.data)
}

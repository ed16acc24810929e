package directory

import (
	"fmt"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
)

// Tx is a set of edits to a directory table. Edits are made to a private copy
// of the buffer; Commit checks the result and only then replaces the table's
// contents, so a failed edit never leaves the table half-changed.
type Tx struct {
	table *Table
	data  []byte
	done  bool
}

// Begin starts a transaction. Deleted entries and orphaned long-name slots are
// dropped from the working copy first.
func (table *Table) Begin() *Tx {
	data := make([]byte, len(table.data))
	copy(data, table.data)
	table.codec.compact(data)
	return &Tx{table: table, data: data}
}

func (tx *Tx) check() error {
	if tx.done {
		return yepp.ErrInternal.WithMessage("transaction already finished")
	}
	return nil
}

// Records returns the records as they currently are in the transaction.
func (tx *Tx) Records() []Record {
	return tx.table.codec.parseRecords(tx.data)
}

// Lookup finds a record in the transaction's copy by long or short name.
func (tx *Tx) Lookup(name string) (Record, error) {
	rec, found := tx.table.codec.lookup(tx.data, name)
	if !found {
		return Record{}, yepp.ErrFileNotFound.WithMessage(name)
	}
	return rec, nil
}

// lookupMovable is Lookup for edits that would move or remove a record. A
// folder's "." and ".." entries must stay where they are.
func (tx *Tx) lookupMovable(name string) (Record, error) {
	rec, err := tx.Lookup(name)
	if err != nil {
		return Record{}, err
	}
	if rec.IsDotEntry() {
		return Record{}, yepp.ErrPermissionDenied.WithMessage(
			fmt.Sprintf("%q can't be changed", rec.ShortName))
	}
	return rec, nil
}

// buildRecord returns the bytes of a record for `name`, with a short name that
// doesn't collide with any record but the one at `ignoreOffset`.
func (tx *Tx) buildRecord(name string, entry Entry, ignoreOffset int) ([]byte, error) {
	err := CheckLongName(name)
	if err != nil {
		return nil, err
	}

	codec := tx.table.codec
	taken := func(alias Alias) bool {
		return codec.aliasTaken(tx.data, alias, ignoreOffset)
	}
	alias, needsLongName, err := codec.MakeAlias(name, taken)
	if err != nil {
		return nil, err
	}

	entry.Alias = alias
	raw := []byte{}
	if needsLongName {
		raw, err = codec.EncodeLongName(name, Checksum(alias))
		if err != nil {
			return nil, err
		}
	}
	return append(raw, entry.Bytes()...), nil
}

func (tx *Tx) recordAt(offset int) Record {
	for _, rec := range tx.Records() {
		if rec.Offset == offset {
			return rec
		}
	}
	return Record{}
}

// Insert adds a record for `name` at the end of the table. The alias in
// `entry` is replaced with a generated one.
func (tx *Tx) Insert(name string, entry Entry) (Record, error) {
	if err := tx.check(); err != nil {
		return Record{}, err
	}
	if _, found := tx.table.codec.lookup(tx.data, name); found {
		return Record{}, yepp.ErrFileExists.WithMessage(name)
	}

	raw, err := tx.buildRecord(name, entry, -1)
	if err != nil {
		return Record{}, err
	}

	end := findEnd(tx.data)
	if end+len(raw) > len(tx.data) {
		return Record{}, yepp.ErrDirTooLong.WithMessage(
			fmt.Sprintf("%d bytes needed for %q, %d left", len(raw), name, len(tx.data)-end))
	}
	copy(tx.data[end:], raw)
	return tx.recordAt(end), nil
}

// Delete removes the record for `name`. Everything after it moves down to
// close the gap.
func (tx *Tx) Delete(name string) (Record, error) {
	if err := tx.check(); err != nil {
		return Record{}, err
	}
	rec, err := tx.lookupMovable(name)
	if err != nil {
		return Record{}, err
	}

	tx.shift(rec.Offset+rec.Span(), -rec.Span())
	return rec, nil
}

// shift moves everything from `from` up to the terminator by `delta` bytes.
// Bytes uncovered at the end of the table when moving down are zeroed. The
// caller must make sure there's room when moving up.
func (tx *Tx) shift(from int, delta int) {
	end := findEnd(tx.data)
	copy(tx.data[from+delta:], tx.data[from:end])
	if delta < 0 {
		clear(tx.data[end+delta : end])
	}
}

// Rename gives the record for `oldName` a new name, keeping its position and
// everything in its entry except the short name. If the number of long-name
// slots changes, the records after it move accordingly.
func (tx *Tx) Rename(oldName, newName string) (Record, error) {
	if err := tx.check(); err != nil {
		return Record{}, err
	}
	rec, err := tx.lookupMovable(oldName)
	if err != nil {
		return Record{}, err
	}
	if other, found := tx.table.codec.lookup(tx.data, newName); found && other.Offset != rec.Offset {
		return Record{}, yepp.ErrFileExists.WithMessage(newName)
	}

	raw, err := tx.buildRecord(newName, rec.Entry, rec.Offset)
	if err != nil {
		return Record{}, err
	}

	delta := len(raw) - rec.Span()
	if delta > 0 && findEnd(tx.data)+delta > len(tx.data) {
		return Record{}, yepp.ErrDirTooLong.WithMessage(
			fmt.Sprintf("no room to rename %q to %q", oldName, newName))
	}
	if delta != 0 {
		tx.shift(rec.Offset+rec.Span(), delta)
	}
	copy(tx.data[rec.Offset:], raw)
	return tx.recordAt(rec.Offset), nil
}

// Update replaces the entry of the record for `name`, keeping its short name
// and long-name slots.
func (tx *Tx) Update(name string, modify func(entry *Entry)) (Record, error) {
	if err := tx.check(); err != nil {
		return Record{}, err
	}
	rec, err := tx.Lookup(name)
	if err != nil {
		return Record{}, err
	}
	return tx.updateRecord(rec, modify), nil
}

// UpdateFolder is Update for the subfolder whose entry points at `cluster`.
func (tx *Tx) UpdateFolder(cluster c.ClusterID, modify func(entry *Entry)) (Record, error) {
	if err := tx.check(); err != nil {
		return Record{}, err
	}
	for _, rec := range tx.Records() {
		if rec.Entry.IsDir() && !rec.IsDotEntry() && rec.Entry.Cluster == cluster {
			return tx.updateRecord(rec, modify), nil
		}
	}
	return Record{}, yepp.ErrFATError.WithMessage(
		fmt.Sprintf("no folder entry for cluster %d", cluster))
}

func (tx *Tx) updateRecord(rec Record, modify func(entry *Entry)) Record {
	entry := rec.Entry
	modify(&entry)
	entry.Alias = rec.Entry.Alias

	view := entryView{arena: tx.data, offset: rec.EntryOffset()}
	view.setEntry(&entry)
	return tx.recordAt(rec.Offset)
}

// Switch exchanges the positions of two records.
func (tx *Tx) Switch(first, second string) error {
	if err := tx.check(); err != nil {
		return err
	}
	a, err := tx.lookupMovable(first)
	if err != nil {
		return err
	}
	b, err := tx.lookupMovable(second)
	if err != nil {
		return err
	}
	if a.Offset == b.Offset {
		return nil
	}
	if a.Offset > b.Offset {
		a, b = b, a
	}

	// [a][middle][b] becomes [b][middle][a].
	aEnd := a.Offset + a.Span()
	bEnd := b.Offset + b.Span()
	shuffled := make([]byte, 0, bEnd-a.Offset)
	shuffled = append(shuffled, tx.data[b.Offset:bEnd]...)
	shuffled = append(shuffled, tx.data[aEnd:b.Offset]...)
	shuffled = append(shuffled, tx.data[a.Offset:aEnd]...)
	copy(tx.data[a.Offset:], shuffled)
	return nil
}

// Move puts the record for `name` immediately before the record for
// `before`. An empty `before` moves it to the end of the table.
func (tx *Tx) Move(name, before string) error {
	if err := tx.check(); err != nil {
		return err
	}
	rec, err := tx.lookupMovable(name)
	if err != nil {
		return err
	}

	target := findEnd(tx.data)
	if before != "" {
		anchor, err := tx.lookupMovable(before)
		if err != nil {
			return err
		}
		target = anchor.Offset
	}

	start := rec.Offset
	end := rec.Offset + rec.Span()
	if target == start || target == end {
		return nil
	}

	moved := make([]byte, rec.Span())
	copy(moved, tx.data[start:end])

	if target < start {
		// [target..start) slides up to make room at target.
		copy(tx.data[target+rec.Span():end], tx.data[target:start])
		copy(tx.data[target:], moved)
	} else {
		// [end..target) slides down into the record's old place.
		copy(tx.data[start:], tx.data[end:target])
		copy(tx.data[target-rec.Span():], moved)
	}
	return nil
}

// Commit checks the edited table and, if it's well formed, makes the edits
// visible in the table.
func (tx *Tx) Commit() error {
	if err := tx.check(); err != nil {
		return err
	}
	err := validate(tx.data)
	if err != nil {
		return err
	}

	copy(tx.table.data, tx.data)
	tx.table.dirty = true
	tx.done = true
	return nil
}

// Rollback throws the edits away. It's safe to call after Commit.
func (tx *Tx) Rollback() {
	tx.done = true
}

// Package directory reads and edits directory tables: flat, fixed-size buffers
// of 32-byte FAT entries with VFAT long names.
package directory

import (
	"encoding/binary"
	"time"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
)

// EntrySize is the size of one short entry or long-name slot, in bytes.
const EntrySize = 32

// AliasSize is the length of a short name without the dot: eight characters of
// base name and three of extension, space-padded.
const AliasSize = 11

// Alias is a short name in its on-disk form, e.g. "TRACK~1 MP3".
type Alias [AliasSize]byte

const (
	markerFree    = 0x00
	markerDeleted = 0xe5
	// A short name really starting with 0xE5 is stored with 0x05 instead.
	markerKanji = 0x05
)

const (
	offName          = 0
	offAttributes    = 11
	offNTReserved    = 12
	offCreatedTenths = 13
	offCreatedTime   = 14
	offCreatedDate   = 16
	offAccessedDate  = 18
	offClusterHigh   = 20
	offModifiedTime  = 22
	offModifiedDate  = 24
	offClusterLow    = 26
	offSize          = 28
)

// Entry is a decoded short directory entry.
type Entry struct {
	Alias      Alias
	Attributes uint8
	Created    time.Time
	Accessed   time.Time
	Modified   time.Time
	Cluster    c.ClusterID
	Size       uint32
}

// NewEntry returns an entry with every timestamp set to `when`.
func NewEntry(attributes uint8, cluster c.ClusterID, size uint32, when time.Time) Entry {
	return Entry{
		Attributes: attributes,
		Created:    when,
		Accessed:   when,
		Modified:   when,
		Cluster:    cluster,
		Size:       size,
	}
}

// IsDir reports whether the entry is a folder.
func (entry *Entry) IsDir() bool {
	return entry.Attributes&yepp.AttrDirectory != 0
}

// IsVolumeLabel reports whether the entry holds the volume label rather than a
// file.
func (entry *Entry) IsVolumeLabel() bool {
	return entry.Attributes&yepp.AttrLongName == yepp.AttrVolumeLabel
}

// Bytes returns the on-disk form of the entry.
func (entry *Entry) Bytes() []byte {
	raw := make([]byte, EntrySize)
	view := entryView{arena: raw}
	view.setEntry(entry)
	return raw
}

// DecodeEntry parses a 32-byte short entry.
func DecodeEntry(raw []byte) Entry {
	view := entryView{arena: raw}
	return view.entry()
}

////////////////////////////////////////////////////////////////////////////////
// Timestamps

// DateFromInt converts the FAT on-disk representation of a date into a Go
// time.Time. An all-zero date is the zero time.
func DateFromInt(value uint16) time.Time {
	if value == 0 {
		return time.Time{}
	}
	day := int(value & 0x001f)
	month := time.Month((value >> 5) & 0x000f)
	year := int(1980 + (value >> 9))

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TimestampFromParts converts a FAT timestamp into a time.Time. `datePart` is
// required; `timePart` and `tenths` should be 0 if they're not present in the
// source field(s).
func TimestampFromParts(datePart uint16, timePart uint16, tenths uint8) time.Time {
	date := DateFromInt(datePart)
	if date.IsZero() {
		return date
	}

	seconds := int(timePart&0x001f) * 2
	if tenths >= 100 {
		seconds++
		tenths -= 100
	}
	minutes := int((timePart >> 5) & 0x003f)
	hours := int(timePart >> 11)

	return time.Date(
		date.Year(),
		date.Month(),
		date.Day(),
		hours,
		minutes,
		seconds,
		int(tenths)*int(10*time.Millisecond),
		time.UTC)
}

// DateToInt is the inverse of DateFromInt. Dates outside of 1980-2107 can't be
// represented and are stored as zero.
func DateToInt(when time.Time) uint16 {
	if when.IsZero() || when.Year() < 1980 || when.Year() > 2107 {
		return 0
	}
	return uint16(when.Year()-1980)<<9 | uint16(when.Month())<<5 | uint16(when.Day())
}

// TimestampToParts is the inverse of TimestampFromParts.
func TimestampToParts(when time.Time) (datePart uint16, timePart uint16, tenths uint8) {
	datePart = DateToInt(when)
	if datePart == 0 {
		return 0, 0, 0
	}
	timePart = uint16(when.Hour())<<11 | uint16(when.Minute())<<5 | uint16(when.Second()/2)
	tenths = uint8((when.Second()%2)*100 + when.Nanosecond()/int(10*time.Millisecond))
	return datePart, timePart, tenths
}

////////////////////////////////////////////////////////////////////////////////
// Views

// entryView gives typed access to one 32-byte record inside a larger buffer.
// Nothing is copied: reads and writes go straight to the arena.
type entryView struct {
	arena  []byte
	offset int
}

func (view entryView) raw() []byte {
	return view.arena[view.offset : view.offset+EntrySize]
}

func (view entryView) uint16At(field int) uint16 {
	return binary.LittleEndian.Uint16(view.arena[view.offset+field:])
}

func (view entryView) putUint16At(field int, value uint16) {
	binary.LittleEndian.PutUint16(view.arena[view.offset+field:], value)
}

func (view entryView) marker() byte {
	return view.arena[view.offset]
}

func (view entryView) attributes() uint8 {
	return view.arena[view.offset+offAttributes]
}

func (view entryView) isEnd() bool {
	return view.marker() == markerFree
}

func (view entryView) isDeleted() bool {
	return view.marker() == markerDeleted
}

func (view entryView) isSlot() bool {
	return view.attributes() == yepp.AttrLongName
}

func (view entryView) alias() Alias {
	var alias Alias
	copy(alias[:], view.arena[view.offset+offName:view.offset+offName+AliasSize])
	if alias[0] == markerKanji {
		alias[0] = markerDeleted
	}
	return alias
}

func (view entryView) setAlias(alias Alias) {
	copy(view.arena[view.offset+offName:], alias[:])
	if alias[0] == markerDeleted {
		view.arena[view.offset+offName] = markerKanji
	}
}

func (view entryView) cluster() c.ClusterID {
	return c.ClusterID(view.uint16At(offClusterHigh))<<16 | c.ClusterID(view.uint16At(offClusterLow))
}

func (view entryView) entry() Entry {
	return Entry{
		Alias:      view.alias(),
		Attributes: view.attributes(),
		Created: TimestampFromParts(
			view.uint16At(offCreatedDate),
			view.uint16At(offCreatedTime),
			view.arena[view.offset+offCreatedTenths]),
		Accessed: DateFromInt(view.uint16At(offAccessedDate)),
		Modified: TimestampFromParts(
			view.uint16At(offModifiedDate), view.uint16At(offModifiedTime), 0),
		Cluster: view.cluster(),
		Size:    binary.LittleEndian.Uint32(view.arena[view.offset+offSize:]),
	}
}

// setEntry overwrites the whole record. The NT reserved byte is always zero.
func (view entryView) setEntry(entry *Entry) {
	view.setAlias(entry.Alias)
	view.arena[view.offset+offAttributes] = entry.Attributes
	view.arena[view.offset+offNTReserved] = 0

	date, clock, tenths := TimestampToParts(entry.Created)
	view.arena[view.offset+offCreatedTenths] = tenths
	view.putUint16At(offCreatedTime, clock)
	view.putUint16At(offCreatedDate, date)
	view.putUint16At(offAccessedDate, DateToInt(entry.Accessed))

	date, clock, _ = TimestampToParts(entry.Modified)
	view.putUint16At(offModifiedTime, clock)
	view.putUint16At(offModifiedDate, date)

	view.putUint16At(offClusterHigh, uint16(entry.Cluster>>16))
	view.putUint16At(offClusterLow, uint16(entry.Cluster))
	binary.LittleEndian.PutUint32(view.arena[view.offset+offSize:], entry.Size)
}

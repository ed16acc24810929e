package fat

// RecordSize is the size of one entry in the internal allocation table.
const RecordSize = 16

// Values of the state byte of an internal record.
const (
	StateHead         = 0xfe
	StateContinuation = 0xfc
	StateSystem       = 0xf0
	StateBad          = 0x00
	StateFree         = 0xff
)

// Kind is the type tag of an internal record, telling what the chain holds.
type Kind byte

const (
	KindFile      Kind = 0x01
	KindDirectory Kind = 0x02
	KindSystem    Kind = 0x0f
)

const (
	offsetState     = 0
	offsetFileIndex = 1
	offsetSignature = 2
	offsetKind      = 6
	offsetNext      = 7
	offsetMarker    = 11

	// expectedMarker is the only value the firmware ever writes at
	// offsetMarker. Records with anything else are treated as damaged.
	expectedMarker = 0x00
)

// MaxChips is the most chips internal memory can have. A record's link has two
// bits for the chip number.
const MaxChips = 4

// Address is the hardware form of an internal block number: a chip and the
// block's position on that chip.
type Address struct {
	Chip   uint8
	Offset uint32
}

type record [RecordSize]byte

func freeRecord() record {
	var rec record
	for i := range rec {
		rec[i] = 0xff
	}
	return rec
}

func (rec *record) state() byte {
	return rec[offsetState]
}

func (rec *record) signature() [2]byte {
	return [2]byte{rec[offsetSignature], rec[offsetSignature+1]}
}

// isDefect reports whether the record is marked bad, or is in use but doesn't
// carry this model's signature and marker.
func (rec *record) isDefect(signature [2]byte) bool {
	switch rec.state() {
	case StateBad:
		return true
	case StateFree:
		return false
	}
	return rec.signature() != signature || rec[offsetMarker] != expectedMarker
}

func (rec *record) isEOF() bool {
	for _, b := range rec[offsetNext : offsetNext+4] {
		if b != 0xff {
			return false
		}
	}
	return true
}

func (rec *record) next() Address {
	return Address{
		Chip: rec[offsetNext] >> 6,
		Offset: uint32(rec[offsetNext+1]) |
			uint32(rec[offsetNext+2])<<8 |
			uint32(rec[offsetNext+3])<<16,
	}
}

func (rec *record) setNext(address Address) {
	rec[offsetNext] = address.Chip << 6
	rec[offsetNext+1] = byte(address.Offset)
	rec[offsetNext+2] = byte(address.Offset >> 8)
	rec[offsetNext+3] = byte(address.Offset >> 16)
}

func (rec *record) setEOF() {
	for i := offsetNext; i < offsetNext+4; i++ {
		rec[i] = 0xff
	}
}

// stamp turns a free record into an in-use one.
func (rec *record) stamp(state byte, kind Kind, fileIndex byte, signature [2]byte) {
	*rec = freeRecord()
	rec[offsetState] = state
	rec[offsetFileIndex] = fileIndex
	rec[offsetSignature] = signature[0]
	rec[offsetSignature+1] = signature[1]
	rec[offsetKind] = byte(kind)
	rec[offsetMarker] = expectedMarker
}

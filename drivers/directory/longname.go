package directory

import (
	"fmt"
	"unicode/utf8"

	"github.com/dargueta/yepp"
)

// Layout of a long-name slot.
const (
	offSequence  = 0
	offChars1    = 1
	offSlotAttr  = 11
	offSlotType  = 12
	offChecksum  = 13
	offChars2    = 14
	offSlotZero  = 26
	offChars3    = 28
	charsPerSlot = 13

	// lastSlotFlag marks the slot holding the end of the name, which is stored
	// first.
	lastSlotFlag = 0x40
	sequenceMask = 0x3f
)

// The byte ranges of a slot that hold characters, in order.
var slotCharRanges = [3][2]int{
	{offChars1, offSlotAttr},
	{offChars2, offSlotZero},
	{offChars3, EntrySize},
}

// Checksum returns the checksum of an alias that every one of its long-name
// slots carries. It's the standard VFAT rotate-right sum; PCs drop long names
// whose slots carry anything else.
func Checksum(alias Alias) byte {
	var sum byte
	for _, b := range alias {
		sum = (sum&1)<<7 + sum>>1 + b
	}
	return sum
}

// SlotCount returns the number of slots needed to store a long name of
// `units` UTF-16 code units.
func SlotCount(units int) int {
	return (units + charsPerSlot - 1) / charsPerSlot
}

// EncodeLongName returns the slots for `name` in the order they're stored,
// i.e. the end of the name first.
func (codec *Codec) EncodeLongName(name string, checksum byte) ([]byte, error) {
	units, err := codec.encodeUTF16(name)
	if err != nil {
		return nil, err
	}

	count := len(units) / 2
	if count == 0 || count > MaxNameLength {
		return nil, yepp.ErrDirNameError.WithMessage(
			fmt.Sprintf("long name must be 1-%d characters, got %d", MaxNameLength, count))
	}

	slots := SlotCount(count)
	// Unused positions after the terminating NUL are filled with 0xFFFF. A name
	// that exactly fills its last slot has no terminator.
	chars := make([]byte, slots*charsPerSlot*2)
	for i := range chars {
		chars[i] = 0xff
	}
	copy(chars, units)
	if count%charsPerSlot != 0 {
		chars[len(units)] = 0
		chars[len(units)+1] = 0
	}

	out := make([]byte, slots*EntrySize)
	for i := 0; i < slots; i++ {
		// Slot `i` (counting from the start of the name) is stored at position
		// slots-1-i.
		slot := out[(slots-1-i)*EntrySize : (slots-i)*EntrySize]
		slot[offSequence] = byte(i + 1)
		if i == slots-1 {
			slot[offSequence] |= lastSlotFlag
		}
		slot[offSlotAttr] = yepp.AttrLongName
		slot[offSlotType] = 0
		slot[offChecksum] = checksum

		source := chars[i*charsPerSlot*2 : (i+1)*charsPerSlot*2]
		for _, span := range slotCharRanges {
			n := copy(slot[span[0]:span[1]], source)
			source = source[n:]
		}
	}
	return out, nil
}

// checkSlots verifies that `slots` is one well-formed long-name group for an
// entry whose alias has `checksum`.
func checkSlots(slots []byte, checksum byte) error {
	count := len(slots) / EntrySize
	if count == 0 || len(slots)%EntrySize != 0 {
		return yepp.ErrFATError.WithMessage("empty long-name group")
	}

	for i := 0; i < count; i++ {
		slot := slots[i*EntrySize : (i+1)*EntrySize]
		if slot[offSlotAttr] != yepp.AttrLongName {
			return yepp.ErrFATError.WithMessage(
				fmt.Sprintf("long-name group interrupted at slot %d", i))
		}

		expected := byte(count - i)
		if i == 0 {
			expected |= lastSlotFlag
		}
		if slot[offSequence] != expected {
			return yepp.ErrFATError.WithMessage(
				fmt.Sprintf(
					"long-name slot %d has sequence %#02x, expected %#02x",
					i,
					slot[offSequence],
					expected))
		}
		if slot[offChecksum] != checksum {
			return yepp.ErrFATError.WithMessage(
				fmt.Sprintf(
					"long-name slot %d has checksum %#02x, alias has %#02x",
					i,
					slot[offChecksum],
					checksum))
		}
	}
	return nil
}

// DecodeLongName reassembles the name stored in `slots`, which must be in
// storage order. If `maxLength` is positive the result is cut to at most that
// many bytes without splitting a character.
func (codec *Codec) DecodeLongName(slots []byte, checksum byte, maxLength int) (string, error) {
	err := checkSlots(slots, checksum)
	if err != nil {
		return "", err
	}

	count := len(slots) / EntrySize
	units := make([]byte, 0, count*charsPerSlot*2)
	for i := count - 1; i >= 0; i-- {
		slot := slots[i*EntrySize : (i+1)*EntrySize]
		for _, span := range slotCharRanges {
			units = append(units, slot[span[0]:span[1]]...)
		}
	}

	for i := 0; i+1 < len(units); i += 2 {
		if units[i] == 0 && units[i+1] == 0 {
			units = units[:i]
			break
		}
	}

	name, err := codec.decodeUTF16(units)
	if err != nil {
		return "", err
	}
	return truncate(name, maxLength), nil
}

func truncate(name string, maxLength int) string {
	if maxLength <= 0 || len(name) <= maxLength {
		return name
	}
	cut := maxLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

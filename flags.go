package yepp

// Bank selects one of the player's memories.
type Bank uint8

const (
	// BankInternal is the flash soldered inside the player.
	BankInternal Bank = 0
	// BankExternal is the removable SmartMedia card.
	BankExternal Bank = 1
)

func (b Bank) String() string {
	switch b {
	case BankInternal:
		return "internal"
	case BankExternal:
		return "external"
	default:
		return "unknown"
	}
}

// FAT attribute flags, as stored in byte 11 of a directory entry.
const (
	AttrReadOnly = 1 << iota
	AttrHidden
	AttrSystem
	AttrVolumeLabel
	AttrDirectory
	AttrArchived
)

// AttrLongName marks a VFAT long-name continuation slot.
const AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel

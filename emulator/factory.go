package emulator

import (
	"bytes"
	"fmt"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
	"github.com/dargueta/yepp/drivers/zone"
)

const bytesPerMegabyte = 1024 * 1024

// NewSmartMedia creates a card of `megabytes` in the state it leaves the
// factory: block 0 is marked bad, block 1 holds the card information
// structure, and everything else is erased.
func NewSmartMedia(megabytes uint) (*Bank, error) {
	blockBytes := uint(c.SectorsPerBlock * c.BytesPerSector)
	if megabytes == 0 || (megabytes*bytesPerMegabyte/blockBytes)%zone.BlocksPerZone != 0 {
		return nil, yepp.ErrInternal.WithMessage(
			fmt.Sprintf("card size must be a multiple of 16MB, got %dMB", megabytes))
	}

	totalBlocks := uint32(megabytes * bytesPerMegabyte / blockBytes)
	bank := NewErasedBank(c.SectorsPerBlock, totalBlocks)

	err := bank.Overwrite(0, make([]byte, bank.blockSize()))
	if err != nil {
		return nil, err
	}
	err = WriteCIS(bank, 1)
	if err != nil {
		return nil, err
	}
	return bank, nil
}

// WriteCIS programs the card information structure into the first sector of
// `block`. The block's address fields are zero, as on a real card.
func WriteCIS(bank *Bank, block uint32) error {
	data := make([]byte, c.BytesPerSector)
	copy(data, zone.CISHeader)
	copy(data[c.BytesPerSector/2:], zone.CISHeader)

	raw := append(data, c.BuildSpare(data, 0)...)
	return bank.WriteSector(block*bank.SectorsPerBlock(), raw)
}

// NewInternalFlash creates an erased internal memory of `megabytes`. Newer
// chips erase in megablocks of eight standard blocks.
func NewInternalFlash(megabytes uint, megablock bool) *Bank {
	sectorsPerBlock := uint32(c.SectorsPerBlock)
	if megablock {
		sectorsPerBlock = c.SectorsPerMegablock
	}
	totalBlocks := uint32(megabytes * bytesPerMegabyte / (uint(sectorsPerBlock) * c.BytesPerSector))
	return NewErasedBank(sectorsPerBlock, totalBlocks)
}

// MarkBad writes a zero block-status byte into the first sector of a block,
// the way the factory flags defects it finds.
func MarkBad(bank *Bank, block uint32) error {
	spare := bytes.Repeat([]byte{0xff}, c.SpareSize)
	spare[c.SpareBlockStatus] = 0
	raw := append(bytes.Repeat([]byte{0xff}, c.BytesPerSector), spare...)
	return bank.WriteSector(block*bank.SectorsPerBlock(), raw)
}

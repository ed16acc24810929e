// Package emulator simulates the player's flash memories and the firmware that
// answers bulk commands, so the whole storage stack can run without hardware.
package emulator

import (
	"bytes"
	"fmt"
	"io"

	"github.com/boljen/go-bitmap"
	"github.com/xaionaro-go/bytesextra"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
)

// Bank is one NAND memory. Its raw image (every sector's data followed by its
// spare area) lives in any io.ReadWriteSeeker, such as a byte slice or an open
// file.
//
// Programming follows NAND rules: it can only clear bits, so writing to a
// sector that hasn't been erased ANDs the new data into what's there.
type Bank struct {
	storage         io.ReadWriteSeeker
	sectorsPerBlock uint32
	totalBlocks     uint32
	worn            bitmap.Bitmap
}

// NewBank wraps existing storage, which must hold exactly
// `totalBlocks * sectorsPerBlock` raw sectors.
func NewBank(storage io.ReadWriteSeeker, sectorsPerBlock, totalBlocks uint32) *Bank {
	return &Bank{
		storage:         storage,
		sectorsPerBlock: sectorsPerBlock,
		totalBlocks:     totalBlocks,
		worn:            bitmap.New(int(totalBlocks)),
	}
}

// RawSize returns the size of the raw image of a bank with the given geometry.
func RawSize(sectorsPerBlock, totalBlocks uint32) int {
	return int(sectorsPerBlock) * int(totalBlocks) * c.RawSectorSize
}

// NewErasedBank creates a bank in memory with every byte erased.
func NewErasedBank(sectorsPerBlock, totalBlocks uint32) *Bank {
	image := bytes.Repeat([]byte{0xff}, RawSize(sectorsPerBlock, totalBlocks))
	return NewBank(bytesextra.NewReadWriteSeeker(image), sectorsPerBlock, totalBlocks)
}

func (bank *Bank) SectorsPerBlock() uint32 {
	return bank.sectorsPerBlock
}

// TotalBlocks returns the number of erase blocks in the bank.
func (bank *Bank) TotalBlocks() uint32 {
	return bank.totalBlocks
}

// TotalSectors returns the number of sectors in the bank.
func (bank *Bank) TotalSectors() uint32 {
	return bank.totalBlocks * bank.sectorsPerBlock
}

// Capacity returns the size of the data area of the bank, in bytes.
func (bank *Bank) Capacity() uint64 {
	return uint64(bank.TotalSectors()) * c.BytesPerSector
}

func (bank *Bank) checkSector(sector uint32) error {
	if sector >= bank.TotalSectors() {
		return yepp.ErrDeviceNotReady.WithMessage(
			fmt.Sprintf("invalid sector %d: not in range [0, %d)", sector, bank.TotalSectors()))
	}
	return nil
}

func (bank *Bank) checkBlock(block uint32) error {
	if block >= bank.totalBlocks {
		return yepp.ErrDeviceNotReady.WithMessage(
			fmt.Sprintf("invalid block %d: not in range [0, %d)", block, bank.totalBlocks))
	}
	return nil
}

func (bank *Bank) readAt(offset int64, size int) ([]byte, error) {
	_, err := bank.storage.Seek(offset, io.SeekStart)
	if err != nil {
		return nil, err
	}
	buffer := make([]byte, size)
	_, err = io.ReadFull(bank.storage, buffer)
	return buffer, err
}

func (bank *Bank) writeAt(offset int64, data []byte) error {
	_, err := bank.storage.Seek(offset, io.SeekStart)
	if err != nil {
		return err
	}
	_, err = bank.storage.Write(data)
	return err
}

// program ANDs `data` into the image at `offset`.
func (bank *Bank) program(offset int64, data []byte) error {
	current, err := bank.readAt(offset, len(data))
	if err != nil {
		return err
	}
	for i := range current {
		current[i] &= data[i]
	}
	return bank.writeAt(offset, current)
}

func sectorOffset(sector uint32) int64 {
	return int64(sector) * c.RawSectorSize
}

func (bank *Bank) ReadSector(sector uint32) ([]byte, error) {
	if err := bank.checkSector(sector); err != nil {
		return nil, err
	}
	return bank.readAt(sectorOffset(sector), c.RawSectorSize)
}

func (bank *Bank) ReadSpare(sector uint32) ([]byte, error) {
	if err := bank.checkSector(sector); err != nil {
		return nil, err
	}
	return bank.readAt(sectorOffset(sector)+c.BytesPerSector, c.SpareSize)
}

func (bank *Bank) WriteSector(sector uint32, raw []byte) error {
	if err := bank.checkSector(sector); err != nil {
		return err
	}
	if len(raw) != c.RawSectorSize {
		return yepp.ErrDeviceNotReady.WithMessage(
			fmt.Sprintf("sector payload must be %d bytes, got %d", c.RawSectorSize, len(raw)))
	}
	if bank.worn.Get(int(sector / bank.sectorsPerBlock)) {
		return nil
	}
	return bank.program(sectorOffset(sector), raw)
}

func (bank *Bank) blockSize() int {
	return int(bank.sectorsPerBlock) * c.RawSectorSize
}

func (bank *Bank) blockOffset(block uint32) int64 {
	return sectorOffset(block * bank.sectorsPerBlock)
}

func (bank *Bank) ReadBlock(block uint32) ([]byte, error) {
	if err := bank.checkBlock(block); err != nil {
		return nil, err
	}
	return bank.readAt(bank.blockOffset(block), bank.blockSize())
}

func (bank *Bank) WriteBlock(block uint32, raw []byte) error {
	if err := bank.checkBlock(block); err != nil {
		return err
	}
	if len(raw) != bank.blockSize() {
		return yepp.ErrDeviceNotReady.WithMessage(
			fmt.Sprintf("block payload must be %d bytes, got %d", bank.blockSize(), len(raw)))
	}
	if bank.worn.Get(int(block)) {
		return nil
	}
	return bank.program(bank.blockOffset(block), raw)
}

func (bank *Bank) EraseBlock(block uint32) error {
	if err := bank.checkBlock(block); err != nil {
		return err
	}
	if bank.worn.Get(int(block)) {
		return nil
	}
	return bank.writeAt(bank.blockOffset(block), bytes.Repeat([]byte{0xff}, bank.blockSize()))
}

var _ c.FlashIO = (*Bank)(nil)

// MarkWorn makes a block ignore every later program and erase, the way a worn
// out cell stops taking charge.
func (bank *Bank) MarkWorn(block uint32) {
	bank.worn.Set(int(block), true)
}

// FlipBit inverts one bit of a sector's data area, bypassing NAND rules. Bits
// are numbered from the least significant bit of the sector's first byte.
func (bank *Bank) FlipBit(sector uint32, bit uint) error {
	if err := bank.checkSector(sector); err != nil {
		return err
	}
	if bit >= c.BytesPerSector*8 {
		return yepp.ErrInternal.WithMessage(
			fmt.Sprintf("invalid bit %d: not in range [0, %d)", bit, c.BytesPerSector*8))
	}

	offset := sectorOffset(sector) + int64(bit/8)
	current, err := bank.readAt(offset, 1)
	if err != nil {
		return err
	}
	current[0] ^= 1 << (bit % 8)
	return bank.writeAt(offset, current)
}

// Overwrite replaces raw bytes starting at `offset` in the image without NAND
// rules. Factory setup and tests use it to plant arbitrary contents.
func (bank *Bank) Overwrite(offset int64, data []byte) error {
	if offset < 0 || offset+int64(len(data)) > int64(RawSize(bank.sectorsPerBlock, bank.totalBlocks)) {
		return yepp.ErrInternal.WithMessage(
			fmt.Sprintf("can't overwrite %d bytes at offset %d", len(data), offset))
	}
	return bank.writeAt(offset, data)
}

// Dump writes the bank's raw image to `output`.
func (bank *Bank) Dump(output io.Writer) error {
	_, err := bank.storage.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}
	_, err = io.CopyN(output, bank.storage, int64(RawSize(bank.sectorsPerBlock, bank.totalBlocks)))
	return err
}

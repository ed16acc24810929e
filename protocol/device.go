package protocol

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
)

// Device issues commands to the player over a transport. It keeps no state
// beyond the transport itself; every method sends one command, waits for the
// matching response (if any) and returns.
type Device struct {
	transport yepp.Transport
	logger    *slog.Logger
}

// NewDevice creates a client for the player on the other end of `transport`. A
// nil logger discards all log output.
func NewDevice(transport yepp.Transport, logger *slog.Logger) *Device {
	return &Device{transport: transport, logger: c.LoggerOrDiscard(logger)}
}

func (dev *Device) send(cmd Command) error {
	packet, err := cmd.MarshalBinary()
	if err != nil {
		return err
	}

	dev.logger.Debug(
		"command",
		slog.String("op", cmd.Op.String()),
		slog.String("bank", cmd.Bank.String()),
		slog.Uint64("index", uint64(cmd.Index)))

	return dev.writeExactly(packet, cmd.Op)
}

func (dev *Device) writeExactly(data []byte, op Opcode) error {
	n, err := dev.transport.Write(data)
	if err != nil {
		return yepp.ErrDeviceNotReady.Wrap(err)
	}
	if n != len(data) {
		return yepp.ErrDeviceNotReady.WithMessage(
			fmt.Sprintf("%s: short write, sent %d of %d bytes", op, n, len(data)))
	}
	return nil
}

// receive reads one response and insists that it's exactly `size` bytes.
func (dev *Device) receive(size int, op Opcode) ([]byte, error) {
	buffer := make([]byte, size)
	n, err := dev.transport.Read(buffer)
	if err != nil {
		return nil, yepp.ErrDeviceNotReady.Wrap(err)
	}
	if n != size {
		return nil, yepp.ErrDeviceNotReady.WithMessage(
			fmt.Sprintf("%s: expected %d-byte response, got %d", op, size, n))
	}
	return buffer, nil
}

func (dev *Device) request(cmd Command, responseSize int) ([]byte, error) {
	err := dev.send(cmd)
	if err != nil {
		return nil, err
	}
	return dev.receive(responseSize, cmd.Op)
}

// Version returns the firmware identification string.
func (dev *Device) Version() (string, error) {
	response, err := dev.request(Command{Op: OpGetVersion}, VersionSize)
	if err != nil {
		return "", err
	}

	end := bytes.IndexByte(response, 0)
	if end < 0 {
		end = len(response)
	}
	return string(response[:end]), nil
}

// Bank returns a view of one of the player's memories that implements
// [c.FlashIO]. `capacity` is the size of the bank in bytes; it decides how the
// index field of each packet is encoded.
func (dev *Device) Bank(bank yepp.Bank, sectorsPerBlock uint32, capacity uint64) *BankIO {
	return &BankIO{
		device:          dev,
		bank:            bank,
		sectorsPerBlock: sectorsPerBlock,
		capacity:        capacity,
		smallMedia:      capacity <= SmallMediaLimit,
	}
}

// BankIO is raw sector and block access to one memory bank.
type BankIO struct {
	device          *Device
	bank            yepp.Bank
	sectorsPerBlock uint32
	capacity        uint64
	smallMedia      bool
}

var _ c.FlashIO = (*BankIO)(nil)

func (bio *BankIO) command(op Opcode, index uint32, sizeTag byte) Command {
	return Command{
		Op:         op,
		Bank:       bio.bank,
		Index:      index,
		SizeTag:    sizeTag,
		SmallMedia: bio.smallMedia,
	}
}

func (bio *BankIO) blockSize() int {
	return int(bio.sectorsPerBlock) * c.RawSectorSize
}

func (bio *BankIO) SectorsPerBlock() uint32 {
	return bio.sectorsPerBlock
}

// Capacity returns the size of the bank's data area in bytes.
func (bio *BankIO) Capacity() uint64 {
	return bio.capacity
}

// ReadSector returns the data and spare area of one sector.
func (bio *BankIO) ReadSector(sector uint32) ([]byte, error) {
	return bio.device.request(bio.command(OpGetSector, sector, 0), c.RawSectorSize)
}

// ReadSpare returns only the spare area of one sector.
func (bio *BankIO) ReadSpare(sector uint32) ([]byte, error) {
	return bio.device.request(bio.command(OpGetSpareArea, sector, 0), c.SpareSize)
}

// WriteSector programs one sector. `raw` holds data followed by spare.
func (bio *BankIO) WriteSector(sector uint32, raw []byte) error {
	if len(raw) != c.RawSectorSize {
		return yepp.ErrInternal.WithMessage(
			fmt.Sprintf("sector buffer must be %d bytes, got %d", c.RawSectorSize, len(raw)))
	}

	err := bio.device.send(bio.command(OpPutSector, sector, 1))
	if err != nil {
		return err
	}
	return bio.device.writeExactly(raw, OpPutSector)
}

// ReadBlock returns every raw sector of one erase block.
func (bio *BankIO) ReadBlock(block uint32) ([]byte, error) {
	return bio.device.request(bio.command(OpGetBlock, block, 0), bio.blockSize())
}

// WriteBlock programs a whole erase block. The block must have been erased.
func (bio *BankIO) WriteBlock(block uint32, raw []byte) error {
	if len(raw) != bio.blockSize() {
		return yepp.ErrInternal.WithMessage(
			fmt.Sprintf("block buffer must be %d bytes, got %d", bio.blockSize(), len(raw)))
	}

	sizeTag := byte(bio.sectorsPerBlock / c.SectorsPerBlock)
	err := bio.device.send(bio.command(OpPutBlock, block, sizeTag))
	if err != nil {
		return err
	}
	return bio.device.writeExactly(raw, OpPutBlock)
}

// EraseBlock resets every byte of a block to 0xff.
func (bio *BankIO) EraseBlock(block uint32) error {
	return bio.device.send(bio.command(OpDelBlock, block, 0))
}

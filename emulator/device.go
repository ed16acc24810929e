package emulator

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
	"github.com/dargueta/yepp/protocol"
)

// Device plays the part of the player's firmware. It implements
// [yepp.Transport]: commands are written to it, and responses read back.
type Device struct {
	version  string
	banks    map[yepp.Bank]*Bank
	logger   *slog.Logger
	pending  *protocol.Command
	response []byte
}

var _ yepp.Transport = (*Device)(nil)

// NewDevice creates a device with no memories attached. `version` is the
// string returned for GET_VERSION.
func NewDevice(version string, logger *slog.Logger) *Device {
	return &Device{
		version: version,
		banks:   map[yepp.Bank]*Bank{},
		logger:  c.LoggerOrDiscard(logger),
	}
}

// Attach installs a memory into one of the device's slots, replacing what was
// there.
func (dev *Device) Attach(slot yepp.Bank, bank *Bank) {
	dev.banks[slot] = bank
}

// Bank returns the memory in a slot, or nil if the slot is empty.
func (dev *Device) Bank(slot yepp.Bank) *Bank {
	return dev.banks[slot]
}

// Version returns the firmware identification string.
func (dev *Device) Version() string {
	return dev.version
}

func (dev *Device) bank(cmd *protocol.Command) (*Bank, error) {
	bank, ok := dev.banks[cmd.Bank]
	if !ok {
		return nil, yepp.ErrMemoryNotAvailable.WithMessage(
			fmt.Sprintf("no %s memory attached", cmd.Bank))
	}
	return bank, nil
}

// Write accepts either a command packet or, after PUT_SECTOR or PUT_BLOCK, the
// data to program.
func (dev *Device) Write(p []byte) (int, error) {
	if dev.pending != nil {
		cmd := dev.pending
		dev.pending = nil
		err := dev.program(cmd, p)
		if err != nil {
			return 0, err
		}
		return len(p), nil
	}

	var cmd protocol.Command
	err := cmd.UnmarshalBinary(p)
	if err != nil {
		return 0, err
	}

	dev.logger.Debug(
		"received command",
		slog.String("op", cmd.Op.String()),
		slog.String("bank", cmd.Bank.String()),
		slog.Uint64("index", uint64(cmd.Index)))

	err = dev.execute(&cmd)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (dev *Device) execute(cmd *protocol.Command) error {
	dev.response = nil

	if cmd.Op == protocol.OpGetVersion {
		dev.response = make([]byte, protocol.VersionSize)
		copy(dev.response, dev.version)
		return nil
	}

	bank, err := dev.bank(cmd)
	if err != nil {
		return err
	}

	switch cmd.Op {
	case protocol.OpGetSector:
		dev.response, err = bank.ReadSector(cmd.Index)
	case protocol.OpGetSpareArea:
		dev.response, err = bank.ReadSpare(cmd.Index)
	case protocol.OpGetBlock:
		dev.response, err = bank.ReadBlock(cmd.Index)
	case protocol.OpDelBlock:
		err = bank.EraseBlock(cmd.Index)
	case protocol.OpPutSector, protocol.OpPutBlock:
		dev.pending = cmd
	default:
		err = yepp.ErrDeviceNotReady.WithMessage(fmt.Sprintf("unsupported command %s", cmd.Op))
	}
	return err
}

func (dev *Device) program(cmd *protocol.Command, payload []byte) error {
	bank, err := dev.bank(cmd)
	if err != nil {
		return err
	}

	if cmd.Op == protocol.OpPutSector {
		return bank.WriteSector(cmd.Index, payload)
	}

	expected := int(cmd.SizeTag) * c.SectorsPerBlock * c.RawSectorSize
	if len(payload) != expected {
		return yepp.ErrDeviceNotReady.WithMessage(
			fmt.Sprintf("size tag %d calls for %d bytes, got %d", cmd.SizeTag, expected, len(payload)))
	}
	return bank.WriteBlock(cmd.Index, payload)
}

// Read returns the response to the last command. Each response can be read
// only once.
func (dev *Device) Read(p []byte) (int, error) {
	if dev.response == nil {
		return 0, io.EOF
	}
	n := copy(p, dev.response)
	dev.response = nil
	return n, nil
}

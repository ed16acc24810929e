package emulator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/noxer/bytewriter"
	"github.com/spf13/afero"
	"github.com/xaionaro-go/bytesextra"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/protocol"
	"github.com/dargueta/yepp/utilities/compression"
)

var snapshotMagic = [8]byte{'Y', 'E', 'P', 'P', 'S', 'N', 'A', 'P'}

type snapshotHeader struct {
	Magic    [8]byte
	Version  [protocol.VersionSize]byte
	NumBanks uint8
}

type bankHeader struct {
	Slot            uint8
	SectorsPerBlock uint32
	TotalBlocks     uint32
	CompressedSize  uint32
}

var slotOrder = []yepp.Bank{yepp.BankInternal, yepp.BankExternal}

// SaveSnapshot writes the firmware version and every attached memory of `dev`
// to `path`, compressed.
func SaveSnapshot(fs afero.Fs, path string, dev *Device) error {
	header := snapshotHeader{Magic: snapshotMagic}
	copy(header.Version[:], dev.version)

	var body bytes.Buffer
	for _, slot := range slotOrder {
		bank := dev.banks[slot]
		if bank == nil {
			continue
		}

		var compressed bytes.Buffer
		reader, writer := io.Pipe()
		go func() {
			writer.CloseWithError(bank.Dump(writer))
		}()
		_, err := compression.CompressImage(reader, &compressed)
		reader.Close()
		if err != nil {
			return fmt.Errorf("failed to compress %s memory: %w", slot, err)
		}

		binary.Write(&body, binary.LittleEndian, bankHeader{
			Slot:            uint8(slot),
			SectorsPerBlock: bank.sectorsPerBlock,
			TotalBlocks:     bank.totalBlocks,
			CompressedSize:  uint32(compressed.Len()),
		})
		body.Write(compressed.Bytes())
		header.NumBanks++
	}

	file, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	err = binary.Write(file, binary.LittleEndian, header)
	if err != nil {
		return err
	}
	_, err = file.Write(body.Bytes())
	return err
}

// LoadSnapshot recreates a device saved by SaveSnapshot. Its memories live
// entirely in RAM; changes only reach `path` if it's saved again.
func LoadSnapshot(fs afero.Fs, path string, logger *slog.Logger) (*Device, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var header snapshotHeader
	err = binary.Read(file, binary.LittleEndian, &header)
	if err != nil {
		return nil, fmt.Errorf("%s: can't read snapshot header: %w", path, err)
	}
	if header.Magic != snapshotMagic {
		return nil, fmt.Errorf("%s: not a snapshot", path)
	}

	version := header.Version[:]
	if end := bytes.IndexByte(version, 0); end >= 0 {
		version = version[:end]
	}
	dev := NewDevice(string(version), logger)

	for i := uint8(0); i < header.NumBanks; i++ {
		var bh bankHeader
		err = binary.Read(file, binary.LittleEndian, &bh)
		if err != nil {
			return nil, fmt.Errorf("%s: can't read header of memory %d: %w", path, i, err)
		}

		image := make([]byte, RawSize(bh.SectorsPerBlock, bh.TotalBlocks))
		n, err := compression.DecompressImage(
			io.LimitReader(file, int64(bh.CompressedSize)), bytewriter.New(image))
		if err != nil {
			return nil, fmt.Errorf("%s: memory %d is corrupt: %w", path, i, err)
		}
		if n != int64(len(image)) {
			return nil, fmt.Errorf(
				"%s: memory %d should be %d bytes, got %d", path, i, len(image), n)
		}

		dev.Attach(
			yepp.Bank(bh.Slot),
			NewBank(bytesextra.NewReadWriteSeeker(image), bh.SectorsPerBlock, bh.TotalBlocks))
	}
	return dev, nil
}

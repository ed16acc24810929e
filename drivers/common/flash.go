package common

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/utilities/ecc"
)

// FlashIO gives raw access to one memory bank. Sector buffers are always
// RawSectorSize bytes (data followed by spare); block buffers are a whole
// number of raw sectors.
type FlashIO interface {
	ReadSector(sector uint32) ([]byte, error)
	ReadSpare(sector uint32) ([]byte, error)
	WriteSector(sector uint32, raw []byte) error
	ReadBlock(block uint32) ([]byte, error)
	WriteBlock(block uint32, raw []byte) error
	EraseBlock(block uint32) error
	SectorsPerBlock() uint32
}

// Offsets of the fields within a sector's spare area. Only the first sixteen
// bytes carry anything; the remainder stays erased.
const (
	SpareDataStatus  = 4
	SpareBlockStatus = 5
	SpareAddress1    = 6
	SpareECC2        = 8
	SpareAddress2    = 11
	SpareECC1        = 13
)

// NoAddress is written into the address fields of blocks that don't belong to
// the zone table, e.g. internal flash.
const NoAddress = 0xffff

// BuildSpare creates the spare area for a sector holding `data`, with the block
// address `address` in both address fields.
func BuildSpare(data []byte, address uint16) []byte {
	spare := bytes.Repeat([]byte{0xff}, SpareSize)

	binary.BigEndian.PutUint16(spare[SpareAddress1:], address)
	binary.BigEndian.PutUint16(spare[SpareAddress2:], address)

	code1 := ecc.Generate(data[:ecc.DataSize])
	code2 := ecc.Generate(data[ecc.DataSize:BytesPerSector])
	copy(spare[SpareECC1:], code1[:])
	copy(spare[SpareECC2:], code2[:])
	return spare
}

// PackBlock interleaves `data` (a whole number of sectors) with freshly built
// spare areas, producing the raw image of a block ready to be programmed.
func PackBlock(data []byte, address uint16) []byte {
	if len(data)%BytesPerSector != 0 {
		panic(fmt.Sprintf("block data must be a multiple of %d bytes, got %d", BytesPerSector, len(data)))
	}

	numSectors := len(data) / BytesPerSector
	raw := make([]byte, 0, numSectors*RawSectorSize)
	for i := 0; i < numSectors; i++ {
		sectorData := data[i*BytesPerSector : (i+1)*BytesPerSector]
		raw = append(raw, sectorData...)
		raw = append(raw, BuildSpare(sectorData, address)...)
	}
	return raw
}

// CheckSector verifies both halves of a raw sector against the codes in its
// spare area, correcting single-bit errors in place. It returns the worst
// result of the two halves.
func CheckSector(raw []byte) (ecc.Result, error) {
	if len(raw) != RawSectorSize {
		return ecc.Uncorrectable, yepp.ErrInternal.WithMessage(
			fmt.Sprintf("raw sector must be %d bytes, got %d", RawSectorSize, len(raw)))
	}

	spare := raw[BytesPerSector:]
	var code1, code2 [ecc.CodeSize]byte
	copy(code1[:], spare[SpareECC1:])
	copy(code2[:], spare[SpareECC2:])

	result1, err := ecc.Check(raw[:ecc.DataSize], code1)
	if err != nil {
		return result1, err
	}
	result2, err := ecc.Check(raw[ecc.DataSize:BytesPerSector], code2)
	if err != nil {
		return result2, err
	}

	if result2 > result1 {
		return result2, nil
	}
	return result1, nil
}

// UnpackBlock checks every sector of a raw block and returns only the data
// bytes. `corrected` counts the sectors that needed a repair.
func UnpackBlock(raw []byte) (data []byte, corrected int, err error) {
	if len(raw)%RawSectorSize != 0 {
		return nil, 0, yepp.ErrInternal.WithMessage(
			fmt.Sprintf("raw block must be a multiple of %d bytes, got %d", RawSectorSize, len(raw)))
	}

	numSectors := len(raw) / RawSectorSize
	data = make([]byte, 0, numSectors*BytesPerSector)
	for i := 0; i < numSectors; i++ {
		sector := raw[i*RawSectorSize : (i+1)*RawSectorSize]
		result, err := CheckSector(sector)
		if err != nil {
			return nil, corrected, err
		}
		if result == ecc.Corrected {
			corrected++
		}
		data = append(data, sector[:BytesPerSector]...)
	}
	return data, corrected, nil
}

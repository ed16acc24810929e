// Package protocol implements the player's bulk command protocol: fixed-size
// command packets, the responses to them, and a Device client that issues one
// command at a time over a [yepp.Transport].
package protocol

import (
	"bytes"
	"fmt"

	"github.com/dargueta/yepp"
)

// Opcode identifies a command.
type Opcode byte

const (
	OpGetVersion   Opcode = 1
	OpGetBlock     Opcode = 2
	OpPutSector    Opcode = 3
	OpDelBlock     Opcode = 4
	OpGetSector    Opcode = 6
	OpGetSpareArea Opcode = 7
	OpPutBlock     Opcode = 8
)

func (op Opcode) String() string {
	switch op {
	case OpGetVersion:
		return "GET_VERSION"
	case OpGetBlock:
		return "GET_BLOCK"
	case OpPutSector:
		return "PUT_SECTOR"
	case OpDelBlock:
		return "DEL_BLOCK"
	case OpGetSector:
		return "GET_SECTOR"
	case OpGetSpareArea:
		return "GET_SPARE_AREA"
	case OpPutBlock:
		return "PUT_BLOCK"
	default:
		return fmt.Sprintf("Opcode(%d)", byte(op))
	}
}

// PacketSize is the size of every command packet.
const PacketSize = 64

// VersionSize is the size of the GET_VERSION response.
const VersionSize = 64

// SmallMediaLimit is the largest capacity, in bytes, for which the top byte of
// the index field is forced to 0xff.
const SmallMediaLimit = 32 * 1024 * 1024

const (
	offsetOpcode    = 0
	offsetBank      = 1
	offsetIndex     = 3
	offsetSizeTag   = 6
	offsetSignature = 0x3b
)

var signature = []byte("jykim")

// Command is a decoded command packet.
type Command struct {
	Op   Opcode
	Bank yepp.Bank
	// Index is a sector number for sector commands and a block number for block
	// commands. Only 24 bits are transmitted.
	Index uint32
	// SizeTag tells the device how much data follows a write command.
	SizeTag byte
	// SmallMedia marks commands addressed to a bank of at most 32MB. Their
	// index is limited to 16 bits and the top byte is sent as 0xff.
	SmallMedia bool
}

// MarshalBinary encodes the command into a packet.
func (cmd Command) MarshalBinary() ([]byte, error) {
	limit := uint32(1 << 24)
	if cmd.SmallMedia {
		limit = 1 << 16
	}
	if cmd.Index >= limit {
		return nil, yepp.ErrInternal.WithMessage(
			fmt.Sprintf("index %d too large for %s: not in [0, %d)", cmd.Index, cmd.Op, limit))
	}

	packet := make([]byte, PacketSize)
	packet[offsetOpcode] = byte(cmd.Op)
	packet[offsetBank] = byte(cmd.Bank)
	packet[offsetIndex] = byte(cmd.Index)
	packet[offsetIndex+1] = byte(cmd.Index >> 8)
	if cmd.SmallMedia {
		packet[offsetIndex+2] = 0xff
	} else {
		packet[offsetIndex+2] = byte(cmd.Index >> 16)
	}
	packet[offsetSizeTag] = cmd.SizeTag
	copy(packet[offsetSignature:], signature)
	return packet, nil
}

// UnmarshalBinary decodes a packet. It fails if the packet is the wrong size or
// doesn't carry the protocol signature.
func (cmd *Command) UnmarshalBinary(packet []byte) error {
	if len(packet) != PacketSize {
		return yepp.ErrDeviceNotReady.WithMessage(
			fmt.Sprintf("command packet must be %d bytes, got %d", PacketSize, len(packet)))
	}
	if !bytes.Equal(packet[offsetSignature:offsetSignature+len(signature)], signature) {
		return yepp.ErrDeviceNotReady.WithMessage("command packet is missing signature")
	}

	cmd.Op = Opcode(packet[offsetOpcode])
	cmd.Bank = yepp.Bank(packet[offsetBank])
	cmd.SizeTag = packet[offsetSizeTag]
	cmd.Index = uint32(packet[offsetIndex]) | uint32(packet[offsetIndex+1])<<8
	if packet[offsetIndex+2] == 0xff {
		cmd.SmallMedia = true
	} else {
		cmd.Index |= uint32(packet[offsetIndex+2]) << 16
	}
	return nil
}

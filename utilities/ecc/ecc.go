// Package ecc implements the 22-bit Hamming code NAND flash uses to protect
// each 256-byte half of a sector. The code detects any two-bit error and
// corrects any single-bit error.
//
// Line parities cover the byte index: for each of the eight address bits there
// is a pair of parities, one over the bytes whose index has that bit clear and
// one over those where it's set. Column parities do the same for the three bits
// of the bit index. All parities are stored complemented, so erased flash
// (all 0xFF) reads back as a valid code for all-0xFF data.
package ecc

import (
	"fmt"
	"math/bits"

	"github.com/dargueta/yepp"
)

// DataSize is the number of bytes covered by one code.
const DataSize = 256

// CodeSize is the size of one code, in bytes.
const CodeSize = 3

// unusedBits are the two high bits of the third code byte. They carry no
// parity and are always set.
const unusedBits = 0xc0

// Result describes the outcome of checking a block of data against its code.
type Result int

const (
	// Clean means the data and code agree.
	Clean Result = iota
	// Corrected means a single bit of data was wrong and has been fixed in place.
	Corrected
	// CodeCorrected means a single bit of the stored code was wrong; the data
	// is intact.
	CodeCorrected
	// Uncorrectable means more than one bit is wrong. The data must not be
	// trusted.
	Uncorrectable
)

func (r Result) String() string {
	switch r {
	case Clean:
		return "clean"
	case Corrected:
		return "corrected"
	case CodeCorrected:
		return "code corrected"
	case Uncorrectable:
		return "uncorrectable"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Generate computes the code for exactly 256 bytes of data.
func Generate(data []byte) [CodeSize]byte {
	if len(data) != DataSize {
		panic(fmt.Sprintf("ecc: data must be %d bytes, got %d", DataSize, len(data)))
	}

	// linePar[k][v] is the parity of all bytes whose index has bit k equal to v.
	var linePar [8][2]byte
	var columnAcc byte

	for i, b := range data {
		columnAcc ^= b
		if bits.OnesCount8(b)&1 == 0 {
			continue
		}
		for k := 0; k < 8; k++ {
			linePar[k][(i>>k)&1] ^= 1
		}
	}

	var columnPar [3][2]byte
	for j := 0; j < 8; j++ {
		bit := (columnAcc >> j) & 1
		for m := 0; m < 3; m++ {
			columnPar[m][(j>>m)&1] ^= bit
		}
	}

	var code [CodeSize]byte
	for k := 0; k < 4; k++ {
		code[0] |= linePar[k][0]<<(2*k) | linePar[k][1]<<(2*k+1)
		code[1] |= linePar[k+4][0]<<(2*k) | linePar[k+4][1]<<(2*k+1)
	}
	for m := 0; m < 3; m++ {
		code[2] |= columnPar[m][0]<<(2*m) | columnPar[m][1]<<(2*m+1)
	}

	code[0] = ^code[0]
	code[1] = ^code[1]
	code[2] = ^code[2] | unusedBits
	return code
}

// isBalanced reports whether every parity pair in a syndrome byte has exactly
// one bit set. `mask` selects which pairs to look at.
func isBalanced(syndrome, mask byte) bool {
	return (syndrome^(syndrome>>1))&mask == mask
}

// Check compares data against its stored code. A single flipped data bit is
// corrected in place. If the data can't be trusted, Check returns Uncorrectable
// and an error wrapping [yepp.ErrReadingFile].
func Check(data []byte, stored [CodeSize]byte) (Result, error) {
	computed := Generate(data)

	s0 := computed[0] ^ stored[0]
	s1 := computed[1] ^ stored[1]
	s2 := (computed[2] ^ stored[2]) &^ unusedBits

	if s0 == 0 && s1 == 0 && s2 == 0 {
		return Clean, nil
	}

	if isBalanced(s0, 0x55) && isBalanced(s1, 0x55) && isBalanced(s2, 0x15) {
		line := 0
		for k := 0; k < 4; k++ {
			line |= int((s0>>(2*k+1))&1) << k
			line |= int((s1>>(2*k+1))&1) << (k + 4)
		}
		column := 0
		for m := 0; m < 3; m++ {
			column |= int((s2>>(2*m+1))&1) << m
		}
		data[line] ^= 1 << column
		return Corrected, nil
	}

	if bits.OnesCount8(s0)+bits.OnesCount8(s1)+bits.OnesCount8(s2) == 1 {
		return CodeCorrected, nil
	}

	return Uncorrectable, yepp.ErrReadingFile.WithMessage(
		fmt.Sprintf("uncorrectable ECC error: syndrome %02x %02x %02x", s0, s1, s2))
}

package compression

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// maxRun is the longest run a single RLE8 triple can express.
const maxRun = 257

// nextRun reads one run of identical bytes from `rd`. It returns io.EOF only if
// no bytes at all were left.
func nextRun(rd *bufio.Reader) (value byte, length int, err error) {
	value, err = rd.ReadByte()
	if err != nil {
		return 0, 0, err
	}

	for length = 1; length < maxRun; length++ {
		next, err := rd.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return 0, 0, err
		}
		if next != value {
			rd.UnreadByte()
			break
		}
	}
	return value, length, nil
}

// CompressRLE8 run-length encodes everything from `input` into `output`. It
// returns the number of bytes written.
func CompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	total := int64(0)

	for {
		value, length, err := nextRun(source)
		if errors.Is(err, io.EOF) {
			return total, nil
		} else if err != nil {
			return total, err
		}

		var encoded []byte
		if length == 1 {
			encoded = []byte{value}
		} else {
			encoded = []byte{value, value, byte(length - 2)}
		}

		n, err := output.Write(encoded)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}

// DecompressRLE8 reverses CompressRLE8. It returns the number of bytes written
// to `output`.
func DecompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	total := int64(0)
	previous := -1

	for {
		current, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			return total, nil
		} else if err != nil {
			return total, fmt.Errorf("error reading input: %w", err)
		}

		var decoded []byte
		if int(current) == previous {
			count, err := source.ReadByte()
			if errors.Is(err, io.EOF) {
				return total, fmt.Errorf(
					"%w: missing repeat count after two %02x bytes",
					io.ErrUnexpectedEOF,
					current)
			} else if err != nil {
				return total, fmt.Errorf("error reading input: %w", err)
			}

			// One copy was already written when the first byte of the pair came
			// through.
			decoded = bytes.Repeat([]byte{current}, int(count)+1)
			previous = -1
		} else {
			decoded = []byte{current}
			previous = int(current)
		}

		n, err := output.Write(decoded)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("failed to write to output: %w", err)
		}
	}
}

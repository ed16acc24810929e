package testing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/dargueta/yepp/emulator"
	"github.com/dargueta/yepp/utilities/compression"
)

// CompressBank returns a compressed copy of the raw image of `bank`.
func CompressBank(t *testing.T, bank *emulator.Bank) []byte {
	var raw, compressed bytes.Buffer
	require.NoError(t, bank.Dump(&raw))

	_, err := compression.CompressImage(&raw, &compressed)
	require.NoError(t, err)
	return compressed.Bytes()
}

// LoadBank decompresses an image made by CompressBank into a new bank. Writes
// to the bank don't affect `compressedImage`.
func LoadBank(
	t *testing.T, compressedImage []byte, sectorsPerBlock, totalBlocks uint32,
) *emulator.Bank {
	require.Greater(t, len(compressedImage), 0, "compressed image is empty")

	imageBytes, err := compression.DecompressImageToBytes(bytes.NewReader(compressedImage))
	require.NoError(t, err)
	require.Equal(
		t,
		emulator.RawSize(sectorsPerBlock, totalBlocks),
		len(imageBytes),
		"uncompressed image is wrong size")

	return emulator.NewBank(bytesextra.NewReadWriteSeeker(imageBytes), sectorsPerBlock, totalBlocks)
}

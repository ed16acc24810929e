package compression_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/yepp/utilities/compression"
)

func erasedImage(size int) []byte {
	return bytes.Repeat([]byte{0xff}, size)
}

func TestImageRoundTrip(t *testing.T) {
	randomData := make([]byte, 119)
	rand.Read(randomData)

	mixed := erasedImage(3 * 576)
	copy(mixed[576:], randomData)

	testData := map[string][]byte{
		"erased": erasedImage(32 * 576),
		"empty":  {},
		"random": randomData,
		"mixed":  mixed,
	}

	for name, original := range testData {
		t.Run(name, func(t *testing.T) {
			var compressed bytes.Buffer
			_, err := compression.CompressImage(bytes.NewReader(original), &compressed)
			require.NoError(t, err)
			t.Logf("image compressed %d -> %d", len(original), compressed.Len())

			decompressed := make([]byte, len(original))
			n, err := compression.DecompressImage(
				bytes.NewReader(compressed.Bytes()), bytewriter.New(decompressed))
			require.NoError(t, err)
			assert.EqualValues(t, len(original), n, "decompressed image has wrong size")
			assert.Equal(t, original, decompressed)
		})
	}
}

func TestImageCompression__ErasedBlocksShrink(t *testing.T) {
	original := erasedImage(1024 * 576)
	var compressed bytes.Buffer
	_, err := compression.CompressImage(bytes.NewReader(original), &compressed)
	require.NoError(t, err)
	assert.Less(t, compressed.Len(), len(original)/100)

	decompressed, err := compression.DecompressImageToBytes(&compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestCompressRLE8__Basic(t *testing.T) {
	cases := []struct {
		Name       string
		Input      []byte
		Compressed []byte
	}{
		{"single", []byte{1}, []byte{1}},
		{"pair", []byte{7, 7}, []byte{7, 7, 0}},
		{"doc example", []byte("WXXXXXXXXXXXXXXXYZZ"), []byte("WXX\x0dYZZ\x00")},
		{"long run", bytes.Repeat([]byte{0xff}, 300), []byte{0xff, 0xff, 255, 0xff, 0xff, 41}},
		{"run of 258", bytes.Repeat([]byte{9}, 258), []byte{9, 9, 255, 9}},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			var output bytes.Buffer
			n, err := compression.CompressRLE8(bytes.NewReader(tc.Input), &output)
			require.NoError(t, err)
			assert.EqualValues(t, len(tc.Compressed), n)
			assert.Equal(t, tc.Compressed, output.Bytes())

			decompressed := make([]byte, len(tc.Input))
			_, err = compression.DecompressRLE8(&output, bytewriter.New(decompressed))
			require.NoError(t, err)
			assert.Equal(t, tc.Input, decompressed)
		})
	}
}

func TestDecompressRLE8__MissingRepeatCount(t *testing.T) {
	var output bytes.Buffer
	_, err := compression.DecompressRLE8(bytes.NewReader([]byte{1, 2, 2}), &output)
	assert.Error(t, err)
	assert.Equal(t, []byte{1, 2}, output.Bytes())
}

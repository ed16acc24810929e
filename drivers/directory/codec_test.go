package directory_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/drivers/directory"
)

func nothingTaken(directory.Alias) bool { return false }

func takenSet(aliases ...string) func(directory.Alias) bool {
	set := map[directory.Alias]bool{}
	for _, a := range aliases {
		set[alias(a)] = true
	}
	return func(a directory.Alias) bool { return set[a] }
}

func TestChecksum__KnownValues(t *testing.T) {
	assert.EqualValues(t, 0xf6, directory.Checksum(alias("A       MP3")))
	assert.EqualValues(t, 0xb4, directory.Checksum(alias("HELLOW~1MP3")))
	assert.EqualValues(t, 0x73, directory.Checksum(alias("README  TXT")))
}

func TestMakeAlias__ExactShortName(t *testing.T) {
	codec := directory.NewCodec(nil)

	cases := map[string]string{
		"A.MP3":        "A       MP3",
		"README":       "README     ",
		"ABCDEFGH.TXT": "ABCDEFGHTXT",
		"TRACK~1.MP3":  "TRACK~1 MP3",
	}
	for name, expected := range cases {
		got, needsLong, err := codec.MakeAlias(name, nothingTaken)
		require.NoError(t, err, name)
		assert.Equal(t, alias(expected), got, name)
		assert.False(t, needsLong, name)
	}
}

func TestMakeAlias__ExactShortNameTaken(t *testing.T) {
	codec := directory.NewCodec(nil)
	_, _, err := codec.MakeAlias("A.MP3", takenSet("A       MP3"))
	assert.ErrorIs(t, err, yepp.ErrFileExists)
}

func TestMakeAlias__LossyBasis(t *testing.T) {
	codec := directory.NewCodec(nil)

	cases := map[string]string{
		"Hello World.mp3":   "HELLOW  MP3",
		"a.mp3":             "A       MP3",
		"my.song.flac":      "MYSONG  FLA",
		".profile":          "PROFIL     ",
		"a+b=c.txt":         "A_B_C   TXT",
		"日本.mp3": "__      MP3",
		"été.wav": "\x90T\x90     WAV",
	}
	for name, expected := range cases {
		got, needsLong, err := codec.MakeAlias(name, nothingTaken)
		require.NoError(t, err, name)
		assert.Equal(t, alias(expected), got, name)
		assert.True(t, needsLong, name)
	}
}

func TestMakeAlias__Collisions(t *testing.T) {
	codec := directory.NewCodec(nil)

	got, _, err := codec.MakeAlias("Hello World.mp3", takenSet("HELLOW  MP3"))
	require.NoError(t, err)
	assert.Equal(t, alias("HELLOW~1MP3"), got)

	got, _, err = codec.MakeAlias("Hello World.mp3", takenSet("HELLOW  MP3", "HELLOW~1MP3"))
	require.NoError(t, err)
	assert.Equal(t, alias("HELLOW~2MP3"), got)

	// Short bases get the suffix right after them.
	got, _, err = codec.MakeAlias("ab.mp3", takenSet("AB      MP3"))
	require.NoError(t, err)
	assert.Equal(t, alias("AB~1    MP3"), got)
}

func TestMakeAlias__Exhausted(t *testing.T) {
	codec := directory.NewCodec(nil)
	taken := []string{"HELLOW  MP3"}
	for i := 1; i <= 9; i++ {
		taken = append(taken, "HELLOW~"+string(rune('0'+i))+"MP3")
	}

	_, _, err := codec.MakeAlias("Hello World.mp3", takenSet(taken...))
	assert.ErrorIs(t, err, yepp.ErrDirNameError)
}

func TestCheckLongName(t *testing.T) {
	assert.NoError(t, directory.CheckLongName("Track 01 [live].mp3"))
	for _, name := range []string{"", ".", "..", "a/b", "what?", "x\x01y", "a:b"} {
		assert.ErrorIs(t, directory.CheckLongName(name), yepp.ErrDirNameError, "%q", name)
	}
}

func TestAliasString(t *testing.T) {
	codec := directory.NewCodec(nil)
	assert.Equal(t, "A.MP3", codec.AliasString(alias("A       MP3")))
	assert.Equal(t, "README", codec.AliasString(alias("README     ")))
	assert.Equal(t, "ÉTÉ.WAV", codec.AliasString(alias("\x90T\x90     WAV")))
}

func TestParseAlias(t *testing.T) {
	codec := directory.NewCodec(nil)

	got, ok := codec.ParseAlias("hellow~1.mp3")
	assert.True(t, ok)
	assert.Equal(t, alias("HELLOW~1MP3"), got)

	_, ok = codec.ParseAlias("much too long.mp3")
	assert.False(t, ok)
}

func TestNewCodec__OtherCodePage(t *testing.T) {
	codec := directory.NewCodec(charmap.CodePage850)

	got, _, err := codec.MakeAlias("ø.mp3", nothingTaken)
	require.NoError(t, err)
	assert.EqualValues(t, 0x9d, got[0], "CP850 puts Ø at 0x9D")
	assert.True(t, strings.HasSuffix(codec.AliasString(got), ".MP3"))
}

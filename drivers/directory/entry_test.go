package directory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/drivers/directory"
)

func alias(s string) directory.Alias {
	var a directory.Alias
	copy(a[:], s)
	return a
}

func TestTimestamp__RoundTrip(t *testing.T) {
	when := time.Date(2023, time.May, 17, 13, 45, 31, 500*int(time.Millisecond), time.UTC)

	date, clock, tenths := directory.TimestampToParts(when)
	assert.EqualValues(t, 22193, date)
	assert.EqualValues(t, 28079, clock)
	assert.EqualValues(t, 150, tenths)
	assert.Equal(t, when, directory.TimestampFromParts(date, clock, tenths))
}

func TestTimestamp__ZeroDate(t *testing.T) {
	assert.True(t, directory.DateFromInt(0).IsZero())
	assert.True(t, directory.TimestampFromParts(0, 1234, 0).IsZero())
	assert.Zero(t, directory.DateToInt(time.Time{}))
	assert.Zero(t, directory.DateToInt(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestEntry__Layout(t *testing.T) {
	when := time.Date(2004, time.March, 2, 10, 20, 30, 0, time.UTC)
	entry := directory.NewEntry(yepp.AttrArchived, 0x00012345, 0xdeadbeef, when)
	entry.Alias = alias("SONG    MP3")

	raw := entry.Bytes()
	require.Len(t, raw, directory.EntrySize)
	assert.Equal(t, "SONG    MP3", string(raw[:11]))
	assert.EqualValues(t, yepp.AttrArchived, raw[11])
	assert.Equal(t, []byte{0x01, 0x00}, raw[20:22], "high cluster word")
	assert.Equal(t, []byte{0x45, 0x23}, raw[26:28], "low cluster word")
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, raw[28:32])

	decoded := directory.DecodeEntry(raw)
	assert.Equal(t, entry.Alias, decoded.Alias)
	assert.Equal(t, entry.Cluster, decoded.Cluster)
	assert.Equal(t, entry.Size, decoded.Size)
	assert.Equal(t, when, decoded.Created)
	assert.Equal(t, when, decoded.Modified)
	assert.Equal(t, time.Date(2004, time.March, 2, 0, 0, 0, 0, time.UTC), decoded.Accessed)
	assert.False(t, decoded.IsDir())
}

func TestEntry__LeadingE5IsEscaped(t *testing.T) {
	entry := directory.Entry{Alias: alias("\xe5ABC    TXT")}
	raw := entry.Bytes()

	assert.EqualValues(t, 0x05, raw[0])
	assert.Equal(t, entry.Alias, directory.DecodeEntry(raw).Alias)
}

func TestEntry__VolumeLabel(t *testing.T) {
	label := directory.Entry{Attributes: yepp.AttrVolumeLabel | yepp.AttrArchived}
	assert.True(t, label.IsVolumeLabel())

	slot := directory.Entry{Attributes: yepp.AttrLongName}
	assert.False(t, slot.IsVolumeLabel())
}

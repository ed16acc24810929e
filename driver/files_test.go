package driver_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/yepp"
	yt "github.com/dargueta/yepp/testing"
)

func TestPut__Exists(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	putBytes(t, vol, "Song.mp3", []byte("first"))

	_, err := vol.Put("SONG.MP3", strings.NewReader("again"), 5, nil)
	assert.ErrorIs(t, err, yepp.ErrFileExists)
	assert.Equal(t, []byte("first"), getBytes(t, vol, "song.mp3"))
}

func TestPut__BadName(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	_, err := vol.Put("what?.mp3", strings.NewReader("x"), 1, nil)
	assert.ErrorIs(t, err, yepp.ErrDirNameError)
}

func TestPut__NotEnoughSpace(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	free := freeSpace(t, vol)

	_, err := vol.Put("huge.mp3", strings.NewReader(""), vol.TotalSpace()+1, nil)
	assert.ErrorIs(t, err, yepp.ErrNotEnoughSpace)
	assert.Equal(t, free, freeSpace(t, vol))
}

func TestPut__CancelReleasesClusters(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	free := freeSpace(t, vol)
	data := yt.RandomData(t, 6*cardClusterSize)

	reports := []uint64{}
	progress := yepp.ProgressFunc(func(done, total uint64) bool {
		assert.EqualValues(t, len(data), total)
		reports = append(reports, done)
		return done < 2*cardClusterSize
	})

	_, err := vol.Put("cancelled.mp3", bytes.NewReader(data), uint64(len(data)), progress)
	assert.ErrorIs(t, err, yepp.ErrUserCancel)
	assert.Equal(t, []uint64{cardClusterSize, 2 * cardClusterSize}, reports)

	assert.Equal(t, free, freeSpace(t, vol))
	_, err = vol.Stat("cancelled.mp3")
	assert.ErrorIs(t, err, yepp.ErrFileNotFound)

	// The released clusters can be used again.
	putBytes(t, vol, "kept.mp3", data)
	assert.Equal(t, data, getBytes(t, vol, "kept.mp3"))
}

func TestPut__ShortSourceUnwinds(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	free := freeSpace(t, vol)

	_, err := vol.Put("short.mp3", bytes.NewReader(make([]byte, cardClusterSize+10)), 4*cardClusterSize, nil)
	assert.ErrorIs(t, err, yepp.ErrReadingFile)
	assert.Equal(t, free, freeSpace(t, vol))
}

func TestPut__EmptyFile(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	free := freeSpace(t, vol)

	info := putBytes(t, vol, "empty.txt", nil)
	assert.EqualValues(t, 0, info.StartCluster)
	assert.EqualValues(t, 0, info.Size)
	assert.Equal(t, free, freeSpace(t, vol))
	assert.Empty(t, getBytes(t, vol, "empty.txt"))

	require.NoError(t, vol.Delete("empty.txt"))
	assert.Equal(t, free, freeSpace(t, vol))
}

func TestPut__CollidingShortNames(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	putBytes(t, vol, "Hello World.mp3", []byte("one"))
	putBytes(t, vol, "Hello Wonderful.mp3", []byte("two"))
	putBytes(t, vol, "Hello Wolf.mp3", []byte("three"))

	for name, short := range map[string]string{
		"Hello World.mp3":     "HELLOW.MP3",
		"Hello Wonderful.mp3": "HELLOW~1.MP3",
		"Hello Wolf.mp3":      "HELLOW~2.MP3",
	} {
		info, err := vol.Stat(short)
		require.NoError(t, err, short)
		assert.Equal(t, name, info.Name)
	}
	assert.Equal(t, []byte("two"), getBytes(t, vol, "HELLOW~1.MP3"))
}

func TestGet__Progress(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	data := yt.RandomData(t, 2*cardClusterSize+5)
	putBytes(t, vol, "a.mp3", data)

	reports := []uint64{}
	var out bytes.Buffer
	n, err := vol.Get("a.mp3", &out, yepp.ProgressFunc(func(done, total uint64) bool {
		reports = append(reports, done)
		return true
	}))
	require.NoError(t, err)
	assert.EqualValues(t, len(data), n)
	assert.Equal(t, []uint64{cardClusterSize, 2 * cardClusterSize, uint64(len(data))}, reports)

	out.Reset()
	_, err = vol.Get("a.mp3", &out, yepp.ProgressFunc(func(done, total uint64) bool { return false }))
	assert.ErrorIs(t, err, yepp.ErrUserCancel)
	assert.Equal(t, cardClusterSize, out.Len())
}

func TestGet__Missing(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	_, err := vol.Get("nope.mp3", &bytes.Buffer{}, nil)
	assert.ErrorIs(t, err, yepp.ErrFileNotFound)
}

func TestDelete__Missing(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	assert.ErrorIs(t, vol.Delete("nope.mp3"), yepp.ErrFileNotFound)
}

func TestRename(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	data := yt.RandomData(t, 1000)
	putBytes(t, vol, "a.mp3", data)
	putBytes(t, vol, "b.mp3", []byte("b"))

	require.NoError(t, vol.Rename("a.mp3", "A much longer name for this song.mp3"))
	assert.Equal(t, []string{"A much longer name for this song.mp3", "b.mp3"}, listNames(t, vol))
	assert.Equal(t, data, getBytes(t, vol, "A much longer name for this song.mp3"))

	assert.ErrorIs(t, vol.Rename("b.mp3", "A much longer name for this song.mp3"), yepp.ErrFileExists)
	assert.ErrorIs(t, vol.Rename("b.mp3", "bad|name"), yepp.ErrDirNameError)
	assert.ErrorIs(t, vol.Rename("missing.mp3", "c.mp3"), yepp.ErrFileNotFound)
}

func TestSwitchAndMove(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	for _, name := range []string{"1.MP3", "two.mp3", "3.MP3", "four.mp3"} {
		putBytes(t, vol, name, []byte(name))
	}

	require.NoError(t, vol.Switch("1.MP3", "four.mp3"))
	assert.Equal(t, []string{"four.mp3", "two.mp3", "3.MP3", "1.MP3"}, listNames(t, vol))

	require.NoError(t, vol.Move("1.MP3", "two.mp3"))
	assert.Equal(t, []string{"four.mp3", "1.MP3", "two.mp3", "3.MP3"}, listNames(t, vol))

	require.NoError(t, vol.Move("four.mp3", ""))
	assert.Equal(t, []string{"1.MP3", "two.mp3", "3.MP3", "four.mp3"}, listNames(t, vol))

	for _, name := range []string{"1.MP3", "two.mp3", "3.MP3", "four.mp3"} {
		assert.Equal(t, []byte(name), getBytes(t, vol, name))
	}
	assert.ErrorIs(t, vol.Switch("1.MP3", "nope"), yepp.ErrFileNotFound)
}

package directory_test

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
	"github.com/dargueta/yepp/drivers/directory"
)

var testTime = time.Date(2005, time.June, 1, 12, 0, 0, 0, time.UTC)

func fileEntry(cluster c.ClusterID, size uint32) directory.Entry {
	return directory.NewEntry(yepp.AttrArchived, cluster, size, testTime)
}

func newTable(size int) *directory.Table {
	return directory.NewTable(make([]byte, size), directory.NewCodec(nil))
}

// insertAll adds files named after `names`, giving each a distinct cluster.
func insertAll(t *testing.T, table *directory.Table, names ...string) {
	tx := table.Begin()
	for i, name := range names {
		_, err := tx.Insert(name, fileEntry(c.ClusterID(10+i), uint32(i)))
		require.NoError(t, err, name)
	}
	require.NoError(t, tx.Commit())
}

func names(table *directory.Table) []string {
	out := []string{}
	for _, rec := range table.Records() {
		out = append(out, rec.Name())
	}
	return out
}

func TestInsert__ShortAndLongNames(t *testing.T) {
	table := newTable(8192)
	insertAll(t, table, "A.MP3", "A much longer name.mp3")

	records := table.Records()
	require.Len(t, records, 2)

	assert.Equal(t, 0, records[0].Offset)
	assert.Equal(t, 0, records[0].Slots)
	assert.Equal(t, "A.MP3", records[0].Name())
	assert.Empty(t, records[0].LongName)

	assert.Equal(t, 32, records[1].Offset)
	assert.Equal(t, 2, records[1].Slots)
	assert.Equal(t, "A much longer name.mp3", records[1].LongName)
	assert.Equal(t, "AMUCHL.MP3", records[1].ShortName)
	assert.EqualValues(t, 11, records[1].Entry.Cluster)
	assert.Equal(t, 128, table.Used())
	assert.True(t, table.IsDirty())
	assert.NoError(t, table.Check())
}

func TestInsert__ThenDeleteRestoresBytes(t *testing.T) {
	for _, name := range []string{"X.MP3", "new track.mp3", "a really long name that needs several slots.ogg"} {
		table := newTable(4096)
		insertAll(t, table, "first song.mp3", "SECOND.MP3", "third one.wma")
		before := append([]byte{}, table.Bytes()...)

		insertAll(t, table, name)
		assert.NotEqual(t, before, table.Bytes())

		tx := table.Begin()
		_, err := tx.Delete(name)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		assert.Equal(t, before, table.Bytes(), name)
	}
}

func TestDelete__FromTheMiddle(t *testing.T) {
	table := newTable(4096)
	insertAll(t, table, "first song.mp3", "second song.mp3", "third song.mp3")

	tx := table.Begin()
	rec, err := tx.Delete("second song.mp3")
	require.NoError(t, err)
	assert.EqualValues(t, 11, rec.Entry.Cluster)
	require.NoError(t, tx.Commit())

	assert.Equal(t, []string{"first song.mp3", "third song.mp3"}, names(table))
	assert.NoError(t, table.Check())

	// Everything after the terminator is zero.
	used := table.Used()
	assert.Equal(t, make([]byte, table.Size()-used), table.Bytes()[used:])
}

func TestInsert__CollidingAliases(t *testing.T) {
	table := newTable(8192)
	insertAll(t, table, "Hello World.mp3", "Hello Wonder.mp3", "hello whatever.mp3")

	records := table.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "HELLOW.MP3", records[0].ShortName)
	assert.Equal(t, "HELLOW~1.MP3", records[1].ShortName)
	assert.Equal(t, "HELLOW~2.MP3", records[2].ShortName)

	for i, short := range []string{"HELLOW.MP3", "HELLOW~1.MP3", "HELLOW~2.MP3"} {
		rec, err := table.Lookup(short)
		require.NoError(t, err, short)
		assert.Equal(t, records[i].LongName, rec.LongName)

		aliasForm, ok := directory.NewCodec(nil).ParseAlias(short)
		require.True(t, ok)
		rec, err = table.LookupAlias(aliasForm)
		require.NoError(t, err, short)
		assert.EqualValues(t, 10+i, rec.Entry.Cluster)
	}
}

func TestInsert__Duplicate(t *testing.T) {
	table := newTable(4096)
	insertAll(t, table, "Song.mp3")

	tx := table.Begin()
	_, err := tx.Insert("SONG.MP3", fileEntry(99, 0))
	assert.ErrorIs(t, err, yepp.ErrFileExists)
	tx.Rollback()
}

func TestInsert__TableFull(t *testing.T) {
	table := newTable(128)
	insertAll(t, table, "A.MP3", "B.MP3", "C.MP3")

	tx := table.Begin()
	_, err := tx.Insert("needs a long name.mp3", fileEntry(1, 1))
	assert.ErrorIs(t, err, yepp.ErrDirTooLong)

	_, err = tx.Insert("D.MP3", fileEntry(1, 1))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, 128, table.Used())
}

func TestInsert__InvalidName(t *testing.T) {
	tx := newTable(1024).Begin()
	_, err := tx.Insert("a/b.mp3", fileEntry(1, 1))
	assert.ErrorIs(t, err, yepp.ErrDirNameError)
}

func TestRename__ChangesSlotCount(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{"middle.mp3", "a considerably longer middle name.mp3"},
		{"a considerably longer middle name.mp3", "M.MP3"},
		{"middle.mp3", "MIDDLE.MP3"},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s->%s", tc.from, tc.to), func(t *testing.T) {
			table := newTable(4096)
			insertAll(t, table, "before.mp3", tc.from, "after one.mp3")

			tx := table.Begin()
			rec, err := tx.Rename(tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.to, rec.Name())
			assert.EqualValues(t, 11, rec.Entry.Cluster, "entry fields are kept")
			require.NoError(t, tx.Commit())

			assert.Equal(t, []string{"before.mp3", tc.to, "after one.mp3"}, names(table))
			assert.NoError(t, table.Check())

			after, err := table.Lookup("after one.mp3")
			require.NoError(t, err)
			assert.EqualValues(t, 12, after.Entry.Cluster)
		})
	}
}

func TestRename__TargetExists(t *testing.T) {
	table := newTable(4096)
	insertAll(t, table, "one.mp3", "two.mp3")

	tx := table.Begin()
	_, err := tx.Rename("one.mp3", "TWO.mp3")
	assert.ErrorIs(t, err, yepp.ErrFileExists)
	_, err = tx.Rename("three.mp3", "four.mp3")
	assert.ErrorIs(t, err, yepp.ErrFileNotFound)
}

func TestSwitch(t *testing.T) {
	table := newTable(4096)
	insertAll(t, table, "A.MP3", "second track.mp3", "C.MP3", "a fourth one with a long name.mp3")

	tx := table.Begin()
	require.NoError(t, tx.Switch("a fourth one with a long name.mp3", "A.MP3"))
	require.NoError(t, tx.Commit())

	assert.Equal(
		t,
		[]string{"a fourth one with a long name.mp3", "second track.mp3", "C.MP3", "A.MP3"},
		names(table))
	assert.NoError(t, table.Check())
}

func TestMove(t *testing.T) {
	start := []string{"A.MP3", "second track.mp3", "C.MP3", "a fourth one with a long name.mp3"}
	cases := []struct {
		name     string
		before   string
		expected []string
	}{
		{
			"a fourth one with a long name.mp3",
			"A.MP3",
			[]string{"a fourth one with a long name.mp3", "A.MP3", "second track.mp3", "C.MP3"},
		},
		{
			"second track.mp3",
			"",
			[]string{"A.MP3", "C.MP3", "a fourth one with a long name.mp3", "second track.mp3"},
		},
		{
			"A.MP3",
			"a fourth one with a long name.mp3",
			[]string{"second track.mp3", "C.MP3", "A.MP3", "a fourth one with a long name.mp3"},
		},
		{"C.MP3", "a fourth one with a long name.mp3", start},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			table := newTable(4096)
			insertAll(t, table, start...)

			tx := table.Begin()
			require.NoError(t, tx.Move(tc.name, tc.before))
			require.NoError(t, tx.Commit())
			assert.Equal(t, tc.expected, names(table))
			assert.NoError(t, table.Check())
		})
	}
}

func TestUpdate__KeepsName(t *testing.T) {
	table := newTable(4096)
	insertAll(t, table, "some file.mp3")

	tx := table.Begin()
	rec, err := tx.Update("some file.mp3", func(entry *directory.Entry) {
		entry.Size = 12345
		entry.Alias = alias("CHANGED    ")
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.EqualValues(t, 12345, rec.Entry.Size)
	assert.Equal(t, "some file.mp3", rec.LongName)
	assert.Equal(t, "SOMEFI.MP3", rec.ShortName)
}

func TestTx__RollbackLeavesTableAlone(t *testing.T) {
	table := newTable(4096)
	insertAll(t, table, "keep.mp3")
	table.MarkClean()
	before := append([]byte{}, table.Bytes()...)

	tx := table.Begin()
	_, err := tx.Insert("other.mp3", fileEntry(1, 1))
	require.NoError(t, err)
	_, err = tx.Delete("keep.mp3")
	require.NoError(t, err)
	tx.Rollback()

	assert.Equal(t, before, table.Bytes())
	assert.False(t, table.IsDirty())

	_, err = tx.Insert("late.mp3", fileEntry(1, 1))
	assert.ErrorIs(t, err, yepp.ErrInternal)
	assert.ErrorIs(t, tx.Commit(), yepp.ErrInternal)
}

func TestCheck__Malformed(t *testing.T) {
	codec := directory.NewCodec(nil)
	slots, err := codec.EncodeLongName("long file name.mp3", 0)
	require.NoError(t, err)
	entry := fileEntry(5, 5)
	entry.Alias = alias("LONGFI  MP3")

	orphan := append(append([]byte{}, slots...), entry.Bytes()...)
	orphanTable := directory.NewTable(append(orphan, make([]byte, 64)...), codec)
	assert.ErrorIs(t, orphanTable.Check(), yepp.ErrFATError, "checksum doesn't match")

	gap := append(entry.Bytes(), entry.Bytes()...)
	gap[0] = 0xe5
	gapTable := directory.NewTable(append(gap, make([]byte, 64)...), codec)
	assert.ErrorIs(t, gapTable.Check(), yepp.ErrFATError, "deleted entry")

	trailing := append(make([]byte, 32), entry.Bytes()...)
	trailingTable := directory.NewTable(trailing, codec)
	assert.ErrorIs(t, trailingTable.Check(), yepp.ErrFATError, "entry after terminator")
}

func TestCompact__ForeignTable(t *testing.T) {
	codec := directory.NewCodec(nil)
	good := fileEntry(7, 7)
	good.Alias = alias("GOOD    MP3")
	deleted := fileEntry(8, 8)
	deleted.Alias = alias("GONE    MP3")
	slots, err := codec.EncodeLongName("orphaned name", 0x00)
	require.NoError(t, err)

	data := []byte{}
	data = append(data, deleted.Bytes()...)
	data[0] = 0xe5
	data = append(data, slots...)
	data = append(data, good.Bytes()...)
	data = append(data, make([]byte, 128)...)

	table := directory.NewTable(data, codec)
	require.Len(t, table.Records(), 1)
	assert.Error(t, table.Check())

	reclaimed := table.Compact()
	assert.Equal(t, 32+len(slots), reclaimed)
	assert.NoError(t, table.Check())
	assert.True(t, bytes.Equal(good.Bytes(), table.Bytes()[:32]))
	assert.True(t, table.IsDirty())
}

func TestBegin__CompactsWorkingCopy(t *testing.T) {
	codec := directory.NewCodec(nil)
	deleted := fileEntry(8, 8)
	deleted.Alias = alias("GONE    MP3")
	data := append(deleted.Bytes(), make([]byte, 256)...)
	data[0] = 0xe5

	table := directory.NewTable(data, codec)
	tx := table.Begin()
	_, err := tx.Insert("NEW.MP3", fileEntry(1, 1))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	records := table.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].Offset)
}

func TestNewFolderTable(t *testing.T) {
	self := directory.NewEntry(0, 40, 0, testTime)
	parent := directory.NewEntry(0, 0, 0, testTime)
	table := directory.NewFolderTable(16384, self, parent, directory.NewCodec(nil))

	records := table.Records()
	require.Len(t, records, 2)
	assert.Equal(t, ".", records[0].ShortName)
	assert.EqualValues(t, 40, records[0].Entry.Cluster)
	assert.True(t, records[0].Entry.IsDir())
	assert.Equal(t, "..", records[1].ShortName)
	assert.EqualValues(t, 0, records[1].Entry.Cluster)
	assert.True(t, table.IsEmptyFolder())
	assert.NoError(t, table.Check())

	insertAll(t, table, "x.mp3")
	assert.False(t, table.IsEmptyFolder())
}

func TestTx__DotEntriesStayPut(t *testing.T) {
	self := directory.NewEntry(0, 40, 0, testTime)
	parent := directory.NewEntry(0, 0, 0, testTime)
	table := directory.NewFolderTable(folderSize, self, parent, directory.NewCodec(nil))
	insertAll(t, table, "a.mp3", "b.mp3")
	before := append([]byte{}, table.Bytes()...)

	tx := table.Begin()
	defer tx.Rollback()

	assert.ErrorIs(t, tx.Move(".", ""), yepp.ErrPermissionDenied)
	assert.ErrorIs(t, tx.Move("a.mp3", ".."), yepp.ErrPermissionDenied)
	assert.ErrorIs(t, tx.Switch("..", "b.mp3"), yepp.ErrPermissionDenied)
	_, err := tx.Rename(".", "dot")
	assert.ErrorIs(t, err, yepp.ErrPermissionDenied)
	_, err = tx.Delete("..")
	assert.ErrorIs(t, err, yepp.ErrPermissionDenied)

	assert.Equal(t, before, table.Bytes())
	assert.Equal(t, []string{".", "..", "a.mp3", "b.mp3"}, names(table))
}

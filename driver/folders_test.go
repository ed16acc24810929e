package driver_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/driver"
	"github.com/dargueta/yepp/drivers/directory"
	yt "github.com/dargueta/yepp/testing"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":              ".",
		"/":             "/",
		"music//rock/":  "music/rock",
		"/a/b/../c":     "/a/c",
		"\\music\\rock": "/music/rock",
		"./x":           "x",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, driver.NormalizePath(input), "%q", input)
	}
}

func TestFolders__CreateUseRemove(t *testing.T) {
	flash, vol := yt.FormattedInternal(t, yt.FolderModel)
	free := freeSpace(t, vol)

	require.NoError(t, vol.Mkdir("Music"))
	info, err := vol.Stat("music")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
	assert.EqualValues(t, yepp.AttrDirectory, info.Attributes&yepp.AttrDirectory)
	assert.Equal(t, free-vol.ClusterSize(), freeSpace(t, vol))

	require.NoError(t, vol.Chdir("Music"))
	assert.Equal(t, "/Music", vol.Cwd())
	names := listNames(t, vol)
	assert.Empty(t, names, "dot entries aren't listed")

	data := yt.RandomData(t, 3*cardClusterSize)
	putBytes(t, vol, "inside.mp3", data)

	vol = yt.Remount(t, vol, flash, yepp.BankInternal, yt.FolderModel)
	assert.Equal(t, "/", vol.Cwd())
	require.NoError(t, vol.Chdir("/Music"))
	assert.Equal(t, data, getBytes(t, vol, "inside.mp3"))

	require.NoError(t, vol.Chdir(".."))
	assert.ErrorIs(t, vol.Rmdir("Music"), yepp.ErrDirNotEmpty)
	_, err = vol.Get("Music", nil, nil)
	assert.ErrorIs(t, err, yepp.ErrFileIsADirectory)
	assert.ErrorIs(t, vol.Delete("Music"), yepp.ErrFileIsADirectory)

	require.NoError(t, vol.Chdir("Music"))
	require.NoError(t, vol.Delete("inside.mp3"))
	require.NoError(t, vol.Chdir("/"))
	require.NoError(t, vol.Rmdir("Music"))

	assert.Equal(t, free, freeSpace(t, vol))
	assert.Empty(t, listNames(t, vol))
}

func TestFolders__Errors(t *testing.T) {
	_, vol := yt.FormattedInternal(t, yt.FolderModel)
	putBytes(t, vol, "file.mp3", []byte("x"))
	require.NoError(t, vol.Mkdir("dir"))

	assert.ErrorIs(t, vol.Mkdir("dir"), yepp.ErrFileExists)
	assert.ErrorIs(t, vol.Mkdir("file.mp3"), yepp.ErrFileExists)
	assert.ErrorIs(t, vol.Mkdir("a:b"), yepp.ErrDirNameError)
	assert.ErrorIs(t, vol.Chdir("nope"), yepp.ErrDirNotFound)
	assert.ErrorIs(t, vol.Chdir("file.mp3"), yepp.ErrNotADir)
	assert.ErrorIs(t, vol.Chdir(".."), yepp.ErrDirNotFound)
	assert.ErrorIs(t, vol.Rmdir("file.mp3"), yepp.ErrNotADir)
	assert.ErrorIs(t, vol.Rmdir("nope"), yepp.ErrFileNotFound)
	assert.Equal(t, "/", vol.Cwd())
}

func TestFolders__DotEntriesCantBeEdited(t *testing.T) {
	_, vol := yt.FormattedInternal(t, yt.FolderModel)
	require.NoError(t, vol.Mkdir("Music"))
	require.NoError(t, vol.Chdir("Music"))
	putBytes(t, vol, "song.mp3", []byte("la"))

	assert.ErrorIs(t, vol.Move(".", ""), yepp.ErrPermissionDenied)
	assert.ErrorIs(t, vol.Switch("..", "song.mp3"), yepp.ErrPermissionDenied)
	assert.ErrorIs(t, vol.Rename(".", "here"), yepp.ErrPermissionDenied)
	assert.ErrorIs(t, vol.Delete(".."), yepp.ErrFileIsADirectory)
	assert.Equal(t, []string{"song.mp3"}, listNames(t, vol))

	require.NoError(t, vol.Chdir(".."))
	require.NoError(t, vol.Chdir("Music"))
	assert.Equal(t, []byte("la"), getBytes(t, vol, "song.mp3"))
}

func TestFolders__SubfolderAfterSiblingGrows(t *testing.T) {
	flash, vol := yt.FormattedInternal(t, yt.FolderModel)
	putBytes(t, vol, "x.mp3", []byte("x"))
	require.NoError(t, vol.Mkdir("SUB"))
	require.NoError(t, vol.Rename("x.mp3", "A much longer name than before.mp3"))

	require.NoError(t, vol.Chdir("SUB"))
	putBytes(t, vol, "y.mp3", []byte("y"))

	vol = yt.Remount(t, vol, flash, yepp.BankInternal, yt.FolderModel)
	require.NoError(t, vol.Chdir("SUB"))
	assert.Equal(t, []byte("y"), getBytes(t, vol, "y.mp3"))
}

func TestFolders__MaxDepth(t *testing.T) {
	_, vol := yt.FormattedInternal(t, yt.FolderModel)

	for level := 1; level <= directory.MaxDepth; level++ {
		name := fmt.Sprintf("level%d", level)
		require.NoError(t, vol.Mkdir(name), name)
		require.NoError(t, vol.Chdir(name), name)
	}
	assert.ErrorIs(t, vol.Mkdir("too deep"), yepp.ErrDirRecursion)

	require.NoError(t, vol.Chdir("/level1/level2"))
	assert.Equal(t, "/level1/level2", vol.Cwd())
}

func TestFolders__NotOnCards(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)

	assert.ErrorIs(t, vol.Mkdir("Music"), yepp.ErrPermissionDenied)
	assert.ErrorIs(t, vol.Chdir("Music"), yepp.ErrPermissionDenied)
	assert.NoError(t, vol.Chdir("/"))
	assert.NoError(t, vol.Chdir(""))
}

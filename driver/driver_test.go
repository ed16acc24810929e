package driver_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/disks"
	"github.com/dargueta/yepp/driver"
	"github.com/dargueta/yepp/emulator"
	yt "github.com/dargueta/yepp/testing"
)

const cardClusterSize = 16384

func putBytes(t *testing.T, vol *driver.Volume, name string, data []byte) yepp.FileInfo {
	info, err := vol.Put(name, bytes.NewReader(data), uint64(len(data)), nil)
	require.NoError(t, err, name)
	return info
}

func getBytes(t *testing.T, vol *driver.Volume, name string) []byte {
	var out bytes.Buffer
	n, err := vol.Get(name, &out, nil)
	require.NoError(t, err, name)
	assert.EqualValues(t, out.Len(), n)
	return out.Bytes()
}

func freeSpace(t *testing.T, vol *driver.Volume) uint64 {
	free, err := vol.FreeSpace()
	require.NoError(t, err)
	return free
}

func listNames(t *testing.T, vol *driver.Volume) []string {
	infos, err := vol.List()
	require.NoError(t, err)

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

func TestVolume__CardScenario(t *testing.T) {
	card := yt.NewCard(t, 32)
	vol, err := driver.Format(card, yepp.BankExternal, yt.Options(disks.Model{}))
	require.NoError(t, err)

	assert.EqualValues(t, cardClusterSize, vol.ClusterSize())
	assert.EqualValues(t, 1995*cardClusterSize, vol.TotalSpace())
	before := freeSpace(t, vol)
	assert.Equal(t, vol.TotalSpace(), before)

	data := yt.RandomData(t, 10*cardClusterSize)
	info := putBytes(t, vol, "A.MP3", data)
	assert.Equal(t, "A.MP3", info.Name)
	assert.Equal(t, "A.MP3", info.ShortName)
	assert.EqualValues(t, len(data), info.Size)
	assert.Equal(t, yt.FixedTime, info.ModTime)

	assert.Equal(t, before-10*cardClusterSize, freeSpace(t, vol))
	assert.Equal(t, data, getBytes(t, vol, "A.MP3"))

	require.NoError(t, vol.Delete("A.MP3"))
	assert.Equal(t, before, freeSpace(t, vol))
	_, err = vol.Stat("A.MP3")
	assert.ErrorIs(t, err, yepp.ErrFileNotFound)
}

func TestVolume__SurvivesRemount(t *testing.T) {
	card, vol := yt.FormattedCard(t, 16)

	files := map[string][]byte{
		"first track.mp3": yt.RandomData(t, 3*cardClusterSize+17),
		"B.WMA":           yt.RandomData(t, 100),
		"third.mp3":       yt.RandomData(t, cardClusterSize),
	}
	order := []string{"first track.mp3", "B.WMA", "third.mp3"}
	for _, name := range order {
		putBytes(t, vol, name, files[name])
	}
	free := freeSpace(t, vol)

	vol = yt.Remount(t, vol, card, yepp.BankExternal, disks.Model{})
	assert.Equal(t, order, listNames(t, vol))
	assert.Equal(t, free, freeSpace(t, vol))
	for _, name := range order {
		assert.Equal(t, files[name], getBytes(t, vol, name), name)
	}
}

func TestVolume__CompressedImage(t *testing.T) {
	card, vol := yt.FormattedCard(t, 16)
	data := yt.RandomData(t, 2*cardClusterSize)
	putBytes(t, vol, "song.mp3", data)
	require.NoError(t, vol.Close())

	image := yt.CompressBank(t, card)
	copied := yt.LoadBank(t, image, card.SectorsPerBlock(), card.TotalBlocks())

	reopened, err := driver.Mount(copied, yepp.BankExternal, yt.Options(disks.Model{}))
	require.NoError(t, err)
	assert.Equal(t, data, getBytes(t, reopened, "song.mp3"))
}

func TestVolume__Internal(t *testing.T) {
	flash, vol := yt.FormattedInternal(t, yt.FolderModel)
	assert.Nil(t, vol.Zones())

	data := yt.RandomData(t, 5*cardClusterSize+1)
	putBytes(t, vol, "Some Long Song Name.mp3", data)

	vol = yt.Remount(t, vol, flash, yepp.BankInternal, yt.FolderModel)
	info, err := vol.Stat("SOMELO.MP3")
	require.NoError(t, err)
	assert.Equal(t, "Some Long Song Name.mp3", info.Name)
	assert.Equal(t, data, getBytes(t, vol, info.Name))
}

func TestMount__InternalNeedsModel(t *testing.T) {
	flash := emulator.NewInternalFlash(yt.FolderModel.InternalMB, false)

	_, err := driver.Mount(flash, yepp.BankInternal, driver.Options{})
	assert.ErrorIs(t, err, yepp.ErrMemoryNotAvailable)

	model := yt.FolderModel
	model.InternalMB = 8
	_, err = driver.Mount(flash, yepp.BankInternal, driver.Options{Model: model})
	assert.ErrorIs(t, err, yepp.ErrMemoryNotAvailable)
}

func TestMount__UnknownCardSize(t *testing.T) {
	flash := emulator.NewErasedBank(32, 1024*3)
	_, err := driver.Mount(flash, yepp.BankExternal, driver.Options{})
	assert.Error(t, err)
}

func TestClose__VolumeUnusable(t *testing.T) {
	_, vol := yt.FormattedCard(t, 16)
	require.NoError(t, vol.Close())
	require.NoError(t, vol.Close())

	_, err := vol.List()
	assert.ErrorIs(t, err, yepp.ErrDeviceNotReady)
	_, err = vol.FreeSpace()
	assert.ErrorIs(t, err, yepp.ErrDeviceNotReady)
	assert.ErrorIs(t, vol.Sync(), yepp.ErrDeviceNotReady)
}

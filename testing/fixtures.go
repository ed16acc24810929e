// Package testing holds fixtures shared by the tests of several packages.
package testing

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/disks"
	"github.com/dargueta/yepp/driver"
	"github.com/dargueta/yepp/emulator"
)

// FixedTime is the clock reading of every volume created by these fixtures.
var FixedTime = time.Date(2024, time.March, 9, 18, 30, 12, 0, time.UTC)

// FixedClock always returns FixedTime.
func FixedClock() time.Time {
	return FixedTime
}

// FolderModel is a small player with folder support, so tests don't have to
// format hundreds of megabytes of internal memory.
var FolderModel = disks.Model{
	Slug:            "test-folders",
	Name:            "Test",
	InternalMB:      4,
	Chips:           2,
	SupportsFolders: true,
	Signature:       disks.Signature{0x5a, 0x99},
}

// Options returns volume options using FixedClock and `model`.
func Options(model disks.Model) driver.Options {
	return driver.Options{Model: model, Clock: FixedClock}
}

// RandomData returns `size` random bytes, failing the test if it can't.
func RandomData(t *testing.T, size int) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoErrorf(t, err, "failed to generate %d random bytes", size)
	return data
}

// NewCard creates a factory-fresh card of `megabytes`.
func NewCard(t *testing.T, megabytes uint) *emulator.Bank {
	card, err := emulator.NewSmartMedia(megabytes)
	require.NoError(t, err)
	return card
}

// FormattedCard creates a card of `megabytes` and formats it.
func FormattedCard(t *testing.T, megabytes uint) (*emulator.Bank, *driver.Volume) {
	card := NewCard(t, megabytes)
	vol, err := driver.Format(card, yepp.BankExternal, Options(disks.Model{}))
	require.NoError(t, err)
	return card, vol
}

// FormattedInternal creates the internal memory of `model` and formats it.
func FormattedInternal(t *testing.T, model disks.Model) (*emulator.Bank, *driver.Volume) {
	flash := emulator.NewInternalFlash(model.InternalMB, model.Megablock)
	vol, err := driver.Format(flash, yepp.BankInternal, Options(model))
	require.NoError(t, err)
	return flash, vol
}

// Remount syncs and closes `vol`, then mounts `flash` again.
func Remount(
	t *testing.T, vol *driver.Volume, flash *emulator.Bank, kind yepp.Bank, model disks.Model,
) *driver.Volume {
	require.NoError(t, vol.Close())
	remounted, err := driver.Mount(flash, kind, Options(model))
	require.NoError(t, err)
	return remounted
}

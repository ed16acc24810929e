package disks_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/yepp/disks"
)

func TestGetModel(t *testing.T) {
	model, err := disks.GetModel("yp-910")
	require.NoError(t, err)
	assert.Equal(t, "YP-910", model.Name)
	assert.EqualValues(t, 128, model.InternalMB)
	assert.EqualValues(t, 2, model.Chips)
	assert.False(t, model.Megablock)
	assert.True(t, model.SupportsFolders)
	assert.Equal(t, disks.Signature{0x5a, 0x10}, model.Signature)

	_, err = disks.GetModel("walkman")
	assert.Error(t, err)
}

func TestCards__GeometryMatchesCapacity(t *testing.T) {
	require.NotEmpty(t, disks.Cards())
	for _, card := range disks.Cards() {
		// One zone of 1000 usable 16KiB blocks per 16MB.
		assert.EqualValues(
			t, card.MegaBytes/16*1000*32, card.TotalSectors(), "%dMB card", card.MegaBytes)
	}

	_, err := disks.GetCard(8)
	assert.Error(t, err)
}

func TestSignature__UnmarshalCSV(t *testing.T) {
	var sig disks.Signature
	require.NoError(t, sig.UnmarshalCSV("beef"))
	assert.Equal(t, disks.Signature{0xbe, 0xef}, sig)
	assert.Error(t, sig.UnmarshalCSV("bee"))
	assert.Error(t, sig.UnmarshalCSV("beefee"))
}

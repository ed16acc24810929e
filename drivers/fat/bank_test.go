package fat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/disks"
	c "github.com/dargueta/yepp/drivers/common"
	"github.com/dargueta/yepp/drivers/fat"
)

func externalBank(t *testing.T, megabytes uint) fat.MemoryBank {
	card, err := disks.GetCard(megabytes)
	require.NoError(t, err)

	bank, err := fat.NewExternalBank(card)
	require.NoError(t, err)
	return bank
}

// testModel is a small internal memory so tests don't have to format hundreds
// of megabytes.
var testModel = disks.Model{
	Slug:            "test",
	Name:            "Test",
	InternalMB:      4,
	Chips:           2,
	SupportsFolders: true,
	Signature:       disks.Signature{0x5a, 0x99},
}

func internalBank(t *testing.T, model disks.Model) fat.MemoryBank {
	bank, err := fat.NewInternalBank(model)
	require.NoError(t, err)
	return bank
}

func TestDetermineFATVersion(t *testing.T) {
	assert.EqualValues(t, 12, fat.DetermineFATVersion(1))
	assert.EqualValues(t, 12, fat.DetermineFATVersion(4084))
	assert.EqualValues(t, 16, fat.DetermineFATVersion(4085))
	assert.EqualValues(t, 16, fat.DetermineFATVersion(65524))
}

func TestNewExternalBank__32MB(t *testing.T) {
	bank := externalBank(t, 32)

	assert.True(t, bank.IsExternal())
	assert.EqualValues(t, 2000, bank.TotalBlocks)
	assert.EqualValues(t, 12, bank.Bits)
	assert.EqualValues(t, 6, bank.FATSectors)
	assert.EqualValues(t, 2, bank.FATCopies)
	assert.EqualValues(t, 3, bank.HiddenSectors)
	assert.EqualValues(t, 4, bank.FATOffset)
	assert.EqualValues(t, 16, bank.RootDirSector)
	assert.EqualValues(t, 16, bank.RootDirSectors)
	assert.EqualValues(t, 32, bank.DataStart)
	assert.EqualValues(t, 1, bank.SystemBlocks())
	assert.EqualValues(t, 1997, bank.MaxCluster)
	assert.EqualValues(t, 1995, bank.DataClusters())
	assert.EqualValues(t, 2, bank.FirstDataCluster())
}

func TestNewExternalBank__16MB(t *testing.T) {
	bank := externalBank(t, 16)

	assert.EqualValues(t, 12, bank.Bits)
	assert.EqualValues(t, 3, bank.FATSectors)
	assert.EqualValues(t, 9, bank.HiddenSectors)
	assert.EqualValues(t, 32, bank.DataStart)
	assert.EqualValues(t, 997, bank.DataClusters())
}

func TestNewExternalBank__128MBUsesFAT16(t *testing.T) {
	bank := externalBank(t, 128)

	assert.EqualValues(t, 16, bank.Bits)
	assert.Zero(t, uint(bank.DataStart)%bank.SectorsPerBlock, "data area must be block-aligned")
	assert.EqualValues(t, 7981, bank.DataClusters())
}

func TestNewExternalBank__PartialZone(t *testing.T) {
	_, err := fat.NewExternalBank(disks.Card{MegaBytes: 8, Cylinders: 250, Heads: 4, SectorsPerTrack: 16})
	assert.ErrorIs(t, err, yepp.ErrMemoryNotAvailable)
}

func TestClusterToBlock__SkipsZoneGap(t *testing.T) {
	bank := externalBank(t, 32)

	cases := map[c.ClusterID]c.LogicalBlock{
		2:    1,
		998:  997,
		999:  1000,
		1000: 1001,
		1996: 1997,
	}
	for cluster, expected := range cases {
		block, err := bank.ClusterToBlock(cluster)
		require.NoError(t, err, "cluster %d", cluster)
		assert.Equal(t, expected, block, "cluster %d", cluster)
	}

	_, err := bank.ClusterToBlock(1)
	assert.ErrorIs(t, err, yepp.ErrFATError)
	_, err = bank.ClusterToBlock(1997)
	assert.ErrorIs(t, err, yepp.ErrFATError)
}

func TestNewInternalBank__Layout(t *testing.T) {
	model, err := disks.GetModel("yp-d40")
	require.NoError(t, err)
	bank := internalBank(t, model)

	assert.False(t, bank.IsExternal())
	assert.EqualValues(t, 2048, bank.TotalBlocks)
	assert.EqualValues(t, 2048, bank.MaxCluster)
	assert.EqualValues(t, 32, bank.FATOffset)
	assert.EqualValues(t, 64, bank.FATSectors)
	assert.EqualValues(t, 96, bank.RootDirSector)
	assert.EqualValues(t, 128, bank.DataStart)
	assert.EqualValues(t, 4, bank.FirstDataCluster())
	assert.EqualValues(t, 2044, bank.DataClusters())
	assert.EqualValues(t, model.Signature, bank.Signature)

	block, err := bank.ClusterToBlock(100)
	require.NoError(t, err)
	assert.EqualValues(t, 100, block)
}

func TestNewInternalBank__Megablock(t *testing.T) {
	model, err := disks.GetModel("yp-55")
	require.NoError(t, err)
	bank := internalBank(t, model)

	assert.EqualValues(t, c.SectorsPerMegablock, bank.SectorsPerBlock)
	assert.EqualValues(t, 2048, bank.TotalBlocks)
	assert.EqualValues(t, 3, bank.SystemBlocks())
	assert.True(t, bank.SupportsFolders)
}

func TestNewInternalBank__UnevenChips(t *testing.T) {
	model := testModel
	model.Chips = 3
	_, err := fat.NewInternalBank(model)
	assert.ErrorIs(t, err, yepp.ErrMemoryNotAvailable)
}

func TestNewInternalBank__TooManyChips(t *testing.T) {
	model := testModel
	model.Chips = 8
	_, err := fat.NewInternalBank(model)
	assert.ErrorIs(t, err, yepp.ErrMemoryNotAvailable)

	model.Chips = fat.MaxChips
	_, err = fat.NewInternalBank(model)
	assert.NoError(t, err)
}

func TestChipAddress__RoundTrip(t *testing.T) {
	bank := internalBank(t, testModel)

	address := bank.ChipAddress(130)
	assert.Equal(t, fat.Address{Chip: 1, Offset: 2}, address)

	for cluster := bank.FirstDataCluster(); cluster < bank.MaxCluster; cluster++ {
		assert.Equal(t, cluster, bank.ClusterForAddress(bank.ChipAddress(cluster)))
	}
}

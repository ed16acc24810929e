// Package driver puts the storage layers together into a mounted volume with
// file-level operations.
package driver

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/disks"
	c "github.com/dargueta/yepp/drivers/common"
	"github.com/dargueta/yepp/drivers/directory"
	"github.com/dargueta/yepp/drivers/fat"
	"github.com/dargueta/yepp/drivers/zone"
)

const bytesPerMegabyte = 1024 * 1024

// Memory is raw access to one of the player's memories.
type Memory interface {
	c.FlashIO
	// Capacity returns the size of the memory's data area in bytes.
	Capacity() uint64
}

// Options configures a volume. The zero value is usable for cards.
type Options struct {
	// Logger receives diagnostics. nil discards them.
	Logger *slog.Logger
	// CodePage is used for short names. nil selects code page 437.
	CodePage *charmap.Charmap
	// Model describes the player. Required for internal memory.
	Model disks.Model
	// Clock returns the time used for directory timestamps. nil uses the
	// system clock.
	Clock func() time.Time
}

// Volume is a mounted memory.
//
// Operations aren't atomic: an interrupted operation can leave the allocation
// table and directories out of step. Changes to the system area (allocation
// table and root directory) only reach flash on Sync or Close.
type Volume struct {
	bank   fat.MemoryBank
	zones  *zone.Table
	table  *fat.Table
	tree   *directory.Tree
	codec  *directory.Codec
	logger *slog.Logger
	clock  func() time.Time
	closed bool
}

func (opts *Options) withDefaults() Options {
	out := *opts
	out.Logger = c.LoggerOrDiscard(out.Logger)
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return out
}

// layout computes where everything is on `memory`, and scans the zone table of
// a card.
func layout(memory Memory, kind yepp.Bank, opts Options) (fat.MemoryBank, *zone.Table, error) {
	megabytes := uint(memory.Capacity() / bytesPerMegabyte)

	if kind == yepp.BankInternal {
		if opts.Model.Slug == "" {
			return fat.MemoryBank{}, nil, yepp.ErrMemoryNotAvailable.WithMessage(
				"internal memory needs a player model")
		}
		if megabytes != opts.Model.InternalMB {
			return fat.MemoryBank{}, nil, yepp.ErrMemoryNotAvailable.WithMessage(
				fmt.Sprintf(
					"%s has %dMB of internal memory, found %dMB",
					opts.Model.Name,
					opts.Model.InternalMB,
					megabytes))
		}
		bank, err := fat.NewInternalBank(opts.Model)
		return bank, nil, err
	}

	card, err := disks.GetCard(megabytes)
	if err != nil {
		return fat.MemoryBank{}, nil, err
	}
	bank, err := fat.NewExternalBank(card)
	if err != nil {
		return fat.MemoryBank{}, nil, err
	}

	physicalBlocks := memory.Capacity() / uint64(memory.SectorsPerBlock()*c.BytesPerSector)
	zones, err := zone.NewTable(memory, uint(physicalBlocks), opts.Logger)
	if err != nil {
		return fat.MemoryBank{}, nil, err
	}
	err = zones.Scan()
	if err != nil {
		return fat.MemoryBank{}, nil, err
	}
	return bank, zones, nil
}

func newVolume(zones *zone.Table, table *fat.Table, opts Options) (*Volume, error) {
	vol := &Volume{
		bank:   *table.Bank(),
		zones:  zones,
		table:  table,
		codec:  directory.NewCodec(opts.CodePage),
		logger: opts.Logger,
		clock:  opts.Clock,
	}

	tree, err := directory.NewTree(folderStorage{vol}, vol.codec)
	if err != nil {
		return nil, err
	}
	vol.tree = tree
	return vol, nil
}

// Mount opens an already formatted memory.
func Mount(memory Memory, kind yepp.Bank, opts Options) (*Volume, error) {
	opts = opts.withDefaults()
	bank, zones, err := layout(memory, kind, opts)
	if err != nil {
		return nil, err
	}

	table, err := fat.Mount(bank, memory, zones, opts.Logger)
	if err != nil {
		return nil, err
	}
	return newVolume(zones, table, opts)
}

// Format erases the file system on a memory and mounts the empty result.
func Format(memory Memory, kind yepp.Bank, opts Options) (*Volume, error) {
	opts = opts.withDefaults()
	bank, zones, err := layout(memory, kind, opts)
	if err != nil {
		return nil, err
	}

	volumeID := uint32(opts.Clock().Unix())
	table, err := fat.Format(bank, memory, zones, volumeID, opts.Logger)
	if err != nil {
		return nil, err
	}
	return newVolume(zones, table, opts)
}

func (vol *Volume) checkOpen() error {
	if vol.closed {
		return yepp.ErrDeviceNotReady.WithMessage("volume is closed")
	}
	return nil
}

// Bank returns the layout of the mounted memory.
func (vol *Volume) Bank() fat.MemoryBank {
	return vol.bank
}

// Zones returns the block translation table of a card, or nil for internal
// memory.
func (vol *Volume) Zones() *zone.Table {
	return vol.zones
}

// ClusterSize returns the allocation unit in bytes.
func (vol *Volume) ClusterSize() uint64 {
	return uint64(vol.table.ClusterSize())
}

// TotalSpace returns the number of bytes available for files on an empty
// volume.
func (vol *Volume) TotalSpace() uint64 {
	return uint64(vol.bank.DataClusters()) * vol.ClusterSize()
}

// FreeSpace returns the number of bytes not allocated to any file.
func (vol *Volume) FreeSpace() (uint64, error) {
	if err := vol.checkOpen(); err != nil {
		return 0, err
	}
	free, err := vol.table.CountFree()
	if err != nil {
		return 0, err
	}
	return uint64(free) * vol.ClusterSize(), nil
}

// Sync writes every pending change to flash.
func (vol *Volume) Sync() error {
	if err := vol.checkOpen(); err != nil {
		return err
	}
	err := vol.tree.Flush()
	if err != nil {
		return err
	}
	return vol.table.Sync()
}

// Close syncs the volume. It can't be used afterwards.
func (vol *Volume) Close() error {
	if vol.closed {
		return nil
	}
	err := vol.Sync()
	vol.closed = true
	return err
}

// finish ends a successful modification of the current folder: the folder's
// time stamp in its parent is updated and the changed tables are written back.
func (vol *Volume) finish() error {
	vol.table.Commit()
	err := vol.tree.Touch(vol.clock())
	if err != nil {
		return err
	}
	return vol.tree.Flush()
}

package driver

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
	"github.com/dargueta/yepp/drivers/directory"
	"github.com/dargueta/yepp/drivers/fat"
)

// folderStorage reads and writes folder tables. The root directory lives in the
// system area; every other folder is a single data cluster.
type folderStorage struct {
	vol *Volume
}

func (storage folderStorage) LoadFolder(cluster c.ClusterID) ([]byte, error) {
	if cluster == directory.RootCluster {
		return storage.vol.table.ReadRootDir()
	}
	return storage.vol.table.ReadCluster(cluster)
}

func (storage folderStorage) StoreFolder(cluster c.ClusterID, data []byte) error {
	if cluster == directory.RootCluster {
		return storage.vol.table.WriteRootDir(data)
	}
	return storage.vol.table.WriteCluster(cluster, data)
}

func fileInfo(rec *directory.Record) yepp.FileInfo {
	return yepp.FileInfo{
		Name:         rec.Name(),
		ShortName:    rec.ShortName,
		Size:         uint64(rec.Entry.Size),
		ModTime:      rec.Entry.Modified,
		IsDir:        rec.Entry.IsDir(),
		Attributes:   rec.Entry.Attributes,
		StartCluster: uint32(rec.Entry.Cluster),
	}
}

// unwind releases the clusters allocated by a failed operation and returns
// `cause`.
func (vol *Volume) unwind(cause error) error {
	err := vol.table.Abort()
	if err != nil {
		vol.logger.Error("can't release clusters", slog.Any("error", err))
		return multierror.Append(cause, err)
	}
	return cause
}

// List returns the entries of the current folder in directory order, leaving
// out "." and ".." and the volume label.
func (vol *Volume) List() ([]yepp.FileInfo, error) {
	if err := vol.checkOpen(); err != nil {
		return nil, err
	}

	records := vol.tree.Current().Table.Records()
	infos := make([]yepp.FileInfo, 0, len(records))
	for i := range records {
		if records[i].IsDotEntry() || records[i].Entry.IsVolumeLabel() {
			continue
		}
		infos = append(infos, fileInfo(&records[i]))
	}
	return infos, nil
}

// Stat returns information on one entry of the current folder, found by its
// long or short name.
func (vol *Volume) Stat(name string) (yepp.FileInfo, error) {
	if err := vol.checkOpen(); err != nil {
		return yepp.FileInfo{}, err
	}
	rec, err := vol.tree.Current().Table.Lookup(name)
	if err != nil {
		return yepp.FileInfo{}, err
	}
	return fileInfo(&rec), nil
}

func (vol *Volume) clustersFor(size uint64) uint64 {
	clusterSize := vol.ClusterSize()
	return (size + clusterSize - 1) / clusterSize
}

// writeChain copies `size` bytes from `source` into a new chain and returns the
// chain's first cluster. An empty file gets no chain at all.
func (vol *Volume) writeChain(
	source io.Reader,
	size uint64,
	kind fat.Kind,
	progress yepp.ProgressSink,
) (c.ClusterID, error) {
	if size == 0 {
		return 0, nil
	}

	buffer := make([]byte, vol.ClusterSize())
	var head c.ClusterID
	var tail *fat.Cursor
	var err error

	for done := uint64(0); done < size; {
		if tail == nil {
			tail, err = vol.table.AllocateChain(vol.table.Hint(), kind)
			if tail != nil {
				head = tail.Index
			}
		} else {
			tail, err = vol.table.Extend(tail)
		}
		if err != nil {
			return 0, err
		}

		chunk := min(size-done, uint64(len(buffer)))
		clear(buffer)
		_, err = io.ReadFull(source, buffer[:chunk])
		if err != nil {
			return 0, yepp.ErrReadingFile.Wrap(err)
		}

		err = vol.table.WriteCluster(tail.Index, buffer)
		if err != nil {
			return 0, err
		}

		done += chunk
		if progress != nil && !progress.Progress(done, size) {
			return 0, yepp.ErrUserCancel
		}
	}
	return head, nil
}

// Put creates a file in the current folder from `size` bytes of `source`.
// `progress` may be nil. If it asks to stop, the clusters already written are
// released and ErrUserCancel is returned.
func (vol *Volume) Put(
	name string,
	source io.Reader,
	size uint64,
	progress yepp.ProgressSink,
) (yepp.FileInfo, error) {
	if err := vol.checkOpen(); err != nil {
		return yepp.FileInfo{}, err
	}
	err := directory.CheckLongName(name)
	if err != nil {
		return yepp.FileInfo{}, err
	}

	folder := vol.tree.Current()
	_, err = folder.Table.Lookup(name)
	if err == nil {
		return yepp.FileInfo{}, yepp.ErrFileExists.WithMessage(fmt.Sprintf("%q already exists", name))
	}

	if size > math.MaxUint32 {
		return yepp.FileInfo{}, yepp.ErrNotEnoughSpace.WithMessage(
			fmt.Sprintf("files are limited to 4GiB, got %d bytes", size))
	}
	free, err := vol.table.CountFree()
	if err != nil {
		return yepp.FileInfo{}, err
	}
	needed := vol.clustersFor(size)
	if needed > uint64(free) {
		return yepp.FileInfo{}, yepp.ErrNotEnoughSpace.WithMessage(
			fmt.Sprintf("need %d clusters, %d free", needed, free))
	}

	head, err := vol.writeChain(source, size, fat.KindFile, progress)
	if err != nil {
		return yepp.FileInfo{}, vol.unwind(err)
	}

	tx := folder.Table.Begin()
	rec, err := tx.Insert(name, directory.NewEntry(yepp.AttrArchived, head, uint32(size), vol.clock()))
	if err == nil {
		err = tx.Commit()
	} else {
		tx.Rollback()
	}
	if err != nil {
		return yepp.FileInfo{}, vol.unwind(err)
	}

	vol.logger.Debug(
		"file written",
		slog.String("name", name),
		slog.Uint64("size", size),
		slog.Uint64("cluster", uint64(head)))
	return fileInfo(&rec), vol.finish()
}

// Get copies the contents of a file in the current folder to `dest` and
// returns the number of bytes written. `progress` may be nil.
func (vol *Volume) Get(name string, dest io.Writer, progress yepp.ProgressSink) (uint64, error) {
	if err := vol.checkOpen(); err != nil {
		return 0, err
	}
	rec, err := vol.tree.Current().Table.Lookup(name)
	if err != nil {
		return 0, err
	}
	if rec.Entry.IsDir() {
		return 0, yepp.ErrFileIsADirectory.WithMessage(fmt.Sprintf("%q is a folder", name))
	}

	size := uint64(rec.Entry.Size)
	if size == 0 {
		return 0, nil
	}

	chain, err := vol.table.Chain(rec.Entry.Cluster)
	if err != nil {
		return 0, err
	}
	if uint64(len(chain)) < vol.clustersFor(size) {
		return 0, yepp.ErrFATError.WithMessage(
			fmt.Sprintf(
				"%q is %d bytes but its chain only has %d clusters",
				name,
				size,
				len(chain)))
	}

	done := uint64(0)
	for _, cluster := range chain {
		if done >= size {
			break
		}
		data, err := vol.table.ReadCluster(cluster)
		if err != nil {
			return done, err
		}

		chunk := min(size-done, uint64(len(data)))
		_, err = dest.Write(data[:chunk])
		if err != nil {
			return done, yepp.ErrWritingFile.Wrap(err)
		}

		done += chunk
		if progress != nil && !progress.Progress(done, size) {
			return done, yepp.ErrUserCancel
		}
	}
	return done, nil
}

// Delete removes a file from the current folder and frees its clusters.
// Folders must be removed with Rmdir.
func (vol *Volume) Delete(name string) error {
	if err := vol.checkOpen(); err != nil {
		return err
	}

	tx := vol.tree.Current().Table.Begin()
	rec, err := tx.Lookup(name)
	if err != nil {
		tx.Rollback()
		return err
	}
	if rec.Entry.IsDir() {
		tx.Rollback()
		return yepp.ErrFileIsADirectory.WithMessage(fmt.Sprintf("%q is a folder", name))
	}
	return vol.removeRecord(tx, name, rec.Entry.Cluster)
}

// removeRecord deletes `name` within `tx`, commits, then frees the chain at
// `cluster`. The entry goes first so a failure never leaves it pointing at
// free clusters.
func (vol *Volume) removeRecord(tx *directory.Tx, name string, cluster c.ClusterID) error {
	_, err := tx.Delete(name)
	if err != nil {
		tx.Rollback()
		return err
	}
	err = tx.Commit()
	if err != nil {
		return err
	}

	if cluster != 0 {
		freed, err := vol.table.FreeChain(cluster)
		if err != nil {
			return err
		}
		vol.logger.Debug("chain freed", slog.String("name", name), slog.Uint64("clusters", uint64(freed)))
	}
	return vol.finish()
}

// commitEdit runs `edit` in a transaction on the current folder.
func (vol *Volume) commitEdit(edit func(tx *directory.Tx) error) error {
	if err := vol.checkOpen(); err != nil {
		return err
	}

	tx := vol.tree.Current().Table.Begin()
	err := edit(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	err = tx.Commit()
	if err != nil {
		return err
	}
	return vol.finish()
}

// Rename gives an entry of the current folder a new name. The entry's short
// name is regenerated and its data doesn't move.
func (vol *Volume) Rename(oldName, newName string) error {
	return vol.commitEdit(func(tx *directory.Tx) error {
		err := directory.CheckLongName(newName)
		if err != nil {
			return err
		}
		_, err = tx.Rename(oldName, newName)
		return err
	})
}

// Switch swaps the positions of two entries in the current folder. The player
// plays files in directory order.
func (vol *Volume) Switch(first, second string) error {
	return vol.commitEdit(func(tx *directory.Tx) error {
		return tx.Switch(first, second)
	})
}

// Move puts an entry right before another one in the current folder. An empty
// `before` moves it to the end.
func (vol *Volume) Move(name, before string) error {
	return vol.commitEdit(func(tx *directory.Tx) error {
		return tx.Move(name, before)
	})
}

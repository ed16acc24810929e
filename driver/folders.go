package driver

import (
	"fmt"
	"log/slog"
	posixpath "path"
	"strings"

	"github.com/dargueta/yepp"
	"github.com/dargueta/yepp/drivers/directory"
	"github.com/dargueta/yepp/drivers/fat"
)

// NormalizePath cleans up a slash-separated path to a folder, keeping it
// relative if it was relative. The empty string means the current folder.
func NormalizePath(path string) string {
	if path == "" {
		return "."
	}
	return posixpath.Clean(strings.ReplaceAll(path, "\\", "/"))
}

func (vol *Volume) checkFolders() error {
	if !vol.bank.SupportsFolders {
		return yepp.ErrPermissionDenied.WithMessage(
			fmt.Sprintf("the %s memory doesn't support folders", vol.bank.Kind))
	}
	return nil
}

// Cwd returns the absolute path of the current folder.
func (vol *Volume) Cwd() string {
	return vol.tree.Path()
}

// Chdir changes the current folder. Any folder left behind is written back
// first.
func (vol *Volume) Chdir(path string) error {
	if err := vol.checkOpen(); err != nil {
		return err
	}

	path = NormalizePath(path)
	switch path {
	case ".":
		return nil
	case "/":
		return vol.tree.Reset()
	}

	err := vol.checkFolders()
	if err != nil {
		return err
	}
	return vol.tree.Walk(path)
}

// Mkdir creates an empty folder in the current folder.
func (vol *Volume) Mkdir(name string) error {
	if err := vol.checkOpen(); err != nil {
		return err
	}
	err := vol.checkFolders()
	if err != nil {
		return err
	}
	if vol.tree.Depth() >= directory.MaxDepth {
		return yepp.ErrDirRecursion.WithMessage(
			fmt.Sprintf("folders can't be nested more than %d deep", directory.MaxDepth))
	}
	err = directory.CheckLongName(name)
	if err != nil {
		return err
	}

	folder := vol.tree.Current()
	_, err = folder.Table.Lookup(name)
	if err == nil {
		return yepp.ErrFileExists.WithMessage(fmt.Sprintf("%q already exists", name))
	}

	cur, err := vol.table.AllocateChain(vol.table.Hint(), fat.KindDirectory)
	if err != nil {
		return vol.unwind(err)
	}

	now := vol.clock()
	contents := directory.NewFolderTable(
		int(vol.ClusterSize()),
		directory.NewEntry(yepp.AttrDirectory, cur.Index, 0, now),
		directory.NewEntry(yepp.AttrDirectory, folder.Cluster, 0, now),
		vol.codec)
	err = vol.table.WriteCluster(cur.Index, contents.Bytes())
	if err != nil {
		return vol.unwind(err)
	}

	tx := folder.Table.Begin()
	_, err = tx.Insert(name, directory.NewEntry(yepp.AttrDirectory, cur.Index, 0, now))
	if err == nil {
		err = tx.Commit()
	} else {
		tx.Rollback()
	}
	if err != nil {
		return vol.unwind(err)
	}

	vol.logger.Debug(
		"folder created",
		slog.String("name", name),
		slog.String("parent", vol.tree.Path()),
		slog.Uint64("cluster", uint64(cur.Index)))
	return vol.finish()
}

// Rmdir removes an empty folder from the current folder.
func (vol *Volume) Rmdir(name string) error {
	if err := vol.checkOpen(); err != nil {
		return err
	}

	tx := vol.tree.Current().Table.Begin()
	rec, err := tx.Lookup(name)
	if err != nil {
		tx.Rollback()
		return err
	}
	if !rec.Entry.IsDir() || rec.IsDotEntry() {
		tx.Rollback()
		return yepp.ErrNotADir.WithMessage(fmt.Sprintf("%q isn't a folder", name))
	}

	data, err := folderStorage{vol}.LoadFolder(rec.Entry.Cluster)
	if err != nil {
		tx.Rollback()
		return err
	}
	if !directory.NewTable(data, vol.codec).IsEmptyFolder() {
		tx.Rollback()
		return yepp.ErrDirNotEmpty.WithMessage(fmt.Sprintf("%q isn't empty", name))
	}
	return vol.removeRecord(tx, name, rec.Entry.Cluster)
}

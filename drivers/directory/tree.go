package directory

import (
	"fmt"
	"strings"
	"time"

	"github.com/dargueta/yepp"
	c "github.com/dargueta/yepp/drivers/common"
)

// MaxDepth is the deepest a folder can be nested below the root.
const MaxDepth = 16

// RootCluster stands for the root directory, which lives in its own fixed
// region rather than a cluster.
const RootCluster c.ClusterID = 0

// Storage loads and saves directory tables.
type Storage interface {
	LoadFolder(cluster c.ClusterID) ([]byte, error)
	StoreFolder(cluster c.ClusterID, data []byte) error
}

// Folder is one open directory.
type Folder struct {
	Name    string
	Cluster c.ClusterID
	Table   *Table
}

// Tree is the path of open folders from the root to the current one.
type Tree struct {
	storage Storage
	codec   *Codec
	stack   []*Folder
}

// NewTree opens the root directory.
func NewTree(storage Storage, codec *Codec) (*Tree, error) {
	data, err := storage.LoadFolder(RootCluster)
	if err != nil {
		return nil, err
	}

	root := &Folder{
		Name:    "",
		Cluster: RootCluster,
		Table:   NewTable(data, codec),
	}
	return &Tree{storage: storage, codec: codec, stack: []*Folder{root}}, nil
}

// Root returns the root directory.
func (tree *Tree) Root() *Folder {
	return tree.stack[0]
}

// Current returns the innermost open folder.
func (tree *Tree) Current() *Folder {
	return tree.stack[len(tree.stack)-1]
}

// Parent returns the folder containing the current one, or nil at the root.
func (tree *Tree) Parent() *Folder {
	if len(tree.stack) < 2 {
		return nil
	}
	return tree.stack[len(tree.stack)-2]
}

// Depth returns how many folders deep the current folder is. The root is 0.
func (tree *Tree) Depth() int {
	return len(tree.stack) - 1
}

// Path returns the current folder as a slash-separated path.
func (tree *Tree) Path() string {
	names := make([]string, 0, len(tree.stack))
	for _, folder := range tree.stack[1:] {
		names = append(names, folder.Name)
	}
	return "/" + strings.Join(names, "/")
}

// Enter opens the folder `name` inside the current one. "." does nothing and
// ".." is the same as Leave.
func (tree *Tree) Enter(name string) error {
	switch name {
	case ".", "":
		return nil
	case "..":
		return tree.Leave()
	}

	rec, err := tree.Current().Table.Lookup(name)
	if err != nil {
		return yepp.ErrDirNotFound.WithMessage(name)
	}
	if !rec.Entry.IsDir() {
		return yepp.ErrNotADir.WithMessage(name)
	}
	if tree.Depth() >= MaxDepth {
		return yepp.ErrDirRecursion.WithMessage(
			fmt.Sprintf("folders can't be nested more than %d deep", MaxDepth))
	}
	for _, open := range tree.stack {
		if open.Cluster == rec.Entry.Cluster {
			return yepp.ErrDirRecursion.WithMessage(
				fmt.Sprintf("%q contains itself", name))
		}
	}

	data, err := tree.storage.LoadFolder(rec.Entry.Cluster)
	if err != nil {
		return err
	}

	tree.stack = append(tree.stack, &Folder{
		Name:    rec.Name(),
		Cluster: rec.Entry.Cluster,
		Table:   NewTable(data, tree.codec),
	})
	return nil
}

// Leave writes back the current folder if it changed and returns to its
// parent.
func (tree *Tree) Leave() error {
	if len(tree.stack) == 1 {
		return yepp.ErrDirNotFound.WithMessage("the root has no parent")
	}
	err := tree.store(tree.Current())
	if err != nil {
		return err
	}
	tree.stack = tree.stack[:len(tree.stack)-1]
	return nil
}

// Walk enters every folder of a slash-separated path. Absolute paths start
// from the root. On failure the tree is left where it was.
func (tree *Tree) Walk(path string) error {
	saved := append([]*Folder{}, tree.stack...)
	if strings.HasPrefix(path, "/") {
		err := tree.Reset()
		if err != nil {
			return err
		}
	}

	for _, part := range strings.Split(path, "/") {
		err := tree.Enter(part)
		if err != nil {
			tree.stack = saved
			return err
		}
	}
	return nil
}

// Reset writes back every open folder and returns to the root.
func (tree *Tree) Reset() error {
	err := tree.Flush()
	if err != nil {
		return err
	}
	tree.stack = tree.stack[:1]
	return nil
}

// Touch sets the modification time of the current folder's entry in its
// parent. It does nothing at the root.
func (tree *Tree) Touch(when time.Time) error {
	parent := tree.Parent()
	if parent == nil {
		return nil
	}

	// Offsets in the parent move whenever it's compacted, so the entry is
	// found by the cluster it points to.
	tx := parent.Table.Begin()
	_, err := tx.UpdateFolder(tree.Current().Cluster, func(entry *Entry) {
		entry.Modified = when
		entry.Accessed = when
	})
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (tree *Tree) store(folder *Folder) error {
	if !folder.Table.IsDirty() {
		return nil
	}
	err := tree.storage.StoreFolder(folder.Cluster, folder.Table.Bytes())
	if err != nil {
		return err
	}
	folder.Table.MarkClean()
	return nil
}

// Flush writes back every open folder that changed.
func (tree *Tree) Flush() error {
	for i := len(tree.stack) - 1; i >= 0; i-- {
		err := tree.store(tree.stack[i])
		if err != nil {
			return err
		}
	}
	return nil
}

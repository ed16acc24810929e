package yepp

import (
	"io"
	"time"
)

// Transport is the bulk-transfer pipe to the player. Write sends one command
// packet or data payload to the bulk-out endpoint and Read receives one response
// from the bulk-in endpoint.
//
// Implementations own timeouts and retries. The engine issues one command at a
// time and waits for its response before sending the next, and assumes it has
// exclusive use of the transport for as long as it holds it.
type Transport interface {
	io.ReadWriter
}

// ProgressSink receives progress reports from long-running operations such as
// copying a file to or from the player. Progress is called synchronously after
// each block is transferred.
//
// Returning false asks the operation to stop. The block in flight is always
// finished first, and any blocks allocated for the abandoned file are released
// before the operation returns ErrUserCancel.
type ProgressSink interface {
	Progress(done, total uint64) bool
}

// ProgressFunc adapts an ordinary function to the ProgressSink interface.
type ProgressFunc func(done, total uint64) bool

func (f ProgressFunc) Progress(done, total uint64) bool {
	return f(done, total)
}

// FileInfo describes one file or folder in a directory listing.
type FileInfo struct {
	// Name is the long name if the entry has one, otherwise the 8.3 name.
	Name string
	// ShortName is the 8.3 alias, e.g. "TRACK~1.MP3".
	ShortName string
	Size      uint64
	ModTime   time.Time
	IsDir     bool
	// Attributes holds the raw FAT attribute byte.
	Attributes   uint8
	StartCluster uint32
}

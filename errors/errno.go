// Error codes reported by the storage engine. These mirror the status codes the
// player's own tools report, so a failure can be matched to a code no matter
// which layer produced it.

package errors

import (
	"fmt"
)

type Code int

var errorMessagesByCode map[Code]string

const (
	OK Code = iota
	FileNotFound
	NotEnoughSpace
	FileExists
	FATError
	ReadingFile
	WritingFile
	PermissionDenied
	DirTooLong
	DirNotFound
	NotADir
	DirNameError
	DirNotEmpty
	DirRecursion
	DeviceNotReady
	OutOfMemory
	Internal
	FileIsADirectory
	UserCancel
	MemoryNotAvailable
)

func init() {
	errorMessagesByCode = make(map[Code]string, 20)
	errorMessagesByCode[OK] = "Success"
	errorMessagesByCode[FileNotFound] = "File not found"
	errorMessagesByCode[NotEnoughSpace] = "Not enough space on memory"
	errorMessagesByCode[FileExists] = "File already exists"
	errorMessagesByCode[FATError] = "FAT error"
	errorMessagesByCode[ReadingFile] = "Error reading file"
	errorMessagesByCode[WritingFile] = "Error writing file"
	errorMessagesByCode[PermissionDenied] = "Permission denied"
	errorMessagesByCode[DirTooLong] = "Directory full"
	errorMessagesByCode[DirNotFound] = "Directory not found"
	errorMessagesByCode[NotADir] = "Not a directory"
	errorMessagesByCode[DirNameError] = "Invalid file name"
	errorMessagesByCode[DirNotEmpty] = "Directory not empty"
	errorMessagesByCode[DirRecursion] = "Directory nesting too deep"
	errorMessagesByCode[DeviceNotReady] = "Device not ready"
	errorMessagesByCode[OutOfMemory] = "Out of memory"
	errorMessagesByCode[Internal] = "Internal error"
	errorMessagesByCode[FileIsADirectory] = "File is a directory"
	errorMessagesByCode[UserCancel] = "Canceled by user"
	errorMessagesByCode[MemoryNotAvailable] = "Memory not available"
}

// Message returns the default human-readable text for an error code.
func Message(code Code) string {
	message, ok := errorMessagesByCode[code]
	if ok {
		return message
	}
	return fmt.Sprintf("error %d not recognized.", int(code))
}

func (code Code) String() string {
	return Message(code)
}

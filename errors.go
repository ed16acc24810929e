package yepp

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	yerrors "github.com/dargueta/yepp/errors"
)

type DriverError interface {
	error
	Code() yerrors.Code
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseError yerrors.Code

var ErrFileNotFound DriverError = baseError(yerrors.FileNotFound)
var ErrNotEnoughSpace DriverError = baseError(yerrors.NotEnoughSpace)
var ErrFileExists DriverError = baseError(yerrors.FileExists)
var ErrFATError DriverError = baseError(yerrors.FATError)
var ErrReadingFile DriverError = baseError(yerrors.ReadingFile)
var ErrWritingFile DriverError = baseError(yerrors.WritingFile)
var ErrPermissionDenied DriverError = baseError(yerrors.PermissionDenied)
var ErrDirTooLong DriverError = baseError(yerrors.DirTooLong)
var ErrDirNotFound DriverError = baseError(yerrors.DirNotFound)
var ErrNotADir DriverError = baseError(yerrors.NotADir)
var ErrDirNameError DriverError = baseError(yerrors.DirNameError)
var ErrDirNotEmpty DriverError = baseError(yerrors.DirNotEmpty)
var ErrDirRecursion DriverError = baseError(yerrors.DirRecursion)
var ErrDeviceNotReady DriverError = baseError(yerrors.DeviceNotReady)
var ErrOutOfMemory DriverError = baseError(yerrors.OutOfMemory)
var ErrInternal DriverError = baseError(yerrors.Internal)
var ErrFileIsADirectory DriverError = baseError(yerrors.FileIsADirectory)
var ErrUserCancel DriverError = baseError(yerrors.UserCancel)
var ErrMemoryNotAvailable DriverError = baseError(yerrors.MemoryNotAvailable)

func (e baseError) Error() string {
	return yerrors.Message(yerrors.Code(e))
}

func (e baseError) Code() yerrors.Code {
	return yerrors.Code(e)
}

func (e baseError) WithMessage(message string) DriverError {
	return customDriverError{
		code:          yerrors.Code(e),
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

func (e baseError) Wrap(err error) DriverError {
	return customDriverError{
		code:          yerrors.Code(e),
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	code          yerrors.Code
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) Code() yerrors.Code {
	return e.code
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		code:          e.code,
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		code:          e.code,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}

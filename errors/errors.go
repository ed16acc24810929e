package errors

import (
	stderrors "errors"
)

// Coded is implemented by every error the engine produces.
type Coded interface {
	error
	Code() Code
}

// CodeOf returns the code of the first coded error in err's chain. Errors that
// didn't come from the engine are reported as Internal, and nil as OK.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}

	var coded Coded
	if stderrors.As(err, &coded) {
		return coded.Code()
	}
	return Internal
}

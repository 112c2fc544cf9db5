package errs

import (
	"github.com/pkg/errors"
)

const (
	CodeIo                            = 1001
	CodeUnexpectedEOF                 = 1002
	CodeMalformedBitstream            = 1003
	CodeUnsupportedFeature            = 1004
	CodeUnknownCodeType               = 1005
	CodeInvalidContext                = 1006
	CodeInvalidItemID                 = 1007
	CodeInvalidPropertyIndex          = 1008
	CodeInvalidSampleDescriptionIndex = 1009
	CodeProtectedItem                 = 1010
	CodeUninitialized                 = 1011
	CodeNotApplicable                 = 1012
	CodeInvalidManifest               = 1013
	CodeUnknown                       = 9999
)

var (
	ErrIo                            = New(CodeIo, "io failure")
	ErrUnexpectedEOF                 = New(CodeUnexpectedEOF, "unexpected end of stream")
	ErrMalformedBitstream            = New(CodeMalformedBitstream, "malformed bitstream")
	ErrUnsupportedFeature            = New(CodeUnsupportedFeature, "unsupported feature")
	ErrUnknownCodeType               = New(CodeUnknownCodeType, "unknown code type")
	ErrInvalidContext                = New(CodeInvalidContext, "invalid context id")
	ErrInvalidItemID                 = New(CodeInvalidItemID, "invalid item id")
	ErrInvalidPropertyIndex          = New(CodeInvalidPropertyIndex, "invalid property index")
	ErrInvalidSampleDescriptionIndex = New(CodeInvalidSampleDescriptionIndex, "invalid sample description index")
	ErrProtectedItem                 = New(CodeProtectedItem, "item is protected")
	ErrUninitialized                 = New(CodeUninitialized, "reader not initialized")
	ErrNotApplicable                 = New(CodeNotApplicable, "operation not applicable to this context")
	ErrInvalidManifest               = New(CodeInvalidManifest, "invalid writer manifest")
)

const (
	Success = "success"
)

type Error struct {
	Code int32
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func New(code int32, msg string) error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Code unwraps e down to its cause and reports the taxonomy code.
func Code(e error) int32 {
	if e == nil {
		return 0
	}
	err, ok := errors.Cause(e).(*Error)
	if !ok {
		return CodeUnknown
	}

	if err == (*Error)(nil) {
		return 0
	}
	return err.Code
}

func Msg(e error) string {
	if e == nil {
		return Success
	}
	err, ok := errors.Cause(e).(*Error)
	if !ok {
		return "unknown error: " + e.Error()
	}

	if err == (*Error)(nil) {
		return Success
	}

	return err.Msg
}

// Is reports whether e carries the same taxonomy code as target.
func Is(e, target error) bool {
	return e != nil && target != nil && Code(e) == Code(target)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

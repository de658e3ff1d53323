package embedpdf

import (
	"errors"
	"fmt"
)

// Code classifies a failure. Values below 100 mirror the native library's
// last-error codes; the rest are raised by the engine itself.
type Code int

const (
	CodeOK        Code = 0
	CodeUnknown   Code = 1
	CodeFile      Code = 2
	CodeFormat    Code = 3
	CodePassword  Code = 4
	CodeSecurity  Code = 5
	CodePageError Code = 6

	CodeCancelled    Code = 100
	CodeNotReady     Code = 101
	CodeNotSupport   Code = 102
	CodeDocNotOpen   Code = 103
	CodeCantCloseDoc Code = 104
	CodeNotFound     Code = 105
	CodeValidation   Code = 106
)

var codeNames = map[Code]string{
	CodeOK:           "Ok",
	CodeUnknown:      "Unknown",
	CodeFile:         "File",
	CodeFormat:       "Format",
	CodePassword:     "Password",
	CodeSecurity:     "Security",
	CodePageError:    "PageError",
	CodeCancelled:    "Cancelled",
	CodeNotReady:     "NotReady",
	CodeNotSupport:   "NotSupport",
	CodeDocNotOpen:   "DocNotOpen",
	CodeCantCloseDoc: "CantCloseDoc",
	CodeNotFound:     "NotFound",
	CodeValidation:   "Validation",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Reason is the structured failure carried by rejected tasks and error
// envelopes.
type Reason struct {
	Code    Code   `json:"code" msgpack:"code" yaml:"code"`
	Message string `json:"message" msgpack:"message" yaml:"message"`
}

// NewReason builds a Reason with a formatted message.
func NewReason(code Code, format string, args ...any) *Reason {
	return &Reason{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (r *Reason) Error() string {
	if r.Message == "" {
		return "embedpdf: " + r.Code.String()
	}
	return fmt.Sprintf("embedpdf: %s: %s", r.Code, r.Message)
}

// Is matches any *Reason with the same code, so the sentinel values below
// work with errors.Is.
func (r *Reason) Is(target error) bool {
	var t *Reason
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == r.Code
}

// Sentinels for errors.Is checks.
var (
	ErrUnknown      = &Reason{Code: CodeUnknown}
	ErrFile         = &Reason{Code: CodeFile}
	ErrFormat       = &Reason{Code: CodeFormat}
	ErrPassword     = &Reason{Code: CodePassword}
	ErrSecurity     = &Reason{Code: CodeSecurity}
	ErrPageError    = &Reason{Code: CodePageError}
	ErrCancelled    = &Reason{Code: CodeCancelled}
	ErrNotReady     = &Reason{Code: CodeNotReady}
	ErrNotSupport   = &Reason{Code: CodeNotSupport}
	ErrDocNotOpen   = &Reason{Code: CodeDocNotOpen}
	ErrCantCloseDoc = &Reason{Code: CodeCantCloseDoc}
	ErrNotFound     = &Reason{Code: CodeNotFound}
	ErrValidation   = &Reason{Code: CodeValidation}
)

// AsReason converts any error into a *Reason. Errors that are not already
// reasons become CodeUnknown with the error text as message.
func AsReason(err error) *Reason {
	if err == nil {
		return nil
	}
	var r *Reason
	if errors.As(err, &r) {
		return r
	}
	return &Reason{Code: CodeUnknown, Message: err.Error()}
}

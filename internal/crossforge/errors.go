package crossforge

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrRevisionNotFound is returned when a repository has no entry in the
// revision table.
var ErrRevisionNotFound = errors.New("no checkout revision found")

// PreconditionError reports a missing directory or tool, raised before any
// mutating work starts.
type PreconditionError struct {
	What string
	Path string
	Err  error
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("%s not found at %s", e.What, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// CompositeError wraps several independent failures into one, keeping every
// message and the location that gave up.
type CompositeError struct {
	Summary string
	Errs    []error
	File    string
	Line    int
}

// NewCompositeError records the caller's file and line.
func NewCompositeError(summary string, errs ...error) *CompositeError {
	ce := &CompositeError{Summary: summary, Errs: errs}
	if _, file, line, ok := runtime.Caller(1); ok {
		ce.File, ce.Line = filepath.Base(file), line
	}
	return ce
}

func (e *CompositeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Summary)
	if e.File != "" {
		fmt.Fprintf(&b, " (%s:%d)", e.File, e.Line)
	}
	for _, err := range e.Errs {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *CompositeError) Unwrap() []error { return e.Errs }

// Package cnerrors defines the error taxonomy shared by PredictCN and
// RegionTest: ConfigError, InputFormatError, IOError, DataError, and
// NumericError. All constructors wrap github.com/grailbio/base/errors
// so that callers retain that package's contextual annotation (file,
// offending value) while still being able to classify an error by
// Kind.
package cnerrors

import (
	stderrors "errors"
	"fmt"

	"github.com/grailbio/base/errors"
)

// Kind classifies why an error occurred.
type Kind int

const (
	// Config covers bad CLI flags, missing files, unknown contigs.
	Config Kind = iota
	// InputFormat covers malformed TSV rows and impossible ranges.
	InputFormat
	// IO covers read/write failures.
	IO
	// Data covers inconsistent reference-vs-alignment state and
	// insufficient bins for a GC fit.
	Data
	// Numeric covers ill-conditioned LOESS fits and empty control
	// groups.
	Numeric
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config error"
	case InputFormat:
		return "input format error"
	case IO:
		return "I/O error"
	case Data:
		return "data error"
	case Numeric:
		return "numeric error"
	default:
		return "error"
	}
}

// kindError pairs a Kind with the github.com/grailbio/base/errors
// value carrying the actual message and context, so the Kind survives
// wrapping and can be recovered with Is instead of re-parsing text.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// E builds an error of the given Kind, forwarding the remaining
// arguments to github.com/grailbio/base/errors.E the way the teacher
// wraps context onto its own errors throughout markduplicates and
// encoding/fasta.
func E(kind Kind, args ...interface{}) error {
	return &kindError{kind: kind, err: errors.E(append([]interface{}{kind.String() + ":"}, args...)...)}
}

// Is reports whether err was constructed with the given Kind,
// unwrapping through any wrapping errors in between. Safe for
// programmatic branching inside the core packages.
func Is(err error, kind Kind) bool {
	var ke *kindError
	if stderrors.As(err, &ke) {
		return ke.kind == kind
	}
	return false
}

// Configf is a convenience wrapper producing a Config-kind error with
// a formatted message.
func Configf(format string, args ...interface{}) error {
	return E(Config, fmt.Sprintf(format, args...))
}

// InputFormatf is a convenience wrapper producing an InputFormat-kind
// error with a formatted message.
func InputFormatf(format string, args ...interface{}) error {
	return E(InputFormat, fmt.Sprintf(format, args...))
}

// Dataf is a convenience wrapper producing a Data-kind error with a
// formatted message.
func Dataf(format string, args ...interface{}) error {
	return E(Data, fmt.Sprintf(format, args...))
}

// Numericf is a convenience wrapper producing a Numeric-kind error
// with a formatted message.
func Numericf(format string, args ...interface{}) error {
	return E(Numeric, fmt.Sprintf(format, args...))
}

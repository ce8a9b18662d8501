package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType classifies failures inside the indexing pipeline.
type ErrorType string

const (
	// Analysis errors
	ErrorTypeAnalysis ErrorType = "analysis"
	ErrorTypeSyntax   ErrorType = "syntax"

	// File errors
	ErrorTypeFileNotFound ErrorType = "file_not_found"
	ErrorTypeFileTooLarge ErrorType = "file_too_large"

	// Snapshot errors
	ErrorTypeSnapshot ErrorType = "snapshot"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"

	// Internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// IndexError is the typed error used throughout the indexing pipeline.
type IndexError struct {
	Type        ErrorType
	FilePath    string
	Operation   string
	Underlying  error
	Timestamp   time.Time
	Recoverable bool
}

// NewIndexError creates an indexing error with context.
func NewIndexError(typ ErrorType, op string, err error) *IndexError {
	return &IndexError{
		Type:        typ,
		Operation:   op,
		Underlying:  err,
		Timestamp:   time.Now(),
		Recoverable: typ != ErrorTypeSyntax,
	}
}

// WithFile adds file information to the error.
func (e *IndexError) WithFile(path string) *IndexError {
	e.FilePath = path
	return e
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.FilePath != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.FilePath, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *IndexError) Unwrap() error {
	return e.Underlying
}

// IsRecoverable reports whether a later attempt may succeed.
func (e *IndexError) IsRecoverable() bool {
	return e.Recoverable
}

// IsSyntaxError reports whether err represents a parse failure of the
// analyzed source. Syntax failures are sticky: on-demand indexing will
// not retry the path until a later attempt succeeds.
func IsSyntaxError(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Type == ErrorTypeSyntax
	}
	// Analyzer implementations outside this module may only surface text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "syntax error") || strings.Contains(msg, "parse error")
}

package internalerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Fatal: surface to the caller immediately.
	ErrSchema         = errors.New("glossary schema violation")
	ErrBuild          = errors.New("index build failed")
	ErrIndexNotLoaded = errors.New("index not loaded")

	// Degrading: recovered inside the pipeline and reported as metadata.
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	ErrFallbackTimeout    = errors.New("generative fallback timed out")
	ErrFallback           = errors.New("generative fallback failed")
)

// SchemaError describes one glossary record that failed validation.
type SchemaError struct {
	Row     int // 1-based position in the source, 0 when unknown
	EntryID string
	Field   string
	Reason  string
}

func (e *SchemaError) Error() string {
	loc := e.EntryID
	if loc == "" && e.Row > 0 {
		loc = fmt.Sprintf("row %d", e.Row)
	}
	if loc == "" {
		return fmt.Sprintf("glossary: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("glossary: %s: %s: %s", loc, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// BuildError wraps a failure in one stage of index construction.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("index build (%s): %v", e.Stage, e.Err)
}

// Unwrap exposes both ErrBuild and the underlying cause to errors.Is.
func (e *BuildError) Unwrap() []error { return []error{ErrBuild, e.Err} }

// IsFatal reports whether err must abort the request instead of degrading it.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSchema) || errors.Is(err, ErrBuild) || errors.Is(err, ErrIndexNotLoaded) ||
		errors.Is(err, ErrInvalidInput)
}

package utils

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the store, engine, and runner wraps one of these.
var (
	// ErrConfig marks invalid parameters, missing column mappings, or too few datasets.
	ErrConfig = errors.New("configuration error")
	// ErrLoad marks a dataset source that cannot be located or decoded.
	ErrLoad = errors.New("load error")
	// ErrSchema marks a dataset missing its configured date or value column.
	ErrSchema = errors.New("schema error")
	// ErrCacheCorruption marks a persisted cache entry that could not be decoded.
	ErrCacheCorruption = errors.New("cache corruption")
)

// AppError wraps an operation, human-facing message, error kind, and underlying error.
type AppError struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	prefix := e.Op
	if e.Kind != nil {
		prefix = fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ConfigError constructs an ErrConfig AppError.
func ConfigError(op, msg string, err error) error {
	return &AppError{Kind: ErrConfig, Op: op, Msg: msg, Err: err}
}

// LoadError constructs an ErrLoad AppError.
func LoadError(op, msg string, err error) error {
	return &AppError{Kind: ErrLoad, Op: op, Msg: msg, Err: err}
}

// SchemaError constructs an ErrSchema AppError.
func SchemaError(op, msg string, err error) error {
	return &AppError{Kind: ErrSchema, Op: op, Msg: msg, Err: err}
}

// CacheCorruptionError constructs an ErrCacheCorruption AppError.
func CacheCorruptionError(op, msg string, err error) error {
	return &AppError{Kind: ErrCacheCorruption, Op: op, Msg: msg, Err: err}
}

// KindOf returns a short label for the error kind, suitable for metrics and RPC payloads.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrLoad):
		return "load"
	case errors.Is(err, ErrCacheCorruption):
		return "cache_corruption"
	default:
		return "internal"
	}
}

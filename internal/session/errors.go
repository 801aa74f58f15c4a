package session

import (
	"errors"
	"fmt"

	"github.com/obiente/translate/luaspeech/internal/engine"
)

var (
	// ErrNotInitialized is returned by model-dependent calls while no model is ready.
	ErrNotInitialized = errors.New("speech: model is not initialized")
	// ErrInvalidState is returned by calls on a destroyed stream.
	ErrInvalidState = errors.New("speech: stream has been destroyed")
)

// ConfigError reports a malformed configuration field. It is raised before any
// engine call, so no state has changed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config.%s %s", e.Field, e.Reason)
}

// ModelLoadError is returned when the engine rejects a model.
type ModelLoadError struct {
	Path    string
	Code    int
	Message string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %s (0x%04X)", e.Path, e.Message, e.Code)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// ScorerLoadError is returned when the engine rejects the external scorer or its weights.
type ScorerLoadError struct {
	Path    string
	Code    int
	Message string
	Err     error
}

func (e *ScorerLoadError) Error() string {
	return fmt.Sprintf("failed to load scorer %q: %s (0x%04X)", e.Path, e.Message, e.Code)
}

func (e *ScorerLoadError) Unwrap() error { return e.Err }

// StreamCreateError is returned when the engine cannot create a stream handle.
type StreamCreateError struct {
	Err error
}

func (e *StreamCreateError) Error() string {
	return fmt.Sprintf("could not create stream: %v", e.Err)
}

func (e *StreamCreateError) Unwrap() error { return e.Err }

func newModelLoadError(path string, err error) *ModelLoadError {
	code := engine.CodeOf(err)
	return &ModelLoadError{Path: path, Code: code, Message: engine.ErrorCodeToErrorMessage(code), Err: err}
}

func newScorerLoadError(path string, err error) *ScorerLoadError {
	code := engine.CodeOf(err)
	return &ScorerLoadError{Path: path, Code: code, Message: engine.ErrorCodeToErrorMessage(code), Err: err}
}

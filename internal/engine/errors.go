package engine

import (
	"errors"
	"fmt"
)

// Native error codes shared by all backends. The values follow the DeepSpeech
// C API so codes reported by the deepspeech backend pass through unchanged.
const (
	CodeOK = 0x0000

	// Missing model
	CodeNoModel = 0x1000

	// Invalid parameters
	CodeInvalidAlphabet       = 0x2000
	CodeInvalidShape          = 0x2001
	CodeInvalidScorer         = 0x2002
	CodeModelIncompatible     = 0x2003
	CodeScorerNotEnabled      = 0x2004
	CodeScorerUnreadable      = 0x2005
	CodeScorerInvalidLM       = 0x2006
	CodeScorerNoTrie          = 0x2007
	CodeScorerInvalidTrie     = 0x2008
	CodeScorerVersionMismatch = 0x2009

	// Runtime failures
	CodeFailInitMMAP      = 0x3000
	CodeFailInitSess      = 0x3001
	CodeFailInterpreter   = 0x3002
	CodeFailRunSess       = 0x3003
	CodeFailCreateStream  = 0x3004
	CodeFailReadProtobuf  = 0x3005
	CodeFailCreateSess    = 0x3006
	CodeFailCreateModel   = 0x3007
	CodeFailInsertHotword = 0x3008
	CodeFailClearHotword  = 0x3009
	CodeFailEraseHotword  = 0x3010
)

var messages = map[int]string{
	CodeOK:                    "No error.",
	CodeNoModel:               "Missing model information.",
	CodeInvalidAlphabet:       "Invalid alphabet embedded in model. (Data corruption?)",
	CodeInvalidShape:          "Invalid model shape.",
	CodeInvalidScorer:         "Invalid scorer file.",
	CodeModelIncompatible:     "Incompatible model.",
	CodeScorerNotEnabled:      "External scorer is not enabled.",
	CodeScorerUnreadable:      "Could not read scorer file.",
	CodeScorerInvalidLM:       "Could not recognize language model header in scorer.",
	CodeScorerNoTrie:          "Reached end of scorer file before loading vocabulary trie.",
	CodeScorerInvalidTrie:     "Invalid magic in trie header.",
	CodeScorerVersionMismatch: "Scorer file version does not match expected version.",
	CodeFailInitMMAP:          "Failed to initialize memory mapped model.",
	CodeFailInitSess:          "Failed to initialize the session.",
	CodeFailInterpreter:       "Interpreter failed.",
	CodeFailRunSess:           "Failed to run the session.",
	CodeFailCreateStream:      "Error creating the stream.",
	CodeFailReadProtobuf:      "Error reading the proto buffer model file.",
	CodeFailCreateSess:        "Failed to create session.",
	CodeFailCreateModel:       "Could not allocate model state.",
	CodeFailInsertHotword:     "Could not insert hot-word.",
	CodeFailClearHotword:      "Could not clear hot-words.",
	CodeFailEraseHotword:      "Could not erase hot-word.",
}

// ErrorCodeToErrorMessage returns the human readable text for a native error code.
func ErrorCodeToErrorMessage(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown error code 0x%04X.", code)
}

// Error is a failure reported by a backend, identified by its native code.
type Error struct {
	Code int
	Op   string
	// Err is the underlying backend error, when the backend produced one.
	Err error
}

func (e *Error) Error() string {
	msg := ErrorCodeToErrorMessage(e.Code)
	if e.Err != nil && e.Code == CodeFailRunSess {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("engine: %s (0x%04X)", msg, e.Code)
	}
	return fmt.Sprintf("engine: %s: %s (0x%04X)", e.Op, msg, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError builds an *Error for op with the given code.
func NewError(op string, code int) *Error {
	return &Error{Code: code, Op: op}
}

// CodeOf extracts the native code carried by err, or CodeOK when err is nil.
// Errors that did not originate from a backend report CodeFailRunSess.
func CodeOf(err error) int {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeFailRunSess
}

package models

import "fmt"

// ValidationError reports malformed user input (bad number, wrong choice,
// unparseable date). Flows recover locally: the current prompt is shown again
// and the stage self-loops.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AiServiceError reports a failed estimation call (network or service fault).
// A semantically failed estimate is not an AiServiceError; the adapter encodes
// that as an unsuccessful result. Flows abort to their cancel path.
type AiServiceError struct {
	Err error
}

func (e *AiServiceError) Error() string { return fmt.Sprintf("ai service error: %v", e.Err) }
func (e *AiServiceError) Unwrap() error { return e.Err }

// StorageError reports a persistence failure. Commits are attempted at most
// once; the flow reports a database error and terminates.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// PayloadTooLargeError reports an inline affordance payload whose UTF-8
// encoding exceeds the transport's 64-byte limit.
type PayloadTooLargeError struct {
	Payload string
	Size    int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("callback payload is %d bytes, limit is 64: %q", e.Size, e.Payload)
}

// Package apperr defines the value-level error codes surfaced by the engine.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies one kind of processing failure.
type Code string

const (
	CodeDecode               Code = "decode_failed"
	CodeTooManyFrames        Code = "too_many_frames"
	CodeAnimationTooLarge    Code = "animation_too_large"
	CodeOutputTooLarge       Code = "output_too_large"
	CodeCanvasUnavailable    Code = "canvas_unavailable"
	CodeExport               Code = "export_failed"
	CodeInvalidInput         Code = "invalid_input_buffer"
	CodeHEICUnavailable      Code = "heic_unavailable"
	CodeHEICLibraryFailed    Code = "heic_library_failed"
	CodeHEICConvertFailed    Code = "heic_convert_failed"
	CodeHEICUnexpectedResult Code = "heic_unexpected_result"
	CodeTimeout              Code = "processing_timeout"
	CodeUnknown              Code = "unknown"
)

// Error carries a Code together with the underlying cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error with a formatted message.
func New(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches code to err. A nil err stays nil; an already coded error
// keeps its original code.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	return &Error{Code: code, Err: err}
}

// CodeOf returns the code carried by err, or CodeUnknown.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

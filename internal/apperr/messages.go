package apperr

// messageKeys maps every code to exactly one translatable key.
var messageKeys = map[Code]string{
	CodeDecode:               "errors.decodeFailed",
	CodeTooManyFrames:        "errors.tooManyFrames",
	CodeAnimationTooLarge:    "errors.animationTooLarge",
	CodeOutputTooLarge:       "errors.outputTooLarge",
	CodeCanvasUnavailable:    "errors.canvasUnavailable",
	CodeExport:               "errors.exportFailed",
	CodeInvalidInput:         "errors.invalidInputBuffer",
	CodeHEICUnavailable:      "errors.heicUnavailable",
	CodeHEICLibraryFailed:    "errors.heicLibraryFailed",
	CodeHEICConvertFailed:    "errors.heicConvertFailed",
	CodeHEICUnexpectedResult: "errors.heicUnexpectedResult",
	CodeTimeout:              "errors.processingTimeout",
	CodeUnknown:              "errors.unknown",
}

// defaultMessages is the English catalog used by the local command.
var defaultMessages = map[string]string{
	"errors.decodeFailed":         "The image could not be decoded.",
	"errors.tooManyFrames":        "The animation has too many frames.",
	"errors.animationTooLarge":    "The animation is too large to process.",
	"errors.outputTooLarge":       "The requested output size is too large.",
	"errors.canvasUnavailable":    "No drawing surface is available for this image.",
	"errors.exportFailed":         "The image could not be encoded in the requested format.",
	"errors.invalidInputBuffer":   "The file is empty or unreadable.",
	"errors.heicUnavailable":      "HEIC conversion is not available.",
	"errors.heicLibraryFailed":    "The HEIC converter failed to load.",
	"errors.heicConvertFailed":    "The HEIC image could not be converted.",
	"errors.heicUnexpectedResult": "The HEIC converter returned an unexpected result.",
	"errors.processingTimeout":    "Processing took too long and was stopped.",
	"errors.unknown":              "An unknown processing error occurred.",
}

// MessageKey returns the stable translation key for err.
func MessageKey(err error) string {
	return KeyForCode(CodeOf(err))
}

// KeyForCode returns the translation key for code; unrecognized codes map to
// the generic key.
func KeyForCode(code Code) string {
	if key, ok := messageKeys[code]; ok {
		return key
	}
	return messageKeys[CodeUnknown]
}

// Message returns the default English text for err. Internal detail never
// leaks through it.
func Message(err error) string {
	return defaultMessages[MessageKey(err)]
}

// MessageForCode returns the default English text for code.
func MessageForCode(code Code) string {
	return defaultMessages[KeyForCode(code)]
}

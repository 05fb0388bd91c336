package types

import "errors"

// Structural validation errors for inbound frames.
var (
	ErrMissingType       = errors.New("message type is required")
	ErrInvalidSessionID  = errors.New("session ID must be 1-50 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidLessonID   = errors.New("lesson ID must be 1-50 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidRecipient  = errors.New("recipient must be a valid participant ID")
	ErrTooManyFiles      = errors.New("workspace exceeds file count limit")
	ErrFileTooLarge      = errors.New("file content exceeds size limit")
	ErrEmptyFileName     = errors.New("file name cannot be empty")
	ErrDuplicateFileName = errors.New("workspace contains duplicate file names")
)

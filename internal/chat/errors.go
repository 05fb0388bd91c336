package chat

import "errors"

var (
	ErrEmptyMessage    = errors.New("message text cannot be empty")
	ErrMessageTooLarge = errors.New("message text exceeds size limit")
	ErrSelfMessage     = errors.New("cannot message yourself")
)

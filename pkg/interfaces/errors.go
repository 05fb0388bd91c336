package interfaces

import "errors"

var (
	ErrNotAuthenticated = errors.New("request is not authenticated")
	ErrLessonNotFound   = errors.New("lesson not found")
)

package homework

import "errors"

var (
	ErrSubsessionNotFound = errors.New("homework subsession not found")
	ErrNotJoined          = errors.New("learner has not joined this subsession")
)

package services

import "errors"

var (
	ErrEventNotFound     = errors.New("threat event not found")
	ErrTaskNotFound      = errors.New("execution task not found")
	ErrInvalidTransition = errors.New("event is not in a state that allows this decision")
	ErrUpstreamRejected  = errors.New("upstream sensor reported a failed response")
	ErrPersistFailed     = errors.New("failed to persist threat events")
)

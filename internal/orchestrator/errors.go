package orchestrator

import "errors"

var (
	ErrInvalidMode        = errors.New("orchestrator: invalid mode")
	ErrEmptyTasks         = errors.New("orchestrator: tasks array cannot be empty")
	ErrRegistryNotSet     = errors.New("orchestrator: registry not initialized")
	ErrRegistryAlreadySet = errors.New("orchestrator: registry already initialized")
)

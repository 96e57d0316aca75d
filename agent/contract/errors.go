package contract

import "errors"

var (
	ErrFlowConfig      = errors.New("invalid flow configuration")
	ErrUnknownStage    = errors.New("unknown stage")
	ErrSessionEnded    = errors.New("session has ended")
	ErrUnknownAction   = errors.New("unknown action")
	ErrValidation      = errors.New("validation failed")
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
)

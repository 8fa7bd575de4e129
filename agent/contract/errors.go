package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
	ErrToolExecution   = errors.New("tool execution failed")
	ErrClassification  = errors.New("classification failed")
	ErrHandlerNotFound = errors.New("handler not found")
	ErrSanitization    = errors.New("context sanitization failed")
)

package contract

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrClassification     = errors.New("intent classification failed")
	ErrContextUnavailable = errors.New("context unavailable")
	ErrGeneration         = errors.New("response generation failed")
	ErrPersistence        = errors.New("persistence failed")
	ErrCanceled           = errors.New("request canceled")
)

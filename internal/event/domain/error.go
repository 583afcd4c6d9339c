package domain

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrEventNotFound    = errors.New("event_not_found")
	ErrAlreadyProcessed = errors.New("event_already_processed")
)

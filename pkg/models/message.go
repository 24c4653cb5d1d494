package models

import "time"

// Message represents a message in the system
type Message struct {
	ID        string            `json:"id"`
	Key       string            `json:"key"`
	Value     []byte            `json:"value"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`
}

// MessageHeader constants
const (
	HeaderMessageID     = "message-id"
	HeaderFailureReason = "failure-reason"
	HeaderProcessedAt   = "processed-at"
	HeaderScheduleName  = "schedule-name"

	// Attributes attached to quarantined messages.
	HeaderErrorType    = "ErrorType"
	HeaderErrorDetails = "ErrorDetails"
)

// ErrorType classifies why a message was quarantined.
type ErrorType string

const (
	ErrorTypeRetryCountExceeded   ErrorType = "RETRY_COUNT_EXCEEDED"
	ErrorTypeInvalidMessageFormat ErrorType = "INVALID_MESSAGE_FORMAT"
	ErrorTypeInvalidMessageSchema ErrorType = "INVALID_MESSAGE_SCHEMA"
)

func (t ErrorType) String() string {
	return string(t)
}

// ScheduleHandle identifies a delayed re-delivery once it has been created.
type ScheduleHandle struct {
	Name   string
	FireAt time.Time
}

// Package validator checks intake messages before any business processing.
// Messages it rejects are quarantined straight away and never retried.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"go-retry/pkg/models"
)

var canonicalUUID = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

// ValidationError carries the quarantine classification of a rejected body.
type ValidationError struct {
	Type models.ErrorType
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AsValidationError unwraps err to a *ValidationError, if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

func formatError(err error) error {
	return &ValidationError{Type: models.ErrorTypeInvalidMessageFormat, Err: err}
}

func schemaError(format string, args ...interface{}) error {
	return &ValidationError{Type: models.ErrorTypeInvalidMessageSchema, Err: fmt.Errorf(format, args...)}
}

// Validate requires a JSON object with a metadata object whose message_id
// is a canonical UUID, and a data object. Retry fields, when present, must
// be a non-negative integer count and an RFC 3339 next_retry_time.
func Validate(body []byte) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return formatError(err)
	}

	root, ok := doc.(map[string]interface{})
	if !ok {
		return schemaError("message is not an object")
	}

	rawMeta, ok := root[models.FieldMetadata]
	if !ok {
		return schemaError("%q is a required property", models.FieldMetadata)
	}
	meta, ok := rawMeta.(map[string]interface{})
	if !ok {
		return schemaError("%q is not of type object", models.FieldMetadata)
	}

	rawID, ok := meta[models.FieldMessageID]
	if !ok {
		return schemaError("%q is a required property", models.FieldMessageID)
	}
	id, ok := rawID.(string)
	if !ok {
		return schemaError("%q is not of type string", models.FieldMessageID)
	}
	if !canonicalUUID.MatchString(id) {
		return schemaError("%q does not match %q", id, canonicalUUID.String())
	}

	for _, field := range []string{models.FieldRetryCount, "retry_attempt"} {
		if err := checkCount(meta, field); err != nil {
			return err
		}
	}
	if raw, ok := meta[models.FieldNextRetryTime]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return schemaError("%q is not of type string", models.FieldNextRetryTime)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return schemaError("%q is not a date-time", models.FieldNextRetryTime)
		}
	}

	rawData, ok := root[models.FieldData]
	if !ok {
		return schemaError("%q is a required property", models.FieldData)
	}
	if _, ok := rawData.(map[string]interface{}); !ok {
		return schemaError("%q is not of type object", models.FieldData)
	}

	return nil
}

// checkCount accepts an absent or null count, or a non-negative integer.
func checkCount(meta map[string]interface{}, field string) error {
	raw, ok := meta[field]
	if !ok || raw == nil {
		return nil
	}
	n, ok := raw.(float64)
	if !ok || n != math.Trunc(n) {
		return schemaError("%q is not of type integer", field)
	}
	if n < 0 || n > 1<<53 {
		return schemaError("%q is out of range", field)
	}
	return nil
}

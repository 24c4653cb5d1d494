package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// RetryTimeLayout is the wire format of next_retry_time.
const RetryTimeLayout = "2006-01-02T15:04:05Z"

// Envelope field names
const (
	FieldMetadata      = "metadata"
	FieldData          = "data"
	FieldMessageID     = "message_id"
	FieldRetryCount    = "retry_count"
	FieldNextRetryTime = "next_retry_time"

	// legacyFieldRetryAttempt is still emitted by older producers. It is read
	// as a fallback and never written back.
	legacyFieldRetryAttempt = "retry_attempt"
)

var (
	ErrNotAnObject     = errors.New("envelope is not a JSON object")
	ErrMissingMetadata = errors.New("envelope has no metadata object")
	ErrMissingID       = errors.New("metadata has no message_id")
)

// RetryMetadata is the retry bookkeeping carried inside every message.
type RetryMetadata struct {
	MessageID     string
	RetryCount    int
	NextRetryTime *time.Time

	// unknown metadata keys, kept verbatim
	extra map[string]json.RawMessage
}

// Envelope is a message body: retry metadata plus an opaque data payload.
// Data and any unknown top-level keys are carried as raw bytes and written
// back unchanged by Encode.
type Envelope struct {
	Metadata RetryMetadata
	Data     json.RawMessage

	extra map[string]json.RawMessage
}

// Increment returns m with RetryCount increased by one. An absent count is
// zero, so the first increment yields 1.
func Increment(m RetryMetadata) RetryMetadata {
	m.RetryCount++
	return m
}

// WithNextRetryTime returns m with NextRetryTime set to t in UTC, truncated
// to the second.
func (m RetryMetadata) WithNextRetryTime(t time.Time) RetryMetadata {
	next := t.UTC().Truncate(time.Second)
	m.NextRetryTime = &next
	return m
}

// DecodeEnvelope parses a message body.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if top == nil {
		return nil, ErrNotAnObject
	}

	rawMeta, ok := top[FieldMetadata]
	if !ok {
		return nil, ErrMissingMetadata
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(rawMeta, &meta); err != nil || meta == nil {
		return nil, ErrMissingMetadata
	}

	md, err := decodeMetadata(meta)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Metadata: md}
	if data, ok := top[FieldData]; ok {
		env.Data = data
	}
	delete(top, FieldMetadata)
	delete(top, FieldData)
	if len(top) > 0 {
		env.extra = top
	}
	return env, nil
}

func decodeMetadata(meta map[string]json.RawMessage) (RetryMetadata, error) {
	var md RetryMetadata

	rawID, ok := meta[FieldMessageID]
	if !ok {
		return md, ErrMissingID
	}
	if err := json.Unmarshal(rawID, &md.MessageID); err != nil {
		return md, fmt.Errorf("decode %s: %w", FieldMessageID, err)
	}

	countField := FieldRetryCount
	if _, ok := meta[countField]; !ok {
		countField = legacyFieldRetryAttempt
	}
	if raw, ok := meta[countField]; ok {
		var count *int
		if err := json.Unmarshal(raw, &count); err != nil {
			return md, fmt.Errorf("decode %s: %w", countField, err)
		}
		if count != nil {
			if *count < 0 {
				return md, fmt.Errorf("decode %s: negative value %d", countField, *count)
			}
			md.RetryCount = *count
		}
	}

	if raw, ok := meta[FieldNextRetryTime]; ok {
		var s *string
		if err := json.Unmarshal(raw, &s); err != nil {
			return md, fmt.Errorf("decode %s: %w", FieldNextRetryTime, err)
		}
		if s != nil {
			t, err := time.Parse(time.RFC3339, *s)
			if err != nil {
				return md, fmt.Errorf("decode %s: %w", FieldNextRetryTime, err)
			}
			t = t.UTC()
			md.NextRetryTime = &t
		}
	}

	for _, k := range []string{FieldMessageID, FieldRetryCount, legacyFieldRetryAttempt, FieldNextRetryTime} {
		delete(meta, k)
	}
	if len(meta) > 0 {
		md.extra = meta
	}
	return md, nil
}

// Encode serialises the envelope. Data and unknown keys are copied as-is.
func (e *Envelope) Encode() ([]byte, error) {
	meta, err := e.Metadata.encode()
	if err != nil {
		return nil, err
	}

	fields := make(map[string]json.RawMessage, len(e.extra)+2)
	for k, v := range e.extra {
		fields[k] = v
	}
	fields[FieldMetadata] = meta
	if e.Data != nil {
		fields[FieldData] = e.Data
	}
	return writeObject(fields)
}

func (m RetryMetadata) encode() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(m.extra)+3)
	for k, v := range m.extra {
		fields[k] = v
	}

	id, err := json.Marshal(m.MessageID)
	if err != nil {
		return nil, err
	}
	fields[FieldMessageID] = id
	fields[FieldRetryCount] = json.RawMessage(strconv.Itoa(m.RetryCount))
	if m.NextRetryTime != nil {
		fields[FieldNextRetryTime] = json.RawMessage(strconv.Quote(m.NextRetryTime.UTC().Format(RetryTimeLayout)))
	}
	return writeObject(fields)
}

// writeObject writes a JSON object with sorted keys without re-encoding the
// values, so whitespace inside raw values survives.
func writeObject(fields map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(fields[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

package retry

import (
	"go-retry/pkg/models"
)

// Record is one failed message as delivered by the failure source.
type Record struct {
	Body       []byte
	Attributes map[string]string
}

// Notification is what one controller pass receives. Delivery is expected
// to be batch-of-one; records after the first are not processed.
type Notification struct {
	Records []Record
}

// NotificationFromMessage wraps a consumed message as a single-record
// notification.
func NotificationFromMessage(msg *models.Message) Notification {
	return Notification{
		Records: []Record{{
			Body:       msg.Value,
			Attributes: msg.Headers,
		}},
	}
}

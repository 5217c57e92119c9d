package webhooks

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-guardrelay/core"
)

// rawFields holds one level of the Meta envelope. Fields are read leniently: a value of the
// wrong JSON type reads as empty, so a malformed branch only drops itself.
type rawFields map[string]json.RawMessage

func (f rawFields) str(key string) string {
	raw, ok := f[key]
	if !ok {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}

// array returns the elements of an array field, or nil when the field is absent or not an array.
func (f rawFields) array(key string) []json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(f[key], &items); err != nil {
		return nil
	}
	return items
}

func (f rawFields) object(key string) rawFields {
	var nested rawFields
	if !decodeObject(f[key], &nested) {
		return nil
	}
	return nested
}

// ParseEvents extracts inbound events from a verified body. ok is false when the body is not
// a JSON object or its object discriminator differs from object; events is then empty.
// Within one value, messages precede statuses and both keep array order.
func ParseEvents(body []byte, object string, receivedAt time.Time) (events []core.InboundEvent, ok bool) {
	var envelope rawFields
	if !decodeObject(body, &envelope) {
		return nil, false
	}
	if strings.TrimSpace(object) == "" {
		object = core.DefaultWebhookObject
	}
	if envelope.str("object") != object {
		return nil, false
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	for _, entryRaw := range envelope.array("entry") {
		var entry rawFields
		if !decodeObject(entryRaw, &entry) {
			continue
		}
		for _, changeRaw := range entry.array("changes") {
			var change rawFields
			if !decodeObject(changeRaw, &change) {
				continue
			}
			value := change.object("value")
			if value == nil {
				continue
			}
			events = append(events, valueEvents(value, receivedAt)...)
		}
	}
	return events, true
}

func valueEvents(value rawFields, receivedAt time.Time) []core.InboundEvent {
	metadata := value.object("metadata")
	messages := value.array("messages")
	statuses := value.array("statuses")

	events := make([]core.InboundEvent, 0, len(messages)+len(statuses))
	for _, messageRaw := range messages {
		var message rawFields
		if !decodeObject(messageRaw, &message) {
			continue
		}
		incoming := core.IncomingMessage{
			ID:            message.str("id"),
			From:          message.str("from"),
			Timestamp:     message.str("timestamp"),
			Type:          message.str("type"),
			PhoneNumberID: metadata.str("phone_number_id"),
			DisplayPhone:  metadata.str("display_phone_number"),
			Raw:           cloneRaw(messageRaw),
			ReceivedAt:    receivedAt,
		}
		if incoming.Type == "text" {
			incoming.Text = message.object("text").str("body")
		}
		events = append(events, core.InboundEvent{Kind: core.InboundEventMessage, Message: &incoming})
	}
	for _, statusRaw := range statuses {
		var status rawFields
		if !decodeObject(statusRaw, &status) {
			continue
		}
		delivery := core.DeliveryStatus{
			ID:            status.str("id"),
			Status:        status.str("status"),
			RecipientID:   status.str("recipient_id"),
			Timestamp:     status.str("timestamp"),
			PhoneNumberID: metadata.str("phone_number_id"),
			Raw:           cloneRaw(statusRaw),
			ReceivedAt:    receivedAt,
		}
		events = append(events, core.InboundEvent{Kind: core.InboundEventStatus, Status: &delivery})
	}
	return events
}

// decodeObject only accepts JSON objects.
func decodeObject(raw []byte, target any) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Unmarshal(trimmed, target) == nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

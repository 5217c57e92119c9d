package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func inboundMessageHandlers() repository.ModelHandlers[*inboundMessageRecord] {
	return repository.ModelHandlers[*inboundMessageRecord]{
		NewRecord: func() *inboundMessageRecord {
			return &inboundMessageRecord{}
		},
		GetID: func(record *inboundMessageRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *inboundMessageRecord, id uuid.UUID) {
			if record != nil {
				record.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "message_id"
		},
		GetIdentifierValue: func(record *inboundMessageRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.MessageID)
		},
	}
}

func deliveryStatusHandlers() repository.ModelHandlers[*deliveryStatusRecord] {
	return repository.ModelHandlers[*deliveryStatusRecord]{
		NewRecord: func() *deliveryStatusRecord {
			return &deliveryStatusRecord{}
		},
		GetID: func(record *deliveryStatusRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *deliveryStatusRecord, id uuid.UUID) {
			if record != nil {
				record.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *deliveryStatusRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

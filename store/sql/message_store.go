package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-guardrelay/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultListLimit = 50

// MessageStore persists verified webhook messages and delivery statuses.
// Redelivered webhooks are absorbed: a message id, or a message id and status pair, is
// stored once.
type MessageStore struct {
	db       *bun.DB
	messages repository.Repository[*inboundMessageRecord]
	statuses repository.Repository[*deliveryStatusRecord]
	now      func() time.Time
}

func NewMessageStore(db *bun.DB) (*MessageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	messages := repository.NewRepository[*inboundMessageRecord](db, inboundMessageHandlers())
	if validator, ok := messages.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid inbound message repository wiring: %w", err)
		}
	}
	statuses := repository.NewRepository[*deliveryStatusRecord](db, deliveryStatusHandlers())
	if validator, ok := statuses.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery status repository wiring: %w", err)
		}
	}
	return &MessageStore{db: db, messages: messages, statuses: statuses, now: time.Now}, nil
}

// NewMessageStoreFromPersistence accepts a *bun.DB or anything exposing DB() *bun.DB,
// such as a go-persistence-bun client.
func NewMessageStoreFromPersistence(client any) (*MessageStore, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	return NewMessageStore(db)
}

func (s *MessageStore) HandleMessage(ctx context.Context, msg core.IncomingMessage) error {
	if s == nil || s.messages == nil {
		return fmt.Errorf("sqlstore: message store is not configured")
	}
	record := &inboundMessageRecord{
		ID:            uuid.NewString(),
		MessageID:     strings.TrimSpace(msg.ID),
		Sender:        strings.TrimSpace(msg.From),
		MessageType:   strings.TrimSpace(msg.Type),
		Body:          msg.Text,
		SentAt:        strings.TrimSpace(msg.Timestamp),
		PhoneNumberID: strings.TrimSpace(msg.PhoneNumberID),
		DisplayPhone:  strings.TrimSpace(msg.DisplayPhone),
		Raw:           rawText(msg.Raw),
		ReceivedAt:    s.receivedAt(msg.ReceivedAt),
	}
	if _, err := s.messages.Create(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("sqlstore: store inbound message %q: %w", record.MessageID, err)
	}
	return nil
}

func (s *MessageStore) HandleStatus(ctx context.Context, status core.DeliveryStatus) error {
	if s == nil || s.statuses == nil {
		return fmt.Errorf("sqlstore: message store is not configured")
	}
	record := &deliveryStatusRecord{
		ID:            uuid.NewString(),
		MessageID:     strings.TrimSpace(status.ID),
		Status:        strings.TrimSpace(status.Status),
		RecipientID:   strings.TrimSpace(status.RecipientID),
		SentAt:        strings.TrimSpace(status.Timestamp),
		PhoneNumberID: strings.TrimSpace(status.PhoneNumberID),
		Raw:           rawText(status.Raw),
		ReceivedAt:    s.receivedAt(status.ReceivedAt),
	}
	if _, err := s.statuses.Create(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("sqlstore: store delivery status %q/%q: %w", record.MessageID, record.Status, err)
	}
	return nil
}

// ListMessages returns stored messages newest first, with the unpaginated total.
func (s *MessageStore) ListMessages(ctx context.Context, filter core.InboundMessageFilter) (core.InboundMessagePage, error) {
	if s == nil || s.messages == nil {
		return core.InboundMessagePage{}, fmt.Errorf("sqlstore: message store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := max(filter.Offset, 0)

	selectors := []repository.SelectCriteria{
		repository.OrderBy("received_at DESC"),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, offset),
	}
	if sender := strings.TrimSpace(filter.Sender); sender != "" {
		selectors = append(selectors, repository.SelectBy("sender", "=", sender))
	}
	if messageType := strings.TrimSpace(filter.Type); messageType != "" {
		selectors = append(selectors, repository.SelectBy("message_type", "=", messageType))
	}
	if !filter.Since.IsZero() {
		selectors = append(selectors, repository.SelectByTimetz("received_at", ">=", filter.Since.UTC()))
	}

	records, total, err := s.messages.List(ctx, selectors...)
	if err != nil {
		return core.InboundMessagePage{}, fmt.Errorf("sqlstore: list inbound messages: %w", err)
	}
	page := core.InboundMessagePage{Items: make([]core.IncomingMessage, 0, len(records)), Total: total}
	for _, record := range records {
		page.Items = append(page.Items, messageToDomain(record))
	}
	return page, nil
}

// StatusHistory returns every stored status for a message in arrival order.
func (s *MessageStore) StatusHistory(ctx context.Context, messageID string) ([]core.DeliveryStatus, error) {
	if s == nil || s.statuses == nil {
		return nil, fmt.Errorf("sqlstore: message store is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, fmt.Errorf("sqlstore: message id is required")
	}
	records, _, err := s.statuses.List(ctx,
		repository.SelectBy("message_id", "=", messageID),
		repository.OrderBy("received_at ASC"),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list delivery statuses: %w", err)
	}
	out := make([]core.DeliveryStatus, 0, len(records))
	for _, record := range records {
		out = append(out, statusToDomain(record))
	}
	return out, nil
}

func (s *MessageStore) receivedAt(at time.Time) time.Time {
	if at.IsZero() {
		at = s.now()
	}
	return at.UTC()
}

func messageToDomain(record *inboundMessageRecord) core.IncomingMessage {
	if record == nil {
		return core.IncomingMessage{}
	}
	return core.IncomingMessage{
		ID:            record.MessageID,
		From:          record.Sender,
		Timestamp:     record.SentAt,
		Type:          record.MessageType,
		Text:          record.Body,
		PhoneNumberID: record.PhoneNumberID,
		DisplayPhone:  record.DisplayPhone,
		Raw:           json.RawMessage(record.Raw),
		ReceivedAt:    record.ReceivedAt.UTC(),
	}
}

func statusToDomain(record *deliveryStatusRecord) core.DeliveryStatus {
	if record == nil {
		return core.DeliveryStatus{}
	}
	return core.DeliveryStatus{
		ID:            record.MessageID,
		Status:        record.Status,
		RecipientID:   record.RecipientID,
		Timestamp:     record.SentAt,
		PhoneNumberID: record.PhoneNumberID,
		Raw:           json.RawMessage(record.Raw),
		ReceivedAt:    record.ReceivedAt.UTC(),
	}
}

func rawText(raw json.RawMessage) string {
	if trimmed := strings.TrimSpace(string(raw)); trimmed != "" && json.Valid(raw) {
		return trimmed
	}
	return "{}"
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

var _ core.MessageHandler = (*MessageStore)(nil)

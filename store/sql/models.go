package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type inboundMessageRecord struct {
	bun.BaseModel `bun:"table:relay_inbound_messages,alias:rim"`

	ID            string    `bun:"id,pk"`
	MessageID     string    `bun:"message_id,notnull"`
	Sender        string    `bun:"sender,notnull"`
	MessageType   string    `bun:"message_type,notnull"`
	Body          string    `bun:"body,notnull"`
	SentAt        string    `bun:"sent_at,notnull"`
	PhoneNumberID string    `bun:"phone_number_id,notnull"`
	DisplayPhone  string    `bun:"display_phone,notnull"`
	Raw           string    `bun:"raw,notnull"`
	ReceivedAt    time.Time `bun:"received_at,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryStatusRecord struct {
	bun.BaseModel `bun:"table:relay_delivery_statuses,alias:rds"`

	ID            string    `bun:"id,pk"`
	MessageID     string    `bun:"message_id,notnull"`
	Status        string    `bun:"status,notnull"`
	RecipientID   string    `bun:"recipient_id,notnull"`
	SentAt        string    `bun:"sent_at,notnull"`
	PhoneNumberID string    `bun:"phone_number_id,notnull"`
	Raw           string    `bun:"raw,notnull"`
	ReceivedAt    time.Time `bun:"received_at,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

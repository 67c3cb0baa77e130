package store

// Message kinds carried over the relay.
const (
	KindText  = "text"
	KindFile  = "file"
	KindImage = "image"
)

// Delivery statuses for messages. Outbound messages are "sent" once emitted
// and "unsent" when the transport had no live connection; inbound messages
// are "received".
const (
	DeliverySent     = "sent"
	DeliveryUnsent   = "unsent"
	DeliveryReceived = "received"
)

// Contact is a known conversation partner. GroupID is nil until the
// one-to-one conversation is first resolved.
type Contact struct {
	UserID             int64
	Email              string
	DisplayName        string
	GroupID            *int64
	LastMessagePreview string
	UnreadCount        int
}

// Message is one entry of a conversation log. CorrelationID is the
// client-generated id on outbound messages and the idempotency key in the
// cache. Kind "text" carries Body; "file" and "image" carry FileURL.
type Message struct {
	ID             int64
	GroupID        int64
	CorrelationID  string
	SenderID       int64
	Kind           string
	Body           string
	FileURL        string
	DeliveryStatus string
	ArrivedAt      int64
}

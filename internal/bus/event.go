package bus

import "time"

// Event kinds published by chatcore components. Subscribers filter by
// namespace prefix, so "relay." matches every relay event and so on.
const (
	// relay.* — inbound traffic republished from the transport bridge.
	KindRelayMessage      = "relay.message" // payload *store.Message
	KindRelayTyping       = "relay.typing"  // payload transport.TypingEvent
	KindRelayHistory      = "relay.history" // payload []*store.Message
	KindRelayConnected    = "relay.connected"
	KindRelayDisconnected = "relay.disconnected"

	// conversation.* — active session activity.
	KindConversationState    = "conversation.state_changed" // payload StateChange
	KindConversationAppended = "conversation.appended"      // payload *store.Message
	KindConversationTyping   = "conversation.typing"        // payload TypingChange

	// session.outbound — a locally sent message, for cache ingestion.
	KindSessionOutbound = "session.outbound" // payload *store.Message

	// directory.* — contact list changes (previews, unread counters).
	KindDirectoryLoaded  = "directory.loaded"
	KindDirectoryUpdated = "directory.updated"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

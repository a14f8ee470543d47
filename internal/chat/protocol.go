package chat

// Client and server speak the same envelope shape: a JSON object with
// a "type" discriminator and type-specific fields alongside it.

const (
	TypeChatMessage           = "chat_message"
	TypeTyping                = "typing"
	TypeReadReceipt           = "read_receipt"
	TypeConnectionEstablished = "connection_established"
)

// Envelope is the inbound frame. Fields beyond Type are only
// meaningful for their corresponding message type.
type Envelope struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	IsTyping  *bool  `json:"is_typing,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

type connectionEstablishedEvent struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

type chatMessageEvent struct {
	Type    string      `json:"type"`
	Message WireMessage `json:"message"`
}

type typingEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type readReceiptEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

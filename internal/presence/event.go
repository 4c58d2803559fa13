package presence

import "encoding/json"

// Event types exchanged with websocket clients.
const (
	EventJoinConversation    = "join_conversation"
	EventLeaveConversation   = "leave_conversation"
	EventSendMessage         = "send_message"
	EventMarkRead            = "mark_read"
	EventTypingStart         = "typing_start"
	EventTypingEnd           = "typing_end"
	EventNewMessage          = "new_message"
	EventMessagesRead        = "messages_read"
	EventUserTyping          = "user_typing"
	EventConversationUpdated = "conversation_updated"
	EventNotification        = "notification"
	EventError               = "error"
)

// Envelope is the JSON frame used in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals an outbound frame.
func Encode(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: kind, Payload: raw})
}

type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

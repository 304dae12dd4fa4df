package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeSlotUpdated MessageType = "slot-updated"
	TypeLotUpdated  MessageType = "lot-updated"
	TypeLotDeleted  MessageType = "lot-deleted"

	// Client -> Server command types
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePing        MessageType = "ping"

	// Server -> Client response types
	TypeSubscribeAck   MessageType = "subscribe.ack"
	TypeUnsubscribeAck MessageType = "unsubscribe.ack"
	TypePong           MessageType = "pong"
	TypeError          MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// Command is a message sent by a client.
type Command struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscriptionPayload is the payload of subscribe and unsubscribe commands and their acks.
type SubscriptionPayload struct {
	LotID string   `json:"lot_id,omitempty"`
	Lots  []string `json:"lots,omitempty"`
}

// LotDeletedPayload is the payload for lot-deleted events.
type LotDeletedPayload struct {
	LotID string `json:"lot_id"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}

// HandleCommand applies a client command and returns the encoded reply.
func (c *Client) HandleCommand(data []byte) []byte {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errorReply("invalid_message", "message is not valid JSON", "")
	}

	switch cmd.Type {
	case TypePing:
		return encode(NewMessage(TypePong, nil))

	case TypeSubscribe, TypeUnsubscribe:
		var p SubscriptionPayload
		if len(cmd.Payload) > 0 {
			if err := json.Unmarshal(cmd.Payload, &p); err != nil {
				return errorReply("invalid_payload", "payload must be an object with lot_id", string(cmd.Type))
			}
		}
		if p.LotID == "" {
			return errorReply("invalid_payload", "lot_id is required", string(cmd.Type))
		}
		ack := TypeSubscribeAck
		if cmd.Type == TypeSubscribe {
			c.Subscribe(p.LotID)
		} else {
			c.Unsubscribe(p.LotID)
			ack = TypeUnsubscribeAck
		}
		return encode(NewMessage(ack, SubscriptionPayload{LotID: p.LotID, Lots: c.Subscriptions()}))

	default:
		return errorReply("unknown_command", fmt.Sprintf("unknown command %q", cmd.Type), string(cmd.Type))
	}
}

func errorReply(code, message, original string) []byte {
	return encode(NewMessage(TypeError, ErrorPayload{Code: code, Message: message, OriginalType: original}))
}

func encode(m Message) []byte {
	data, err := m.JSON()
	if err != nil {
		return nil
	}
	return data
}

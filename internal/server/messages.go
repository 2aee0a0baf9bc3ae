package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/npezzotti/go-chatfanout/internal/types"
)

const (
	TypeMessage           = "message"
	TypeTyping            = "typing"
	TypeReadReceipt       = "read_receipt"
	TypePresence          = "presence"
	TypeError             = "error"
	TypeModerationWarning = "moderation_warning"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names in validation errors
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ClientMessage is an inbound event. Type selects the variant; the other
// fields are used depending on it.
type ClientMessage struct {
	Type      string `json:"type" validate:"required"`
	ChannelId string `json:"channel_id" validate:"required_unless=Type presence"`
	Content   string `json:"content" validate:"required_if=Type message"`
	MessageId string `json:"message_id" validate:"required_if=Type read_receipt"`
	Status    string `json:"status" validate:"required_if=Type presence"`
}

func (m *ClientMessage) Known() bool {
	switch m.Type {
	case TypeMessage, TypeTyping, TypeReadReceipt, TypePresence:
		return true
	}
	return false
}

func (m *ClientMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s is required", verrs[0].Field())
		}
		return err
	}

	if m.Type == TypePresence {
		switch types.Status(m.Status) {
		case types.StatusOnline, types.StatusAway:
		default:
			return fmt.Errorf("unsupported status %q", m.Status)
		}
	}

	return nil
}

// ServerMessage is an outbound event. Only the fields relevant to Type are
// set.
type ServerMessage struct {
	Type       string          `json:"type"`
	Id         string          `json:"id,omitempty"`
	ChannelId  string          `json:"channel_id,omitempty"`
	UserId     string          `json:"user_id,omitempty"`
	Content    string          `json:"content,omitempty"`
	MessageId  string          `json:"message_id,omitempty"`
	Status     types.Status    `json:"status,omitempty"`
	Message    string          `json:"message,omitempty"`
	Categories map[string]bool `json:"categories,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitzero"`
}

// MarshalJSON keeps the content key on chat messages even when it is empty.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	type wire ServerMessage
	if m.Type != TypeMessage {
		return json.Marshal(wire(m))
	}
	return json.Marshal(struct {
		wire
		Content string `json:"content"`
	}{wire(m), m.Content})
}

func NewChatMessage(channelId, userId, content string, ts time.Time) *ServerMessage {
	return &ServerMessage{
		Type:      TypeMessage,
		Id:        uuid.NewString(),
		ChannelId: channelId,
		UserId:    userId,
		Content:   content,
		Timestamp: ts,
	}
}

func NewTyping(channelId, userId string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTyping,
		ChannelId: channelId,
		UserId:    userId,
	}
}

func NewReadReceipt(channelId, userId, messageId string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeReadReceipt,
		ChannelId: channelId,
		UserId:    userId,
		MessageId: messageId,
	}
}

func NewPresence(userId string, status types.Status, ts time.Time) *ServerMessage {
	return &ServerMessage{
		Type:      TypePresence,
		UserId:    userId,
		Status:    status,
		Timestamp: ts,
	}
}

func NewModerationWarning(categories map[string]bool) *ServerMessage {
	return &ServerMessage{
		Type:       TypeModerationWarning,
		Message:    "Your message was flagged by AI moderation",
		Categories: categories,
	}
}

func ErrRateLimited(max int, window time.Duration) *ServerMessage {
	return &ServerMessage{
		Type:    TypeError,
		Message: fmt.Sprintf("Rate limit exceeded (%d messages/%s)", max, windowUnit(window)),
	}
}

func ErrInvalidMessage(reason string) *ServerMessage {
	return &ServerMessage{
		Type:    TypeError,
		Message: "invalid message: " + reason,
	}
}

func ErrServiceUnavailable() *ServerMessage {
	return &ServerMessage{
		Type:    TypeError,
		Message: "Service temporarily unavailable",
	}
}

func windowUnit(d time.Duration) string {
	switch d {
	case time.Minute:
		return "min"
	case time.Second:
		return "sec"
	case time.Hour:
		return "hour"
	}
	return d.String()
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

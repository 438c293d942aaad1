package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEventValidate(t *testing.T) {
	valid := []ChannelEvent{
		{Type: EventAuthenticate, Token: "tok", ContactID: "alice"},
		{Type: EventSendMessage, RecipientContactID: "bob", Content: "hi", ClientMessageID: "id"},
		{Type: EventMessageDelivered, MessageID: "m1"},
		{Type: EventMessageRead, MessageID: "m1"},
		{Type: EventTypingStart},
		{Type: EventTypingStop},
		{Type: EventHeartbeat},
	}
	for _, ev := range valid {
		require.NoError(t, ev.Validate(), "type %s", ev.Type)
	}

	invalid := []ChannelEvent{
		{Type: EventAuthenticate, ContactID: "alice"},
		{Type: EventAuthenticate, Token: "tok"},
		{Type: EventSendMessage, Content: "hi", ClientMessageID: "id"},
		{Type: EventSendMessage, RecipientContactID: "bob", ClientMessageID: "id"},
		{Type: EventSendMessage, RecipientContactID: "bob", Content: "hi"},
		{Type: EventMessageDelivered},
		{Type: EventMessageRead},
	}
	for _, ev := range invalid {
		assert.Error(t, ev.Validate(), "type %s", ev.Type)
	}
}

func TestChannelEventValidateRejectsServerVariants(t *testing.T) {
	serverOnly := []EventType{
		EventAuthenticated,
		EventAuthError,
		EventNewMessage,
		EventUserOnline,
		EventUserOffline,
		EventHeartbeatAck,
		EventSuperseded,
		EventError,
	}
	for _, typ := range serverOnly {
		ev := ChannelEvent{Type: typ}
		assert.Error(t, ev.Validate(), "type %s", typ)
	}
}

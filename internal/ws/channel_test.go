package ws

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"securelink/internal/auth"
	"securelink/internal/delivery"
	"securelink/internal/mocks"
	"securelink/internal/models"
	"securelink/internal/presence"
	"securelink/internal/registry"
	"securelink/internal/repositories"
)

type wsFixture struct {
	server   *httptest.Server
	verifier *auth.Verifier
	registry *registry.Registry
	messages *mocks.MessageRepositoryMock
	contacts *mocks.ContactRepositoryMock
}

func setupWSServer(t *testing.T) *wsFixture {
	gin.SetMode(gin.TestMode)

	f := &wsFixture{
		verifier: auth.NewVerifier("secret", "securelink"),
		registry: registry.New(time.Minute, time.Minute),
		messages: new(mocks.MessageRepositoryMock),
		contacts: new(mocks.ContactRepositoryMock),
	}

	presenceRepo := new(mocks.PresenceRepositoryMock)
	presenceRepo.On("SetOnline", mock.Anything, mock.Anything).Return(nil).Maybe()
	presenceRepo.On("SetOffline", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	tracker := presence.NewTracker(f.registry, presenceRepo, time.Minute)
	t.Cleanup(tracker.Close)

	coordinator := delivery.NewCoordinator(f.messages, f.contacts, f.registry, new(mocks.NotifierMock), 100)
	handler := NewChannelHandler(f.registry, tracker, coordinator, f.verifier, time.Second, 8)

	r := gin.New()
	r.GET("/ws", handler.Handle)
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ChannelEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.ChannelEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func (f *wsFixture) token(t *testing.T, contactID string) string {
	t.Helper()
	token, err := f.verifier.GenerateToken(auth.Principal{ID: "p-" + contactID, ContactID: contactID}, time.Minute)
	require.NoError(t, err)
	return token
}

func TestChannelAuthenticateAndHeartbeat(t *testing.T) {
	f := setupWSServer(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{
		Type:      models.EventAuthenticate,
		Token:     f.token(t, "alice"),
		ContactID: "alice",
		DeviceID:  "d1",
	}))

	ev := readEvent(t, conn)
	require.Equal(t, models.EventAuthenticated, ev.Type)
	require.Equal(t, "alice", ev.ContactID)

	require.Eventually(t, func() bool {
		_, online := f.registry.Lookup("alice")
		return online
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{Type: models.EventHeartbeat}))
	ev = readEvent(t, conn)
	require.Equal(t, models.EventHeartbeatAck, ev.Type)
}

func TestChannelRejectsBadToken(t *testing.T) {
	f := setupWSServer(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{
		Type:      models.EventAuthenticate,
		Token:     "forged",
		ContactID: "alice",
	}))

	ev := readEvent(t, conn)
	require.Equal(t, models.EventAuthError, ev.Type)
	require.Equal(t, models.CodeInvalidToken, ev.Code)

	_, online := f.registry.Lookup("alice")
	require.False(t, online)
}

func TestChannelRejectsMismatchedContact(t *testing.T) {
	f := setupWSServer(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{
		Type:      models.EventAuthenticate,
		Token:     f.token(t, "alice"),
		ContactID: "bob",
	}))

	ev := readEvent(t, conn)
	require.Equal(t, models.EventAuthError, ev.Type)
	require.Equal(t, models.CodeNotAuthorized, ev.Code)
}

func TestChannelFirstEventMustAuthenticate(t *testing.T) {
	f := setupWSServer(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{Type: models.EventHeartbeat}))

	ev := readEvent(t, conn)
	require.Equal(t, models.EventAuthError, ev.Type)
	require.Equal(t, models.CodeBadEvent, ev.Code)
}

func TestChannelSendMessageEchoesCanonicalCopy(t *testing.T) {
	f := setupWSServer(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{
		Type:      models.EventAuthenticate,
		Token:     f.token(t, "alice"),
		ContactID: "alice",
	}))
	require.Equal(t, models.EventAuthenticated, readEvent(t, conn).Type)

	const msgID = "5f1c6f44-2c3b-4a8e-9f0d-9b1a2c3d4e5f"
	f.contacts.On("GetByContactID", mock.Anything, "bob").
		Return(models.Contact{PrincipalID: "p-bob", ContactID: "bob"}, nil).Once()
	f.messages.On("SaveConversationPair", mock.Anything, mock.Anything).
		Return(repositories.SaveResult{Inserted: true}, nil).Once()

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{
		Type:               models.EventSendMessage,
		RecipientContactID: "bob",
		Content:            "hello",
		ClientMessageID:    msgID,
		Silent:             true,
	}))

	ev := readEvent(t, conn)
	require.Equal(t, models.EventNewMessage, ev.Type)
	require.NotNil(t, ev.Message)
	require.Equal(t, msgID, ev.Message.ID)
	require.Equal(t, models.StatusSent, ev.Message.Status)
}

func TestChannelSendRunsOnLiveRequestContext(t *testing.T) {
	f := setupWSServer(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{
		Type:      models.EventAuthenticate,
		Token:     f.token(t, "alice"),
		ContactID: "alice",
	}))
	require.Equal(t, models.EventAuthenticated, readEvent(t, conn).Type)

	// Repository calls on the channel path run against the upgrade request's
	// context, which must stay live for the whole connection.
	ctxErr := make(chan error, 1)
	f.contacts.On("GetByContactID", mock.Anything, "bob").
		Return(models.Contact{PrincipalID: "p-bob", ContactID: "bob"}, nil).Once()
	f.messages.On("SaveConversationPair", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctxErr <- args.Get(0).(context.Context).Err()
		}).
		Return(repositories.SaveResult{Inserted: true}, nil).Once()

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{
		Type:               models.EventSendMessage,
		RecipientContactID: "bob",
		Content:            "hello",
		ClientMessageID:    "5f1c6f44-2c3b-4a8e-9f0d-9b1a2c3d4e5f",
		Silent:             true,
	}))

	require.Equal(t, models.EventNewMessage, readEvent(t, conn).Type)
	require.NoError(t, <-ctxErr)
}

func TestChannelClosesOnOversizedFrame(t *testing.T) {
	f := setupWSServer(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{
		Type:      models.EventAuthenticate,
		Token:     f.token(t, "alice"),
		ContactID: "alice",
	}))
	require.Equal(t, models.EventAuthenticated, readEvent(t, conn).Type)
	require.Eventually(t, func() bool {
		_, online := f.registry.Lookup("alice")
		return online
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, bytes.Repeat([]byte("a"), 70<<10)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.ChannelEvent
	require.Error(t, conn.ReadJSON(&ev))

	require.Eventually(t, func() bool {
		_, online := f.registry.Lookup("alice")
		return !online
	}, time.Second, 10*time.Millisecond)
}

func TestChannelSendRejectionCarriesMessageID(t *testing.T) {
	f := setupWSServer(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(models.ChannelEvent{
		Type:      models.EventAuthenticate,
		Token:     f.token(t, "alice"),
		ContactID: "alice",
	}))
	require.Equal(t, models.EventAuthenticated, readEvent(t, conn).Type)

	// Self-send is refused; the error names the offending client message id
	// so the sender can mark exactly that message failed.
	require.NoError(t, conn.WriteJSON(models.ChannelEvent{
		Type:               models.EventSendMessage,
		RecipientContactID: "alice",
		Content:            "hello",
		ClientMessageID:    "5f1c6f44-2c3b-4a8e-9f0d-9b1a2c3d4e5f",
	}))

	ev := readEvent(t, conn)
	require.Equal(t, models.EventError, ev.Type)
	require.Equal(t, models.CodeSendRejected, ev.Code)
	require.Equal(t, "5f1c6f44-2c3b-4a8e-9f0d-9b1a2c3d4e5f", ev.MessageID)
}

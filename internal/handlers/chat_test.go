package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"securelink/internal/delivery"
	"securelink/internal/mocks"
	"securelink/internal/models"
	"securelink/internal/presence"
	"securelink/internal/registry"
)

type chatFixture struct {
	chats    *mocks.ChatRepositoryMock
	messages *mocks.MessageRepositoryMock
	contacts *mocks.ContactRepositoryMock
	presence *mocks.PresenceRepositoryMock
	registry *registry.Registry
	router   *gin.Engine
}

type noopChannel struct{}

func (noopChannel) Send(models.ChannelEvent) error { return nil }
func (noopChannel) Close()                         {}

func setupChatRouter(t *testing.T) *chatFixture {
	gin.SetMode(gin.TestMode)

	f := &chatFixture{
		chats:    new(mocks.ChatRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		contacts: new(mocks.ContactRepositoryMock),
		presence: new(mocks.PresenceRepositoryMock),
		registry: registry.New(time.Minute, time.Minute),
	}

	tracker := presence.NewTracker(f.registry, f.presence, time.Minute)
	t.Cleanup(tracker.Close)
	coordinator := delivery.NewCoordinator(f.messages, f.contacts, f.registry, new(mocks.NotifierMock), 100)
	handler := NewChatHandler(f.chats, f.messages, f.contacts, coordinator, tracker, f.registry, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("contactID", "alice")
		c.Next()
	})
	r.GET("/chats", handler.ListChats)
	r.GET("/chats/:contact_id/messages", handler.GetConversation)
	r.POST("/chats/:contact_id/read", handler.MarkConversationRead)
	r.PUT("/contacts/me/push-token", handler.SetPushToken)
	r.GET("/presence/:contact_id", handler.GetPresence)
	f.router = r
	return f
}

func TestListChatsMergesLiveOnlineFlags(t *testing.T) {
	f := setupChatRouter(t)
	f.registry.Register("p-bob", "bob", "d1", noopChannel{})

	f.chats.On("ListChats", mock.Anything, "alice").Return([]models.ChatSummary{
		{OwnerContactID: "alice", ContactID: "bob", UnreadCount: 2},
		{OwnerContactID: "alice", ContactID: "carol"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chats []models.ChatSummary `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Chats, 2)
	require.True(t, resp.Chats[0].IsOnline)
	require.False(t, resp.Chats[1].IsOnline)
	f.chats.AssertExpectations(t)
}

func TestListChatsRepoError(t *testing.T) {
	f := setupChatRouter(t)

	f.chats.On("ListChats", mock.Anything, "alice").
		Return(([]models.ChatSummary)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetConversationEmpty(t *testing.T) {
	f := setupChatRouter(t)

	f.messages.On("ListConversation", mock.Anything, "alice", "bob").
		Return(([]models.Message)(nil), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats/bob/messages", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Messages)
	require.Empty(t, resp.Messages)
}

func TestMarkConversationRead(t *testing.T) {
	f := setupChatRouter(t)

	f.messages.On("MarkConversationRead", mock.Anything, "alice", "bob").
		Return([]string{"m1", "m2"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/bob/read", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 2, resp["marked_read"])
	f.messages.AssertExpectations(t)
}

func TestSetPushToken(t *testing.T) {
	f := setupChatRouter(t)

	f.contacts.On("SetPushToken", mock.Anything, "alice", "ExponentPushToken[abc]", true).
		Return(nil).Once()

	body := bytes.NewBufferString(`{"token":"ExponentPushToken[abc]"}`)
	req := httptest.NewRequest(http.MethodPut, "/contacts/me/push-token", body)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	f.contacts.AssertExpectations(t)
}

func TestSetPushTokenDisabled(t *testing.T) {
	f := setupChatRouter(t)

	f.contacts.On("SetPushToken", mock.Anything, "alice", "", false).
		Return(nil).Once()

	body := bytes.NewBufferString(`{"token":"","enabled":false}`)
	req := httptest.NewRequest(http.MethodPut, "/contacts/me/push-token", body)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	f.contacts.AssertExpectations(t)
}

func TestGetPresenceOverriddenByRegistry(t *testing.T) {
	f := setupChatRouter(t)
	f.registry.Register("p-bob", "bob", "d1", noopChannel{})

	// The store still says offline; the live connection wins.
	f.presence.On("Get", mock.Anything, "bob").
		Return(models.Presence{ContactID: "bob", IsOnline: false}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/presence/bob", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.Presence
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.IsOnline)
}

func TestGetPresenceOffline(t *testing.T) {
	f := setupChatRouter(t)

	lastSeen := time.Now().Add(-time.Hour)
	f.presence.On("Get", mock.Anything, "bob").
		Return(models.Presence{ContactID: "bob", IsOnline: false, LastSeen: &lastSeen}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/presence/bob", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.Presence
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.False(t, resp.IsOnline)
	require.NotNil(t, resp.LastSeen)
}

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"securelink/internal/models"
	"securelink/internal/push"
	"securelink/internal/repositories"
)

type ContactRepositoryMock struct {
	mock.Mock
}

func (m *ContactRepositoryMock) GetByContactID(ctx context.Context, contactID string) (models.Contact, error) {
	args := m.Called(ctx, contactID)
	var contact models.Contact
	if val := args.Get(0); val != nil {
		contact = val.(models.Contact)
	}
	return contact, args.Error(1)
}

func (m *ContactRepositoryMock) GetByPrincipalID(ctx context.Context, principalID string) (models.Contact, error) {
	args := m.Called(ctx, principalID)
	var contact models.Contact
	if val := args.Get(0); val != nil {
		contact = val.(models.Contact)
	}
	return contact, args.Error(1)
}

func (m *ContactRepositoryMock) SetPushToken(ctx context.Context, contactID string, token string, enabled bool) error {
	args := m.Called(ctx, contactID, token, enabled)
	return args.Error(0)
}

func (m *ContactRepositoryMock) ClearPushToken(ctx context.Context, contactID string) error {
	args := m.Called(ctx, contactID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) SaveConversationPair(ctx context.Context, msg models.Message) (repositories.SaveResult, error) {
	args := m.Called(ctx, msg)
	var res repositories.SaveResult
	if val := args.Get(0); val != nil {
		res = val.(repositories.SaveResult)
	}
	return res, args.Error(1)
}

func (m *MessageRepositoryMock) ListConversation(ctx context.Context, ownerContactID, counterpartContactID string) ([]models.Message, error) {
	args := m.Called(ctx, ownerContactID, counterpartContactID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) AdvanceStatus(ctx context.Context, messageID string, to models.MessageStatus) (bool, string, error) {
	args := m.Called(ctx, messageID, to)
	return args.Bool(0), args.String(1), args.Error(2)
}

func (m *MessageRepositoryMock) MarkConversationRead(ctx context.Context, ownerContactID, counterpartContactID string) ([]string, error) {
	args := m.Called(ctx, ownerContactID, counterpartContactID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) ListChats(ctx context.Context, ownerContactID string) ([]models.ChatSummary, error) {
	args := m.Called(ctx, ownerContactID)
	var chats []models.ChatSummary
	if val := args.Get(0); val != nil {
		chats = val.([]models.ChatSummary)
	}
	return chats, args.Error(1)
}

type PresenceRepositoryMock struct {
	mock.Mock
}

func (m *PresenceRepositoryMock) SetOnline(ctx context.Context, contactID string) error {
	args := m.Called(ctx, contactID)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) SetOffline(ctx context.Context, contactID string, lastSeen time.Time) error {
	args := m.Called(ctx, contactID, lastSeen)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) Get(ctx context.Context, contactID string) (models.Presence, error) {
	args := m.Called(ctx, contactID)
	var p models.Presence
	if val := args.Get(0); val != nil {
		p = val.(models.Presence)
	}
	return p, args.Error(1)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) Submit(ctx context.Context, contactID string, n push.Notification) (push.Result, error) {
	args := m.Called(ctx, contactID, n)
	var res push.Result
	if val := args.Get(0); val != nil {
		res = val.(push.Result)
	}
	return res, args.Error(1)
}

var _ repositories.ContactRepository = (*ContactRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.ChatRepository = (*ChatRepositoryMock)(nil)
var _ repositories.PresenceRepository = (*PresenceRepositoryMock)(nil)
var _ push.Notifier = (*NotifierMock)(nil)

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"securelink/internal/models"
)

// SendOutcome mirrors the server's reply to a send request.
type SendOutcome struct {
	MessageID        string               `json:"message_id"`
	Status           models.MessageStatus `json:"status"`
	RecipientOnline  bool                 `json:"recipient_online"`
	NotificationSent bool                 `json:"notification_sent"`
}

// apiError is a definitive server rejection, as opposed to a transport
// failure that warrants queueing and retry.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server rejected request: %d %s", e.StatusCode, e.Message)
}

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (a *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &apiError{StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (a *apiClient) sendMessage(ctx context.Context, item QueuedSend) (SendOutcome, error) {
	req := map[string]any{
		"recipient_contact_id": item.RecipientContactID,
		"content":              item.Content,
		"type":                 item.Type,
		"client_message_id":    item.ClientMessageID,
		"silent":               item.Silent,
	}
	var out SendOutcome
	err := a.do(ctx, http.MethodPost, "/messages", req, &out)
	return out, err
}

func (a *apiClient) listChats(ctx context.Context) ([]models.ChatSummary, error) {
	var out struct {
		Chats []models.ChatSummary `json:"chats"`
	}
	err := a.do(ctx, http.MethodGet, "/chats", nil, &out)
	return out.Chats, err
}

func (a *apiClient) listMessages(ctx context.Context, contactID string) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	err := a.do(ctx, http.MethodGet, "/chats/"+contactID+"/messages", nil, &out)
	return out.Messages, err
}

func (a *apiClient) markConversationRead(ctx context.Context, contactID string) error {
	return a.do(ctx, http.MethodPost, "/chats/"+contactID+"/read", nil, nil)
}

func (a *apiClient) markDelivered(ctx context.Context, messageID string) error {
	return a.do(ctx, http.MethodPost, "/messages/"+messageID+"/delivered", nil, nil)
}

package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid push token")

// TokenStore clears push tokens the provider reports as dead.
type TokenStore interface {
	ClearPushToken(ctx context.Context, contactID string) error
}

// Notification is one push submission.
type Notification struct {
	Token    string
	Title    string
	Body     string
	Data     map[string]string
	Priority string
}

// Result reports the provider's verdict.
type Result struct {
	Accepted   bool
	ProviderID string
}

// Notifier is the dispatcher contract consumed by the delivery coordinator.
type Notifier interface {
	Submit(ctx context.Context, contactID string, n Notification) (Result, error)
}

// Dispatcher submits notifications to an Expo-compatible push endpoint with a
// bounded request timeout. A rejected token is a signal to clear the stored
// token, never a fatal error for the send path.
type Dispatcher struct {
	client   *http.Client
	endpoint string
	tokens   TokenStore
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(endpoint string, timeout time.Duration, tokens TokenStore) *Dispatcher {
	return &Dispatcher{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		tokens:   tokens,
	}
}

type pushRequest struct {
	To       string            `json:"to"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"`
	Sound    string            `json:"sound"`
}

type pushResponse struct {
	Data struct {
		Status  string `json:"status"`
		ID      string `json:"id"`
		Message string `json:"message"`
		Details struct {
			Error string `json:"error"`
		} `json:"details"`
	} `json:"data"`
}

// Submit validates the token format and posts the payload. DeviceNotRegistered
// clears the stored token for the contact.
func (d *Dispatcher) Submit(ctx context.Context, contactID string, n Notification) (Result, error) {
	if !ValidToken(n.Token) {
		d.clearToken(ctx, contactID)
		return Result{}, ErrInvalidToken
	}

	payload, err := json.Marshal(pushRequest{
		To:       n.Token,
		Title:    n.Title,
		Body:     n.Body,
		Data:     n.Data,
		Priority: n.Priority,
		Sound:    "default",
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("push submit: %w", err)
	}
	defer resp.Body.Close()

	var parsed pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("push response: %w", err)
	}

	if parsed.Data.Status != "ok" {
		if parsed.Data.Details.Error == "DeviceNotRegistered" {
			d.clearToken(ctx, contactID)
		}
		return Result{Accepted: false}, nil
	}
	return Result{Accepted: true, ProviderID: parsed.Data.ID}, nil
}

func (d *Dispatcher) clearToken(ctx context.Context, contactID string) {
	if d.tokens == nil {
		return
	}
	if err := d.tokens.ClearPushToken(ctx, contactID); err != nil {
		log.Printf("push: clear token for %s failed: %v", contactID, err)
	}
}

// ValidToken reports whether the token has the provider's expected shape.
func ValidToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") && strings.HasSuffix(token, "]") && len(token) > len("ExponentPushToken[]")
}

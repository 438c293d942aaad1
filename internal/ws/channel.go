package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"securelink/internal/auth"
	"securelink/internal/delivery"
	"securelink/internal/models"
	"securelink/internal/observability"
	"securelink/internal/presence"
	"securelink/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ChannelHandler owns the bidirectional channel: upgrade, authenticate-first
// handshake, one dispatch loop per connection, and teardown.
type ChannelHandler struct {
	registry    *registry.Registry
	presence    *presence.Tracker
	coordinator *delivery.Coordinator
	verifier    *auth.Verifier

	authGrace  time.Duration
	sendBuffer int
}

// NewChannelHandler constructs a ChannelHandler.
func NewChannelHandler(reg *registry.Registry, tracker *presence.Tracker, coordinator *delivery.Coordinator, verifier *auth.Verifier, authGrace time.Duration, sendBuffer int) *ChannelHandler {
	return &ChannelHandler{
		registry:    reg,
		presence:    tracker,
		coordinator: coordinator,
		verifier:    verifier,
		authGrace:   authGrace,
		sendBuffer:  sendBuffer,
	}
}

// Handle upgrades the request and runs the connection lifecycle.
func (h *ChannelHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("securelink/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	meta := observability.MetaFromRequest(c.Request)
	info := connInfo{
		ConnID:      newConnID(),
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	// Block for the connection's lifetime. Returning would cancel the request
	// context that every repository call on the channel path runs against.
	h.run(ctx, NewConn(wsConn, h.sendBuffer), info)
}

// run authenticates within the grace period, registers the connection and
// dispatches inbound events until the channel drops.
func (h *ChannelHandler) run(ctx context.Context, conn *Conn, info connInfo) {
	principal, deviceID, err := h.authenticate(conn)
	if err != nil {
		observability.IncWSEvent("auth_error")
		conn.Close()
		return
	}
	if deviceID == "" {
		deviceID = info.DeviceID
	}

	reg := h.registry.Register(principal.ID, principal.ContactID, deviceID, conn)
	h.presence.SetOnline(ctx, principal.ID, principal.ContactID)
	_ = conn.Send(models.ChannelEvent{Type: models.EventAuthenticated, ContactID: principal.ContactID})

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishLifecycle(ctx, "ws_connect", info, principal.ContactID, 0, "")

	var closeReason string
	defer func() {
		if h.registry.Unregister(reg) {
			h.presence.SetOffline(ctx, principal.ID, principal.ContactID)
		}
		conn.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		publishLifecycle(ctx, "ws_disconnect", info, principal.ContactID, time.Since(info.ConnectedAt), closeReason)
	}()

	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				publishLifecycle(ctx, "ws_error", info, principal.ContactID, time.Since(info.ConnectedAt), closeReason)
			}
			return
		}

		h.registry.Touch(principal.ID)
		if err := ev.Validate(); err != nil {
			_ = conn.Send(models.ChannelEvent{Type: models.EventError, Code: models.CodeBadEvent, Reason: err.Error()})
			continue
		}
		h.dispatch(ctx, conn, principal, ev)
	}
}

// authenticate waits for the first event, which must be a valid authenticate
// within the grace period. Failures close the channel with an explicit code;
// no Connection is ever installed.
func (h *ChannelHandler) authenticate(conn *Conn) (auth.Principal, string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(h.authGrace))
	defer func() {
		// Hand the read deadline back to the pong cycle.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}()

	ev, err := conn.ReadEvent()
	if err != nil {
		_ = conn.Send(models.ChannelEvent{Type: models.EventAuthError, Code: models.CodeAuthTimeout, Reason: "no authenticate event received"})
		return auth.Principal{}, "", err
	}
	if ev.Type != models.EventAuthenticate {
		_ = conn.Send(models.ChannelEvent{Type: models.EventAuthError, Code: models.CodeBadEvent, Reason: "first event must be authenticate"})
		return auth.Principal{}, "", auth.ErrInvalidCredential
	}
	if err := ev.Validate(); err != nil {
		_ = conn.Send(models.ChannelEvent{Type: models.EventAuthError, Code: models.CodeBadEvent, Reason: err.Error()})
		return auth.Principal{}, "", err
	}

	principal, err := h.verifier.Verify(ev.Token)
	if err != nil {
		_ = conn.Send(models.ChannelEvent{Type: models.EventAuthError, Code: models.CodeInvalidToken, Reason: "credential rejected"})
		return auth.Principal{}, "", err
	}
	if principal.ContactID != ev.ContactID {
		_ = conn.Send(models.ChannelEvent{Type: models.EventAuthError, Code: models.CodeNotAuthorized, Reason: "contact id does not belong to credential"})
		return auth.Principal{}, "", auth.ErrInvalidCredential
	}
	return principal, ev.DeviceID, nil
}

func (h *ChannelHandler) dispatch(ctx context.Context, conn *Conn, principal auth.Principal, ev models.ChannelEvent) {
	observability.IncWSEvent(string(ev.Type))

	switch ev.Type {
	case models.EventSendMessage:
		// Fallback send path; shares the coordinator with the HTTP endpoint,
		// so retrying the same client message id on either path is safe.
		in := delivery.SendInput{
			SenderContactID:    principal.ContactID,
			RecipientContactID: ev.RecipientContactID,
			Content:            ev.Content,
			Type:               ev.MessageType,
			ClientMessageID:    ev.ClientMessageID,
			Silent:             ev.Silent,
		}
		res, err := h.coordinator.Send(ctx, in)
		if err != nil {
			_ = conn.Send(models.ChannelEvent{
				Type:      models.EventError,
				Code:      models.CodeSendRejected,
				MessageID: ev.ClientMessageID,
				Reason:    err.Error(),
			})
			return
		}
		// Echo the canonical message to the sender; receiving its own id back
		// is the client's sending -> sent confirmation.
		echo := models.Message{
			ID:                 res.MessageID,
			SenderContactID:    principal.ContactID,
			RecipientContactID: ev.RecipientContactID,
			Content:            ev.Content,
			Type:               ev.MessageType,
			Status:             res.Status,
			CreatedAt:          time.Now().UTC(),
		}
		if echo.Type == "" {
			echo.Type = models.MessageTypeText
		}
		_ = conn.Send(models.ChannelEvent{Type: models.EventNewMessage, Message: &echo})

	case models.EventMessageDelivered:
		if err := h.coordinator.MarkDelivered(ctx, ev.MessageID); err != nil {
			log.Printf("ws: mark delivered %s failed: %v", ev.MessageID, err)
		}

	case models.EventMessageRead:
		if err := h.coordinator.MarkRead(ctx, ev.MessageID); err != nil {
			log.Printf("ws: mark read %s failed: %v", ev.MessageID, err)
		}

	case models.EventTypingStart:
		h.presence.StartTyping(principal.ID, principal.ContactID)

	case models.EventTypingStop:
		h.presence.StopTyping(principal.ID, principal.ContactID)

	case models.EventHeartbeat:
		_ = conn.Send(models.ChannelEvent{Type: models.EventHeartbeatAck})
	}
}

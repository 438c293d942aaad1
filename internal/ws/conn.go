package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"securelink/internal/models"
)

var ErrSendBufferFull = errors.New("channel send buffer full")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	maxMessageSize = 64 << 10
)

// Conn wraps a websocket connection with a bounded outbound queue drained by
// a single write pump, so every producer (handler loop, registry broadcast,
// delivery coordinator) enqueues instead of writing concurrently.
type Conn struct {
	ws   *websocket.Conn
	send chan models.ChannelEvent

	closed      chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

// NewConn wraps ws and starts the write pump. Reads are bounded: a frame
// over the size limit or a peer that stops answering pings errors the read
// loop instead of lingering until the idle sweep.
func NewConn(ws *websocket.Conn, sendBuffer int) *Conn {
	c := &Conn{
		ws:     ws,
		send:   make(chan models.ChannelEvent, sendBuffer),
		closed: make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writePump()
	return c
}

// Send enqueues an event without blocking. A full buffer means the consumer
// is too slow to keep; the connection is closed with a policy violation so
// the client reconnects and resyncs over HTTP.
func (c *Conn) Send(ev models.ChannelEvent) error {
	select {
	case <-c.closed:
		return errors.New("channel closed")
	default:
	}
	select {
	case c.send <- ev:
		return nil
	default:
		c.closeWith(websocket.ClosePolicyViolation, models.CodeSlowConsumer)
		return ErrSendBufferFull
	}
}

// Close tears the connection down. Safe to call more than once and from any
// goroutine.
func (c *Conn) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closed)
	})
}

// ReadEvent blocks until the next inbound event or a read error.
func (c *Conn) ReadEvent() (models.ChannelEvent, error) {
	var ev models.ChannelEvent
	err := c.ws.ReadJSON(&ev)
	return ev, err
}

// SetReadDeadline bounds the next read; used for the authentication grace
// period.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			// Flush whatever is already queued (close notices) before the
			// socket goes away.
			for {
				select {
				case ev := <-c.send:
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.ws.WriteJSON(ev)
				default:
					_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason))
					return
				}
			}
		}
	}
}

package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrChannelClosed = errors.New("signaling channel closed")

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens signaling connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// channel is one open signaling connection. Inbound frames are delivered to
// onMessage in arrival order from a single goroutine. onClose fires once,
// only when the connection ends without Close being called. Frames queued
// before Close are still written.
type channel struct {
	conn   Conn
	send   chan []byte
	logger zerolog.Logger

	onMessage func(*channel, []byte)
	onClose   func(*channel, error)

	mu     sync.Mutex
	closed bool
}

func openChannel(conn Conn, logger zerolog.Logger, onMessage func(*channel, []byte), onClose func(*channel, error)) *channel {
	ch := &channel{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		logger:    logger,
		onMessage: onMessage,
		onClose:   onClose,
	}
	go ch.writePump()
	go ch.readPump()
	return ch
}

// Open reports whether frames can still be sent.
func (ch *channel) Open() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return !ch.closed
}

// Send queues an envelope. Sending on a closed channel is a silent no-op.
func (ch *channel) Send(m protocol.ClientMessage) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		ch.logger.Debug().Str("type", string(m.Type())).Msg("dropping send on closed channel")
		return nil
	}
	select {
	case ch.send <- data:
		ch.logger.Debug().Str("type", string(m.Type())).Msg("queued")
	default:
		ch.logger.Warn().Str("type", string(m.Type())).Msg("send buffer full, dropping")
	}
	return nil
}

// Close ends the channel without triggering onClose. The write pump
// flushes what is queued, sends a close frame and drops the connection.
func (ch *channel) Close() {
	ch.markClosed()
}

func (ch *channel) markClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return false
	}
	ch.closed = true
	close(ch.send)
	return true
}

func (ch *channel) readPump() {
	_ = ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := ch.conn.ReadMessage()
		if err != nil {
			if ch.markClosed() {
				_ = ch.conn.Close()
				ch.logger.Warn().Err(err).Msg("signaling channel lost")
				ch.onClose(ch, err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		_ = ch.conn.SetReadDeadline(time.Now().Add(pongWait))
		ch.onMessage(ch, data)
	}
}

func (ch *channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-ch.send:
			if !ok {
				_ = ch.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = ch.conn.Close()
				return
			}
			if err := ch.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				ch.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := ch.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				ch.logger.Error().Err(err).Msg("writePump write error")
				_ = ch.conn.Close()
				return
			}
		case <-ticker.C:
			if err := ch.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = ch.conn.Close()
				return
			}
		}
	}
}

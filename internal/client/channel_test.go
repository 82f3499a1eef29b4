package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/voicestream/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestChannelOverWebsocket(t *testing.T) {
	received := make(chan string, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for _, m := range []protocol.ServerMessage{
			protocol.StreamAvailable{StreamID: "one"},
			protocol.StreamAvailable{StreamID: "two"},
		} {
			data, _ := protocol.Encode(m)
			_ = ws.WriteMessage(websocket.TextMessage, data)
		}
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				close(received)
				return
			}
			received <- string(data)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := WSDialer{HandshakeTimeout: time.Second}.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	frames := make(chan string, 4)
	closed := make(chan struct{})
	ch := openChannel(conn, zerolog.Nop(),
		func(_ *channel, data []byte) { frames <- string(data) },
		func(*channel, error) { close(closed) },
	)

	for _, want := range []string{"one", "two"} {
		select {
		case f := <-frames:
			if !strings.Contains(f, want) {
				t.Fatalf("frame %q, want %q", f, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no frame %q", want)
		}
	}

	if err := ch.Send(protocol.StopStream{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ch.Close()
	if ch.Open() {
		t.Fatalf("channel open after Close")
	}
	if err := ch.Send(protocol.GetAvailableStreams{}); err != nil {
		t.Fatalf("send on closed channel must be a silent no-op: %v", err)
	}

	select {
	case f := <-received:
		if f != `{"type":"stop_stream"}` {
			t.Fatalf("server got %q", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("queued frame not flushed before close")
	}
	select {
	case <-closed:
		t.Fatalf("onClose fired for a local Close")
	case <-time.After(50 * time.Millisecond):
	}
}

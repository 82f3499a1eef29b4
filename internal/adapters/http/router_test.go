package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/voicestream/internal/adapters/rtc"
	"github.com/dkeye/voicestream/internal/adapters/signal"
	"github.com/dkeye/voicestream/internal/app/orch"
	"github.com/dkeye/voicestream/internal/config"
	"github.com/dkeye/voicestream/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newRouter(t *testing.T, origins []string) (*gin.Engine, *signal.SignalWSController) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	peers, err := rtc.NewFactory(rtc.DefaultWebRTCConfig(), "relay")
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	m := metrics.New()
	ctl := signal.NewSignalWSController(orch.New(peers, m), m)
	cfg := &config.ServerConfig{
		Mode:        "test",
		StaticPath:  t.TempDir(),
		Secret:      "test-secret",
		CORSOrigins: origins,
	}
	return SetupRouter(context.Background(), cfg, ctl), ctl
}

func TestHealth(t *testing.T) {
	r, ctl := newRouter(t, nil)
	ctl.Orch.Streams.Add("stream_a", "a")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	var h healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Status != "ok" || h.Streams != 1 || h.Clients != 0 {
		t.Fatalf("health=%+v", h)
	}
}

func TestClientTokenCookie(t *testing.T) {
	r, _ := newRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !strings.Contains(w.Header().Get("Set-Cookie"), "VoiceSessions=") {
		t.Fatalf("no session cookie: %q", w.Header().Get("Set-Cookie"))
	}
}

func TestStreamsEndpoint(t *testing.T) {
	r, ctl := newRouter(t, nil)
	ctl.Orch.Streams.Add("stream_a", "a")
	ctl.Orch.Streams.Add("stream_b", "b")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/streams", nil))
	var body struct {
		Streams []struct {
			ID          string `json:"stream_id"`
			Subscribers int    `json:"subscribers"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	if len(body.Streams) != 2 || body.Streams[1].ID != "stream_b" {
		t.Fatalf("streams=%+v", body.Streams)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newRouter(t, nil)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	if !strings.Contains(body, "voicestream_connections") || !strings.Contains(body, `path="/health"`) {
		t.Fatalf("metrics body missing collectors:\n%s", body)
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	r, _ := newRouter(t, []string{"https://dash.example"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://dash.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example" {
		t.Fatalf("allow-origin=%q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("code=%d", w.Code)
	}
}

func TestRootUpgradesToSignaling(t *testing.T) {
	r, _ := newRouter(t, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	for _, path := range []string{"/", "/ws"} {
		ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", path, err)
		}
		_, data, err := ws.ReadMessage()
		if err != nil || !strings.Contains(string(data), `"available_streams"`) {
			t.Fatalf("%s: greeting=%s err=%v", path, data, err)
		}
		_ = ws.Close()
	}
}

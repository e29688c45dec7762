package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat/internal/auth"
	"github.com/vovakirdan/dmchat/internal/config"
	"github.com/vovakirdan/dmchat/internal/core"
	"github.com/vovakirdan/dmchat/internal/media"
	"github.com/vovakirdan/dmchat/internal/metrics"
	"github.com/vovakirdan/dmchat/internal/service/gateway"
	"github.com/vovakirdan/dmchat/internal/store/sqlite"
)

type testServer struct {
	ts      *httptest.Server
	auth    *auth.Service
	router  *core.Router
	gateway *gateway.Service
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	disabledLogger := zerolog.Nop()

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	})

	cfg := config.Default()
	cfg.RateLimitPerMinute = 0
	cfg.MaxMessageBytes = 1 << 20
	cfg.Media.Dir = t.TempDir()

	mediaStore, err := media.NewLocal(cfg.Media.Dir, cfg.Media.BaseURL)
	if err != nil {
		t.Fatalf("failed to create media store: %v", err)
	}

	gw := gateway.New(st)
	m := metrics.New()
	router := core.NewRouter(core.RouterConfig{
		Presence: core.NewRegistry(gw, gw, cfg.Presence.DefaultAvatar, &disabledLogger),
		Messages: gw,
		Media:    mediaStore,
		Observer: m,
		Logger:   &disabledLogger,
		Options:  core.DefaultOptions(),
	})

	server := NewServer(Deps{
		Router:   router,
		Auth:     authService,
		Messages: gw,
		Metrics:  m,
		MediaDir: cfg.Media.Dir,
	}, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, auth: authService, router: router, gateway: gw, metrics: m}
}

// register creates an account and returns its token and identity.
func (s *testServer) register(t *testing.T, username string) (string, core.Identity) {
	t.Helper()
	grant, err := s.auth.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	return grant.Token, grant.Identity
}

func (s *testServer) wsURL(token string) string {
	u := strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws/chat/"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// connect dials the socket and waits for the direct presence snapshot, which
// guarantees the session is registered.
func (s *testServer) connect(ctx context.Context, t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, s.wsURL(token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	readUntil(ctx, t, conn, "status_update")
	return conn
}

type frame struct {
	Type string
	Raw  json.RawMessage
}

func (f frame) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Raw, v); err != nil {
		t.Fatalf("decode %s frame: %v", f.Type, err)
	}
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return frame{Type: head.Type, Raw: data}
}

// readUntil skips frames until one of the given type arrives.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for {
		f := readFrame(ctx, t, conn)
		if f.Type == typ {
			return f
		}
	}
}

// nextNonStatus returns the next frame that is not a presence broadcast.
func nextNonStatus(ctx context.Context, t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	for {
		f := readFrame(ctx, t, conn)
		if f.Type != "status_update" {
			return f
		}
	}
}

func writeRaw(ctx context.Context, t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

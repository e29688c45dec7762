package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/dmchat/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	user := flag.String("user", "tester", "username, registered on first use")
	password := flag.String("password", "tester-password", "password")
	to := flag.Int64("to", 0, "receiver id for the test message (0 skips it)")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := obtainToken(ctx, *base, *user, *password)
	if err != nil {
		return err
	}

	wsURL := "ws" + strings.TrimPrefix(*base, "http") + "/ws/chat/?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := expect(ctx, conn, proto.TypeStatusUpdate); err != nil {
		return err
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"type": proto.TypePing}); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}
	if err := expect(ctx, conn, proto.TypePong); err != nil {
		return err
	}

	if *to == 0 {
		return nil
	}
	msg := map[string]any{"type": proto.TypeChatMessage, "message": *text, "receiver_id": *to}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return expect(ctx, conn, proto.TypeChatMessage)
}

// expect reads frames until one of type want arrives. Error frames abort the run.
func expect(ctx context.Context, conn *websocket.Conn, want string) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var head struct {
			Type  string `json:"type"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return fmt.Errorf("unmarshal frame: %w", err)
		}
		fmt.Printf("Received: type=%s %s\n", head.Type, data)

		switch head.Type {
		case want:
			return nil
		case proto.TypeError:
			return fmt.Errorf("server error: %s", head.Error)
		}
	}
}

// obtainToken logs in, registering the account first if login is refused.
func obtainToken(ctx context.Context, base, user, password string) (string, error) {
	token, status, err := postCredentials(ctx, base+"/api/login", user, password)
	if err != nil {
		return "", err
	}
	if status == http.StatusOK {
		return token, nil
	}
	token, status, err = postCredentials(ctx, base+"/api/register", user, password)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("register %s: unexpected status %d", user, status)
	}
	return token, nil
}

func postCredentials(ctx context.Context, url, user, password string) (string, int, error) {
	body, err := json.Marshal(map[string]string{"username": user, "password": password})
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && resp.StatusCode < 300 {
		return "", resp.StatusCode, fmt.Errorf("decode token: %w", err)
	}
	return out.Token, resp.StatusCode, nil
}

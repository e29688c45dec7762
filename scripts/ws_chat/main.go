package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/dmchat/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws/chat/", "WebSocket address")
	token := flag.String("token", os.Getenv("DMCHAT_TOKEN"), "JWT from /api/login")
	to := flag.Int64("to", 0, "default receiver id")
	flag.Parse()

	if *token == "" {
		return errors.New("token is required (-token or DMCHAT_TOKEN)")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?token="+*token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s\n", *addr)
	fmt.Println("Type a message and press Enter. Prefix with @<id> to pick a receiver, /users for presence, /ping. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *to)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			case websocket.StatusPolicyViolation:
				log.Printf("rejected: invalid or expired token")
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			log.Printf("unmarshal frame: %v", err)
			continue
		}

		switch head.Type {
		case proto.TypeChatMessage:
			var msg proto.ChatMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("unmarshal chat_message: %v", err)
				continue
			}
			text := msg.Message
			if msg.ImageURL != "" {
				text += " [image " + msg.ImageURL + "]"
			}
			fmt.Printf("[%s] %s (#%d -> #%d): %s\n", msg.Timestamp, msg.Sender, msg.SenderID, msg.ReceiverID, text)
		case proto.TypeStatusUpdate:
			var update proto.StatusUpdate
			if err := json.Unmarshal(data, &update); err != nil {
				log.Printf("unmarshal status_update: %v", err)
				continue
			}
			online := make([]string, 0, len(update.Users))
			for _, u := range update.Users {
				if u.IsOnline {
					online = append(online, fmt.Sprintf("%s(#%d)", u.Username, u.ID))
				}
			}
			fmt.Printf("[presence] online: %s\n", strings.Join(online, ", "))
		case proto.TypeError:
			var e proto.Error
			if err := json.Unmarshal(data, &e); err != nil {
				log.Printf("unmarshal error: %v", err)
				continue
			}
			fmt.Printf("[error] %s\n", e.Error)
		case proto.TypePong:
			fmt.Println("[pong]")
		default:
			fmt.Printf("frame=%s\n", data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, defaultTo int64) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			frame, ok := parseLine(strings.TrimSpace(line), defaultTo)
			if !ok {
				continue
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}

type outboundFrame struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	ReceiverID int64  `json:"receiver_id,omitempty"`
}

func parseLine(line string, defaultTo int64) (outboundFrame, bool) {
	switch {
	case line == "":
		return outboundFrame{}, false
	case line == "/ping":
		return outboundFrame{Type: proto.TypePing}, true
	case line == "/users":
		return outboundFrame{Type: proto.TypeStatusChange}, true
	}

	to := defaultTo
	if rest, ok := strings.CutPrefix(line, "@"); ok {
		idText, text, _ := strings.Cut(rest, " ")
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil {
			log.Printf("bad receiver %q", idText)
			return outboundFrame{}, false
		}
		to, line = id, strings.TrimSpace(text)
	}
	if to == 0 {
		log.Printf("no receiver: use -to or @<id>")
		return outboundFrame{}, false
	}
	return outboundFrame{Type: proto.TypeChatMessage, Message: line, ReceiverID: to}, true
}

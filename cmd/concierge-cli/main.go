// ABOUTME: Terminal chat client for the concierge gateway WebSocket protocol
// ABOUTME: Joins one conversation, prints events in color, sends typed lines

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harborview/concierge-gateway/internal/hub"
)

type command struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	Text           string `json:"text,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	Typing         bool   `json:"typing,omitempty"`
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "gateway websocket URL")
	conversationID := flag.String("conversation", "", "conversation id to join (new one when empty)")
	userID := flag.String("user", "", "optional guest user id")
	flag.Parse()

	if err := run(*url, *conversationID, *userID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(url, conversationID, userID string) error {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer ws.Close()

	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)

	gray.Printf("connected to %s\n", url)

	if conversationID == "" {
		conversationID = uuid.New().String()
		gray.Printf("starting conversation %s\n", conversationID)
	}
	if err := ws.WriteJSON(command{Type: "join", ConversationID: conversationID, UserID: userID}); err != nil {
		return fmt.Errorf("joining conversation: %w", err)
	}

	done := make(chan struct{})
	go readLoop(ws, done)

	cyan.Println("type a message, /status, or /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
			<-done
			return nil
		case line == "/status":
			if err := ws.WriteJSON(command{Type: "status"}); err != nil {
				return err
			}
		case line == "/leave":
			if err := ws.WriteJSON(command{Type: "leave"}); err != nil {
				return err
			}
		default:
			cmd := command{
				Type:           "send",
				ConversationID: conversationID,
				Text:           line,
				MessageID:      uuid.New().String(),
			}
			if err := ws.WriteJSON(cmd); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// readLoop prints incoming events until the connection closes.
func readLoop(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var ev hub.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			gray.Printf("!! unreadable event: %v\n", err)
			continue
		}

		switch ev.Type {
		case hub.EventConnectionAck:
			gray.Printf("-- connection %s\n", ev.ConnectionID)
		case hub.EventConversationJoined:
			gray.Printf("-- joined %s\n", ev.ConversationID)
		case hub.EventConversationLeft:
			gray.Printf("-- left %s\n", ev.ConversationID)
		case hub.EventMessageAck:
			gray.Printf("-- delivered %s\n", ev.MessageID)
		case hub.EventAgentTyping:
			if ev.Typing {
				yellow.Println("   concierge is typing...")
			}
		case hub.EventAgentMessage:
			green.Printf("[%s] ", ev.AgentType)
			fmt.Println(ev.Text)
			if ev.ErrorFlag {
				gray.Println("   (degraded reply)")
			}
		case hub.EventConversationStatus:
			gray.Printf("-- %d connection(s) watching\n", ev.ActiveConnections)
		case hub.EventTyping:
			if ev.Typing {
				gray.Println("-- another guest is typing")
			}
		case hub.EventMessageError:
			red.Printf("!! %s\n", ev.Error)
		default:
			gray.Printf("-- %s\n", ev.Type)
		}
	}
}

func deadline() time.Time { return time.Now().Add(5 * time.Second) }

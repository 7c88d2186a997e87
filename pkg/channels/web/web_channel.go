package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sync"
	"time"

	"mcpchat/pkg/api"
	"mcpchat/pkg/llm"
	"mcpchat/pkg/monitor"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type WebConfig struct {
	Port int `json:"port"` // 0 picks a free port
}

// IncomingMessage is a chat frame sent by the browser.
type IncomingMessage struct {
	Text        string   `json:"text"`
	UseTools    *bool    `json:"use_tools"`
	Temperature *float64 `json:"temperature"`
}

// OutgoingMessage is a frame pushed to the browser.
type OutgoingMessage struct {
	Type  string        `json:"type"`
	Text  string        `json:"text,omitempty"`
	Value string        `json:"value,omitempty"`
	Data  []llm.Message `json:"data,omitempty"`
}

type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

func (sc *SafeConn) writeFrame(msg OutgoingMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s frame: %w", msg.Type, err)
	}
	return sc.WriteMessage(websocket.TextMessage, data)
}

type WebChannel struct {
	config      WebConfig
	metrics     *monitor.Metrics
	server      *http.Server
	listener    net.Listener
	connections map[string]*SafeConn // Map browser session id -> WS Connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig, metrics *monitor.Metrics) *WebChannel {
	return &WebChannel{
		config:      cfg,
		metrics:     metrics,
		connections: make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("web listen on port %d: %w", c.config.Port, err)
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Web UI listening", "addr", ln.Addr().String())

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, empty before Start.
func (c *WebChannel) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

func (c *WebChannel) Stop() error {
	if c.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.server.Shutdown(shutdownCtx)

	// Hijacked websocket connections are not tracked by Shutdown
	c.mu.Lock()
	for id, conn := range c.connections {
		conn.Close()
		delete(c.connections, id)
	}
	c.mu.Unlock()
	return err
}

func (c *WebChannel) conn(session api.SessionContext) (*SafeConn, error) {
	c.mu.RLock()
	conn, ok := c.connections[session.ChatID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("web session %s not connected", session.ChatID)
	}
	return conn, nil
}

// Send 推送一則完整訊息，並以 done 結束該則泡泡
func (c *WebChannel) Send(session api.SessionContext, message string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	if err := conn.writeFrame(OutgoingMessage{Type: llm.BlockTypeText, Text: message}); err != nil {
		return err
	}
	return conn.writeFrame(OutgoingMessage{Type: "done"})
}

// SendSignal implements the api.SignalingChannel interface
func (c *WebChannel) SendSignal(session api.SessionContext, signal string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.writeFrame(OutgoingMessage{Type: "signal", Value: signal})
}

// Stream implements api.Channel.Stream
func (c *WebChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}

	for block := range blocks {
		if block.Text == "" {
			continue
		}
		if err := conn.writeFrame(OutgoingMessage{Type: block.Type, Text: block.Text}); err != nil {
			return err
		}
	}

	return conn.writeFrame(OutgoingMessage{Type: "done"})
}

func (c *WebChannel) register(id string, conn *SafeConn) {
	c.mu.Lock()
	if old, ok := c.connections[id]; ok && old != conn {
		// 同一 session 僅保留最新的分頁
		old.Close()
	}
	c.connections[id] = conn
	c.mu.Unlock()
	c.metrics.SessionOpened()
}

func (c *WebChannel) unregister(id string, conn *SafeConn) {
	c.mu.Lock()
	if c.connections[id] == conn {
		delete(c.connections, id)
	}
	c.mu.Unlock()
	c.metrics.SessionClosed()
}

// Connections reports the number of open browser sessions.
func (c *WebChannel) Connections() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.connections)
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	// Wrap connection
	conn := &SafeConn{Conn: rawConn}

	sessionID := r.URL.Query().Get("session")
	if !sessionIDPattern.MatchString(sessionID) {
		sessionID = uuid.NewString()
		if err := conn.writeFrame(OutgoingMessage{Type: "session", Value: sessionID}); err != nil {
			slog.Error("Failed to send session id", "error", err)
			conn.Close()
			return
		}
	}

	session := api.SessionContext{
		ChannelID: c.ID(),
		UserID:    r.RemoteAddr,
		ChatID:    sessionID,
		Username:  "WebUser",
	}

	c.register(sessionID, conn)
	defer func() {
		c.unregister(sessionID, conn)
		conn.Close()
	}()

	// Send history immediately (if any)
	if msgs := ctx.History(session); len(msgs) > 0 {
		if err := conn.writeFrame(OutgoingMessage{Type: "history", Data: msgs}); err != nil {
			slog.Error("Failed to send history", "session", session.ID(), "error", err)
		}
	}

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}
		ctx.OnMessage(c.ID(), parseIncoming(session, msgBytes))
	}
}

// parseIncoming decodes a browser frame; anything that is not a JSON
// object is taken as plain text.
func parseIncoming(session api.SessionContext, raw []byte) *api.UnifiedMessage {
	msg := &api.UnifiedMessage{Session: session}

	var incoming IncomingMessage
	if err := json.Unmarshal(raw, &incoming); err != nil {
		msg.Content = string(raw)
		return msg
	}
	msg.Content = incoming.Text
	msg.NoTools = incoming.UseTools != nil && !*incoming.UseTools
	msg.Temperature = incoming.Temperature
	return msg
}

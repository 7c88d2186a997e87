package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mcpchat/pkg/api"
	"mcpchat/pkg/llm"
	"mcpchat/pkg/utils"
)

// ChatHandler sits between the Gateway and the AgentEngine. It tags every
// message with a debug ID, resolves the session history and runs turns of
// the same session one at a time.
// It implements api.GatewayHandler.
type ChatHandler struct {
	engine    api.AgentEngine
	sessions  *llm.SessionManager
	responder api.MessageResponder
}

// NewChatHandler wires a handler to an engine and its session store.
func NewChatHandler(engine api.AgentEngine, sessions *llm.SessionManager) *ChatHandler {
	return &ChatHandler{
		engine:   engine,
		sessions: sessions,
	}
}

// SetResponder forwards the gateway responder to the engine.
func (h *ChatHandler) SetResponder(responder api.MessageResponder) {
	h.responder = responder
	h.engine.SetResponder(responder)
}

// OnMessage is the primary entry point for incoming user messages.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	if strings.TrimSpace(msg.Content) == "" {
		return
	}
	if msg.DebugID == "" {
		msg.DebugID = utils.NewDebugID()
	}
	ctx := utils.WithDebugID(context.Background(), msg.DebugID)
	start := time.Now()

	sessionID := msg.Session.ID()
	history, err := h.sessions.GetHistory(sessionID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load session history", "session", sessionID, "error", err)
		if h.responder != nil {
			h.responder.SendReply(msg.Session, fmt.Sprintf("❌ Failed to load conversation history: %v", err))
		}
		return
	}

	unlock := h.sessions.Lock(sessionID)
	defer unlock()

	slog.InfoContext(ctx, "Agent loop started", "session", sessionID, "user", msg.Session.Username, "tools", !msg.NoTools)
	reply := h.engine.HandleMessage(ctx, msg, history)
	slog.InfoContext(ctx, "Agent loop finished",
		"session", sessionID,
		"duration", time.Since(start).String(),
		"reply_chars", len(reply.GetTextContent()),
	)
}

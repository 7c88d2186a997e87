package api

import (
	"context"
	"fmt"

	"mcpchat/pkg/llm"
)

// AgentEngine defines the interface for the core reasoning engine.
type AgentEngine interface {
	HandleMessage(ctx context.Context, msg *UnifiedMessage, history *llm.ChatHistory) llm.Message
	SetResponder(responder MessageResponder)
	SetToolRegistry(tr ToolRegistry)
	RegisterTool(tools ...Tool)
}

// Stats is the snapshot shown by the control panel.
type Stats struct {
	Session        string   `json:"session"`
	HistoryLength  int      `json:"history_length"`
	ToolCount      int      `json:"tool_count"`
	ToolsEnabled   bool     `json:"tools_enabled"`
	Channels       []string `json:"channels"`
	Calculations   int      `json:"calculations"`
	ActiveSessions int      `json:"active_sessions"`
	CircuitState   string   `json:"circuit_state,omitempty"`
	Deployments    []string `json:"deployments,omitempty"`
	Status         string   `json:"status"`
}

// ControlPanel exposes the administrative actions of the chat UI
// (stats, tool listing, clearing a conversation).
type ControlPanel interface {
	Stats(session SessionContext) Stats
	ToolsDescription() string
	ClearHistory(session SessionContext) int
}

// ClearedMessage renders the confirmation shown after a history clear.
func ClearedMessage(n int) string {
	return fmt.Sprintf("Cleared %d messages from history", n)
}

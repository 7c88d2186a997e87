package agent

import (
	"fmt"
	"log/slog"
	"strings"

	"mcpchat/pkg/api"
	"mcpchat/pkg/llm"
)

// Stats implements api.ControlPanel.
func (e *AgentEngine) Stats(session api.SessionContext) api.Stats {
	var history *llm.ChatHistory
	if e.sessions != nil {
		h, err := e.sessions.Lookup(session.ID())
		if err != nil {
			slog.Warn("Failed to load session for stats", "session", session.ID(), "error", err)
		}
		history = h
	}
	return e.statsFor(session, history)
}

func (e *AgentEngine) statsFor(session api.SessionContext, history *llm.ChatHistory) api.Stats {
	sysCfg := e.sysCfg.Load()
	stats := api.Stats{
		Session:      session.ID(),
		ToolsEnabled: sysCfg.EnableTools,
		Status:       "✓ Running",
	}
	if history != nil {
		stats.HistoryLength = history.Len()
	}
	if e.toolRegistry != nil {
		stats.ToolCount = len(e.toolRegistry.GetAll())
	}
	if e.sessions != nil {
		stats.ActiveSessions = len(e.sessions.Sessions())
	}
	if e.appCfg != nil {
		stats.Deployments = e.appCfg.Deployments()
	}
	if u, ok := e.client.(*llm.UnavailableClient); ok {
		stats.Status = fmt.Sprintf("✗ Not connected: %v", u.Err)
	}
	for _, hook := range e.statsHooks {
		hook(&stats)
	}
	return stats
}

// ToolsDescription implements api.ControlPanel.
func (e *AgentEngine) ToolsDescription() string {
	if e.toolRegistry == nil || len(e.toolRegistry.GetAll()) == 0 {
		return "### 🛠️ Available Tools\n\nNo tools registered."
	}
	return "### 🛠️ Available Tools\n\n" + e.toolRegistry.Describe()
}

// ClearHistory implements api.ControlPanel and returns the number of
// messages removed.
func (e *AgentEngine) ClearHistory(session api.SessionContext) int {
	if e.sessions == nil {
		return 0
	}
	n, err := e.sessions.Clear(session.ID())
	if err != nil {
		slog.Warn("Failed to clear session", "session", session.ID(), "error", err)
	}
	return n
}

// FormatStats renders the markdown statistics block shown in the chat.
func FormatStats(s api.Stats) string {
	var sb strings.Builder
	sb.WriteString("### 📊 Statistics\n")
	fmt.Fprintf(&sb, "- **Messages in history:** %d\n", s.HistoryLength)
	fmt.Fprintf(&sb, "- **Available tools:** %d\n", s.ToolCount)
	if !s.ToolsEnabled {
		sb.WriteString("- **Tool calling:** disabled\n")
	}
	fmt.Fprintf(&sb, "- **Calculations performed:** %d\n", s.Calculations)
	fmt.Fprintf(&sb, "- **Active sessions:** %d\n", s.ActiveSessions)
	if len(s.Channels) > 0 {
		fmt.Fprintf(&sb, "- **Channels:** %s\n", strings.Join(s.Channels, ", "))
	}
	if len(s.Deployments) > 0 {
		fmt.Fprintf(&sb, "- **Deployments:** %s\n", strings.Join(s.Deployments, " → "))
	}
	if s.CircuitState != "" {
		fmt.Fprintf(&sb, "- **Circuit:** %s\n", s.CircuitState)
	}
	fmt.Fprintf(&sb, "- **Status:** %s\n", s.Status)
	return sb.String()
}

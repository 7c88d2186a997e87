package agent

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

const commandHelp = `Available commands:
/clear - clear the conversation history
/stats - show statistics
/tools - list available tools
/notools <message> - ask without tool calling
/<tool> {json} - run a tool manually, e.g. /add {"numbers":[1,2]}`

// handleSlashCommand parses and executes manual "slash" commands entered by
// the user. It returns handled=false when the message should continue as a
// normal chat turn (for /notools, with msg rewritten).
func (e *AgentEngine) handleSlashCommand(ctx context.Context, msg *api.UnifiedMessage, history *llm.ChatHistory) (llm.Message, bool) {
	name, rest, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(msg.Content), "/"), " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "notools":
		if rest == "" {
			e.responder.SendReply(msg.Session, "❌ Format error. Please use: /notools <message>")
			return llm.Message{}, true
		}
		msg.NoTools = true
		msg.Content = rest
		return llm.Message{}, false

	case "clear":
		n := history.Clear()
		e.saveSession(ctx, msg.Session.ID())
		slog.InfoContext(ctx, "History cleared", "session", msg.Session.ID(), "count", n)
		e.responder.SendReply(msg.Session, api.ClearedMessage(n))
		return llm.Message{}, true

	case "stats":
		e.responder.SendReply(msg.Session, FormatStats(e.statsFor(msg.Session, history)))
		return llm.Message{}, true

	case "tools":
		e.responder.SendReply(msg.Session, e.ToolsDescription())
		return llm.Message{}, true

	case "help", "":
		e.responder.SendReply(msg.Session, commandHelp)
		return llm.Message{}, true
	}

	if e.toolRegistry == nil {
		e.responder.SendReply(msg.Session, fmt.Sprintf("❌ Unknown command: /%s", name))
		return llm.Message{}, true
	}
	if _, ok := e.toolRegistry.Get(name); !ok {
		e.responder.SendReply(msg.Session, fmt.Sprintf("❌ Unknown command: /%s\n\n%s", name, commandHelp))
		return llm.Message{}, true
	}

	e.responder.SendReply(msg.Session, fmt.Sprintf("🛠️ Manually executing tool: %s...", name))

	start := time.Now()
	res := e.toolRegistry.Dispatch(ctx, name, rest)
	status := "ok"
	if res.IsError {
		status = "error"
	}
	e.metrics.ObserveToolCall(name, status, time.Since(start))

	resBlocks := ConvertToolResult(res)
	e.StreamBlocks(ctx, msg.Session, resBlocks)

	return llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleAssistant,
		Content:   resBlocks,
		Timestamp: time.Now().Unix(),
	}, true
}

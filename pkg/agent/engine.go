package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"mcpchat/pkg/api"
	"mcpchat/pkg/config"
	"mcpchat/pkg/llm"
	"mcpchat/pkg/monitor"
	"mcpchat/pkg/tools"
	"mcpchat/pkg/utils"
)

// StatsHook lets other components contribute to the control panel snapshot.
type StatsHook func(stats *api.Stats)

// AgentEngine manages the core reasoning loop: LLM communication, tool
// execution and the final tool-free answer.
// It implements api.AgentEngine and api.ControlPanel.
type AgentEngine struct {
	client       llm.LLMClient
	responder    api.MessageResponder
	sysCfg       atomic.Pointer[config.SystemConfig]
	appCfg       *config.Config
	toolRegistry api.ToolRegistry
	sessions     *llm.SessionManager
	metrics      *monitor.Metrics
	statsHooks   []StatsHook
}

// NewAgentEngine initializes a new AgentEngine with config managers.
func NewAgentEngine(
	client llm.LLMClient,
	appCfg *config.Config,
	sysCfg *config.SystemConfig,
	sessions *llm.SessionManager,
) *AgentEngine {
	if sysCfg == nil {
		sysCfg = config.DefaultSystemConfig()
	}
	e := &AgentEngine{
		client:   client,
		appCfg:   appCfg,
		sessions: sessions,
	}
	e.sysCfg.Store(sysCfg)
	return e
}

// SetResponder sets the messaging interface used by the engine to send replies.
func (e *AgentEngine) SetResponder(responder api.MessageResponder) {
	e.responder = responder
}

// SetToolRegistry sets the tool registry used by the engine for tool execution.
func (e *AgentEngine) SetToolRegistry(tr api.ToolRegistry) {
	e.toolRegistry = tr
}

// SetMetrics enables Prometheus instrumentation of turns, LLM calls and tools.
func (e *AgentEngine) SetMetrics(m *monitor.Metrics) {
	e.metrics = m
}

// AddStatsHook registers a hook that fills extra fields of api.Stats.
func (e *AgentEngine) AddStatsHook(hook StatsHook) {
	e.statsHooks = append(e.statsHooks, hook)
}

// UpdateSystemConfig swaps the engine configuration; turns already running
// keep the configuration they started with.
func (e *AgentEngine) UpdateSystemConfig(cfg *config.SystemConfig) {
	if cfg != nil {
		e.sysCfg.Store(cfg)
	}
}

// SystemConfig returns the configuration currently in effect.
func (e *AgentEngine) SystemConfig() *config.SystemConfig {
	return e.sysCfg.Load()
}

// RegisterTool adds one or more tools to the engine's registry.
// It automatically initializes the registry if it's currently nil.
func (e *AgentEngine) RegisterTool(tl ...api.Tool) {
	if e.toolRegistry == nil {
		e.toolRegistry = tools.NewToolRegistry()
	}
	for _, t := range tl {
		e.toolRegistry.Register(t)
	}
}

// HandleMessage is the primary entry point for processing an user message in the engine.
func (e *AgentEngine) HandleMessage(ctx context.Context, msg *api.UnifiedMessage, history *llm.ChatHistory) llm.Message {
	start := time.Now()
	sysCfg := e.sysCfg.Load()

	if strings.HasPrefix(msg.Content, "/") {
		reply, handled := e.handleSlashCommand(ctx, msg, history)
		if handled {
			return reply
		}
	}

	timeout := time.Duration(sysCfg.LLMTimeoutMs) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sessionID := msg.Session.ID()
	history.Add(llm.NewUserMessage(msg.Content))
	e.saveSession(runCtx, sessionID)

	assistantMsg := e.runTurn(runCtx, sysCfg, msg, history)

	if assistantMsg.HasText() {
		history.Add(assistantMsg)
	}
	e.saveSession(runCtx, sessionID)

	status := "ok"
	if !assistantMsg.HasText() {
		status = "error"
	}
	e.metrics.ObserveTurn(msg.Session.ChannelID, status, time.Since(start))
	return assistantMsg
}

// runTurn performs up to MaxToolRounds rounds with tools offered, then asks
// for the final answer without tools.
func (e *AgentEngine) runTurn(ctx context.Context, sysCfg *config.SystemConfig, msg *api.UnifiedMessage, history *llm.ChatHistory) llm.Message {
	toolsAllowed := e.toolsAllowed(sysCfg, msg)

	for round := 0; ; round++ {
		withTools := toolsAllowed && round < sysCfg.MaxToolRounds
		assistantMsg, err := e.ProcessLLMStream(ctx, sysCfg, msg, history, withTools)
		if err != nil {
			return assistantMsg
		}

		if len(assistantMsg.ToolCalls) == 0 {
			return assistantMsg
		}
		if !withTools {
			// Tools were not offered; a stray call cannot be answered.
			slog.WarnContext(ctx, "Ignoring tool calls on a tool-free request", "count", len(assistantMsg.ToolCalls))
			assistantMsg.ToolCalls = nil
			return assistantMsg
		}

		history.Add(assistantMsg)
		for _, tc := range assistantMsg.ToolCalls {
			e.ResolveAndCommitToolCall(ctx, tc, msg, history)
		}
		e.saveSession(ctx, msg.Session.ID())
	}
}

func (e *AgentEngine) toolsAllowed(sysCfg *config.SystemConfig, msg *api.UnifiedMessage) bool {
	return sysCfg.EnableTools && !msg.NoTools && e.toolRegistry != nil && len(e.toolRegistry.GetAll()) > 0
}

// buildRequest assembles the system prompt followed by the history window.
func (e *AgentEngine) buildRequest(history *llm.ChatHistory, withTools bool) []llm.Message {
	prompt := e.appCfg.SystemPrompt
	if withTools {
		prompt = fmt.Sprintf("%s\n\nAvailable tools:\n%s", prompt, e.toolRegistry.Describe())
	}

	window := history.Window(e.appCfg.MaxHistory)
	messages := make([]llm.Message, 0, len(window)+1)
	if prompt != "" {
		messages = append(messages, llm.NewSystemMessage(prompt))
	}
	return append(messages, window...)
}

// chatOptions resolves the sampling options of a message.
func (e *AgentEngine) chatOptions(sysCfg *config.SystemConfig, msg *api.UnifiedMessage) llm.ChatOptions {
	temp := sysCfg.DefaultTemperature
	if msg.Temperature != nil {
		temp = *msg.Temperature
	}
	return llm.ChatOptions{
		Temperature: ClampTemperature(temp),
		MaxTokens:   e.appCfg.MaxTokens,
	}
}

// ClampTemperature keeps a sampling temperature inside [0, 2].
func ClampTemperature(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 2:
		return 2
	default:
		return t
	}
}

// ProcessLLMStream performs one completion request, forwarding the streamed
// text to the channel while collecting the full assistant message.
// The returned error is non-nil when the request could not be completed.
func (e *AgentEngine) ProcessLLMStream(ctx context.Context, sysCfg *config.SystemConfig, msg *api.UnifiedMessage, history *llm.ChatHistory, withTools bool) (llm.Message, error) {
	var availableTools []llm.Tool
	if withTools {
		apiTools := e.toolRegistry.GetAll()
		availableTools = make([]llm.Tool, len(apiTools))
		for i, t := range apiTools {
			availableTools[i] = t
		}
	}

	start := time.Now()
	chunkCh, err := e.client.StreamChat(ctx, e.buildRequest(history, withTools), availableTools, e.chatOptions(sysCfg, msg))
	if err != nil {
		e.metrics.ObserveLLMCall(withTools, "error", time.Since(start))
		slog.ErrorContext(ctx, "LLM stream init failed", "error", err)
		errMsg := fmt.Sprintf("❌ Error calling Azure OpenAI: %v", err)
		e.responder.SendReply(msg.Session, errMsg)

		return llm.Message{
			ID:        utils.GenerateID(),
			Role:      llm.RoleAssistant,
			Content:   []llm.ContentBlock{llm.NewErrorBlock(errMsg)},
			Timestamp: time.Now().Unix(),
		}, err
	}

	blockCh := make(chan llm.ContentBlock, sysCfg.InternalChannelBuffer)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := e.responder.StreamReply(msg.Session, blockCh); err != nil {
			slog.ErrorContext(ctx, "Failed to stream reply", "error", err)
		}
	}()

	closed := false
	safeClose := func() {
		if !closed {
			close(blockCh)
			<-streamDone
			closed = true
		}
	}
	defer safeClose()

	assistantMsg, streamErr := e.CollectChunks(ctx, sysCfg, msg.Session, chunkCh, blockCh)
	safeClose()

	status := "ok"
	if streamErr != nil {
		status = "error"
	}
	e.metrics.ObserveLLMCall(withTools, status, time.Since(start))
	if assistantMsg.Usage != nil {
		e.metrics.AddTokens(assistantMsg.Usage.PromptTokens, assistantMsg.Usage.CompletionTokens)
	}

	if len(assistantMsg.ToolCalls) > 0 && streamErr == nil {
		return assistantMsg, nil
	}

	reason := "UNKNOWN"
	if assistantMsg.Usage != nil {
		reason = assistantMsg.Usage.StopReason
	}

	hasContent, preview := SummarizeContent(assistantMsg)
	switch {
	case streamErr != nil:
		slog.ErrorContext(ctx, "LLM stream failed", "error", streamErr, "transient", e.client.IsTransientError(streamErr), "preview", preview)
		return assistantMsg, streamErr
	case reason == llm.StopReasonLength:
		slog.InfoContext(ctx, "Response truncated by length limit", "content", hasContent)
		e.responder.SendReply(msg.Session, "⚠️ Response truncated due to length limit.")
	case !hasContent:
		slog.WarnContext(ctx, "Abnormal response", "reason", reason)
		assistantMsg.AddContentBlock(llm.NewErrorBlock(fmt.Sprintf("❌ Abnormal response: %s", reason)))
		e.StreamBlocks(ctx, msg.Session, assistantMsg.Content[len(assistantMsg.Content)-1:])
	}

	return assistantMsg, nil
}

// CollectChunks is an auxiliary method dedicated to consuming a StreamChunk channel.
func (e *AgentEngine) CollectChunks(ctx context.Context, sysCfg *config.SystemConfig, session api.SessionContext, chunkCh <-chan llm.StreamChunk, blockCh chan<- llm.ContentBlock) (llm.Message, error) {
	msg := llm.Message{
		ID:        utils.GenerateID(),
		Role:      llm.RoleAssistant,
		Content:   []llm.ContentBlock{},
		Timestamp: time.Now().Unix(),
	}

	delay := time.Duration(sysCfg.ThinkingInitDelayMs) * time.Millisecond
	thinkingTimer := time.NewTimer(delay)
	defer thinkingTimer.Stop()
	timerChan := thinkingTimer.C

	for {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				return msg, nil
			}

			if timerChan != nil {
				thinkingTimer.Stop()
				timerChan = nil
			}

			e.ProcessChunk(chunk, &msg, blockCh)

			if chunk.RawError != nil {
				return msg, chunk.RawError
			}
			if chunk.IsFinal {
				return msg, nil
			}

		case <-timerChan:
			e.responder.SendSignal(session, "thinking")
			timerChan = nil

		case <-ctx.Done():
			return msg, ctx.Err()
		}
	}
}

// ProcessChunk handles the low-level parsing of a single LLM StreamChunk.
func (e *AgentEngine) ProcessChunk(chunk llm.StreamChunk, msg *llm.Message, blockCh chan<- llm.ContentBlock) {
	if chunk.Error != "" {
		errBlock := llm.NewErrorBlock(fmt.Sprintf("❌ %s", chunk.Error))
		msg.AddContentBlock(errBlock)
		blockCh <- errBlock
	}

	for _, block := range chunk.ContentBlocks {
		if block.Type != llm.BlockTypeText {
			continue
		}
		// Deltas are merged into one text block.
		if n := len(msg.Content); n > 0 && msg.Content[n-1].Type == llm.BlockTypeText {
			msg.Content[n-1].Text += block.Text
		} else {
			msg.AddContentBlock(block)
		}
		blockCh <- block
	}

	if len(chunk.ToolCalls) > 0 {
		msg.ToolCalls = append(msg.ToolCalls, chunk.ToolCalls...)
	}

	if chunk.Usage != nil {
		msg.Usage = chunk.Usage
	}
}

// ResolveAndCommitToolCall runs a tool call through the dispatcher and always
// records a tool message for it so the next request stays well-formed.
func (e *AgentEngine) ResolveAndCommitToolCall(ctx context.Context, tc llm.ToolCall, msg *api.UnifiedMessage, history *llm.ChatHistory) {
	slog.DebugContext(ctx, "Resolving tool call", "name", tc.Function.Name, "id", tc.ID)

	start := time.Now()
	res := e.toolRegistry.Dispatch(ctx, tc.Function.Name, tc.Function.Arguments)
	status := "ok"
	if res.IsError {
		status = "error"
		slog.WarnContext(ctx, "Tool returned an error", "name", tc.Function.Name, "result", res.Text())
	}
	e.metrics.ObserveToolCall(strings.TrimPrefix(tc.Function.Name, "functions."), status, time.Since(start))

	resultBlocks := ConvertToolResult(res)
	history.Add(llm.Message{
		ID:         utils.GenerateID(),
		Role:       llm.RoleTool,
		ToolCallID: tc.ID,
		ToolName:   tc.Function.Name,
		Content:    resultBlocks,
		Timestamp:  time.Now().Unix(),
	})

	e.responder.SendSignal(msg.Session, "role:system")
	e.StreamBlocks(ctx, msg.Session, resultBlocks)
}

// StreamBlocks is a utility to pipe a slice of content blocks into the gateway's stream.
func (e *AgentEngine) StreamBlocks(ctx context.Context, session api.SessionContext, blocks []llm.ContentBlock) {
	if len(blocks) == 0 {
		return
	}
	resCh := make(chan llm.ContentBlock, len(blocks))
	for _, b := range blocks {
		resCh <- b
	}
	close(resCh)
	if err := e.responder.StreamReply(session, resCh); err != nil {
		slog.ErrorContext(ctx, "Failed to stream blocks", "error", err)
	}
}

func (e *AgentEngine) saveSession(ctx context.Context, sessionID string) {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.SaveSession(sessionID); err != nil {
		slog.WarnContext(ctx, "Failed to persist session", "session", sessionID, "error", err)
	}
}

// SummarizeContent reports whether the message carries text and returns a
// short preview for logging.
func SummarizeContent(msg llm.Message) (hasContent bool, preview string) {
	text := msg.GetTextContent()
	hasContent = text != ""

	runes := []rune(text)
	if len(runes) > 100 {
		return hasContent, string(runes[:100]) + "..."
	}
	return hasContent, text
}

// ConvertToolResult transforms a api.ToolResult into a slice of llm.ContentBlock.
func ConvertToolResult(res *api.ToolResult) []llm.ContentBlock {
	text := res.Text()
	if text == "" {
		text = "(No output)"
	}
	return []llm.ContentBlock{llm.NewTextBlock(text)}
}

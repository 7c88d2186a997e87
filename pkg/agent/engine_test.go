package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"mcpchat/pkg/api"
	"mcpchat/pkg/config"
	"mcpchat/pkg/llm"
	"mcpchat/pkg/monitor"
	"mcpchat/pkg/tools"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	messages []llm.Message
	tools    []llm.Tool
	opts     llm.ChatOptions
}

// fakeLLM replays one scripted chunk sequence per call.
type fakeLLM struct {
	mu       sync.Mutex
	scripts  [][]llm.StreamChunk
	err      error
	requests []request
}

func (f *fakeLLM) StreamChat(ctx context.Context, messages []llm.Message, tl []llm.Tool, opts llm.ChatOptions) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request{messages: messages, tools: tl, opts: opts})
	if f.err != nil {
		return nil, f.err
	}

	var script []llm.StreamChunk
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	ch := make(chan llm.StreamChunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) IsTransientError(err error) bool { return false }

type fakeResponder struct {
	mu       sync.Mutex
	replies  []string
	streamed []string
	signals  []string
}

func (r *fakeResponder) SendReply(session api.SessionContext, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, content)
	return nil
}

func (r *fakeResponder) StreamReply(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	var sb strings.Builder
	for b := range blocks {
		sb.WriteString(b.Text)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamed = append(r.streamed, sb.String())
	return nil
}

func (r *fakeResponder) SendSignal(session api.SessionContext, signal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal)
	return nil
}

func textReply(parts ...string) []llm.StreamChunk {
	var out []llm.StreamChunk
	for _, p := range parts {
		out = append(out, llm.NewTextChunk(p))
	}
	return append(out, llm.NewFinalChunk(llm.StopReasonStop, nil))
}

func toolCallReply(calls ...llm.ToolCall) []llm.StreamChunk {
	return []llm.StreamChunk{
		{ToolCalls: calls},
		llm.NewFinalChunk(llm.StopReasonToolCalls, nil),
	}
}

func echoTool() api.Tool {
	type args struct {
		Text string `json:"text" validate:"required" jsonschema:"required" jsonschema_description:"Text to echo"`
	}
	return tools.NewTypedTool("echo", "Echo the text back",
		func(ctx context.Context, a args) (string, error) {
			return "echo: " + a.Text, nil
		})
}

type fixture struct {
	engine    *AgentEngine
	llm       *fakeLLM
	responder *fakeResponder
	sessions  *llm.SessionManager
	session   api.SessionContext
}

func newFixture(t *testing.T, scripts ...[]llm.StreamChunk) *fixture {
	t.Helper()
	appCfg := &config.Config{
		AzureDeployment: "gpt-4",
		SystemPrompt:    "You are a test assistant.",
		MaxHistory:      50,
		MaxTokens:       2000,
	}
	client := &fakeLLM{scripts: scripts}
	sessions := llm.NewSessionManager("")
	e := NewAgentEngine(client, appCfg, config.DefaultSystemConfig(), sessions)
	r := &fakeResponder{}
	e.SetResponder(r)
	e.RegisterTool(echoTool())

	return &fixture{
		engine:    e,
		llm:       client,
		responder: r,
		sessions:  sessions,
		session:   api.SessionContext{ChannelID: "web", ChatID: "s1", UserID: "u"},
	}
}

func (f *fixture) send(t *testing.T, text string, mutate ...func(*api.UnifiedMessage)) (llm.Message, *llm.ChatHistory) {
	t.Helper()
	history, err := f.sessions.GetHistory(f.session.ID())
	require.NoError(t, err)
	msg := &api.UnifiedMessage{Session: f.session, Content: text}
	for _, m := range mutate {
		m(msg)
	}
	return f.engine.HandleMessage(context.Background(), msg, history), history
}

func TestHandleMessagePlainReply(t *testing.T) {
	f := newFixture(t, textReply("Hel", "lo"))

	reply, history := f.send(t, "hi")

	assert.Equal(t, "Hello", reply.GetTextContent())
	assert.Equal(t, []string{"Hello"}, f.responder.streamed)

	msgs := history.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[1].GetTextContent())

	require.Len(t, f.llm.requests, 1)
	req := f.llm.requests[0]
	assert.Equal(t, llm.RoleSystem, req.messages[0].Role)
	assert.Contains(t, req.messages[0].GetTextContent(), "You are a test assistant.")
	assert.Contains(t, req.messages[0].GetTextContent(), "- echo(text): Echo the text back")
	assert.Len(t, req.tools, 1)
	assert.Equal(t, 0.7, req.opts.Temperature)
	assert.Equal(t, 2000, req.opts.MaxTokens)
}

func TestHandleMessageToolRoundThenFinalWithoutTools(t *testing.T) {
	call := llm.ToolCall{ID: "call_1", Name: "echo", Function: llm.FunctionCall{Name: "echo", Arguments: `{"text":"ping"}`}}
	f := newFixture(t, toolCallReply(call), textReply("The tool said ping."))

	reply, history := f.send(t, "echo ping")
	assert.Equal(t, "The tool said ping.", reply.GetTextContent())

	require.Len(t, f.llm.requests, 2, "one tool round and one final call")
	assert.NotEmpty(t, f.llm.requests[0].tools)
	assert.Nil(t, f.llm.requests[1].tools)

	msgs := history.GetMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, []llm.ToolCall{call}, msgs[1].ToolCalls)
	assert.Equal(t, llm.RoleTool, msgs[2].Role)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	assert.Equal(t, "echo: ping", msgs[2].GetTextContent())
	assert.Equal(t, "The tool said ping.", msgs[3].GetTextContent())

	final := f.llm.requests[1].messages
	assert.Equal(t, "echo: ping", final[len(final)-1].GetTextContent())
	assert.Contains(t, f.responder.signals, "role:system")
}

func TestHandleMessageToolErrorsAreFedBack(t *testing.T) {
	call := llm.ToolCall{ID: "c", Name: "missing", Function: llm.FunctionCall{Name: "missing", Arguments: `{}`}}
	f := newFixture(t, toolCallReply(call), textReply("Sorry."))

	_, history := f.send(t, "use a missing tool")

	msgs := history.GetMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "Tool 'missing' not found", msgs[2].GetTextContent())
}

func TestHandleMessageNoTools(t *testing.T) {
	f := newFixture(t, textReply("plain"))

	f.send(t, "hi", func(m *api.UnifiedMessage) { m.NoTools = true })

	require.Len(t, f.llm.requests, 1)
	assert.Nil(t, f.llm.requests[0].tools)
	assert.NotContains(t, f.llm.requests[0].messages[0].GetTextContent(), "Available tools")
}

func TestHandleMessageToolsDisabledBySystemConfig(t *testing.T) {
	f := newFixture(t, textReply("plain"))
	sys := config.DefaultSystemConfig()
	sys.EnableTools = false
	f.engine.UpdateSystemConfig(sys)

	f.send(t, "hi")
	assert.Nil(t, f.llm.requests[0].tools)
}

func TestHandleMessageStrayToolCallsIgnored(t *testing.T) {
	call := llm.ToolCall{ID: "c", Name: "echo", Function: llm.FunctionCall{Name: "echo", Arguments: `{"text":"x"}`}}
	script := append([]llm.StreamChunk{llm.NewTextChunk("done")}, toolCallReply(call)...)
	f := newFixture(t, script)
	sys := config.DefaultSystemConfig()
	sys.MaxToolRounds = 0
	f.engine.UpdateSystemConfig(sys)

	reply, history := f.send(t, "hi")
	assert.Empty(t, reply.ToolCalls)
	assert.Len(t, f.llm.requests, 1)
	assert.Equal(t, 2, history.Len())
}

func TestHandleMessageTemperature(t *testing.T) {
	f := newFixture(t, textReply("a"), textReply("b"))

	hot := 5.0
	f.send(t, "one", func(m *api.UnifiedMessage) { m.Temperature = &hot })
	cold := 0.2
	f.send(t, "two", func(m *api.UnifiedMessage) { m.Temperature = &cold })

	assert.Equal(t, 2.0, f.llm.requests[0].opts.Temperature)
	assert.Equal(t, 0.2, f.llm.requests[1].opts.Temperature)
	assert.Equal(t, 0.0, ClampTemperature(-1))
}

func TestHandleMessageConnectionFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.client = &llm.UnavailableClient{Err: config.ErrMissingCredentials}

	reply, history := f.send(t, "hi")

	require.Len(t, f.responder.replies, 1)
	assert.Equal(t, "❌ Error calling Azure OpenAI: connection failed: missing Azure OpenAI credentials", f.responder.replies[0])
	assert.False(t, reply.HasText())
	assert.Equal(t, 1, history.Len(), "only the user message is kept")
	assert.Contains(t, f.engine.Stats(f.session).Status, "Not connected")
}

func TestHandleMessageStreamError(t *testing.T) {
	streamErr := errors.New("connection reset")
	f := newFixture(t, []llm.StreamChunk{
		llm.NewTextChunk("partial"),
		llm.NewErrorChunk("Stream error: connection reset", streamErr, true),
	})

	reply, _ := f.send(t, "hi")
	assert.Equal(t, "partial", reply.GetTextContent())
	require.Len(t, f.responder.streamed, 1)
	assert.Contains(t, f.responder.streamed[0], "❌ Stream error: connection reset")
}

func TestSlashCommands(t *testing.T) {
	f := newFixture(t, textReply("first"), textReply("no tools"))
	f.send(t, "hello")

	_, history := f.send(t, "/clear")
	assert.Equal(t, 0, history.Len())
	assert.Equal(t, "Cleared 2 messages from history", f.responder.replies[len(f.responder.replies)-1])

	f.send(t, "/echo {\"text\":\"manual\"}")
	assert.Equal(t, "echo: manual", f.responder.streamed[len(f.responder.streamed)-1])
	assert.Equal(t, 0, history.Len(), "manual tool runs are not stored")

	f.send(t, "/tools")
	assert.Contains(t, f.responder.replies[len(f.responder.replies)-1], "- echo(text): Echo the text back")

	f.send(t, "/bogus")
	assert.Contains(t, f.responder.replies[len(f.responder.replies)-1], "❌ Unknown command: /bogus")

	f.send(t, "/notools tell me a joke")
	last := f.llm.requests[len(f.llm.requests)-1]
	assert.Nil(t, last.tools)
	assert.Equal(t, "tell me a joke", last.messages[len(last.messages)-1].GetTextContent())

	f.send(t, "/stats")
	assert.Contains(t, f.responder.replies[len(f.responder.replies)-1], "- **Messages in history:** 2")
}

func TestControlPanel(t *testing.T) {
	f := newFixture(t, textReply("hi"))
	f.engine.AddStatsHook(func(s *api.Stats) { s.Calculations = 7 })
	f.send(t, "hello")

	stats := f.engine.Stats(f.session)
	assert.Equal(t, "web_s1", stats.Session)
	assert.Equal(t, 2, stats.HistoryLength)
	assert.Equal(t, 1, stats.ToolCount)
	assert.Equal(t, 7, stats.Calculations)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, "✓ Running", stats.Status)

	assert.Contains(t, FormatStats(stats), "- **Calculations performed:** 7")
	assert.Equal(t, 2, f.engine.ClearHistory(f.session))
	assert.Equal(t, 0, f.engine.Stats(f.session).HistoryLength)
}

func TestStatsAndClearLeaveUnknownSessionsAlone(t *testing.T) {
	f := newFixture(t, textReply("hi"))
	f.send(t, "hello")

	other := api.SessionContext{ChannelID: "web", ChatID: "s2", UserID: "u"}
	for i := 0; i < 3; i++ {
		stats := f.engine.Stats(other)
		assert.Equal(t, 0, stats.HistoryLength)
		assert.Equal(t, 1, stats.ActiveSessions)
	}
	assert.Equal(t, 0, f.engine.ClearHistory(other))
	assert.Equal(t, []string{"web_s1"}, f.sessions.Sessions())
}

func TestMetricsRecorded(t *testing.T) {
	call := llm.ToolCall{ID: "c", Name: "echo", Function: llm.FunctionCall{Name: "echo", Arguments: `{"text":"x"}`}}
	f := newFixture(t, toolCallReply(call), textReply("ok"))
	m := monitor.NewMetrics("test")
	f.engine.SetMetrics(m)

	f.send(t, "go")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("web", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("true", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("false", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("echo", "ok")))
}

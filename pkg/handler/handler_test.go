package handler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mcpchat/pkg/api"
	"mcpchat/pkg/llm"
	"mcpchat/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu        sync.Mutex
	debugIDs  []string
	histories []*llm.ChatHistory
	responder api.MessageResponder

	running    atomic.Int32
	maxRunning atomic.Int32
	delay      time.Duration
	record     bool
}

func (e *fakeEngine) HandleMessage(ctx context.Context, msg *api.UnifiedMessage, history *llm.ChatHistory) llm.Message {
	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		peak := e.maxRunning.Load()
		if n <= peak || e.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(e.delay)
	if e.record {
		history.Add(llm.NewUserMessage(msg.Content), llm.NewAssistantMessage("ok"))
	}

	e.mu.Lock()
	e.debugIDs = append(e.debugIDs, utils.DebugID(ctx))
	e.histories = append(e.histories, history)
	e.mu.Unlock()
	return llm.NewAssistantMessage("ok")
}

func (e *fakeEngine) SetResponder(r api.MessageResponder) { e.responder = r }
func (e *fakeEngine) SetToolRegistry(api.ToolRegistry)    {}
func (e *fakeEngine) RegisterTool(...api.Tool)            {}

type replies struct {
	mu   sync.Mutex
	text []string
}

func (r *replies) SendReply(s api.SessionContext, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = append(r.text, content)
	return nil
}
func (r *replies) StreamReply(api.SessionContext, <-chan llm.ContentBlock) error { return nil }
func (r *replies) SendSignal(api.SessionContext, string) error                   { return nil }

var webSession = api.SessionContext{ChannelID: "web", ChatID: "tab"}

func TestOnMessageAssignsDebugIDAndHistory(t *testing.T) {
	engine := &fakeEngine{}
	sm := llm.NewSessionManager("")
	h := NewChatHandler(engine, sm)
	h.SetResponder(&replies{})
	assert.NotNil(t, engine.responder)

	h.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "hi"})
	h.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "again", DebugID: "fixed1"})
	h.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "   "})

	require.Len(t, engine.debugIDs, 2, "blank messages are ignored")
	assert.Len(t, engine.debugIDs[0], 6)
	assert.Equal(t, "fixed1", engine.debugIDs[1])

	expected, err := sm.GetHistory("web_tab")
	require.NoError(t, err)
	assert.Same(t, expected, engine.histories[0])
	assert.Same(t, expected, engine.histories[1])
}

func TestOnMessageSerializesSameSession(t *testing.T) {
	engine := &fakeEngine{delay: 20 * time.Millisecond}
	h := NewChatHandler(engine, llm.NewSessionManager(""))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "x"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), engine.maxRunning.Load())
	assert.Len(t, engine.debugIDs, 4)
}

func TestClearWaitsForRunningTurn(t *testing.T) {
	engine := &fakeEngine{delay: 50 * time.Millisecond, record: true}
	sm := llm.NewSessionManager("")
	h := NewChatHandler(engine, sm)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "x"})
	}()
	require.Eventually(t, func() bool { return engine.running.Load() == 1 }, time.Second, time.Millisecond)

	n, err := sm.Clear("web_tab")
	require.NoError(t, err)
	<-done

	assert.Equal(t, 2, n, "clear runs after the turn has written its messages")
	history, err := sm.GetHistory("web_tab")
	require.NoError(t, err)
	assert.Equal(t, 0, history.Len())
}

func TestOnMessageReportsCorruptHistory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history_web_tab.json"), []byte("{not json"), 0644))

	engine := &fakeEngine{}
	out := &replies{}
	h := NewChatHandler(engine, llm.NewSessionManager(dir))
	h.SetResponder(out)

	h.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "hi"})

	assert.Empty(t, engine.debugIDs)
	require.Len(t, out.text, 1)
	assert.Contains(t, out.text[0], "❌ Failed to load conversation history")
}

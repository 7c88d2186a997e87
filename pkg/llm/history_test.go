package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatHistoryWindow(t *testing.T) {
	h := NewChatHistory()
	for i := 0; i < 5; i++ {
		h.Add(NewUserMessage(fmt.Sprintf("m%d", i)))
	}

	assert.Len(t, h.Window(0), 5)
	assert.Len(t, h.Window(10), 5)

	win := h.Window(3)
	require.Len(t, win, 3)
	assert.Equal(t, "m2", win[0].GetTextContent())
	assert.Equal(t, "m4", win[2].GetTextContent())
}

func TestChatHistoryWindowSkipsOrphanToolResults(t *testing.T) {
	h := NewChatHistory()
	call := ToolCall{ID: "call_1", Name: "add", Function: FunctionCall{Name: "add", Arguments: `{"numbers":[1,2]}`}}
	assistant := NewAssistantMessage("")
	assistant.ToolCalls = []ToolCall{call}

	h.Add(
		NewUserMessage("add 1 and 2"),
		assistant,
		NewToolResultMessage(call, "Result: 3"),
		NewAssistantMessage("It is 3."),
	)

	win := h.Window(2)
	require.Len(t, win, 1, "a leading tool message without its call is dropped")
	assert.Equal(t, RoleAssistant, win[0].Role)
	assert.Equal(t, "It is 3.", win[0].GetTextContent())

	win = h.Window(3)
	require.Len(t, win, 3)
	assert.Equal(t, []ToolCall{call}, win[0].ToolCalls)
}

func TestChatHistoryClear(t *testing.T) {
	h := NewChatHistory()
	h.Add(NewUserMessage("a"), NewAssistantMessage("b"))

	assert.Equal(t, 2, h.Clear())
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.Clear())
}

func TestChatHistoryMessagesForUI(t *testing.T) {
	h := NewChatHistory()
	call := ToolCall{ID: "c", Name: "list_files"}
	withCalls := NewAssistantMessage("")
	withCalls.ToolCalls = []ToolCall{call}

	h.Add(NewUserMessage("list"), withCalls, NewToolResultMessage(call, "Files found (0)"), NewAssistantMessage("none"))

	ui := h.GetMessagesForUI()
	require.Len(t, ui, 2)
	assert.Equal(t, "list", ui[0].GetTextContent())
	assert.Equal(t, "none", ui[1].GetTextContent())
}

func TestChatHistorySaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")

	h := NewChatHistory()
	call := ToolCall{ID: "call_9", Name: "divide", Function: FunctionCall{Name: "divide", Arguments: `{"a":1,"b":4}`}}
	assistant := NewAssistantMessage("")
	assistant.ToolCalls = []ToolCall{call}
	h.Add(NewUserMessage("1/4?"), assistant, NewToolResultMessage(call, "Result: 0.25"))
	require.NoError(t, h.Save(path))

	loaded := NewChatHistory()
	require.NoError(t, loaded.Load(path))
	msgs := loaded.GetMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, call, msgs[1].ToolCalls[0])
	assert.Equal(t, "call_9", msgs[2].ToolCallID)

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestChatHistoryLoadMissingFile(t *testing.T) {
	h := NewChatHistory()
	assert.NoError(t, h.Load(filepath.Join(t.TempDir(), "none.json")))
	assert.Equal(t, 0, h.Len())
}

func TestSessionManagerIsolationAndPersistence(t *testing.T) {
	dir := t.TempDir()
	sm := NewSessionManager(dir)

	a, err := sm.GetHistory("web_alice")
	require.NoError(t, err)
	b, err := sm.GetHistory("web_bob")
	require.NoError(t, err)

	a.Add(NewUserMessage("hi from alice"))
	assert.Equal(t, 0, b.Len())

	same, err := sm.GetHistory("web_alice")
	require.NoError(t, err)
	assert.Same(t, a, same)

	require.NoError(t, sm.SaveSession("web_alice"))
	assert.FileExists(t, filepath.Join(dir, "history_web_alice.json"))

	reloaded, err := NewSessionManager(dir).GetHistory("web_alice")
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())

	n, err := sm.Clear("web_alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"web_alice", "web_bob"}, sm.Sessions())
}

func TestSessionManagerSanitizesFileNames(t *testing.T) {
	dir := t.TempDir()
	sm := NewSessionManager(dir)

	h, err := sm.GetHistory("web_../../etc")
	require.NoError(t, err)
	h.Add(NewUserMessage("x"))
	require.NoError(t, sm.SaveSession("web_../../etc"))

	assert.FileExists(t, filepath.Join(dir, "history_web_______etc.json"))
}

func TestSessionManagerMemoryOnly(t *testing.T) {
	sm := NewSessionManager("")
	h, err := sm.GetHistory("s")
	require.NoError(t, err)
	h.Add(NewUserMessage("x"))
	assert.NoError(t, sm.SaveSession("s"))
}

func TestSessionManagerLookupDoesNotCreate(t *testing.T) {
	sm := NewSessionManager("")

	h, err := sm.Lookup("web_x1")
	require.NoError(t, err)
	assert.Nil(t, h)

	n, err := sm.Clear("web_x1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sm.Sessions())

	dir := t.TempDir()
	disk := NewSessionManager(dir)
	saved, err := disk.GetHistory("web_alice")
	require.NoError(t, err)
	saved.Add(NewUserMessage("hi"))
	require.NoError(t, disk.SaveSession("web_alice"))

	fresh := NewSessionManager(dir)
	h, err = fresh.Lookup("web_alice")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, 1, h.Len())
	h, err = fresh.Lookup("web_bob")
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.Equal(t, []string{"web_alice"}, fresh.Sessions())
}

func TestSessionLockBlocksClearAndIsReleased(t *testing.T) {
	sm := NewSessionManager("")
	h, err := sm.GetHistory("web_s")
	require.NoError(t, err)

	unlock := sm.Lock("web_s")
	cleared := make(chan int)
	go func() {
		n, _ := sm.Clear("web_s")
		cleared <- n
	}()

	h.Add(NewUserMessage("q"), NewAssistantMessage("a"))
	select {
	case <-cleared:
		t.Fatal("clear ran while the session was locked")
	case <-time.After(30 * time.Millisecond):
	}
	unlock()

	assert.Equal(t, 2, <-cleared)
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, sm.lockCount())
}

package web

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mcpchat/pkg/api"
	"mcpchat/pkg/channels"
	"mcpchat/pkg/config"
	"mcpchat/pkg/llm"
	"mcpchat/pkg/monitor"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContext struct {
	mu      sync.Mutex
	msgs    []*api.UnifiedMessage
	history []llm.Message
	panel   api.ControlPanel
}

func (f *fakeContext) SendReply(api.SessionContext, string) error                    { return nil }
func (f *fakeContext) StreamReply(api.SessionContext, <-chan llm.ContentBlock) error { return nil }
func (f *fakeContext) SendSignal(api.SessionContext, string) error                   { return nil }
func (f *fakeContext) Panel() api.ControlPanel                                       { return f.panel }
func (f *fakeContext) History(api.SessionContext) []llm.Message                      { return f.history }

func (f *fakeContext) OnMessage(channelID string, msg *api.UnifiedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeContext) received() []*api.UnifiedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*api.UnifiedMessage(nil), f.msgs...)
}

type stubPanel struct {
	cleared []string
}

func (p *stubPanel) Stats(session api.SessionContext) api.Stats {
	return api.Stats{Session: session.ID(), HistoryLength: 4, ToolCount: 12, Status: "✓ Running"}
}
func (p *stubPanel) ToolsDescription() string { return "### 🛠️ Available Tools" }
func (p *stubPanel) ClearHistory(session api.SessionContext) int {
	p.cleared = append(p.cleared, session.ID())
	return 3
}

func newServer(t *testing.T, ctx *fakeContext, metrics *monitor.Metrics) (*WebChannel, *httptest.Server) {
	t.Helper()
	c := NewWebChannel(WebConfig{}, metrics)
	srv := httptest.NewServer(c.Routes(ctx))
	t.Cleanup(srv.Close)
	return c, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) OutgoingMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg OutgoingMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketAssignsSessionAndRoutesMessages(t *testing.T) {
	ctx := &fakeContext{}
	metrics := monitor.NewMetrics("test")
	c, srv := newServer(t, ctx, metrics)

	conn := dial(t, srv, "")
	first := readFrame(t, conn)
	require.Equal(t, "session", first.Type)
	require.NotEmpty(t, first.Value)

	require.Eventually(t, func() bool { return c.Connections() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Sessions))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"hi","use_tools":false,"temperature":0.3}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("plain text")))
	require.Eventually(t, func() bool { return len(ctx.received()) == 2 }, time.Second, 10*time.Millisecond)

	msgs := ctx.received()
	assert.Equal(t, "hi", msgs[0].Content)
	assert.True(t, msgs[0].NoTools)
	require.NotNil(t, msgs[0].Temperature)
	assert.InDelta(t, 0.3, *msgs[0].Temperature, 1e-9)
	assert.Equal(t, "web", msgs[0].Session.ChannelID)
	assert.Equal(t, first.Value, msgs[0].Session.ChatID)
	assert.Equal(t, "plain text", msgs[1].Content)
	assert.False(t, msgs[1].NoTools)

	session := msgs[0].Session
	require.NoError(t, c.SendSignal(session, "thinking"))
	assert.Equal(t, OutgoingMessage{Type: "signal", Value: "thinking"}, readFrame(t, conn))

	blocks := make(chan llm.ContentBlock, 3)
	blocks <- llm.NewTextBlock("Hel")
	blocks <- llm.NewTextBlock("lo")
	blocks <- llm.NewErrorBlock("❌ boom")
	close(blocks)
	require.NoError(t, c.Stream(session, blocks))
	assert.Equal(t, OutgoingMessage{Type: "text", Text: "Hel"}, readFrame(t, conn))
	assert.Equal(t, OutgoingMessage{Type: "text", Text: "lo"}, readFrame(t, conn))
	assert.Equal(t, OutgoingMessage{Type: "error", Text: "❌ boom"}, readFrame(t, conn))
	assert.Equal(t, "done", readFrame(t, conn).Type)

	require.NoError(t, c.Send(session, "Cleared 0 messages from history"))
	assert.Equal(t, "Cleared 0 messages from history", readFrame(t, conn).Text)
	assert.Equal(t, "done", readFrame(t, conn).Type)

	conn.Close()
	require.Eventually(t, func() bool { return c.Connections() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Sessions))
	assert.Error(t, c.Send(session, "gone"))
}

func TestWebSocketReplaysHistory(t *testing.T) {
	ctx := &fakeContext{history: []llm.Message{
		llm.NewUserMessage("what is 2+2"),
		llm.NewAssistantMessage("4"),
	}}
	_, srv := newServer(t, ctx, nil)

	conn := dial(t, srv, "?session=tab-1")
	frame := readFrame(t, conn)
	require.Equal(t, "history", frame.Type)
	require.Len(t, frame.Data, 2)
	assert.Equal(t, "4", frame.Data[1].GetTextContent())
}

func TestControlPanelAPI(t *testing.T) {
	panel := &stubPanel{}
	_, srv := newServer(t, &fakeContext{panel: panel}, nil)

	res, err := http.Get(srv.URL + "/api/stats?session=abc")
	require.NoError(t, err)
	var stats api.Stats
	require.NoError(t, json.NewDecoder(res.Body).Decode(&stats))
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "web_abc", stats.Session)
	assert.Equal(t, 12, stats.ToolCount)

	res, err = http.Get(srv.URL + "/api/tools")
	require.NoError(t, err)
	var tools map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&tools))
	res.Body.Close()
	assert.Equal(t, "### 🛠️ Available Tools", tools["description"])

	res, err = http.Post(srv.URL+"/api/clear?session=abc", "application/json", nil)
	require.NoError(t, err)
	var cleared struct {
		Cleared int    `json:"cleared"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&cleared))
	res.Body.Close()
	assert.Equal(t, 3, cleared.Cleared)
	assert.Equal(t, "Cleared 3 messages from history", cleared.Message)
	assert.Equal(t, []string{"web_abc"}, panel.cleared)

	res, err = http.Post(srv.URL+"/api/clear?session=../etc", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestControlPanelUnavailable(t *testing.T) {
	_, srv := newServer(t, &fakeContext{}, nil)

	res, err := http.Get(srv.URL + "/api/stats?session=abc")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestIndexHealthAndMetrics(t *testing.T) {
	metrics := monitor.NewMetrics("test")
	_, srv := newServer(t, &fakeContext{}, metrics)

	res, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	page, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Contains(t, res.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(page), "Enable Tools")
	assert.Contains(t, string(page), "Convert 32°F to Celsius")

	res, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestFactoryAndLifecycle(t *testing.T) {
	f, ok := channels.GetChannelFactory("web")
	require.True(t, ok)

	ch, err := f.Create(channels.Deps{App: &config.Config{}})
	require.NoError(t, err)
	assert.Equal(t, 7860, ch.(*WebChannel).config.Port)

	c := NewWebChannel(WebConfig{Port: 0}, nil)
	require.NoError(t, c.Start(&fakeContext{}))
	require.NotEmpty(t, c.Addr())

	_, port, err := net.SplitHostPort(c.Addr())
	require.NoError(t, err)
	res, err := http.Get("http://127.0.0.1:" + port + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NoError(t, c.Stop())
}

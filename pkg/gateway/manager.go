package gateway

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"mcpchat/pkg/api"
	"mcpchat/pkg/config"
	"mcpchat/pkg/llm"
	"mcpchat/pkg/monitor"
)

// GatewayManager 負責管理所有的 Channels 並統一路由訊息
type GatewayManager struct {
	channels      map[string]Channel
	msgHandler    MessageHandler
	monitor       monitor.Monitor     // 監控器
	panel         api.ControlPanel    // 控制面板 (stats / tools / clear)
	sessions      *llm.SessionManager // 供 UI 重播歷史
	channelBuffer int                 // 內部 Channel 緩衝大小
	mu            sync.RWMutex
}

// NewGatewayManager 建立一個新的 GatewayManager
func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels:      make(map[string]Channel),
		channelBuffer: 100, // 預設值
	}
}

// SetChannelBuffer 設定內部的 Channel 緩衝大小
func (g *GatewayManager) SetChannelBuffer(size int) {
	if size > 0 {
		g.channelBuffer = size
	}
}

// WithSystemConfig 套用系統參數
func (g *GatewayManager) WithSystemConfig(cfg *config.SystemConfig) {
	g.SetChannelBuffer(cfg.InternalChannelBuffer)
}

// SetMessageHandler 設定處理訊息的核心邏輯 (通常是 LLM 處理函式)
func (g *GatewayManager) SetMessageHandler(handler MessageHandler) {
	g.msgHandler = handler
}

// SetMonitor 設定監控器
func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

// SetControlPanel 設定控制面板
func (g *GatewayManager) SetControlPanel(p api.ControlPanel) {
	g.panel = p
}

// SetSessions 設定 Session 管理器
func (g *GatewayManager) SetSessions(sm *llm.SessionManager) {
	g.sessions = sm
}

// Register 註冊一個 Channel
func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel 取得特定的 Channel (通常用於主動發送訊息)
func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// ChannelIDs 回傳所有已註冊的 Channel ID (排序後)
func (g *GatewayManager) ChannelIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.channels))
	for id := range g.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartAll 啟動所有已註冊的 Channels
func (g *GatewayManager) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Starting channel", "channel", id)
		// 啟動 Channel，並傳入 self 作為 Context
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll 停止所有 Channels
func (g *GatewayManager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", id, "error", err)
		}
	}
	if g.monitor != nil {
		g.monitor.Stop()
	}
}

// SendReply 統一的回覆介面，透過 Channel 介面送回訊息
func (g *GatewayManager) SendReply(session SessionContext, content string) error {
	slog.Debug("Reply", "channel", session.ChannelID, "user", session.Username, "content", content)
	g.broadcast(monitor.MessageTypeAssistant, session, content)

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// SendSignal 發送一個控制訊號 (如 thinking) 到 Channel
func (g *GatewayManager) SendSignal(session SessionContext, signal string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	// 檢查 Channel 是否支援訊號介面
	if sc, ok := c.(SignalingChannel); ok {
		slog.Debug("Signal", "channel", session.ChannelID, "user", session.Username, "signal", signal)
		return sc.SendSignal(session, signal)
	}

	// 不支援的通道安靜地忽略
	return nil
}

// StreamReply 統一的串流回覆介面
// blocks 一定會被讀到關閉為止，避免上游 (engine) 因 Channel 失敗而卡住
func (g *GatewayManager) StreamReply(session SessionContext, blocks <-chan llm.ContentBlock) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		for range blocks {
		}
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	// 建立一個新的 channel 來包裝原始 blocks，以便收集完整內容廣播到監控器
	wrappedBlocks := make(chan llm.ContentBlock, g.channelBuffer)

	go func() {
		defer close(wrappedBlocks)
		var fullContent strings.Builder
		for block := range blocks {
			// 只收集 text 類型的內容用於監控
			if block.Type == llm.BlockTypeText {
				fullContent.WriteString(block.Text)
			}
			wrappedBlocks <- block
		}
		// 串流結束後，廣播完整訊息到監控器
		if fullContent.Len() > 0 {
			g.broadcast(monitor.MessageTypeAssistant, session, fullContent.String())
		}
	}()

	err := c.Stream(session, wrappedBlocks)
	for range wrappedBlocks {
	}
	return err
}

// OnMessage 實作 ChannelContext 介面，接收來自 Channel 的訊息
func (g *GatewayManager) OnMessage(channelID string, msg *UnifiedMessage) {
	slog.Info("Message received",
		"channel", channelID, "user", msg.Session.Username, "user_id", msg.Session.UserID, "content", msg.Content)

	g.broadcast(monitor.MessageTypeUser, msg.Session, msg.Content)

	if g.msgHandler != nil {
		// 將訊息轉發給核心處理器 (LLM)
		g.msgHandler(msg)
	} else {
		slog.Warn("No message handler set")
	}
}

// Panel 實作 ChannelContext 介面；回傳的面板會補上 Channel 清單
func (g *GatewayManager) Panel() api.ControlPanel {
	if g.panel == nil {
		return nil
	}
	return &channelPanel{ControlPanel: g.panel, gw: g}
}

// History 實作 ChannelContext 介面，回傳 UI 可顯示的對話內容
func (g *GatewayManager) History(session SessionContext) []llm.Message {
	if g.sessions == nil {
		return nil
	}
	h, err := g.sessions.GetHistory(session.ID())
	if err != nil {
		slog.Warn("Failed to load history", "session", session.ID(), "error", err)
		return nil
	}
	return h.GetMessagesForUI()
}

func (g *GatewayManager) broadcast(kind string, session SessionContext, content string) {
	if g.monitor == nil {
		return
	}
	g.monitor.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: kind,
		ChannelID:   session.ChannelID,
		Username:    session.Username,
		Content:     content,
	})
}

// channelPanel 在統計資料中加入目前註冊的 Channels
type channelPanel struct {
	api.ControlPanel
	gw *GatewayManager
}

func (p *channelPanel) Stats(session SessionContext) api.Stats {
	s := p.ControlPanel.Stats(session)
	s.Channels = p.gw.ChannelIDs()
	return s
}

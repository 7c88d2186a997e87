package llm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ChatHistory 管理對話歷史，支援滑動窗口 (Sliding Window) 限制送出的長度
// system prompt 不存放在歷史中，由 engine 在每次請求時加在最前面
type ChatHistory struct {
	messages []Message
	mu       sync.RWMutex
}

// NewChatHistory 建立一個新的歷史管理員
func NewChatHistory() *ChatHistory {
	return &ChatHistory{
		messages: make([]Message, 0),
	}
}

// Add 加入一則或多則新訊息
func (h *ChatHistory) Add(msgs ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msgs...)
}

// GetMessages 取得目前的對話歷史副本
func (h *ChatHistory) GetMessages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

// Window 取得最後 max 則訊息（max <= 0 代表全部）
// 窗口開頭若是 tool 訊息，它對應的 assistant tool_calls 已被切掉，API 會拒絕，因此一併略過
func (h *ChatHistory) Window(max int) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if max > 0 && len(h.messages) > max {
		start = len(h.messages) - max
	}
	for start < len(h.messages) && h.messages[start].Role == RoleTool {
		start++
	}

	cp := make([]Message, len(h.messages)-start)
	copy(cp, h.messages[start:])
	return cp
}

// Len 回傳目前訊息數量
func (h *ChatHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear 清空歷史並回傳被移除的訊息數
func (h *ChatHistory) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.messages)
	h.messages = make([]Message, 0)
	return n
}

// GetMessagesForUI 只回傳使用者看得到的訊息（user 與有文字的 assistant）
func (h *ChatHistory) GetMessagesForUI() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Message
	for _, m := range h.messages {
		switch m.Role {
		case RoleUser:
			out = append(out, m)
		case RoleAssistant:
			if m.HasText() {
				out = append(out, m)
			}
		}
	}
	return out
}

// Save 以 JSON 寫入檔案（先寫暫存檔再 rename，避免寫一半）
func (h *ChatHistory) Save(path string) error {
	h.mu.RLock()
	data, err := json.MarshalIndent(h.messages, "", "  ")
	h.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create history dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load 從檔案讀回歷史；檔案不存在時保持空白
func (h *ChatHistory) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("failed to parse history %s: %w", path, err)
	}

	h.mu.Lock()
	h.messages = msgs
	h.mu.Unlock()
	return nil
}

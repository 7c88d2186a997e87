package llm

import (
	"strings"
	"time"

	"mcpchat/pkg/utils"
)

//----------------------------------------------------------------
// Message - 通用訊息結構
//----------------------------------------------------------------

// Message 表示一條對話訊息
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role"`    // "user", "assistant", "system", "tool"
	Content   []ContentBlock `json:"content"` // 內容區塊陣列
	Timestamp int64          `json:"timestamp,omitempty"`

	// ToolCalls 包含 LLM 產生的工具調用請求（僅 role: assistant 時有效）
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID 關聯此訊息所屬的工具調用 ID（僅 role: tool 時有效）
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// Usage 只在 assistant 訊息上記錄本輪的 token 用量
	Usage *LLMUsage `json:"usage,omitempty"`
}

// ToolCall 表示 LLM 產生的工具調用請求
type ToolCall struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Function FunctionCall `json:"function"`
}

// FunctionCall 包含具體的工具名稱與參數
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON 字串，原封不動交給工具
}

//----------------------------------------------------------------
// ContentBlock - 統一的內容區塊
//----------------------------------------------------------------

// ContentBlock 表示訊息中的一個內容區塊
type ContentBlock struct {
	Type string `json:"type"` // "text", "thinking", "error"
	Text string `json:"text,omitempty"`
}

//----------------------------------------------------------------
// StreamChunk - 串流 chunk 結構
//----------------------------------------------------------------

// StreamChunk 表示 LLM 串流回應的一個 chunk（增量式）
type StreamChunk struct {
	// 內容區塊（增量，只包含新增的內容）
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`

	// 工具調用（完整累積後才送出）
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// 是否為最後一個 chunk
	IsFinal bool `json:"is_final"`

	// 停止原因（只在最後 chunk 有值）
	FinishReason string `json:"finish_reason,omitempty"`

	// 用量統計（最後 chunk 一定有，若 API 有回報）
	Usage *LLMUsage `json:"usage,omitempty"`

	// Error 是要顯示給使用者的錯誤文字；RawError 保留原始錯誤供重試判斷
	Error    string `json:"error,omitempty"`
	RawError error  `json:"-"`
}

//----------------------------------------------------------------
// Helper Functions - Message
//----------------------------------------------------------------

// NewTextMessage 建立純文字訊息
func NewTextMessage(role, text string) Message {
	return Message{
		ID:   utils.GenerateID(),
		Role: role,
		Content: []ContentBlock{{
			Type: BlockTypeText,
			Text: text,
		}},
		Timestamp: time.Now().Unix(),
	}
}

// NewSystemMessage 建立系統訊息
func NewSystemMessage(text string) Message {
	return NewTextMessage(RoleSystem, text)
}

// NewUserMessage 建立使用者訊息
func NewUserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

// NewAssistantMessage 建立助理訊息
func NewAssistantMessage(text string) Message {
	return NewTextMessage(RoleAssistant, text)
}

// NewToolResultMessage 建立工具結果訊息，必須緊跟在對應的 assistant tool_calls 之後
func NewToolResultMessage(call ToolCall, text string) Message {
	msg := NewTextMessage(RoleTool, text)
	msg.ToolCallID = call.ID
	msg.ToolName = call.Name
	return msg
}

// AddContentBlock 添加內容區塊到訊息
func (m *Message) AddContentBlock(block ContentBlock) {
	m.Content = append(m.Content, block)
}

// GetTextContent 提取所有文字內容（排除 thinking 與 error）
func (m *Message) GetTextContent() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// HasText 判斷訊息是否有可送回模型的文字內容
func (m *Message) HasText() bool {
	for _, block := range m.Content {
		if block.Type == BlockTypeText && block.Text != "" {
			return true
		}
	}
	return false
}

//----------------------------------------------------------------
// Helper Functions - ContentBlock / StreamChunk
//----------------------------------------------------------------

// NewTextBlock 建立文字區塊
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// NewErrorBlock 建立錯誤區塊（只顯示給使用者，不送回模型）
func NewErrorBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeError, Text: text}
}

// NewTextChunk 建立文字 chunk
func NewTextChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{NewTextBlock(text)}}
}

// NewErrorChunk 建立錯誤 chunk；isFinal 為 true 時代表串流到此為止
func NewErrorChunk(text string, raw error, isFinal bool) StreamChunk {
	return StreamChunk{
		Error:    text,
		RawError: raw,
		IsFinal:  isFinal,
	}
}

// NewFinalChunk 建立最終 chunk（帶用量統計）
func NewFinalChunk(reason string, usage *LLMUsage) StreamChunk {
	return StreamChunk{
		IsFinal:      true,
		FinishReason: reason,
		Usage:        usage,
	}
}

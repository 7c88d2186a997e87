package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json 用於 package llm 內部的 JSON 處理，統一使用 json-iterator
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoClients 表示沒有任何可用的 LLM client
var ErrNoClients = errors.New("no LLM clients could be initialized")

// LLMUsage 定義通用的用量統計結構
type LLMUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// LogUsage 印出統一格式的用量統計
func LogUsage(ctx context.Context, model string, usage *LLMUsage) {
	if usage == nil {
		return
	}
	slog.InfoContext(ctx, "Token usage",
		"model", model,
		"prompt", usage.PromptTokens,
		"completion", usage.CompletionTokens,
		"total", usage.TotalTokens,
		"stop_reason", usage.StopReason,
	)
}

// Tool 是提供給模型的函式描述（名稱、說明、JSON Schema 參數）
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
}

// ChatOptions 是每次請求可調整的取樣參數
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}

// LLMClient 通用 LLM 客戶端介面
type LLMClient interface {
	// StreamChat 流式對話，返回 StreamChunk channel
	// messages: 對話歷史（含 system prompt）
	// tools: 本次允許模型呼叫的工具，nil 代表不提供工具
	// 若請求在建立階段就失敗（認證、網路、429…）直接回傳 error，方便上層重試
	StreamChat(ctx context.Context, messages []Message, tools []Tool, opts ChatOptions) (<-chan StreamChunk, error)

	// IsTransientError 判斷是否為暫時性錯誤 (如 503, Rate Limit)
	IsTransientError(err error) bool
}

// FallbackClient 支援多個 Client 分級嘗試
type FallbackClient struct {
	Clients    []LLMClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) StreamChat(ctx context.Context, messages []Message, tools []Tool, opts ChatOptions) (<-chan StreamChunk, error) {
	if len(f.Clients) == 0 {
		return nil, ErrNoClients
	}

	// 使用配置的重試次數，若為 0 則至少執行 1 次
	maxRetries := f.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.WarnContext(ctx, "Previous deployment failed, trying fallback", "fallback", i+1)
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				slog.InfoContext(ctx, "Retrying deployment", "client", i+1, "attempt", retry, "max", maxRetries)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			ch, err := client.StreamChat(ctx, messages, tools, opts)
			if err == nil {
				return ch, nil
			}
			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.WarnContext(ctx, "Transient error, retrying", "client", i+1, "error", err)
				continue
			}

			slog.ErrorContext(ctx, "Deployment failed", "client", i+1, "error", err)
			break
		}
	}
	return nil, fmt.Errorf("all deployments failed: %w", lastErr)
}

// IsTransientError 實作 LLMClient 介面
// 最後一個錯誤被 %w 包住，交給內部 client 判斷（circuit breaker 依此計數）
func (f *FallbackClient) IsTransientError(err error) bool {
	for _, c := range f.Clients {
		if c.IsTransientError(err) {
			return true
		}
	}
	return false
}

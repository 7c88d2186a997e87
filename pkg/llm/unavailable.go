package llm

import (
	"context"
	"fmt"
)

// UnavailableClient 在無法建立任何 client 時使用（例如缺少憑證）
// 每次呼叫都回傳同一個錯誤，讓對話層照常回覆錯誤訊息而不是讓程式退出
type UnavailableClient struct {
	Err error
}

func (c *UnavailableClient) StreamChat(ctx context.Context, messages []Message, tools []Tool, opts ChatOptions) (<-chan StreamChunk, error) {
	return nil, fmt.Errorf("connection failed: %w", c.Err)
}

func (c *UnavailableClient) IsTransientError(err error) bool {
	return false
}

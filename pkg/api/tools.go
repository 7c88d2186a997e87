package api

import (
	"context"
	"strings"

	"mcpchat/pkg/llm"
)

// Tool defines the structural interface for any capability that the model
// can call. It includes metadata for the function definition (JSON Schema)
// and the execution logic itself.
type Tool interface {
	llm.Tool
	// Execute performs the actual tool logic using the provided argument map.
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult encapsulates the outcome of a tool execution.
type ToolResult struct {
	Content []ContentBlock `json:"content"`           // Ordered blocks of result data
	Details map[string]any `json:"details,omitempty"` // Arbitrary technical metadata
	IsError bool           `json:"is_error,omitempty"`
}

// Text concatenates the text blocks of the result.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Content))
	for _, b := range r.Content {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}

// NewTextResult wraps a plain string into a ToolResult.
func NewTextResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// NewErrorResult wraps an error message shown to the model and the user.
func NewErrorResult(text string) *ToolResult {
	res := NewTextResult(text)
	res.IsError = true
	return res
}

// ContentBlock is an atomic data unit within a ToolResult.
// It is converted into llm.ContentBlocks by the engine.
type ContentBlock struct {
	Type string `json:"type"`           // Data format, currently always "text"
	Text string `json:"text,omitempty"` // String content
}

// ToolRegistry defines the interface for managing and accessing tools.
type ToolRegistry interface {
	Register(tool Tool)
	Unregister(name string)
	Get(name string) (Tool, bool)
	GetAll() []Tool
	// Describe renders one "- name(params): description" line per tool.
	Describe() string
	// Dispatch runs the named tool with the raw JSON arguments sent by the model.
	Dispatch(ctx context.Context, name, rawArgs string) *ToolResult
}

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"mcpchat/pkg/api"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Re-export types from api package via aliases to maintain backward compatibility
type Tool = api.Tool
type ToolResult = api.ToolResult
type ContentBlock = api.ContentBlock

// ToolRegistry acts as a central inventory for all tools available to the Agent.
// Tools are returned in registration order so prompts and listings are stable.
type ToolRegistry struct {
	mu    sync.RWMutex    // Protects concurrent access to the tools map
	tools map[string]Tool // Internal map of tool name to implementation
	order []string        // Registration order of the tool names
}

// NewToolRegistry creates a new tool registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. Registering an existing name replaces
// the implementation but keeps its position.
func (tr *ToolRegistry) Register(tool Tool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, exists := tr.tools[tool.Name()]; !exists {
		tr.order = append(tr.order, tool.Name())
	}
	tr.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry
func (tr *ToolRegistry) Unregister(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, exists := tr.tools[name]; !exists {
		return
	}
	delete(tr.tools, name)
	for i, n := range tr.order {
		if n == name {
			tr.order = append(tr.order[:i], tr.order[i+1:]...)
			break
		}
	}
}

// Get retrieves a tool by name
func (tr *ToolRegistry) Get(name string) (Tool, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	tool, ok := tr.tools[name]
	return tool, ok
}

// GetAll returns all registered tools
func (tr *ToolRegistry) GetAll() []Tool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	tools := make([]Tool, 0, len(tr.order))
	for _, name := range tr.order {
		tools = append(tools, tr.tools[name])
	}
	return tools
}

// Len returns the number of registered tools.
func (tr *ToolRegistry) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.order)
}

// Describe renders one "- name(params): description" line per tool.
func (tr *ToolRegistry) Describe() string {
	var lines []string
	for _, t := range tr.GetAll() {
		lines = append(lines, fmt.Sprintf("- %s(%s): %s", t.Name(), strings.Join(ParamSummary(t.Parameters()), ", "), t.Description()))
	}
	return strings.Join(lines, "\n")
}

// Dispatch runs exactly the named tool with the arguments the model sent.
// Every failure is rendered as text so the turn can continue.
func (tr *ToolRegistry) Dispatch(ctx context.Context, name, rawArgs string) (res *ToolResult) {
	cleanName := strings.TrimPrefix(name, "functions.")

	tool, ok := tr.Get(cleanName)
	if !ok {
		slog.ErrorContext(ctx, "Unknown tool call", "name", name)
		return api.NewErrorResult(fmt.Sprintf("Tool '%s' not found", name))
	}

	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.UnmarshalFromString(rawArgs, &args); err != nil {
			slog.ErrorContext(ctx, "Failed to parse tool args", "name", cleanName, "error", err)
			return api.NewErrorResult(fmt.Sprintf("Error: Failed to parse tool arguments: %v", err))
		}
		if args == nil {
			args = map[string]any{}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Tool execution panicked", "name", cleanName, "error", r)
			res = api.NewErrorResult(fmt.Sprintf("Error executing tool: %v", r))
		}
	}()

	slog.InfoContext(ctx, "Executing tool", "name", cleanName, "args", args)
	res, err := tool.Execute(ctx, args)
	if err != nil {
		slog.WarnContext(ctx, "Tool execution error", "name", cleanName, "error", err)
		return api.NewErrorResult(fmt.Sprintf("Error executing tool: %v", err))
	}
	if res == nil || len(res.Content) == 0 {
		return api.NewTextResult("(No output)")
	}
	return res
}

// ParamSummary lists the parameter names of a JSON schema: required ones in
// declared order, then optional ones alphabetically with an "(optional)" mark.
// Array parameters are prefixed with "*".
func ParamSummary(schema map[string]any) []string {
	props, _ := schema["properties"].(map[string]any)
	required := requiredNames(schema)

	seen := make(map[string]bool, len(required))
	var out []string
	for _, name := range required {
		seen[name] = true
		out = append(out, decorate(name, props[name]))
	}

	var optional []string
	for name := range props {
		if !seen[name] {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	for _, name := range optional {
		out = append(out, decorate(name, props[name])+" (optional)")
	}
	return out
}

func requiredNames(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		names := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}

func decorate(name string, prop any) string {
	if p, ok := prop.(map[string]any); ok && p["type"] == "array" {
		return "*" + name
	}
	return name
}

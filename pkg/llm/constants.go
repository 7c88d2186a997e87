package llm

// StopReason constants define normalized reasons for LLM generation termination.
// All providers must normalize their native stop reasons to these values.
const (
	StopReasonStop      = "stop"       // Normal completion
	StopReasonLength    = "length"     // Output truncated due to token limit
	StopReasonToolCalls = "tool_calls" // Model asked for one or more tool invocations
	StopReasonFiltered  = "content_filter"
)

// ContentBlock Type constants define the supported content block formats
// used throughout the message pipeline.
const (
	BlockTypeText     = "text"     // Plain text content
	BlockTypeThinking = "thinking" // Internal reasoning/chain-of-thought
	BlockTypeError    = "error"    // Error message displayed to user
)

// Message roles as understood by the chat completions API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

package azure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"

	"mcpchat/pkg/config"
	"mcpchat/pkg/llm"

	openai "github.com/openai/openai-go/v3"
	oaazure "github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// streamUsageSince is the first api-version that accepts stream_options.
const streamUsageSince = "2024-09-01"

// Options configures a single deployment client.
type Options struct {
	Endpoint      string
	APIKey        string
	APIVersion    string
	Deployment    string
	Debug         bool
	ChannelBuffer int
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is a wrapper around the official OpenAI Go SDK talking to one
// Azure OpenAI deployment through the chat completions API.
type Client struct {
	client       openai.Client
	deployment   string
	apiVersion   string
	debugEnabled bool
	buffer       int
}

// NewClient creates a new Azure OpenAI client
func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" || opts.APIKey == "" {
		return nil, fmt.Errorf("%w: endpoint and api key are required", config.ErrMissingCredentials)
	}
	if opts.Deployment == "" {
		return nil, errors.New("azure deployment name is required")
	}

	reqOpts := []option.RequestOption{
		oaazure.WithEndpoint(opts.Endpoint, opts.APIVersion),
		oaazure.WithAPIKey(opts.APIKey),
		// Retries are handled by llm.FallbackClient so that fallbacks kick in quickly.
		option.WithMaxRetries(0),
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	buffer := opts.ChannelBuffer
	if buffer <= 0 {
		buffer = 100
	}

	return &Client{
		client:       openai.NewClient(reqOpts...),
		deployment:   opts.Deployment,
		apiVersion:   opts.APIVersion,
		debugEnabled: opts.Debug,
		buffer:       buffer,
	}, nil
}

// Deployment returns the deployment this client talks to.
func (c *Client) Deployment() string {
	return c.deployment
}

// IsTransientError reports rate limits, server-side failures and network
// timeouts. Authentication and validation errors are permanent.
func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout")
}

// StreamChat sends the conversation to the deployment and streams the reply.
// The HTTP request is issued before returning so that connection and status
// errors come back as err and can be retried by the caller.
func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.ChatOptions) (<-chan llm.StreamChunk, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.deployment),
		Messages:    convertMessages(messages),
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}
	if c.apiVersion >= streamUsageSince {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, err
	}

	chunkCh := make(chan llm.StreamChunk, c.buffer)
	emit := func(chunk llm.StreamChunk) bool {
		select {
		case chunkCh <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(chunkCh)
		defer stream.Close()

		// StreamDebugger handles file creation and lifecycle
		debugger := llm.NewStreamDebugger(ctx, "azure", c.debugEnabled)
		defer debugger.Close()

		acc := openai.ChatCompletionAccumulator{}
		var finishReason string

		for stream.Next() {
			chunk := stream.Current()
			debugger.WriteString(chunk.RawJSON())
			acc.AddChunk(chunk)

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
			if choice.Delta.Content != "" {
				if !emit(llm.NewTextChunk(choice.Delta.Content)) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			emit(llm.NewErrorChunk(fmt.Sprintf("Stream error: %v", err), err, true))
			return
		}

		if len(acc.Choices) > 0 && len(acc.Choices[0].Message.ToolCalls) > 0 {
			calls := make([]llm.ToolCall, 0, len(acc.Choices[0].Message.ToolCalls))
			for _, tc := range acc.Choices[0].Message.ToolCalls {
				calls = append(calls, llm.ToolCall{
					ID:   tc.ID,
					Name: tc.Function.Name,
					Function: llm.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			if !emit(llm.StreamChunk{ToolCalls: calls}) {
				return
			}
		}

		reason := normalizeStopReason(finishReason)
		var usage *llm.LLMUsage
		if acc.Usage.TotalTokens > 0 {
			usage = &llm.LLMUsage{
				PromptTokens:     int(acc.Usage.PromptTokens),
				CompletionTokens: int(acc.Usage.CompletionTokens),
				TotalTokens:      int(acc.Usage.TotalTokens),
				StopReason:       reason,
			}
			llm.LogUsage(ctx, c.deployment, usage)
		}

		if reason == llm.StopReasonFiltered {
			emit(llm.NewErrorChunk("Response blocked by the Azure content filter", nil, false))
		}
		emit(llm.NewFinalChunk(reason, usage))
		slog.DebugContext(ctx, "Completion stream finished", "deployment", c.deployment, "reason", reason)
	}()

	return chunkCh, nil
}

func convertMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, m := range messages {
		text := m.GetTextContent()
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(text))
		case llm.RoleUser:
			out = append(out, openai.UserMessage(text))
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(text))
				continue
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{}
			if text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			for _, tc := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case llm.RoleTool:
			if text == "" {
				text = "(No output)"
			}
			out = append(out, openai.ToolMessage(text, m.ToolCallID))
		}
	}

	return out
}

func convertTools(tools []llm.Tool) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  shared.FunctionParameters(t.Parameters()),
		}))
	}
	return out
}

// normalizeStopReason converts Azure finish_reason values to the llm constants.
func normalizeStopReason(reason string) string {
	switch strings.ToLower(reason) {
	case "", "stop":
		return llm.StopReasonStop
	case "length":
		return llm.StopReasonLength
	case "tool_calls", "function_call":
		return llm.StopReasonToolCalls
	case "content_filter":
		return llm.StopReasonFiltered
	default:
		return reason
	}
}

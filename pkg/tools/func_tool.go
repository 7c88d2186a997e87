package tools

import (
	"context"
	"fmt"

	"mcpchat/pkg/api"

	"github.com/invopop/jsonschema"
)

// ExecuteFunc is the execution body of a FuncTool.
type ExecuteFunc func(ctx context.Context, args map[string]any) (*api.ToolResult, error)

// FuncTool builds an api.Tool from plain values.
type FuncTool struct {
	name        string
	description string
	parameters  map[string]any
	exec        ExecuteFunc
}

// NewFuncTool creates a tool; parameters is the JSON schema of the arguments.
func NewFuncTool(name, description string, parameters map[string]any, exec ExecuteFunc) *FuncTool {
	if parameters == nil {
		parameters = Schema(nil)
	}
	return &FuncTool{name: name, description: description, parameters: parameters, exec: exec}
}

func (t *FuncTool) Name() string               { return t.name }
func (t *FuncTool) Description() string        { return t.description }
func (t *FuncTool) Parameters() map[string]any { return t.parameters }

func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	return t.exec(ctx, args)
}

// NewTypedTool decodes the arguments into T before calling fn. The JSON
// schema offered to the model is reflected from T, so the `json`,
// `jsonschema` and `jsonschema_description` tags of its fields are the only
// place a parameter is declared. Decoding failures are returned as errors;
// errors from fn are domain errors and are rendered as "Error: <msg>" text.
func NewTypedTool[T any](name, description string, fn func(ctx context.Context, args T) (string, error)) *FuncTool {
	return NewFuncTool(name, description, SchemaOf[T](), func(ctx context.Context, raw map[string]any) (*api.ToolResult, error) {
		args, err := DecodeArgs[T](raw)
		if err != nil {
			return nil, err
		}
		text, err := fn(ctx, args)
		if err != nil {
			return api.NewErrorResult("Error: " + err.Error()), nil
		}
		return api.NewTextResult(text), nil
	})
}

var reflector = jsonschema.Reflector{
	Anonymous:                  true,
	DoNotReference:             true,
	ExpandedStruct:             true,
	RequiredFromJSONSchemaTags: true,
	AllowAdditionalProperties:  false,
}

// SchemaOf reflects the JSON schema of the argument struct T.
func SchemaOf[T any]() map[string]any {
	var v T
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema of %T: %v", v, err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("tools: decode schema of %T: %v", v, err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// Schema builds a JSON schema object from its properties and required names.
func Schema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

package tools

import (
	"context"
	"errors"
	"testing"

	"mcpchat/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTool remembers the arguments of its last call.
type recordingTool struct {
	name string
	got  map[string]any
	err  error
}

func (r *recordingTool) Name() string        { return r.name }
func (r *recordingTool) Description() string { return "records " + r.name }
func (r *recordingTool) Parameters() map[string]any {
	return SchemaOf[recordingArgs]()
}

type recordingArgs struct {
	A       *float64  `json:"a" jsonschema:"required" jsonschema_description:"first"`
	Numbers []float64 `json:"numbers" jsonschema:"required,minItems=1" jsonschema_description:"values"`
	Mode    string    `json:"mode,omitempty" jsonschema_description:"optional mode"`
}

func (r *recordingTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	r.got = args
	if r.err != nil {
		return nil, r.err
	}
	return api.NewTextResult("ok"), nil
}

func TestRegistryOrderAndUnregister(t *testing.T) {
	reg := NewToolRegistry()
	for _, n := range []string{"list_files", "add", "divide"} {
		reg.Register(&recordingTool{name: n})
	}
	reg.Register(&recordingTool{name: "add"})

	var names []string
	for _, tl := range reg.GetAll() {
		names = append(names, tl.Name())
	}
	assert.Equal(t, []string{"list_files", "add", "divide"}, names)

	reg.Unregister("add")
	assert.Equal(t, 2, reg.Len())
	_, ok := reg.Get("add")
	assert.False(t, ok)
}

func TestDispatchPassesArgumentsUnmodified(t *testing.T) {
	reg := NewToolRegistry()
	add := &recordingTool{name: "add"}
	other := &recordingTool{name: "multiply"}
	reg.Register(add)
	reg.Register(other)

	res := reg.Dispatch(context.Background(), "add", `{"numbers":[1,2.5,-3],"note":"x"}`)
	assert.Equal(t, "ok", res.Text())
	assert.Equal(t, map[string]any{"numbers": []any{1.0, 2.5, -3.0}, "note": "x"}, add.got)
	assert.Nil(t, other.got, "only the named tool runs")
}

func TestDispatchFailuresAreText(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&recordingTool{name: "boom", err: errors.New("kaput")})
	reg.Register(&recordingTool{name: "empty"})
	ctx := context.Background()

	res := reg.Dispatch(ctx, "nope", `{}`)
	assert.True(t, res.IsError)
	assert.Equal(t, "Tool 'nope' not found", res.Text())

	res = reg.Dispatch(ctx, "boom", `{"a":`)
	assert.Contains(t, res.Text(), "Error: Failed to parse tool arguments:")

	res = reg.Dispatch(ctx, "boom", `{}`)
	assert.Equal(t, "Error executing tool: kaput", res.Text())

	res = reg.Dispatch(ctx, "functions.empty", "")
	assert.False(t, res.IsError)
	assert.Equal(t, "ok", res.Text())
}

func TestDispatchRecoversPanics(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(NewFuncTool("panics", "", nil, func(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
		panic("bad")
	}))

	res := reg.Dispatch(context.Background(), "panics", "{}")
	assert.True(t, res.IsError)
	assert.Equal(t, "Error executing tool: bad", res.Text())
}

func TestDescribe(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&recordingTool{name: "add"})
	reg.Register(NewFuncTool("clear_history", "Clear the calculation history", nil, nil))

	assert.Equal(t,
		"- add(a, *numbers, mode (optional)): records add\n- clear_history(): Clear the calculation history",
		reg.Describe())
}

type decodeTarget struct {
	Value *float64 `json:"value" validate:"required" jsonschema:"required" jsonschema_description:"Temperature value"`
	Unit  string   `json:"unit" validate:"required,oneof=C F K" jsonschema:"required,enum=C,enum=F,enum=K" jsonschema_description:"Unit (C=Celsius, F=Fahrenheit, K=Kelvin)"`
	Tags  []string `json:"tags,omitempty" validate:"omitempty,max=2" jsonschema:"maxItems=2"`
}

func TestSchemaOfFollowsArgStruct(t *testing.T) {
	s := SchemaOf[decodeTarget]()

	assert.Equal(t, "object", s["type"])
	assert.NotContains(t, s, "$schema")
	assert.Equal(t, []any{"value", "unit"}, s["required"])

	props := s["properties"].(map[string]any)
	require.Len(t, props, 3)
	value := props["value"].(map[string]any)
	assert.Equal(t, "number", value["type"])
	assert.Equal(t, "Temperature value", value["description"])
	unit := props["unit"].(map[string]any)
	assert.Equal(t, []any{"C", "F", "K"}, unit["enum"])
	assert.Equal(t, "Unit (C=Celsius, F=Fahrenheit, K=Kelvin)", unit["description"])
	tags := props["tags"].(map[string]any)
	assert.Equal(t, "array", tags["type"])
	assert.EqualValues(t, 2, tags["maxItems"])

	assert.Equal(t, []string{"value", "unit", "*tags (optional)"}, ParamSummary(s))

	empty := SchemaOf[struct{}]()
	assert.Equal(t, map[string]any{}, empty["properties"])
	assert.NotContains(t, empty, "required")
}

func TestDecodeArgs(t *testing.T) {
	got, err := DecodeArgs[decodeTarget](map[string]any{"value": 12.5, "unit": "F"})
	require.NoError(t, err)
	assert.Equal(t, 12.5, *got.Value)
	assert.Equal(t, "F", got.Unit)

	_, err = DecodeArgs[decodeTarget](map[string]any{"unit": "X"})
	require.ErrorIs(t, err, ErrInvalidArguments)
	assert.Contains(t, err.Error(), "value is required")
	assert.Contains(t, err.Error(), "unit must be one of: C F K")

	_, err = DecodeArgs[decodeTarget](map[string]any{"value": "hot", "unit": "C"})
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestTypedToolRendersDomainErrors(t *testing.T) {
	tl := NewTypedTool("half", "halves", func(ctx context.Context, a decodeTarget) (string, error) {
		if *a.Value < 0 {
			return "", errors.New("Negative input")
		}
		return "fine", nil
	})

	res, err := tl.Execute(context.Background(), map[string]any{"value": -1.0, "unit": "C"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: Negative input", res.Text())

	_, err = tl.Execute(context.Background(), map[string]any{"unit": "C"})
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow"
)

func runFunction(t *testing.T, params map[string]any, vars, upstream map[string]any, preds ...string) (any, error) {
	t.Helper()
	resolved, err := ResolveParams(params, vars, upstream)
	require.NoError(t, err)
	out, err := FunctionHandler{}.Execute(context.Background(), &workflow.Request{
		NodeID:       "fn",
		Kind:         workflow.KindFunction,
		Params:       resolved,
		Vars:         vars,
		Predecessors: preds,
	}, upstream)
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

func TestFunction_Template(t *testing.T) {
	v, err := runFunction(t,
		map[string]any{"op": "template", "template": "{{greeting}}, {{a.output.name}}"},
		map[string]any{"greeting": "hi"},
		map[string]any{"a": map[string]any{"name": "go"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "hi, go", v)
}

func TestFunction_TemplateRendersOnce(t *testing.T) {
	// 上游值中的占位符按字面保留
	v, err := runFunction(t,
		map[string]any{"op": "template", "template": "echo: {{a.output}}"},
		map[string]any{"secret": "s3cr3t"},
		map[string]any{"a": "{{secret}}"},
	)
	require.NoError(t, err)
	assert.Equal(t, "echo: {{secret}}", v)

	v, err = runFunction(t,
		map[string]any{"op": "template", "template": "{{a.output}}"},
		nil,
		map[string]any{"a": map[string]any{"n": 1}},
	)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, v)
}

func TestFunction_Pick(t *testing.T) {
	upstream := map[string]any{
		"b": map[string]any{"score": 0.8, "meta": map[string]any{"lang": "en"}},
	}

	t.Run("from upstream", func(t *testing.T) {
		v, err := runFunction(t, map[string]any{
			"op":   "pick",
			"from": "b",
			"fields": map[string]any{
				"score": "output.score",
				"lang":  "output.meta.lang",
				"gone":  "output.nothing",
			},
		}, nil, upstream)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"score": 0.8, "lang": "en", "gone": nil}, v)
	})

	t.Run("environment", func(t *testing.T) {
		v, err := runFunction(t, map[string]any{
			"op":     "pick",
			"fields": map[string]any{"q": "input.q", "s": "b.output.score"},
		}, map[string]any{"q": "x"}, upstream)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"q": "x", "s": 0.8}, v)
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := runFunction(t, map[string]any{
			"op": "pick", "from": "zzz", "fields": map[string]any{"a": "output"},
		}, nil, upstream)
		assert.Equal(t, types.ErrInvalidParams, types.GetErrorCode(err))
	})

	t.Run("empty fields", func(t *testing.T) {
		_, err := runFunction(t, map[string]any{"op": "pick"}, nil, upstream)
		assert.Equal(t, types.ErrInvalidParams, types.GetErrorCode(err))
	})
}

func TestFunction_Merge(t *testing.T) {
	upstream := map[string]any{
		"a": map[string]any{"x": 1, "shared": "a"},
		"b": map[string]any{"y": 2, "shared": "b"},
		"s": "not an object",
	}

	v, err := runFunction(t, map[string]any{"op": "merge", "sources": []any{"b", "a"}}, nil, upstream)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1, "y": 2, "shared": "a"}, v)

	// 未指定 sources 时按直接前驱 id 排序合并
	v, err = runFunction(t, map[string]any{"op": "merge"}, nil, upstream, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1, "y": 2, "shared": "b"}, v)

	_, err = runFunction(t, map[string]any{"op": "merge", "sources": "a,s"}, nil, upstream)
	assert.Equal(t, types.ErrInvalidParams, types.GetErrorCode(err))
}

func TestFunction_JSONParse(t *testing.T) {
	v, err := runFunction(t, map[string]any{"op": "json_parse", "input": `{"k":[1,2]}`}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": []any{1.0, 2.0}}, v)

	v, err = runFunction(t, map[string]any{"op": "json_parse", "input": map[string]any{"k": 1}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": 1}, v)

	_, err = runFunction(t, map[string]any{"op": "json_parse", "input": "{oops"}, nil, nil)
	assert.Equal(t, types.ErrInvalidParams, types.GetErrorCode(err))
	assert.Equal(t, types.ClassFatal, types.ClassOf(err))
}

func TestFunction_LiteralAndErrors(t *testing.T) {
	v, err := runFunction(t, map[string]any{"op": "literal", "value": []any{"a"}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, v)

	_, err = runFunction(t, map[string]any{}, nil, nil)
	assert.Equal(t, types.ErrInvalidParams, types.GetErrorCode(err))

	_, err = runFunction(t, map[string]any{"op": "explode"}, nil, nil)
	require.Error(t, err)
	te, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "fn", te.NodeID)
	assert.Contains(t, te.Message, "explode")
}

func TestFunction_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FunctionHandler{}.Execute(ctx, &workflow.Request{
		NodeID: "fn",
		Params: map[string]any{"op": "literal"},
	}, nil)
	assert.Equal(t, types.ClassCancelled, types.ClassOf(err))
}

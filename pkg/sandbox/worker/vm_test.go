package worker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopBridge(string, any) (any, error) { return nil, nil }

func TestExecResetsOutputBetweenCalls(t *testing.T) {
	vm, err := New(noopBridge, nil, 0, ModePermissive)
	require.NoError(t, err)

	out, err := vm.Exec(`print("one"); print("two")`)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", out)

	out, err = vm.Exec(`print("three")`)
	require.NoError(t, err)
	assert.Equal(t, "three\n", out, "output buffer resets at the start of each Exec")
}

func TestSetVariableThenGetVariableRoundTrips(t *testing.T) {
	vm, err := New(noopBridge, nil, 0, ModePermissive)
	require.NoError(t, err)

	require.NoError(t, vm.SetVariable("x", 42))
	out, err := vm.Exec(`print(__vars.x)`)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	val, ok, err := vm.GetVariable("x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 42, val)
}

func TestGetVariableMissingReportsNotFound(t *testing.T) {
	vm, err := New(noopBridge, nil, 0, ModePermissive)
	require.NoError(t, err)

	_, ok, err := vm.GetVariable("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecVariablesSetFromScriptAreVisibleToListVariables(t *testing.T) {
	vm, err := New(noopBridge, nil, 0, ModePermissive)
	require.NoError(t, err)

	_, err = vm.Exec(`__vars.name = "ada"; __vars.count = 3`)
	require.NoError(t, err)

	descs := vm.ListVariables(0)
	byName := make(map[string]VariableDescription, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}
	require.Contains(t, byName, "name")
	assert.Equal(t, "string", byName["name"].Type)
	require.Contains(t, byName, "count")
	assert.Equal(t, "number", byName["count"].Type)
}

func TestExecRejectsBlocklistedConstructsInStrictMode(t *testing.T) {
	vm, err := New(noopBridge, nil, 0, ModeStrict)
	require.NoError(t, err)

	_, err = vm.Exec(`require("fs")`)
	assert.Error(t, err)

	_, err = vm.Exec(`(function(){}).constructor.constructor("return 1")()`)
	assert.Error(t, err)
}

func TestExecPermitsBlocklistedConstructsInPermissiveMode(t *testing.T) {
	vm, err := New(noopBridge, nil, 0, ModePermissive)
	require.NoError(t, err)

	_, err = vm.Exec(`(function(){}).constructor("return 1")()`)
	assert.NoError(t, err, "permissive mode skips the blocklist scan")
}

func TestStrictModeDisablesBridgeCalls(t *testing.T) {
	vm, err := New(noopBridge, []string{"known"}, 0, ModeStrict)
	require.NoError(t, err)

	_, err = vm.Exec(`llm_query("q")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bridge disabled in strict sandbox mode")

	_, err = vm.Exec(`llm_query_batched(["q"])`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bridge disabled in strict sandbox mode")

	_, err = vm.Exec(`tools.known("x")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bridge disabled in strict sandbox mode")
}

func TestStrictModeLocksDownGlobals(t *testing.T) {
	vm, err := New(noopBridge, nil, 0, ModeStrict)
	require.NoError(t, err)

	out, err := vm.Exec(`print(typeof eval)`)
	require.NoError(t, err)
	assert.Equal(t, "undefined\n", out, "strict mode deletes eval from the global scope")

	vm2, err := New(noopBridge, nil, 0, ModePermissive)
	require.NoError(t, err)
	out, err = vm2.Exec(`print(typeof eval)`)
	require.NoError(t, err)
	assert.Equal(t, "function\n", out, "permissive mode leaves eval reachable")
}

func TestExecThrowsSurfacesAsError(t *testing.T) {
	vm, err := New(noopBridge, nil, 0, ModePermissive)
	require.NoError(t, err)

	_, err = vm.Exec(`throw new Error("boom")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestExecOutputOverflowReturnsTruncationError(t *testing.T) {
	vm, err := New(noopBridge, nil, 8, ModePermissive)
	require.NoError(t, err)

	_, err = vm.Exec(`print("this line is definitely longer than eight bytes")`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errOutputTruncated))
}

func TestLLMQueryInvokesBridgeWithQueryString(t *testing.T) {
	var gotMethod string
	var gotArgs any
	bridge := func(method string, args any) (any, error) {
		gotMethod = method
		gotArgs = args
		return "42", nil
	}
	vm, err := New(bridge, nil, 0, ModePermissive)
	require.NoError(t, err)

	out, err := vm.Exec(`print(llm_query("what is the answer?"))`)
	require.NoError(t, err)
	assert.Equal(t, "llm_query", gotMethod)
	assert.Equal(t, map[string]any{"query": "what is the answer?"}, gotArgs)
	assert.Equal(t, "42\n", out)
}

func TestLLMQueryForwardsOptionalContextArgument(t *testing.T) {
	var gotArgs any
	bridge := func(method string, args any) (any, error) {
		gotArgs = args
		return "ok", nil
	}
	vm, err := New(bridge, nil, 0, ModePermissive)
	require.NoError(t, err)

	_, err = vm.Exec(`llm_query("q", "extra context")`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "q", "context": "extra context"}, gotArgs)
}

func TestLLMQueryBatchedForwardsOptionalContextsArgument(t *testing.T) {
	var gotArgs any
	bridge := func(method string, args any) (any, error) {
		gotArgs = args
		return []any{"a", "b"}, nil
	}
	vm, err := New(bridge, nil, 0, ModePermissive)
	require.NoError(t, err)

	_, err = vm.Exec(`llm_query_batched(["q1", "q2"], ["c1", "c2"])`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"queries": []any{"q1", "q2"}, "contexts": []any{"c1", "c2"}}, gotArgs)
}

func TestToolCallRoutesThroughBridgeWithToolPrefix(t *testing.T) {
	var gotMethod string
	var gotArgs any
	bridge := func(method string, args any) (any, error) {
		gotMethod = method
		gotArgs = args
		return map[string]any{"ok": true}, nil
	}
	vm, err := New(bridge, []string{"get_forecast"}, 0, ModePermissive)
	require.NoError(t, err)

	_, err = vm.Exec(`tools.get_forecast("paris")`)
	require.NoError(t, err)
	assert.Equal(t, "tool:get_forecast", gotMethod)
	assert.Equal(t, []any{"paris"}, gotArgs)
}

func TestBridgeErrorPropagatesAsExecError(t *testing.T) {
	bridge := func(string, any) (any, error) { return nil, errors.New("bridge down") }
	vm, err := New(bridge, nil, 0, ModePermissive)
	require.NoError(t, err)

	_, err = vm.Exec(`llm_query("q")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bridge down")
}

func TestUndefinedToolNameIsNotRegistered(t *testing.T) {
	vm, err := New(noopBridge, []string{"known"}, 0, ModePermissive)
	require.NoError(t, err)

	_, err = vm.Exec(`tools.unknown("x")`)
	assert.Error(t, err)
}

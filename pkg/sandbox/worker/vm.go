// Package worker implements the standalone sandbox subprocess: a goja VM
// that executes submitted code against a persistent __vars map and bridges
// llm_query/llm_query_batched/tool calls back to the host process that
// spawned it (spec.md §4.2).
//
// Grounded on spec.md §4.2 directly — no teacher analog runs untrusted code
// in an embedded VM. github.com/dop251/goja is a named, not pack-grounded,
// dependency (see SPEC_FULL.md §3): no example repo embeds a script engine,
// so the pack offers no idiom to imitate here beyond "one VM per sandbox,
// rebuilt only on restart" which mirrors the worker-pool-of-one-shot-workers
// idiom in tarsy/pkg/queue/worker.go.
package worker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// defaultMaxOutputBytes bounds print() accumulation per execution; overflow sets
// ExecError.Truncated rather than growing unbounded (spec.md §4.2 edge case).
const defaultMaxOutputBytes = 1 << 20 // 1 MiB

// Mode selects how restrictive a VM's execution environment is (spec.md
// §4.2 "Strict mode"). Permissive, the default, leaves the bridge and the
// VM's full global scope reachable. Strict disables llm_query/
// llm_query_batched/tools entirely and strips every global except a small
// allowlist, on top of the blocklist scan Exec already runs.
type Mode string

const (
	ModePermissive Mode = "permissive"
	ModeStrict     Mode = "strict"
)

// errBridgeDisabledStrict is what llm_query, llm_query_batched, and every
// tool call panic with once a VM is running in strict mode.
var errBridgeDisabledStrict = errors.New("Bridge disabled in strict sandbox mode")

// strictGlobalAllowlist names the only globals left reachable once a strict
// VM's lockdownGlobals runs: the bindings New installs, plus the inert
// standard-library surface (data structures, JSON, Math, timers, encoders)
// code needs to run at all. Everything else — eval, Function, globalThis,
// require, process, and anything a future goja version adds — is deleted.
var strictGlobalAllowlist = map[string]bool{
	"print": true, "llm_query": true, "llm_query_batched": true, "tools": true, "__vars": true,

	"Object": true, "Array": true, "String": true, "Number": true, "Boolean": true,
	"Math": true, "JSON": true, "Date": true, "RegExp": true,
	"Map": true, "Set": true, "WeakMap": true, "WeakSet": true,
	"Error": true, "TypeError": true, "RangeError": true, "SyntaxError": true,
	"Symbol": true, "Promise": true,
	"Uint8Array": true, "Int8Array": true, "Uint16Array": true, "Int16Array": true,
	"Uint32Array": true, "Int32Array": true, "Float32Array": true, "Float64Array": true,
	"ArrayBuffer": true, "DataView": true,
	"TextEncoder": true, "TextDecoder": true, "crypto": true,
	"setTimeout": true, "clearTimeout": true, "setInterval": true, "clearInterval": true,
	"parseInt": true, "parseFloat": true, "isNaN": true, "isFinite": true,
	"encodeURIComponent": true, "decodeURIComponent": true,
	"NaN": true, "Infinity": true, "undefined": true,
}

// BridgeFunc is called for llm_query, llm_query_batched, and tool
// invocations. It blocks until the host replies (or ctx-equivalent
// cancellation arrives via the caller closing the worker), mirroring a
// synchronous RPC despite the underlying transport being asynchronous
// frames — a sandbox worker processes one execution at a time, so there is
// no concurrent caller to starve.
type BridgeFunc func(method string, args any) (any, error)

// VM wraps a goja runtime with the sandbox's variable store and bridge
// binding. One VM per sandbox process; state persists across Exec calls
// within a call's lifetime, matching spec.md's "variables survive between
// code executions within the same call".
type VM struct {
	mu      sync.Mutex
	execMu  sync.Mutex // serializes Exec; goja.Runtime is not safe for concurrent Run calls
	rt      *goja.Runtime
	bridge  BridgeFunc
	maxOut  int
	output  strings.Builder
	toolSet map[string]bool
	mode    Mode
}

// New constructs a VM with llm_query, llm_query_batched, print, and tool
// bindings installed. toolNames restricts which "tool:<name>" bridge calls
// are permitted — anything else raises a ReferenceError-equivalent inside
// the VM rather than reaching the host. In ModeStrict, the bridge (llm_query,
// llm_query_batched, and every tool) is disabled outright and the global
// scope is cut down to strictGlobalAllowlist.
func New(bridge BridgeFunc, toolNames []string, maxOutputBytes int, mode Mode) (*VM, error) {
	if maxOutputBytes <= 0 {
		maxOutputBytes = defaultMaxOutputBytes
	}
	if mode == "" {
		mode = ModePermissive
	}
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	toolSet := make(map[string]bool, len(toolNames))
	for _, name := range toolNames {
		toolSet[name] = true
	}

	v := &VM{rt: rt, bridge: bridge, maxOut: maxOutputBytes, toolSet: toolSet, mode: mode}
	if err := v.installBindings(); err != nil {
		return nil, fmt.Errorf("worker: install bindings: %w", err)
	}
	if v.mode == ModeStrict {
		v.lockdownGlobals()
	}
	return v, nil
}

func (v *VM) installBindings() error {
	if err := v.rt.Set("print", v.jsPrint); err != nil {
		return err
	}
	if err := v.rt.Set("llm_query", v.jsLLMQuery); err != nil {
		return err
	}
	if err := v.rt.Set("llm_query_batched", v.jsLLMQueryBatched); err != nil {
		return err
	}
	if err := v.rt.Set("__vars", v.rt.NewObject()); err != nil {
		return err
	}
	tools := v.rt.NewObject()
	names := make([]string, 0, len(v.toolSet))
	for name := range v.toolSet {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		toolName := name
		fn := func(call goja.FunctionCall) goja.Value {
			if v.mode == ModeStrict {
				panic(v.rt.NewGoError(errBridgeDisabledStrict))
			}
			args := argsToAny(call.Arguments)
			result, err := v.bridge("tool:"+toolName, args)
			if err != nil {
				panic(v.rt.NewGoError(err))
			}
			return v.rt.ToValue(result)
		}
		if err := tools.Set(name, fn); err != nil {
			return err
		}
	}
	return v.rt.Set("tools", tools)
}

// lockdownGlobals deletes every global not in strictGlobalAllowlist. Called
// once, after installBindings, so the worker's own bindings are never at
// risk of being swept away by their own lockdown.
func (v *VM) lockdownGlobals() {
	global := v.rt.GlobalObject()
	for _, key := range global.GetOwnPropertyNames() {
		if strictGlobalAllowlist[key] {
			continue
		}
		_ = global.Delete(key)
	}
}

func (v *VM) jsPrint(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = arg.String()
	}
	line := strings.Join(parts, " ") + "\n"

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.output.Len()+len(line) > v.maxOut {
		panic(v.rt.NewGoError(errOutputTruncated))
	}
	v.output.WriteString(line)
	return goja.Undefined()
}

// jsLLMQuery implements llm_query(query, context?). The optional second
// argument is forwarded to the host as args.context so it can be threaded
// into the child call's StartCall.Context.
func (v *VM) jsLLMQuery(call goja.FunctionCall) goja.Value {
	if v.mode == ModeStrict {
		panic(v.rt.NewGoError(errBridgeDisabledStrict))
	}
	if len(call.Arguments) == 0 {
		panic(v.rt.NewTypeError("llm_query requires a query string argument"))
	}
	args := map[string]any{"query": call.Arguments[0].String()}
	if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) {
		args["context"] = call.Arguments[1].String()
	}
	result, err := v.bridge("llm_query", args)
	if err != nil {
		panic(v.rt.NewGoError(err))
	}
	return v.rt.ToValue(result)
}

// jsLLMQueryBatched implements llm_query_batched(queries[], contexts?[]).
func (v *VM) jsLLMQueryBatched(call goja.FunctionCall) goja.Value {
	if v.mode == ModeStrict {
		panic(v.rt.NewGoError(errBridgeDisabledStrict))
	}
	if len(call.Arguments) == 0 {
		panic(v.rt.NewTypeError("llm_query_batched requires an array of query strings"))
	}
	args := map[string]any{"queries": call.Arguments[0].Export()}
	if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) {
		args["contexts"] = call.Arguments[1].Export()
	}
	result, err := v.bridge("llm_query_batched", args)
	if err != nil {
		panic(v.rt.NewGoError(err))
	}
	return v.rt.ToValue(result)
}

// argsToAny exports goja call arguments to a slice of plain Go values,
// suitable for JSON re-encoding across the bridge.
func argsToAny(vals []goja.Value) []any {
	out := make([]any, len(vals))
	for i, val := range vals {
		out[i] = val.Export()
	}
	return out
}

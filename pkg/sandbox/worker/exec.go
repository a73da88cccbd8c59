package worker

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/dop251/goja"
)

var errOutputTruncated = errors.New("worker: output exceeded maxOutputBytes")

// blocklistPattern matches common VM-escape idioms: dynamic import, require,
// the Function constructor, and reaching the constructor chain off any
// object (x.constructor, x.constructor.constructor(...)). A regex scan over
// source text is a coarse defense — it rejects code before it ever reaches
// the interpreter rather than attempting a sound static analysis, matching
// the spec's "reject known-bad patterns, don't try to prove safety" stance.
var blocklistPattern = regexp.MustCompile(`(?:\bimport\s*\()|(?:\brequire\s*\()|(?:\bFunction\s*\()|(?:\.constructor\s*\()|(?:\.constructor\s*\.\s*constructor)`)

// Exec runs code against the VM's persistent state and returns accumulated
// print() output. A syntax error, thrown exception, blocklist violation, or
// output overflow all surface as an error — the caller (the worker's frame
// loop) turns that into an ExecError frame. The blocklist scan only runs in
// ModeStrict; ModePermissive leaves these constructs reachable and relies on
// process isolation instead.
func (v *VM) Exec(code string) (string, error) {
	if v.mode == ModeStrict && blocklistPattern.MatchString(code) {
		return "", fmt.Errorf("worker: code contains a disallowed construct")
	}

	v.execMu.Lock()
	defer v.execMu.Unlock()

	v.mu.Lock()
	v.output.Reset()
	v.mu.Unlock()

	_, err := v.rt.RunString(code)
	v.mu.Lock()
	out := v.output.String()
	v.mu.Unlock()

	if err != nil {
		if errors.Is(err, errOutputTruncated) {
			return out, errOutputTruncated
		}
		var gojaErr *goja.Exception
		if errors.As(err, &gojaErr) {
			return out, fmt.Errorf("worker: %s", gojaErr.Value().String())
		}
		return out, fmt.Errorf("worker: %w", err)
	}
	return out, nil
}

// SetVariable assigns value under __vars[name], making it visible to
// subsequent code executions as __vars.<name>.
func (v *VM) SetVariable(name string, value any) error {
	vars := v.rt.Get("__vars")
	obj, ok := vars.(*goja.Object)
	if !ok {
		return fmt.Errorf("worker: __vars is not an object")
	}
	return obj.Set(name, v.rt.ToValue(value))
}

// GetVariable reads __vars[name], reporting whether it was set.
func (v *VM) GetVariable(name string) (any, bool, error) {
	vars := v.rt.Get("__vars")
	obj, ok := vars.(*goja.Object)
	if !ok {
		return nil, false, fmt.Errorf("worker: __vars is not an object")
	}
	val := obj.Get(name)
	if val == nil || goja.IsUndefined(val) {
		return nil, false, nil
	}
	return val.Export(), true, nil
}

// ListVariables describes every entry currently in __vars, with a type tag
// and truncated preview (spec.md §4.2 ListVarsResult).
func (v *VM) ListVariables(previewLimit int) []VariableDescription {
	vars := v.rt.Get("__vars")
	obj, ok := vars.(*goja.Object)
	if !ok {
		return nil
	}
	if previewLimit <= 0 {
		previewLimit = 200
	}

	var out []VariableDescription
	for _, name := range obj.Keys() {
		val := obj.Get(name)
		exported := val.Export()
		out = append(out, describeVariable(name, exported, previewLimit))
	}
	return out
}

// VariableDescription mirrors protocol.VariableInfo without importing the
// protocol package, keeping worker free of the host-facing wire types; the
// host adapter translates between the two.
type VariableDescription struct {
	Name    string
	Type    string
	Size    *int
	Preview string
}

func describeVariable(name string, value any, previewLimit int) VariableDescription {
	desc := VariableDescription{Name: name}
	rv := reflect.ValueOf(value)

	switch rv.Kind() {
	case reflect.String:
		s := rv.String()
		desc.Type = "string"
		n := len(s)
		desc.Size = &n
		desc.Preview = truncate(s, previewLimit)
	case reflect.Slice, reflect.Array:
		desc.Type = "array"
		n := rv.Len()
		desc.Size = &n
		desc.Preview = truncate(fmt.Sprintf("%v", value), previewLimit)
	case reflect.Map:
		desc.Type = "object"
		n := rv.Len()
		desc.Size = &n
		desc.Preview = truncate(fmt.Sprintf("%v", value), previewLimit)
	case reflect.Bool:
		desc.Type = "boolean"
		desc.Preview = fmt.Sprintf("%v", value)
	case reflect.Float64, reflect.Int, reflect.Int64:
		desc.Type = "number"
		desc.Preview = fmt.Sprintf("%v", value)
	case reflect.Invalid:
		desc.Type = "null"
		desc.Preview = "null"
	default:
		desc.Type = "object"
		desc.Preview = truncate(fmt.Sprintf("%v", value), previewLimit)
	}
	return desc
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.TrimSpace(s[:limit]) + "…"
}

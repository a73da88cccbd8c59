// Package toolbridge connects sandboxed code's tools.<name>(...) calls to
// real MCP servers (spec.md §4.2 bridge methods, §6 Tool Bridge). It wraps
// github.com/modelcontextprotocol/go-sdk/mcp the way a call's sandbox worker
// expects: one Execute(name, args) entry point per tool invocation,
// correlated by the scheduler's BridgeCall handling rather than by MCP
// session directly.
//
// Grounded on tarsy/pkg/mcp/client.go (session lifecycle, per-server mutex
// map) and tarsy/pkg/mcp/executor.go (Execute: normalize name, route to
// server, call tool, convert result) and tarsy/pkg/mcp/router.go
// (NormalizeToolName/SplitToolName "server.tool" convention, kept verbatim
// since sandboxed code addresses tools the same way).
package toolbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// NormalizeToolName converts "server__tool" (used when a model's function
// name grammar forbids dots) to the canonical "server.tool" form.
func NormalizeToolName(name string) string {
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}

// SplitToolName splits "server.tool" into its parts.
func SplitToolName(name string) (serverID, toolName string, err error) {
	m := toolNameRegex.FindStringSubmatch(name)
	if m == nil {
		return "", "", fmt.Errorf("toolbridge: invalid tool name %q: want 'server.tool'", name)
	}
	return m[1], m[2], nil
}

// ServerSpec names one MCP server to connect to and the subset of its tools
// (nil means all) a given call is permitted to invoke.
type ServerSpec struct {
	ID        string
	Transport mcpsdk.Transport
	ToolNames []string // nil means no filter
}

// Bridge holds live MCP sessions for the servers a completion's calls are
// configured with, and executes bridge-tool invocations against them.
type Bridge struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
	filters  map[string]map[string]bool
}

// New connects to every server in specs, returning a Bridge ready to
// execute tool calls. A server that fails to connect is recorded but does
// not fail New — partial availability is acceptable, matching
// tarsy/pkg/mcp/client.go's Initialize semantics; Execute on an
// unconnected server returns a SandboxError.
func New(ctx context.Context, specs []ServerSpec, log *slog.Logger) (*Bridge, []error) {
	if log == nil {
		log = slog.Default()
	}
	b := &Bridge{
		log:      log,
		sessions: make(map[string]*mcpsdk.ClientSession),
		filters:  make(map[string]map[string]bool),
	}

	var errs []error
	for _, spec := range specs {
		if spec.ToolNames != nil {
			set := make(map[string]bool, len(spec.ToolNames))
			for _, name := range spec.ToolNames {
				set[name] = true
			}
			b.filters[spec.ID] = set
		}

		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "recursive-llm-sub001", Version: "0.1.0"}, nil)
		session, err := client.Connect(initCtx, spec.Transport, nil)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("toolbridge: connect %q: %w", spec.ID, err))
			b.log.Warn("toolbridge: server failed to connect", "server", spec.ID, "error", err)
			continue
		}
		b.sessions[spec.ID] = session
	}
	return b, errs
}

// Execute routes a "server.tool" (or "server__tool") invocation to its MCP
// session and returns the tool's textual result.
func (b *Bridge) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	serverID, toolName, err := SplitToolName(NormalizeToolName(name))
	if err != nil {
		return "", &rlmerr.SandboxError{Message: err.Error()}
	}

	b.mu.RLock()
	session, ok := b.sessions[serverID]
	filter, hasFilter := b.filters[serverID]
	b.mu.RUnlock()

	if !ok {
		return "", &rlmerr.SandboxError{Message: fmt.Sprintf("toolbridge: server %q not connected", serverID)}
	}
	if hasFilter && !filter[toolName] {
		return "", &rlmerr.SandboxError{Message: fmt.Sprintf("toolbridge: tool %q not permitted for this call", name)}
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return "", &rlmerr.SandboxError{Message: fmt.Sprintf("toolbridge: call %q: %v", name, err)}
	}
	return renderContent(result), nil
}

func renderContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		if raw, err := json.Marshal(c); err == nil {
			parts = append(parts, string(raw))
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		return "error: " + text
	}
	return text
}

// Close tears down every live MCP session.
func (b *Bridge) Close(ctx context.Context) {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*mcpsdk.ClientSession)
	b.mu.Unlock()

	for id, session := range sessions {
		if err := session.Close(); err != nil {
			b.log.Warn("toolbridge: error closing session", "server", id, "error", err)
		}
	}
}

// Package prompt composes the text sent to the language model for each kind
// of turn a call takes: the REPL-style loop prompt, a one-shot sub-call
// prompt, and the final-answer extraction prompt (spec.md §4.4, §9).
//
// Grounded on tarsy/pkg/agent/prompt/builder.go: stateless, plain
// fmt/strings composition (no templating engine), one Build* method per
// conversation shape, tool descriptions rendered from a []ToolDefinition
// slice the same way tarsy's buildInvestigationUserMessage walks
// []agent.ToolDefinition.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mepuka/recursive-llm-sub001/pkg/callctx"
)

// Builder is stateless; every method takes the inputs it needs and returns
// the prompt string, matching tarsy/pkg/agent/prompt/builder.go's "no
// mutable state" contract.
type Builder struct{}

// NewBuilder constructs a Builder. There is no configuration to inject
// today; the constructor exists so callers depend on a type, not a bare
// function, matching the teacher's NewPromptBuilder idiom.
func NewBuilder() *Builder { return &Builder{} }

const systemPreamble = `You solve problems by writing and executing code. You may call llm_query(question) to delegate a sub-question to another instance of yourself, or invoke any of the provided tools from within your code. Variables you set with __vars persist across executions within this call.`

// BuildReplPrompt composes the system + user messages for one iteration of
// a call's generate-execute loop, including the transcript so far and any
// tool descriptions available to this call.
func (b *Builder) BuildReplPrompt(cc *callctx.Context) (system string, user string) {
	var sys strings.Builder
	sys.WriteString(systemPreamble)
	if len(cc.Tools) > 0 {
		sys.WriteString("\n\nAvailable tools:\n")
		for _, t := range cc.Tools {
			sys.WriteString(formatTool(t))
		}
	}
	if cc.OutputJSONSchema != "" {
		sys.WriteString("\n\nWhen you are ready to finish, reply with FINAL(\"answer\") where answer validates against this JSON schema:\n")
		sys.WriteString(cc.OutputJSONSchema)
	}

	var usr strings.Builder
	fmt.Fprintf(&usr, "Query: %s\n", cc.Query)
	if cc.Input != "" {
		fmt.Fprintf(&usr, "\nContext:\n%s\n", cc.Input)
	}
	for i, entry := range cc.Transcript() {
		fmt.Fprintf(&usr, "\n--- iteration %d ---\n%s\n", i+1, entry.AssistantResponse)
		if entry.ExecutionOutput != nil {
			fmt.Fprintf(&usr, "Execution output:\n%s\n", *entry.ExecutionOutput)
		}
	}
	return sys.String(), usr.String()
}

// BuildOneShotPrompt composes a minimal, transcript-free prompt for a
// depth-limited sub-call that delegates straight to a cheaper model rather
// than running its own sandboxed loop (spec.md §9 depth-threshold
// delegation).
func (b *Builder) BuildOneShotPrompt(query, input string) (system string, user string) {
	sys := "Answer the following question directly and concisely. You have no tools and cannot execute code."
	var usr strings.Builder
	usr.WriteString(query)
	if input != "" {
		fmt.Fprintf(&usr, "\n\nContext:\n%s", input)
	}
	return sys, usr.String()
}

// BuildExtractPrompt asks the model to restate its last answer so it
// validates against outputJSONSchema, used when a call finishes without a
// schema-conformant answer (spec.md §4.5 NoFinalAnswerError avoidance path).
func (b *Builder) BuildExtractPrompt(lastAnswer, outputJSONSchema string) (system string, user string) {
	sys := "Reformat the given answer as JSON that strictly validates against the provided JSON schema. Do not add commentary."
	usr := fmt.Sprintf("Answer:\n%s\n\nJSON schema:\n%s", lastAnswer, outputJSONSchema)
	return sys, usr
}

func formatTool(t callctx.ToolDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- tools.%s(%s)", t.Name, strings.Join(t.ParameterNames, ", "))
	if t.ParametersJSONSchema != "" {
		fmt.Fprintf(&b, "\n  parameters: %s", t.ParametersJSONSchema)
	}
	if t.ReturnsJSONSchema != "" {
		fmt.Fprintf(&b, "\n  returns: %s", t.ReturnsJSONSchema)
	}
	b.WriteString("\n")
	return b.String()
}

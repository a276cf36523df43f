// Package chat drives the model <-> tool round trips for one request: it
// assembles the effective system prompt, replays the conversation, executes
// tool calls the model emits and re-prompts with the formatted results until
// a final text answer is produced or a safety limit stops the loop.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"llamagate/internal/codec"
	"llamagate/internal/generator"
	"llamagate/internal/scheduler"
	"llamagate/pkg/types"
)

const (
	// MaxToolIterations bounds the number of model rounds per request.
	MaxToolIterations = 10
	// loopSignatureLimit aborts the loop once an identical call list has
	// been seen this many times.
	loopSignatureLimit = 3
)

const (
	loopDetectedPrefix = "I wasn't able to get the right information"
	iterationCapReply  = "I was unable to complete this request — too many tool calls were needed."
)

// Wire selects the response framing dialect.
type Wire int

const (
	// WireNative frames responses as NDJSON chat frames.
	WireNative Wire = iota
	// WireOpenAI frames responses as OpenAI-style SSE chunks.
	WireOpenAI
)

// ToolExecutor is the slice of the tool-provider manager the loop needs.
type ToolExecutor interface {
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
	Describe(name string) (types.Tool, bool)
}

// Params carry one request into the loop.
type Params struct {
	ModelName    string
	Model        generator.Model
	Codec        codec.Codec
	Tools        ToolExecutor
	ToolList     []types.Tool
	ToolOverride []any // raw per-request tools; OpenAI function shapes are normalized
	SystemPrompt string
	ContextSize  int
	Messages     []types.Message
	Stream       bool
	Wire         Wire
}

// badRequestError marks client mistakes that map to HTTP 400.
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

// IsBadRequest reports whether err describes a malformed request.
func IsBadRequest(err error) bool {
	_, ok := err.(badRequestError)
	return ok
}

// callResult is the outcome of one tool invocation.
type callResult struct {
	name    string
	result  any
	success bool
}

// Run executes the tool loop and emits the final response on sink.
// The inference context is disposed on every exit path.
func Run(ctx context.Context, log zerolog.Logger, p Params, sink *scheduler.Sink) error {
	if len(p.Messages) == 0 || p.Messages[len(p.Messages)-1].Role != "user" {
		return badRequestError{msg: "last message must have role 'user'"}
	}

	tools := p.ToolList
	if p.ToolOverride != nil {
		tools = NormalizeTools(p.ToolOverride)
	}
	system := effectiveSystemPrompt(p, tools)

	ictx, err := p.Model.NewContext(generator.ContextOptions{ContextSize: p.ContextSize})
	if err != nil {
		return err
	}
	defer func() {
		if err := ictx.Dispose(); err != nil {
			log.Warn().Err(err).Str("model", p.ModelName).Msg("context dispose failed")
		}
	}()

	session := ictx.NewSession(system)
	for _, msg := range p.Messages[:len(p.Messages)-1] {
		if msg.Role == "user" {
			session.AddUserMessage(msg.Content)
		}
	}

	final, records, err := runRounds(ctx, log, p, session)
	if err != nil {
		return err
	}
	return emit(p, sink, final, records)
}

// runRounds drives up to MaxToolIterations model prompts, executing tool
// calls between rounds.
func runRounds(ctx context.Context, log zerolog.Logger, p Params, session generator.Session) (string, []types.ToolCallRecord, error) {
	var records []types.ToolCallRecord
	sigCounts := make(map[string]int)

	input := p.Messages[len(p.Messages)-1].Content
	for round := 0; round < MaxToolIterations; round++ {
		response, err := session.Prompt(ctx, input)
		if err != nil {
			return "", nil, err
		}
		if !p.Codec.HasToolCalls(response) {
			return p.Codec.TextContent(response), records, nil
		}
		calls := p.Codec.ParseToolCalls(response)
		if len(calls) == 0 {
			// The probe fired but nothing parsed; accept the text as final.
			return p.Codec.TextContent(response), records, nil
		}

		sig := callSignature(calls)
		sigCounts[sig]++
		if sigCounts[sig] >= loopSignatureLimit {
			log.Warn().Str("model", p.ModelName).Str("signature", sig).Msg("tool-call loop detected")
			return loopDetectedMessage(calls), records, nil
		}

		results := make([]callResult, 0, len(calls))
		for _, call := range calls {
			args, _ := json.Marshal(call.Arguments)
			records = append(records, types.ToolCallRecord{
				ID:       uuid.NewString(),
				Type:     "function",
				Function: types.ToolCallFunction{Name: call.Name, Arguments: string(args)},
			})

			out, err := p.Tools.CallTool(ctx, call.Name, call.Arguments)
			if err != nil {
				log.Warn().Err(err).Str("tool", call.Name).Msg("tool call failed")
				toolCallsTotal.WithLabelValues(call.Name, "error").Inc()
				results = append(results, callResult{name: call.Name, result: err.Error(), success: false})
				continue
			}
			toolCallsTotal.WithLabelValues(call.Name, "ok").Inc()
			results = append(results, callResult{name: call.Name, result: out, success: true})
		}

		parts := make([]string, 0, len(results))
		for _, res := range results {
			formatted := p.Codec.FormatToolResult(res.name, res.result)
			if !res.success || isEmptyResult(res.result) {
				if guide := guidanceFor(p.Tools, res.name); guide != "" {
					formatted += "\n\n" + guide
				}
			}
			parts = append(parts, formatted)
		}
		input = strings.Join(parts, "\n\n")
	}

	return iterationCapReply, records, nil
}

// effectiveSystemPrompt joins, in fixed order: user-supplied system
// messages, the base prompt, the current date/time line and the codec tool
// block.
func effectiveSystemPrompt(p Params, tools []types.Tool) string {
	parts := make([]string, 0, 4)
	for _, msg := range p.Messages {
		if msg.Role == "system" && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	if p.SystemPrompt != "" {
		parts = append(parts, p.SystemPrompt)
	}
	parts = append(parts, "Current date and time: "+time.Now().Format(time.RFC1123))
	if block := p.Codec.FormatToolsForPrompt(tools); block != "" {
		parts = append(parts, block)
	}
	return strings.Join(parts, "\n")
}

// callSignature deterministically serializes a call list for loop
// detection. json.Marshal sorts map keys, so identical argument maps yield
// identical signatures.
func callSignature(calls []codec.ToolCall) string {
	var sb strings.Builder
	for i, c := range calls {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(c.Name)
		b, err := json.Marshal(c.Arguments)
		if err != nil {
			b = []byte(fmt.Sprintf("%v", c.Arguments))
		}
		sb.Write(b)
	}
	return sb.String()
}

// loopDetectedMessage names the tools the model kept calling.
func loopDetectedMessage(calls []codec.ToolCall) string {
	seen := make(map[string]bool, len(calls))
	var names []string
	for _, c := range calls {
		if !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
	}
	return fmt.Sprintf("%s — I kept trying to call %s with the same arguments without success.",
		loopDetectedPrefix, strings.Join(names, ", "))
}

// isEmptyResult reports whether a tool produced nothing useful: nil, an
// empty or JSON-empty string, or a zero-length array.
func isEmptyResult(v any) bool {
	switch r := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(r)
		return s == "" || s == "[]" || s == "{}" || s == "null"
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Len() == 0 {
		return true
	}
	return false
}

// NormalizeTools converts per-request tool entries into the normalized
// descriptor shape. OpenAI {type:"function", function:{...}} wrappers are
// unwrapped; entries already in descriptor shape pass through.
func NormalizeTools(raw []any) []types.Tool {
	out := make([]types.Tool, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if fn, ok := m["function"].(map[string]any); ok {
			tool := types.Tool{}
			tool.Name, _ = fn["name"].(string)
			tool.Description, _ = fn["description"].(string)
			if params, ok := fn["parameters"].(map[string]any); ok {
				tool.InputSchema = params
			}
			if tool.Name != "" {
				out = append(out, tool)
			}
			continue
		}
		tool := types.Tool{}
		tool.Name, _ = m["name"].(string)
		tool.Description, _ = m["description"].(string)
		if schema, ok := m["inputSchema"].(map[string]any); ok {
			tool.InputSchema = schema
		} else if params, ok := m["parameters"].(map[string]any); ok {
			tool.InputSchema = params
		}
		if tool.Name != "" {
			out = append(out, tool)
		}
	}
	return out
}

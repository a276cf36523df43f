package codec

import (
	"encoding/json"
	"regexp"
	"strings"

	"llamagate/pkg/types"
)

// hermesCodec speaks the tag-delimited JSON dialect: calls wrapped in
// <tool_call> tags, results returned in <tool_response> tags.
type hermesCodec struct{}

var toolCallRe = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

func (hermesCodec) FormatToolsForPrompt(tools []types.Tool) string {
	return hermesToolBlock(tools, hermesInstructions)
}

const hermesInstructions = `You are a function calling AI. You are provided with function signatures within <tools></tools> XML tags. You may call one or more functions to assist with the user query. Don't make assumptions about what values to plug into functions.

For each function call, return a JSON object with the function name and arguments within <tool_call></tool_call> XML tags as follows:
<tool_call>
{"name": "<function-name>", "arguments": <args-json-object>}
</tool_call>

After each call you will receive the result inside <tool_response></tool_response> tags. Use it to answer the user.`

// hermesToolBlock renders the shared tag-delimited tool block with
// dialect-specific instructions. Shared with the qwen codec.
func hermesToolBlock(tools []types.Tool, instructions string) string {
	if len(tools) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\nHere are the available tools:\n<tools>\n")
	for _, t := range tools {
		b, err := json.Marshal(t)
		if err != nil {
			continue
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}
	sb.WriteString("</tools>")
	return sb.String()
}

func (hermesCodec) HasToolCalls(text string) bool {
	return strings.Contains(text, "<tool_call>")
}

func (hermesCodec) ParseToolCalls(text string) []ToolCall {
	return parseTaggedCalls(text)
}

// parseTaggedCalls extracts calls from <tool_call> blocks. Each block holds
// either a single {"name":..., "arguments":{...}} object or an array of them.
func parseTaggedCalls(text string) []ToolCall {
	var calls []ToolCall
	for _, m := range toolCallRe.FindAllStringSubmatch(text, -1) {
		inner := strings.TrimSpace(m[1])
		if inner == "" {
			continue
		}
		var one taggedCall
		if err := json.Unmarshal([]byte(inner), &one); err == nil {
			if c, ok := one.toCall(); ok {
				calls = append(calls, c)
			}
			continue
		}
		var many []taggedCall
		if err := json.Unmarshal([]byte(inner), &many); err == nil {
			for _, tc := range many {
				if c, ok := tc.toCall(); ok {
					calls = append(calls, c)
				}
			}
		}
		// Anything else is malformed and silently skipped.
	}
	return calls
}

type taggedCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (t taggedCall) toCall() (ToolCall, bool) {
	if t.Name == "" {
		return ToolCall{}, false
	}
	args := t.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{Name: t.Name, Arguments: args}, true
}

func (hermesCodec) FormatToolResult(name string, result any) string {
	return taggedResult(name, result)
}

func taggedResult(name string, result any) string {
	payload, err := json.Marshal(map[string]any{
		"name":   name,
		"result": stringify(result),
	})
	if err != nil {
		payload = []byte(`{"name":"` + name + `","result":""}`)
	}
	return "<tool_response>\n" + string(payload) + "\n</tool_response>"
}

func (hermesCodec) TextContent(text string) string {
	return taggedTextContent(text)
}

var toolResponseRe = regexp.MustCompile(`(?s)<tool_response>.*?</tool_response>`)

func taggedTextContent(text string) string {
	out := toolCallRe.ReplaceAllString(text, "")
	out = toolResponseRe.ReplaceAllString(out, "")
	// Drop unbalanced leftovers so no markup survives.
	out = strings.ReplaceAll(out, "<tool_call>", "")
	out = strings.ReplaceAll(out, "</tool_call>", "")
	return strings.TrimSpace(out)
}

func (hermesCodec) BuildMessage(role, content string) types.Message {
	return types.Message{Role: role, Content: content}
}

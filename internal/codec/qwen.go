package codec

import (
	"strings"

	"llamagate/pkg/types"
)

// qwenCodec shares the tag-delimited wire format with hermesCodec and only
// differs in the instructions embedded in the system prompt.
type qwenCodec struct{}

const qwenInstructions = `# Tools

You may call one or more functions to assist with the user query.

You are provided with function signatures within <tools></tools> XML tags. For each function call, return a json object with function name and arguments within <tool_call></tool_call> XML tags:
<tool_call>
{"name": <function-name>, "arguments": <args-json-object>}
</tool_call>

Tool results arrive inside <tool_response></tool_response> XML tags. Base your final answer on them and reply in plain text.`

func (qwenCodec) FormatToolsForPrompt(tools []types.Tool) string {
	return hermesToolBlock(tools, qwenInstructions)
}

func (qwenCodec) HasToolCalls(text string) bool {
	return strings.Contains(text, "<tool_call>")
}

func (qwenCodec) ParseToolCalls(text string) []ToolCall {
	return parseTaggedCalls(text)
}

func (qwenCodec) FormatToolResult(name string, result any) string {
	return taggedResult(name, result)
}

func (qwenCodec) TextContent(text string) string {
	return taggedTextContent(text)
}

func (qwenCodec) BuildMessage(role, content string) types.Message {
	return types.Message{Role: role, Content: content}
}

// Package codec implements the per-dialect encoding and decoding of tool
// calls embedded in model text. Each dialect knows how to advertise tools in
// the system prompt, recognize and parse calls in a completion, and wrap tool
// results for the next prompt.
package codec

import (
	"encoding/json"
	"fmt"

	"llamagate/pkg/types"
)

// ToolCall is one parsed tool invocation.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Codec translates between model text and tool calls for one dialect.
type Codec interface {
	// FormatToolsForPrompt returns the text block appended to the system
	// prompt so the model knows which tools exist and how to invoke them.
	// Returns "" when tools is empty.
	FormatToolsForPrompt(tools []types.Tool) string
	// HasToolCalls is a cheap syntactic probe for call markup.
	HasToolCalls(text string) bool
	// ParseToolCalls extracts calls in order. Malformed entries are skipped;
	// entries without arguments get an empty map. Returns nil when text
	// contains no calls.
	ParseToolCalls(text string) []ToolCall
	// FormatToolResult wraps a tool's return value so the next prompt
	// carries it back to the model.
	FormatToolResult(name string, result any) string
	// TextContent returns text with all call markup excised and trimmed.
	TextContent(text string) string
	// BuildMessage constructs a role/content record.
	BuildMessage(role, content string) types.Message
}

// unknownDialectError is returned by ForDialect for unrecognized tags.
type unknownDialectError struct{ tag types.Dialect }

func (e unknownDialectError) Error() string { return fmt.Sprintf("unknown dialect: %q", e.tag) }

// IsUnknownDialect reports whether err came from an unrecognized dialect tag.
func IsUnknownDialect(err error) bool {
	_, ok := err.(unknownDialectError)
	return ok
}

// ForDialect returns the codec for a dialect tag.
func ForDialect(tag types.Dialect) (Codec, error) {
	switch tag {
	case types.DialectHermes:
		return hermesCodec{}, nil
	case types.DialectLlama:
		return llamaCodec{}, nil
	case types.DialectQwen:
		return qwenCodec{}, nil
	default:
		return nil, unknownDialectError{tag: tag}
	}
}

// stringify renders a tool result for embedding in model text. Strings pass
// through; everything else becomes JSON.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return "null"
	case string:
		return s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

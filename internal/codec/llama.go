package codec

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"llamagate/pkg/types"
)

// llamaCodec speaks the square-bracket function-call dialect:
// [get_weather(city='Paris'), get_time(zone='CET')]. Results go back as the
// plain sentence "Function <name> returned: <value>".
type llamaCodec struct{}

var bracketCallRe = regexp.MustCompile(`\[\s*[A-Za-z_][A-Za-z0-9_]*\s*\(`)

func (llamaCodec) FormatToolsForPrompt(tools []types.Tool) string {
	if len(tools) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(`You have access to the following functions. To call a function, respond with the call in square brackets, in the format [func_name(param1=value1, param2=value2)]. You may include multiple calls separated by commas inside one pair of brackets. String values use single quotes. Do not add any other text when calling a function.

Available functions:`)
	for _, t := range tools {
		sb.WriteString("\n- ")
		sb.WriteString(t.Name)
		sb.WriteByte('(')
		sb.WriteString(strings.Join(schemaParamNames(t.InputSchema), ", "))
		sb.WriteByte(')')
		if t.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(t.Description)
		}
	}
	sb.WriteString("\n\nAfter a call you will receive a line of the form \"Function <name> returned: <value>\". Use it to answer the user in plain text.")
	return sb.String()
}

// schemaParamNames lists parameter names from an input schema, required first.
func schemaParamNames(schema map[string]any) []string {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	required := map[string]bool{}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	var names, optional []string
	for name := range props {
		if required[name] {
			names = append(names, name)
		} else {
			optional = append(optional, name)
		}
	}
	sort.Strings(names)
	sort.Strings(optional)
	return append(names, optional...)
}

func (llamaCodec) HasToolCalls(text string) bool {
	return bracketCallRe.MatchString(text)
}

func (llamaCodec) ParseToolCalls(text string) []ToolCall {
	var calls []ToolCall
	for _, span := range bracketGroups(text) {
		calls = append(calls, parseCallList(span.inner)...)
	}
	return calls
}

// bracketSpan is one balanced [...] region of the input.
type bracketSpan struct {
	start, end int // inclusive of the brackets
	inner      string
}

// bracketGroups finds balanced top-level bracket regions, respecting quotes
// and nested parentheses.
func bracketGroups(text string) []bracketSpan {
	var spans []bracketSpan
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		end := matchBracket(text, i)
		if end < 0 {
			break
		}
		spans = append(spans, bracketSpan{start: i, end: end, inner: text[i+1 : end]})
		i = end
	}
	return spans
}

// matchBracket returns the index of the ']' matching the '[' at open, or -1.
func matchBracket(text string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[', '(':
			depth++
		case ')':
			depth--
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseCallList parses "f(a=1), g(b=2)" into calls. Pieces that are not of
// the name(args) shape are skipped, so bare "[text]" yields nothing.
var callShapeRe = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)$`)

func parseCallList(inner string) []ToolCall {
	var calls []ToolCall
	for _, piece := range splitTopLevel(inner) {
		piece = strings.TrimSpace(piece)
		m := callShapeRe.FindStringSubmatch(piece)
		if m == nil {
			continue
		}
		calls = append(calls, ToolCall{Name: m[1], Arguments: parseCallArgs(m[2])})
	}
	return calls
}

// splitTopLevel splits on commas that sit outside quotes, parentheses and
// brackets.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, s[last:])
	return parts
}

// parseCallArgs parses "a='x', b=3" into an argument map.
func parseCallArgs(argText string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(argText) == "" {
		return args
	}
	for _, pair := range splitTopLevel(argText) {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		args[key] = parseArgValue(strings.TrimSpace(raw))
	}
	return args
}

var numberRe = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// parseArgValue applies the value discriminator: quoted -> string, decimal
// numeral -> number, True/False -> bool, None -> nil, other bare text ->
// string.
func parseArgValue(raw string) any {
	if len(raw) >= 2 {
		if (raw[0] == '\'' && raw[len(raw)-1] == '\'') || (raw[0] == '"' && raw[len(raw)-1] == '"') {
			inner := raw[1 : len(raw)-1]
			inner = strings.ReplaceAll(inner, `\'`, `'`)
			inner = strings.ReplaceAll(inner, `\"`, `"`)
			return inner
		}
	}
	if numberRe.MatchString(raw) {
		n, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			return n
		}
	}
	switch raw {
	case "True":
		return true
	case "False":
		return false
	case "None":
		return nil
	}
	return raw
}

func (llamaCodec) FormatToolResult(name string, result any) string {
	return "Function " + name + " returned: " + stringify(result)
}

func (c llamaCodec) TextContent(text string) string {
	// Remove only bracket groups that actually parse as calls, back to front
	// so earlier indices stay valid.
	spans := bracketGroups(text)
	for i := len(spans) - 1; i >= 0; i-- {
		if len(parseCallList(spans[i].inner)) == 0 {
			continue
		}
		text = text[:spans[i].start] + text[spans[i].end+1:]
	}
	return strings.TrimSpace(text)
}

func (llamaCodec) BuildMessage(role, content string) types.Message {
	return types.Message{Role: role, Content: content}
}

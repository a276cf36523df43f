package chat

import (
	"fmt"
	"sort"
	"strings"
)

// guidanceFor builds the parameter-guidance block appended to empty or
// failed tool results, so the model corrects its arguments instead of
// retrying the same call. Returns "" when no descriptor with a parameter
// schema is registered under name.
func guidanceFor(tools ToolExecutor, name string) string {
	desc, ok := tools.Describe(name)
	if !ok || desc.InputSchema == nil {
		return ""
	}
	props, ok := desc.InputSchema["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return ""
	}
	required := map[string]bool{}
	if req, ok := desc.InputSchema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for p := range props {
		names = append(names, p)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "The call to %s returned no useful result. Its parameters are:\n", name)
	for _, p := range names {
		typ := "any"
		desc := ""
		if spec, ok := props[p].(map[string]any); ok {
			if t, ok := spec["type"].(string); ok {
				typ = t
			}
			desc, _ = spec["description"].(string)
		}
		marker := "optional"
		if required[p] {
			marker = "required"
		}
		fmt.Fprintf(&sb, "- %s (%s, %s)", p, typ, marker)
		if desc != "" {
			sb.WriteString(": ")
			sb.WriteString(desc)
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("Do not call the tool again with identical arguments; adjust them or answer without it.")
	return sb.String()
}

// Package toolhost manages the tool providers attached to one loaded model.
// Providers are external MCP servers reached over stdio child processes or
// streamable HTTP; the host maintains a dual-key tool registry (plain and
// provider-qualified names) and routes calls to the owning provider.
package toolhost

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"llamagate/pkg/types"
)

// QualifiedSeparator joins provider and tool name into the collision-proof
// lookup key, e.g. "filesystem__read_file".
const QualifiedSeparator = "__"

// toolSession is the slice of an MCP client session the host uses.
type toolSession interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	Close() error
}

// registeredTool is one registry entry under one lookup key.
type registeredTool struct {
	desc      types.Tool
	provider  string
	actual    string // provider-side tool name
	qualified bool   // entry registered under its qualified key
}

// Host owns the provider connections of a single loaded model.
//
// The zero value is not usable; create instances with [New].
type Host struct {
	log    zerolog.Logger
	client *mcpsdk.Client

	// dial connects one provider and lists its tools. Listing failures are
	// swallowed inside dial (the provider stays connected with zero tools).
	// Overridable in tests.
	dial func(ctx context.Context, spec types.ProviderSpec) (toolSession, []types.Tool, error)

	mu        sync.RWMutex
	providers map[string]toolSession
	tools     map[string]registeredTool
}

// New creates an empty Host.
func New(log zerolog.Logger) *Host {
	h := &Host{
		log: log,
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "llamagate", Version: "1.0.0"},
			nil,
		),
		providers: make(map[string]toolSession),
		tools:     make(map[string]registeredTool),
	}
	h.dial = h.mcpDial
	return h
}

// ConnectAll connects every spec. A failing provider is logged and skipped
// so one bad provider cannot brick the model.
func (h *Host) ConnectAll(ctx context.Context, specs []types.ProviderSpec) {
	for _, spec := range specs {
		if err := h.Connect(ctx, spec); err != nil {
			h.log.Warn().Err(err).Str("provider", spec.Name).Msg("tool provider connection failed")
		}
	}
}

// Connect establishes the transport for one spec, lists the provider's tools
// and registers each under its plain and qualified names. Plain-name
// collisions resolve first-writer-wins; the qualified name is always
// unambiguous.
func (h *Host) Connect(ctx context.Context, spec types.ProviderSpec) error {
	sess, tools, err := h.dial(ctx, spec)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers[spec.Name] = sess
	for _, t := range tools {
		plain := t.Name
		qualified := spec.Name + QualifiedSeparator + plain
		h.tools[qualified] = registeredTool{desc: t, provider: spec.Name, actual: plain, qualified: true}
		if _, taken := h.tools[plain]; !taken {
			h.tools[plain] = registeredTool{desc: t, provider: spec.Name, actual: plain}
		}
	}
	h.log.Info().Str("provider", spec.Name).Int("tools", len(tools)).Msg("tool provider connected")
	return nil
}

// mcpDial builds the transport for spec, opens a client session and lists
// tools. A list failure leaves the provider connected with zero tools.
func (h *Host) mcpDial(ctx context.Context, spec types.ProviderSpec) (toolSession, []types.Tool, error) {
	var transport mcpsdk.Transport
	switch spec.Transport {
	case types.TransportStdio:
		cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
		if spec.Cwd != "" {
			cmd.Dir = spec.Cwd
		}
		if len(spec.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range spec.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case types.TransportHTTP:
		transport = &mcpsdk.StreamableClientTransport{Endpoint: spec.URL}
	default:
		return nil, nil, ErrToolCallFailed("unknown transport " + string(spec.Transport))
	}

	sess, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, nil, err
	}

	var tools []types.Tool
	for tool, err := range sess.Tools(ctx, nil) {
		if err != nil {
			h.log.Warn().Err(err).Str("provider", spec.Name).Msg("tool listing failed")
			return sess, nil, nil
		}
		tools = append(tools, types.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
		})
	}
	return sess, tools, nil
}

// schemaToMap converts any schema value to a map[string]any via a JSON
// round trip.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

// AllTools returns the unique tool descriptors. A tool registered under both
// its plain and qualified key appears once, under the plain entry. A tool
// that lost the plain name to another provider is listed under its
// qualified name.
func (h *Host) AllTools() []types.Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	type key struct{ provider, actual string }
	seen := make(map[key]bool, len(h.tools))
	var out []types.Tool
	for _, rt := range h.tools {
		if !rt.qualified {
			seen[key{rt.provider, rt.actual}] = true
			out = append(out, rt.desc)
		}
	}
	for _, rt := range h.tools {
		if rt.qualified && !seen[key{rt.provider, rt.actual}] {
			seen[key{rt.provider, rt.actual}] = true
			desc := rt.desc
			desc.Name = rt.provider + QualifiedSeparator + rt.actual
			out = append(out, desc)
		}
	}
	return out
}

// Describe returns the descriptor registered under name, if any.
func (h *Host) Describe(name string) (types.Tool, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rt, ok := h.tools[name]
	return rt.desc, ok
}

// CallTool invokes the tool registered under name. The result is the joined
// text content when the provider returned any, otherwise the raw content
// structure.
func (h *Host) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	h.mu.RLock()
	rt, ok := h.tools[name]
	if !ok {
		h.mu.RUnlock()
		return nil, ErrUnknownTool(name)
	}
	sess, ok := h.providers[rt.provider]
	h.mu.RUnlock()
	if !ok {
		return nil, ErrProviderDisconnected(rt.provider)
	}

	res, err := sess.CallTool(ctx, &mcpsdk.CallToolParams{Name: rt.actual, Arguments: args})
	if err != nil {
		return nil, ErrToolCallFailed(err.Error())
	}

	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if joined := strings.Join(parts, "\n"); joined != "" {
		return joined, nil
	}
	return res.Content, nil
}

// DisconnectAll closes every provider session and clears the registry.
// Close errors are logged and swallowed.
func (h *Host) DisconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, sess := range h.providers {
		if err := sess.Close(); err != nil {
			h.log.Warn().Err(err).Str("provider", name).Msg("tool provider close failed")
		}
		delete(h.providers, name)
	}
	h.tools = make(map[string]registeredTool)
}

package toolhost

import (
	"context"
	"errors"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"llamagate/pkg/types"
)

type fakeSession struct {
	call   func(name string, args map[string]any) (*mcpsdk.CallToolResult, error)
	closed bool
}

func (f *fakeSession) CallTool(ctx context.Context, p *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	args, _ := p.Arguments.(map[string]any)
	return f.call(p.Name, args)
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func textResult(parts ...string) *mcpsdk.CallToolResult {
	res := &mcpsdk.CallToolResult{}
	for _, p := range parts {
		res.Content = append(res.Content, &mcpsdk.TextContent{Text: p})
	}
	return res
}

// newFakeHost wires a Host whose dial hands out canned sessions and tools.
func newFakeHost(t *testing.T, fixtures map[string]struct {
	sess  *fakeSession
	tools []types.Tool
	err   error
}) *Host {
	t.Helper()
	h := New(zerolog.Nop())
	h.dial = func(ctx context.Context, spec types.ProviderSpec) (toolSession, []types.Tool, error) {
		fx, ok := fixtures[spec.Name]
		if !ok {
			t.Fatalf("unexpected dial for provider %q", spec.Name)
		}
		if fx.err != nil {
			return nil, nil, fx.err
		}
		return fx.sess, fx.tools, nil
	}
	return h
}

func TestConnectRegistersBothKeys(t *testing.T) {
	sess := &fakeSession{call: func(name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
		return textResult("ok:" + name), nil
	}}
	h := newFakeHost(t, map[string]struct {
		sess  *fakeSession
		tools []types.Tool
		err   error
	}{
		"fs": {sess: sess, tools: []types.Tool{{Name: "read_file"}}},
	})
	if err := h.Connect(context.Background(), types.ProviderSpec{Name: "fs"}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	for _, name := range []string{"read_file", "fs__read_file"} {
		out, err := h.CallTool(context.Background(), name, nil)
		if err != nil {
			t.Fatalf("call %s: %v", name, err)
		}
		if out != "ok:read_file" {
			t.Fatalf("call %s: expected provider-side plain name, got %v", name, out)
		}
	}
}

func TestPlainNameCollisionFirstWriterWins(t *testing.T) {
	mk := func(tag string) *fakeSession {
		return &fakeSession{call: func(name string, args map[string]any) (*mcpsdk.CallToolResult, error) {
			return textResult(tag), nil
		}}
	}
	h := newFakeHost(t, map[string]struct {
		sess  *fakeSession
		tools []types.Tool
		err   error
	}{
		"one": {sess: mk("one"), tools: []types.Tool{{Name: "search"}}},
		"two": {sess: mk("two"), tools: []types.Tool{{Name: "search"}}},
	})
	h.ConnectAll(context.Background(), []types.ProviderSpec{{Name: "one"}, {Name: "two"}})

	out, err := h.CallTool(context.Background(), "search", nil)
	if err != nil || out != "one" {
		t.Fatalf("plain name should stay with first provider, got %v / %v", out, err)
	}
	out, err = h.CallTool(context.Background(), "two__search", nil)
	if err != nil || out != "two" {
		t.Fatalf("qualified name should reach second provider, got %v / %v", out, err)
	}
}

func TestAllToolsDeduplicates(t *testing.T) {
	sess := &fakeSession{call: func(string, map[string]any) (*mcpsdk.CallToolResult, error) {
		return textResult("x"), nil
	}}
	h := newFakeHost(t, map[string]struct {
		sess  *fakeSession
		tools []types.Tool
		err   error
	}{
		"fs": {sess: sess, tools: []types.Tool{{Name: "read_file"}, {Name: "write_file"}}},
	})
	if err := h.Connect(context.Background(), types.ProviderSpec{Name: "fs"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tools := h.AllTools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 unique tools, got %d: %+v", len(tools), tools)
	}
	for _, tool := range tools {
		if tool.Name != "read_file" && tool.Name != "write_file" {
			t.Fatalf("expected plain names in listing, got %q", tool.Name)
		}
	}
}

func TestConnectAllSwallowsFailures(t *testing.T) {
	good := &fakeSession{call: func(string, map[string]any) (*mcpsdk.CallToolResult, error) {
		return textResult("ok"), nil
	}}
	h := newFakeHost(t, map[string]struct {
		sess  *fakeSession
		tools []types.Tool
		err   error
	}{
		"bad":  {err: errors.New("spawn failed")},
		"good": {sess: good, tools: []types.Tool{{Name: "ping"}}},
	})
	h.ConnectAll(context.Background(), []types.ProviderSpec{{Name: "bad"}, {Name: "good"}})

	if _, err := h.CallTool(context.Background(), "ping", nil); err != nil {
		t.Fatalf("good provider should survive bad one: %v", err)
	}
}

func TestCallToolUnknown(t *testing.T) {
	h := New(zerolog.Nop())
	_, err := h.CallTool(context.Background(), "nope", nil)
	if err == nil || !IsUnknownTool(err) {
		t.Fatalf("expected unknown tool error, got %v", err)
	}
}

func TestCallToolProviderDisconnected(t *testing.T) {
	sess := &fakeSession{call: func(string, map[string]any) (*mcpsdk.CallToolResult, error) {
		return textResult("ok"), nil
	}}
	h := newFakeHost(t, map[string]struct {
		sess  *fakeSession
		tools []types.Tool
		err   error
	}{
		"fs": {sess: sess, tools: []types.Tool{{Name: "read_file"}}},
	})
	if err := h.Connect(context.Background(), types.ProviderSpec{Name: "fs"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// Tear the provider down behind the registry's back.
	h.mu.Lock()
	delete(h.providers, "fs")
	h.mu.Unlock()

	_, err := h.CallTool(context.Background(), "read_file", nil)
	if err == nil || !IsProviderDisconnected(err) {
		t.Fatalf("expected provider disconnected, got %v", err)
	}
}

func TestCallToolFailure(t *testing.T) {
	sess := &fakeSession{call: func(string, map[string]any) (*mcpsdk.CallToolResult, error) {
		return nil, errors.New("boom")
	}}
	h := newFakeHost(t, map[string]struct {
		sess  *fakeSession
		tools []types.Tool
		err   error
	}{
		"fs": {sess: sess, tools: []types.Tool{{Name: "read_file"}}},
	})
	if err := h.Connect(context.Background(), types.ProviderSpec{Name: "fs"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_, err := h.CallTool(context.Background(), "read_file", nil)
	if err == nil || !IsToolCallFailed(err) {
		t.Fatalf("expected tool call failed, got %v", err)
	}
}

func TestCallToolJoinsTextContent(t *testing.T) {
	sess := &fakeSession{call: func(string, map[string]any) (*mcpsdk.CallToolResult, error) {
		return textResult("line one", "line two"), nil
	}}
	h := newFakeHost(t, map[string]struct {
		sess  *fakeSession
		tools []types.Tool
		err   error
	}{
		"fs": {sess: sess, tools: []types.Tool{{Name: "read_file"}}},
	})
	if err := h.Connect(context.Background(), types.ProviderSpec{Name: "fs"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	out, err := h.CallTool(context.Background(), "read_file", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out != "line one\nline two" {
		t.Fatalf("expected joined text, got %#v", out)
	}
}

func TestCallToolRawStructureWhenNoText(t *testing.T) {
	raw := &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.ImageContent{Data: []byte{1}}}}
	sess := &fakeSession{call: func(string, map[string]any) (*mcpsdk.CallToolResult, error) {
		return raw, nil
	}}
	h := newFakeHost(t, map[string]struct {
		sess  *fakeSession
		tools []types.Tool
		err   error
	}{
		"fs": {sess: sess, tools: []types.Tool{{Name: "snap"}}},
	})
	if err := h.Connect(context.Background(), types.ProviderSpec{Name: "fs"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	out, err := h.CallTool(context.Background(), "snap", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, ok := out.([]mcpsdk.Content); !ok {
		t.Fatalf("expected raw content structure, got %#v", out)
	}
}

func TestDisconnectAll(t *testing.T) {
	sess := &fakeSession{call: func(string, map[string]any) (*mcpsdk.CallToolResult, error) {
		return textResult("ok"), nil
	}}
	h := newFakeHost(t, map[string]struct {
		sess  *fakeSession
		tools []types.Tool
		err   error
	}{
		"fs": {sess: sess, tools: []types.Tool{{Name: "read_file"}}},
	})
	if err := h.Connect(context.Background(), types.ProviderSpec{Name: "fs"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.DisconnectAll()
	if !sess.closed {
		t.Fatalf("expected provider session closed")
	}
	if tools := h.AllTools(); len(tools) != 0 {
		t.Fatalf("expected empty registry after disconnect, got %+v", tools)
	}
	if _, err := h.CallTool(context.Background(), "read_file", nil); !IsUnknownTool(err) {
		t.Fatalf("expected unknown tool after disconnect, got %v", err)
	}
}

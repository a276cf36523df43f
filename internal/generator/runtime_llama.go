//go:build llama

package generator

import (
	"context"
	"errors"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaRuntime backs the generator with in-process llama.cpp via CGO.
type llamaRuntime struct{}

// NewRuntime returns the llama.cpp-backed runtime.
func NewRuntime() Runtime { return llamaRuntime{} }

func (llamaRuntime) OpenModel(path string, opts ModelOptions) (Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{
		llama.SetContext(opts.ContextSize),
	}
	if opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(opts.GPULayers))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaModel{model: m, ctxSize: opts.ContextSize}, nil
}

func (llamaRuntime) FreeMemory() (uint64, error) {
	// The bindings expose no VRAM accounting; callers fall back to
	// cap-only eviction.
	return 0, ErrUnavailable("vram probe not supported by llama bindings")
}

func (llamaRuntime) Close() error { return nil }

type llamaModel struct {
	mu      sync.Mutex
	model   *llama.LLama
	ctxSize int
}

func (m *llamaModel) NewContext(opts ContextOptions) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return nil, errors.New("llama model already disposed")
	}
	size := opts.ContextSize
	if size <= 0 {
		size = m.ctxSize
	}
	return &llamaContext{owner: m, ctxSize: size}, nil
}

func (m *llamaModel) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model != nil {
		m.model.Free()
		m.model = nil
	}
	return nil
}

// llamaContext carries one request's transcript. The bindings have no
// separate KV-cache object, so the context re-renders the transcript into a
// single prompt per generation.
type llamaContext struct {
	owner   *llamaModel
	ctxSize int
}

func (c *llamaContext) NewSession(systemPrompt string) Session {
	return &llamaSession{owner: c.owner, system: systemPrompt, ctxSize: c.ctxSize}
}

func (c *llamaContext) Dispose() error { return nil }

type turn struct {
	role    string
	content string
}

type llamaSession struct {
	owner   *llamaModel
	system  string
	ctxSize int
	turns   []turn
}

func (s *llamaSession) AddUserMessage(text string) {
	s.turns = append(s.turns, turn{role: "user", content: text})
}

func (s *llamaSession) Prompt(ctx context.Context, input string) (string, error) {
	s.turns = append(s.turns, turn{role: "user", content: input})

	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.owner.model == nil {
		return "", errors.New("llama model already disposed")
	}

	s.owner.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	})
	text, err := s.owner.model.Predict(s.render(), llama.SetTokens(s.ctxSize/2))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	text = strings.TrimSpace(text)
	s.turns = append(s.turns, turn{role: "assistant", content: text})
	return text, nil
}

// render produces a ChatML transcript ending with an open assistant turn.
func (s *llamaSession) render() string {
	var sb strings.Builder
	if s.system != "" {
		sb.WriteString("<|im_start|>system\n")
		sb.WriteString(s.system)
		sb.WriteString("<|im_end|>\n")
	}
	for _, t := range s.turns {
		sb.WriteString("<|im_start|>")
		sb.WriteString(t.role)
		sb.WriteByte('\n')
		sb.WriteString(t.content)
		sb.WriteString("<|im_end|>\n")
	}
	sb.WriteString("<|im_start|>assistant\n")
	return sb.String()
}

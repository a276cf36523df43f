package manager

import (
	"context"
	"errors"
	"sync"

	"llamagate/internal/generator"
)

// fakeRuntime implements generator.Runtime for tests.
type fakeRuntime struct {
	mu       sync.Mutex
	opens    []string
	models   []*fakeModel
	failOpen map[string]error
	free     uint64
	freeErr  error
	closed   bool
}

func (f *fakeRuntime) OpenModel(path string, opts generator.ModelOptions) (generator.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, path)
	if err, ok := f.failOpen[path]; ok {
		return nil, err
	}
	m := &fakeModel{path: path}
	f.models = append(f.models, m)
	return m, nil
}

// FreeMemory reports the configured free-memory figure. The zero value has
// no probe, matching runtimes without VRAM accounting.
func (f *fakeRuntime) FreeMemory() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.freeErr != nil {
		return 0, f.freeErr
	}
	if f.free == 0 {
		return 0, errors.New("no memory probe configured")
	}
	return f.free, nil
}

func (f *fakeRuntime) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRuntime) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens)
}

type fakeModel struct {
	mu       sync.Mutex
	path     string
	disposed bool
}

func (m *fakeModel) NewContext(opts generator.ContextOptions) (generator.Context, error) {
	return &fakeContext{}, nil
}

func (m *fakeModel) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	return nil
}

func (m *fakeModel) isDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

type fakeContext struct{}

func (c *fakeContext) NewSession(systemPrompt string) generator.Session { return &fakeSession{} }
func (c *fakeContext) Dispose() error                                   { return nil }

type fakeSession struct{}

func (s *fakeSession) AddUserMessage(text string) {}
func (s *fakeSession) Prompt(ctx context.Context, input string) (string, error) {
	return "ok", nil
}

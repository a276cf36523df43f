package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llamagate/pkg/types"
)

// newTestManager builds a Manager over temp model files and a fake runtime.
func newTestManager(t *testing.T, rt *fakeRuntime, names ...string) *Manager {
	t.Helper()
	dir := t.TempDir()
	models := make(map[string]types.ModelConfig, len(names))
	for _, name := range names {
		p := filepath.Join(dir, name+".gguf")
		if err := os.WriteFile(p, make([]byte, 1024*1024), 0o644); err != nil {
			t.Fatalf("write model file: %v", err)
		}
		models[name] = types.ModelConfig{
			Name:        name,
			Path:        p,
			Dialect:     types.DialectHermes,
			ContextSize: 2048,
		}
	}
	m, err := New(Config{Runtime: rt, Models: models, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestEnsureLoadedUnknownModel(t *testing.T) {
	m := newTestManager(t, &fakeRuntime{}, "a")
	_, err := m.EnsureLoaded(context.Background(), "missing")
	if err == nil || !IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestEnsureLoadedIsIdempotent(t *testing.T) {
	rt := &fakeRuntime{}
	m := newTestManager(t, rt, "a")

	rec1, err := m.EnsureLoaded(context.Background(), "a")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	rec2, err := m.EnsureLoaded(context.Background(), "a")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if rec1 != rec2 {
		t.Fatalf("expected the same record on re-ensure")
	}
	if rt.openCount() != 1 {
		t.Fatalf("expected a single model open, got %d", rt.openCount())
	}
	if !m.IsLoaded("a") || m.LoadedCount() != 1 {
		t.Fatalf("unexpected loaded state")
	}
}

func TestCapEvictionEvictsOldest(t *testing.T) {
	rt := &fakeRuntime{}
	m := newTestManager(t, rt, "a", "b", "c", "d")

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := m.EnsureLoaded(ctx, name); err != nil {
			t.Fatalf("ensure %s: %v", name, err)
		}
	}
	// Make "a" the oldest by touching the others.
	m.mu.Lock()
	m.loaded["a"].LastUsed = time.Now().Add(-time.Hour)
	m.loaded["b"].LastUsed = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	if _, err := m.EnsureLoaded(ctx, "d"); err != nil {
		t.Fatalf("ensure d: %v", err)
	}
	if m.LoadedCount() != MaxLoadedModels {
		t.Fatalf("expected %d resident, got %d", MaxLoadedModels, m.LoadedCount())
	}
	if m.IsLoaded("a") {
		t.Fatalf("expected oldest model evicted")
	}
	for _, name := range []string{"b", "c", "d"} {
		if !m.IsLoaded(name) {
			t.Fatalf("expected %s resident", name)
		}
	}
	// The evicted handle must be disposed.
	if !rt.models[0].isDisposed() {
		t.Fatalf("evicted model handle not disposed")
	}
}

func TestCapEvictionSkipsBusyModels(t *testing.T) {
	rt := &fakeRuntime{failOpen: map[string]error{}}
	m := newTestManager(t, rt, "a", "b", "c", "d")

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := m.EnsureLoaded(ctx, name); err != nil {
			t.Fatalf("ensure %s: %v", name, err)
		}
		m.AcquireContext(name)
	}
	// All three are busy, so the fourth load evicts nothing and surfaces
	// whatever the runtime reports.
	oom := errors.New("out of memory")
	rt.mu.Lock()
	rt.failOpen[m.configs["d"].Path] = oom
	rt.mu.Unlock()

	_, err := m.EnsureLoaded(ctx, "d")
	if !errors.Is(err, oom) {
		t.Fatalf("expected runtime error surfaced, got %v", err)
	}
	if m.LoadedCount() != 3 {
		t.Fatalf("expected no eviction while busy, got %d resident", m.LoadedCount())
	}
	for _, fm := range rt.models {
		if fm.isDisposed() {
			t.Fatalf("busy model was disposed")
		}
	}
}

func TestMemoryEvictionFreesIdleModels(t *testing.T) {
	// Free memory below the reserve forces eviction of every idle model
	// before the load proceeds.
	rt := &fakeRuntime{free: 1}
	m := newTestManager(t, rt, "a", "b", "c")

	ctx := context.Background()
	if _, err := m.EnsureLoaded(ctx, "a"); err != nil {
		t.Fatalf("ensure a: %v", err)
	}
	if _, err := m.EnsureLoaded(ctx, "b"); err != nil {
		t.Fatalf("ensure b: %v", err)
	}
	if _, err := m.EnsureLoaded(ctx, "c"); err != nil {
		t.Fatalf("ensure c: %v", err)
	}
	if m.LoadedCount() != 1 || !m.IsLoaded("c") {
		t.Fatalf("expected only the new model resident, have %d", m.LoadedCount())
	}
}

func TestMemoryProbeFailureSkipsMemoryEviction(t *testing.T) {
	rt := &fakeRuntime{freeErr: errors.New("no probe")}
	m := newTestManager(t, rt, "a", "b")

	ctx := context.Background()
	if _, err := m.EnsureLoaded(ctx, "a"); err != nil {
		t.Fatalf("ensure a: %v", err)
	}
	if _, err := m.EnsureLoaded(ctx, "b"); err != nil {
		t.Fatalf("ensure b: %v", err)
	}
	if m.LoadedCount() != 2 {
		t.Fatalf("probe failure must not evict, got %d resident", m.LoadedCount())
	}
}

func TestContextCounters(t *testing.T) {
	m := newTestManager(t, &fakeRuntime{}, "a")
	if _, err := m.EnsureLoaded(context.Background(), "a"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	m.AcquireContext("a")
	m.AcquireContext("a")
	m.mu.Lock()
	n := m.loaded["a"].ActiveContexts
	m.mu.Unlock()
	if n != 2 {
		t.Fatalf("expected 2 active contexts, got %d", n)
	}

	m.ReleaseContext("a")
	m.ReleaseContext("a")
	m.ReleaseContext("a") // extra release must not go negative
	m.mu.Lock()
	n = m.loaded["a"].ActiveContexts
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected counter clamped at 0, got %d", n)
	}

	// Noop for models that are not loaded.
	m.AcquireContext("ghost")
	m.ReleaseContext("ghost")
}

func TestUnloadDisposesHandle(t *testing.T) {
	rt := &fakeRuntime{}
	m := newTestManager(t, rt, "a")
	if _, err := m.EnsureLoaded(context.Background(), "a"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	m.Unload("a")
	if m.IsLoaded("a") {
		t.Fatalf("record still present after unload")
	}
	if !rt.models[0].isDisposed() {
		t.Fatalf("handle not disposed on unload")
	}
	// Unloading again is a noop.
	m.Unload("a")
}

func TestShutdownUnloadsEverything(t *testing.T) {
	rt := &fakeRuntime{}
	m := newTestManager(t, rt, "a", "b")
	ctx := context.Background()
	if _, err := m.EnsureLoaded(ctx, "a"); err != nil {
		t.Fatalf("ensure a: %v", err)
	}
	if _, err := m.EnsureLoaded(ctx, "b"); err != nil {
		t.Fatalf("ensure b: %v", err)
	}
	m.Shutdown()
	if m.LoadedCount() != 0 {
		t.Fatalf("models survived shutdown")
	}
	for _, fm := range rt.models {
		if !fm.isDisposed() {
			t.Fatalf("model %s not disposed on shutdown", fm.path)
		}
	}
	if !rt.closed {
		t.Fatalf("runtime not closed on shutdown")
	}
}

func TestInfoAccessorsRespectAllowList(t *testing.T) {
	m := newTestManager(t, &fakeRuntime{}, "baseball", "assistant")

	all := m.AllModelInfo(nil)
	if len(all) != 2 {
		t.Fatalf("expected 2 models, got %d", len(all))
	}
	filtered := m.AllModelInfo([]string{"baseball"})
	if len(filtered) != 1 || filtered[0].Name != "baseball" {
		t.Fatalf("allow-list ignored: %+v", filtered)
	}
	if got := m.AllModelInfo([]string{}); len(got) != 0 {
		t.Fatalf("empty allow-list should hide everything, got %+v", got)
	}

	if _, err := m.EnsureLoaded(context.Background(), "assistant"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	running := m.RunningModelInfo(nil)
	if len(running) != 1 || running[0].Name != "assistant" {
		t.Fatalf("unexpected running info: %+v", running)
	}
	if got := m.RunningModelInfo([]string{"baseball"}); len(got) != 0 {
		t.Fatalf("allow-list ignored for running info: %+v", got)
	}

	details, ok := m.ModelDetails("assistant")
	if !ok || details.Name != "assistant" || details.Details.Dialect != "hermes" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if _, ok := m.ModelDetails("ghost"); ok {
		t.Fatalf("details for unknown model should report missing")
	}
}

// Package manager owns the model lifecycle: loading, unloading and tracking
// models with LRU and VRAM-aware eviction. A load evicts idle models down to
// MaxLoadedModels resident handles; when every resident model has active
// contexts the load proceeds without evicting, so the count can exceed the
// cap. A single load semaphore serializes every EnsureLoaded call.
package manager

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"llamagate/internal/codec"
	"llamagate/internal/generator"
	"llamagate/internal/toolhost"
	"llamagate/pkg/types"
)

const (
	// MaxLoadedModels is the resident-model count that cap eviction keeps
	// to; only idle models are evicted to honour it.
	MaxLoadedModels = 3
	// MemoryReserveBytes is kept free on the accelerator when deciding
	// whether a load fits.
	MemoryReserveBytes = 512 << 20
)

// LoadedModel is one resident model with its bound tool providers.
// All fields except the handle references are guarded by the manager mutex.
type LoadedModel struct {
	Name   string
	Config types.ModelConfig
	Model  generator.Model
	Tools  *toolhost.Host
	Codec  codec.Codec
	// Tool list snapshot taken at load time.
	ToolList []types.Tool
	LoadedAt time.Time
	LastUsed time.Time
	// In-flight requests currently using the model; protects it from
	// eviction while > 0.
	ActiveContexts int
}

// Manager tracks configured models and their loaded instances.
type Manager struct {
	log      zerolog.Logger
	runtime  generator.Runtime
	configs  map[string]types.ModelConfig
	codecs   map[string]codec.Codec
	insights map[string]generator.Insights

	// loadSem serializes EnsureLoaded globally: at most one load or
	// eviction sequence is in progress.
	loadSem *semaphore.Weighted

	mu     sync.Mutex
	loaded map[string]*LoadedModel
}

// Config carries Manager construction parameters.
type Config struct {
	Runtime generator.Runtime
	Models  map[string]types.ModelConfig
	Logger  zerolog.Logger
}

// New builds a Manager, resolving each model's codec and probing file
// metadata for memory insights. Insight failures are logged per model; the
// manager still starts.
func New(cfg Config) (*Manager, error) {
	m := &Manager{
		log:      cfg.Logger,
		runtime:  cfg.Runtime,
		configs:  cfg.Models,
		codecs:   make(map[string]codec.Codec, len(cfg.Models)),
		insights: make(map[string]generator.Insights, len(cfg.Models)),
		loadSem:  semaphore.NewWeighted(1),
		loaded:   make(map[string]*LoadedModel),
	}
	for name, mc := range cfg.Models {
		c, err := codec.ForDialect(mc.Dialect)
		if err != nil {
			return nil, err
		}
		m.codecs[name] = c

		ins, err := generator.ProbeInsights(mc.Path)
		if err != nil {
			m.log.Warn().Err(err).Str("model", name).Msg("memory insights unavailable")
			continue
		}
		m.insights[name] = ins
	}
	return m, nil
}

// Names returns the configured model names, sorted.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.configs))
	for name := range m.configs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether name is a configured model.
func (m *Manager) Has(name string) bool {
	_, ok := m.configs[name]
	return ok
}

// ModelConfig returns the configuration entry for name.
func (m *Manager) ModelConfig(name string) (types.ModelConfig, bool) {
	cfg, ok := m.configs[name]
	return cfg, ok
}

// IsLoaded reports whether name is currently resident.
func (m *Manager) IsLoaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaded[name]
	return ok
}

// LoadedCount returns the number of resident models.
func (m *Manager) LoadedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loaded)
}

// AcquireContext marks one in-flight request against a resident model.
// Noop when the model is not loaded. Callers must pair with ReleaseContext
// on every exit path.
func (m *Manager) AcquireContext(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.loaded[name]; ok {
		rec.ActiveContexts++
		rec.LastUsed = time.Now()
	}
}

// ReleaseContext releases a context acquired with AcquireContext. The
// counter never goes below zero.
func (m *Manager) ReleaseContext(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.loaded[name]; ok {
		if rec.ActiveContexts > 0 {
			rec.ActiveContexts--
		}
		rec.LastUsed = time.Now()
	}
}

// Shutdown unloads every resident model serially, then closes the runtime.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		m.Unload(name)
	}
	if err := m.runtime.Close(); err != nil {
		m.log.Warn().Err(err).Msg("runtime close failed")
	}
}

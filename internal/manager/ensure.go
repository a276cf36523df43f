package manager

import (
	"context"
	"time"

	"llamagate/internal/generator"
	"llamagate/internal/toolhost"
	"llamagate/pkg/types"
)

// EnsureLoaded returns the resident record for name, loading the model if
// needed. All callers are serialized through the load semaphore; after
// acquiring it, presence is re-checked because another caller may have
// completed the load in the meantime.
func (m *Manager) EnsureLoaded(ctx context.Context, name string) (*LoadedModel, error) {
	cfg, ok := m.configs[name]
	if !ok {
		return nil, ErrModelNotFound(name)
	}

	if err := m.loadSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.loadSem.Release(1)

	m.mu.Lock()
	if rec, ok := m.loaded[name]; ok {
		rec.LastUsed = time.Now()
		m.mu.Unlock()
		return rec, nil
	}
	m.mu.Unlock()

	m.evictForLoad(cfg)
	return m.load(ctx, cfg)
}

// load opens the model handle, connects its tool providers and installs the
// record. On failure everything opened so far is disposed.
func (m *Manager) load(ctx context.Context, cfg types.ModelConfig) (*LoadedModel, error) {
	start := time.Now()
	model, err := m.runtime.OpenModel(cfg.Path, generator.ModelOptions{
		GPULayers:   cfg.GPULayers,
		ContextSize: cfg.ContextSize,
	})
	if err != nil {
		return nil, err
	}

	host := toolhost.New(m.log.With().Str("model", cfg.Name).Logger())
	host.ConnectAll(ctx, cfg.Providers)

	now := time.Now()
	rec := &LoadedModel{
		Name:     cfg.Name,
		Config:   cfg,
		Model:    model,
		Tools:    host,
		Codec:    m.codecs[cfg.Name],
		ToolList: host.AllTools(),
		LoadedAt: now,
		LastUsed: now,
	}

	m.mu.Lock()
	m.loaded[cfg.Name] = rec
	loadedModelsGauge.Set(float64(len(m.loaded)))
	m.mu.Unlock()

	m.log.Info().
		Str("model", cfg.Name).
		Int("tools", len(rec.ToolList)).
		Dur("took", time.Since(start)).
		Msg("model loaded")
	return rec, nil
}

// Unload removes the record from the map before disposing anything, so
// re-entry cannot observe a half-torn-down model. Disposal failures are
// logged and swallowed.
func (m *Manager) Unload(name string) {
	m.mu.Lock()
	rec, ok := m.loaded[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.loaded, name)
	loadedModelsGauge.Set(float64(len(m.loaded)))
	m.mu.Unlock()

	m.dispose(rec)
	m.log.Info().Str("model", name).Msg("model unloaded")
}

// dispose frees the generator handle and tears down the provider
// connections. Both steps log-and-continue.
func (m *Manager) dispose(rec *LoadedModel) {
	if err := rec.Model.Dispose(); err != nil {
		m.log.Warn().Err(err).Str("model", rec.Name).Msg("model dispose failed")
	}
	rec.Tools.DisconnectAll()
}

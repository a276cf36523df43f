package manager

import (
	"llamagate/pkg/types"
)

// evictForLoad makes room for one more model: first the resident-count cap,
// then, when insights and a memory probe are available, free-memory pressure.
// Runs with the load semaphore held.
func (m *Manager) evictForLoad(cfg types.ModelConfig) {
	// Cap eviction: loading one more must not exceed MaxLoadedModels.
	for {
		m.mu.Lock()
		over := len(m.loaded)+1 > MaxLoadedModels
		m.mu.Unlock()
		if !over {
			break
		}
		if !m.evictOne() {
			// Everything resident is busy; proceed and let the load
			// surface whatever the runtime reports.
			return
		}
	}

	ins, ok := m.insights[cfg.Name]
	if !ok {
		return
	}
	needed := ins.ModelVRAMBytes() + ins.ContextVRAMBytes(cfg.ContextSize)
	for {
		free, err := m.runtime.FreeMemory()
		if err != nil {
			m.log.Debug().Err(err).Msg("memory probe unavailable, skipping memory eviction")
			return
		}
		var available uint64
		if free > MemoryReserveBytes {
			available = free - MemoryReserveBytes
		}
		if needed <= available {
			return
		}
		if !m.evictOne() {
			return
		}
	}
}

// evictOne removes the least recently used idle record. Returns false when
// every resident model has active contexts.
func (m *Manager) evictOne() bool {
	m.mu.Lock()
	var victim *LoadedModel
	for _, rec := range m.loaded {
		if rec.ActiveContexts > 0 {
			continue
		}
		if victim == nil || rec.LastUsed.Before(victim.LastUsed) {
			victim = rec
		}
	}
	if victim == nil {
		m.mu.Unlock()
		return false
	}
	delete(m.loaded, victim.Name)
	loadedModelsGauge.Set(float64(len(m.loaded)))
	m.mu.Unlock()

	m.dispose(victim)
	evictionsTotal.Inc()
	m.log.Info().Str("model", victim.Name).Msg("model evicted")
	return true
}

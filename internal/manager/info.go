package manager

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"llamagate/pkg/types"
)

// allowedSet turns an optional allow-list into a membership test. A nil list
// means no filtering.
func allowedSet(allowed []string) func(string) bool {
	if allowed == nil {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return func(name string) bool { return set[name] }
}

// AllModelInfo lists every configured model the allow-list permits.
func (m *Manager) AllModelInfo(allowed []string) []types.ModelSummary {
	permit := allowedSet(allowed)
	var out []types.ModelSummary
	for _, name := range m.Names() {
		if !permit(name) {
			continue
		}
		out = append(out, m.summary(m.configs[name], time.Time{}))
	}
	return out
}

// RunningModelInfo lists the resident models the allow-list permits.
func (m *Manager) RunningModelInfo(allowed []string) []types.ModelSummary {
	permit := allowedSet(allowed)

	m.mu.Lock()
	recs := make([]*LoadedModel, 0, len(m.loaded))
	for _, rec := range m.loaded {
		recs = append(recs, rec)
	}
	m.mu.Unlock()

	var out []types.ModelSummary
	for _, name := range m.Names() {
		for _, rec := range recs {
			if rec.Name == name && permit(name) {
				out = append(out, m.summary(rec.Config, rec.LoadedAt))
			}
		}
	}
	return out
}

// ModelDetails returns the show payload for one model.
func (m *Manager) ModelDetails(name string) (types.ShowResponse, bool) {
	cfg, ok := m.configs[name]
	if !ok {
		return types.ShowResponse{}, false
	}
	resp := types.ShowResponse{
		Name:    name,
		Details: detailsFor(cfg),
		System:  cfg.SystemPrompt,
	}
	m.mu.Lock()
	if rec, ok := m.loaded[name]; ok {
		resp.Tools = rec.ToolList
	}
	m.mu.Unlock()
	return resp, true
}

func (m *Manager) summary(cfg types.ModelConfig, loadedAt time.Time) types.ModelSummary {
	s := types.ModelSummary{
		Name:     cfg.Name,
		Model:    cfg.Name,
		LoadedAt: loadedAt,
		Details:  detailsFor(cfg),
	}
	if fi, err := os.Stat(cfg.Path); err == nil {
		s.Size = fi.Size()
		s.ModifiedAt = fi.ModTime()
	}
	return s
}

func detailsFor(cfg types.ModelConfig) types.ModelDetails {
	return types.ModelDetails{
		Format:      strings.TrimPrefix(filepath.Ext(cfg.Path), "."),
		Dialect:     string(cfg.Dialect),
		ContextSize: cfg.ContextSize,
	}
}

// Package generator abstracts the inference runtime that owns model handles
// and produces completion text. The real implementation wraps llama.cpp and
// is compiled behind the 'llama' build tag; the default build ships a stub
// that refuses to load models so metadata endpoints keep working.
package generator

import (
	"context"
	"os"
)

// Runtime owns model handles for the lifetime of the process.
type Runtime interface {
	// OpenModel loads the artifact at path and returns a handle.
	OpenModel(path string, opts ModelOptions) (Model, error)
	// FreeMemory reports free accelerator memory in bytes. Implementations
	// without a probe return an error; callers then skip memory-aware
	// eviction.
	FreeMemory() (uint64, error)
	// Close releases the runtime. No handles may be used afterwards.
	Close() error
}

// ModelOptions configure a model load.
type ModelOptions struct {
	// Layers to offload to the GPU; 0 keeps inference on the CPU.
	GPULayers int
	// Context window size in tokens.
	ContextSize int
}

// Model is one open model handle.
type Model interface {
	// NewContext creates a fresh inference context.
	NewContext(opts ContextOptions) (Context, error)
	// Dispose frees the handle.
	Dispose() error
}

// ContextOptions configure a per-request inference context.
type ContextOptions struct {
	ContextSize int
}

// Context is a per-request inference context.
type Context interface {
	// NewSession starts a chat session seeded with a system prompt.
	NewSession(systemPrompt string) Session
	// Dispose frees the context.
	Dispose() error
}

// Session is a chat session: an ordered transcript plus generation.
type Session interface {
	// AddUserMessage appends a user turn without generating a reply.
	AddUserMessage(text string)
	// Prompt appends a user turn and generates the assistant reply.
	Prompt(ctx context.Context, input string) (string, error)
}

// Insights are coarse memory estimates derived from file metadata, used by
// eviction decisions.
type Insights struct {
	// Artifact size on disk.
	SizeBytes int64
	// Total transformer layers, 0 when unknown.
	TotalLayers int
}

// Weight overhead and KV-cache estimates are deliberately coarse: they only
// need to be good enough to decide whether an eviction is worth trying.
const (
	weightOverheadNum   = 115
	weightOverheadDen   = 100
	kvCacheBytesPerTok  = 96 * 1024
	contextFixedOverMiB = 64
)

// ModelVRAMBytes estimates resident size of the weights.
func (i Insights) ModelVRAMBytes() uint64 {
	if i.SizeBytes <= 0 {
		return 0
	}
	return uint64(i.SizeBytes) * weightOverheadNum / weightOverheadDen
}

// ContextVRAMBytes estimates the memory one context of the given size needs.
func (i Insights) ContextVRAMBytes(contextSize int) uint64 {
	if contextSize <= 0 {
		return 0
	}
	return uint64(contextSize)*kvCacheBytesPerTok + contextFixedOverMiB*1024*1024
}

// ProbeInsights reads file metadata for a model artifact.
func ProbeInsights(path string) (Insights, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Insights{}, err
	}
	return Insights{SizeBytes: fi.Size()}, nil
}

// unavailableError signals a missing runtime dependency (e.g. a build
// without llama support).
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing runtime dependency.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}

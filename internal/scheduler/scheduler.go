// Package scheduler implements the fair-batching request queue. A single
// cooperative processor drains the queue, batching every pending request for
// the chosen model before moving on, preferring already-resident models so
// load/unload churn stays minimal.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llamagate/internal/manager"
)

// ModelProvider is the slice of the lifecycle manager the scheduler needs.
type ModelProvider interface {
	EnsureLoaded(ctx context.Context, name string) (*manager.LoadedModel, error)
	AcquireContext(name string)
	ReleaseContext(name string)
	IsLoaded(name string) bool
}

// WorkFunc is one request's work closure, executed by the processor with
// the model resident.
type WorkFunc func(ctx context.Context, rec *manager.LoadedModel, sink *Sink) error

// SubmitOptions shape one submission.
type SubmitOptions struct {
	// Streaming marks requests whose response streams.
	Streaming bool
	// Heartbeat enables queued-request keepalive frames (native streaming
	// dialect only).
	Heartbeat bool
}

// pending is one queued request.
type pending struct {
	model     string
	work      WorkFunc
	sink      *Sink
	streaming bool
	queuedAt  time.Time
	hb        *heartbeat

	resolveOnce sync.Once
	done        chan error
}

// resolve completes the request exactly once.
func (p *pending) resolve(err error) {
	p.resolveOnce.Do(func() { p.done <- err })
}

func (p *pending) stopHeartbeat() {
	if p.hb != nil {
		p.hb.Stop()
	}
}

// Scheduler owns the pending queue and the processor state.
type Scheduler struct {
	log    zerolog.Logger
	models ModelProvider

	mu         sync.Mutex
	queue      []*pending
	processing bool
}

// New builds a Scheduler over the lifecycle manager.
func New(models ModelProvider, log zerolog.Logger) *Scheduler {
	return &Scheduler{log: log, models: models}
}

// Submit queues a request and triggers the processor. The returned channel
// receives the work result exactly once: the closure's error, the load
// error, or nil when the request was pruned after a disconnect.
func (s *Scheduler) Submit(model string, work WorkFunc, sink *Sink, opts SubmitOptions) <-chan error {
	p := &pending{
		model:     model,
		work:      work,
		sink:      sink,
		streaming: opts.Streaming,
		queuedAt:  time.Now(),
		done:      make(chan error, 1),
	}

	s.mu.Lock()
	s.queue = append(s.queue, p)
	queueDepthGauge.Set(float64(len(s.queue)))
	if opts.Streaming && opts.Heartbeat && s.processing {
		// The request will wait behind the current batch; keep the client
		// warm until its turn comes.
		p.hb = startHeartbeat(model, sink, s.log)
	}
	if !s.processing {
		s.processing = true
		go s.process()
	}
	s.mu.Unlock()
	return p.done
}

// process drains the queue until empty. Only one process loop runs at a
// time, guarded by the processing flag.
func (s *Scheduler) process() {
	for {
		s.prune()

		model := s.pickNext()
		if model == "" {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.processing = false
				s.mu.Unlock()
				return
			}
			// New work arrived between prune and pick; go around again.
			s.mu.Unlock()
			continue
		}

		rec, err := s.models.EnsureLoaded(context.Background(), model)
		if err != nil {
			for _, p := range s.drain(model) {
				p.stopHeartbeat()
				p.resolve(err)
			}
			continue
		}

		// Keep draining this model so requests arriving mid-batch still
		// ride along instead of forcing a later reload.
		for {
			batch := s.drain(model)
			if len(batch) == 0 {
				break
			}
			for _, p := range batch {
				s.run(rec, p)
			}
		}
	}
}

// run executes one request with its context held, pairing acquire/release
// on every exit path including panics.
func (s *Scheduler) run(rec *manager.LoadedModel, p *pending) {
	p.stopHeartbeat()
	s.models.AcquireContext(p.model)
	err := func() (err error) {
		defer s.models.ReleaseContext(p.model)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("request work panicked: %v", r)
			}
		}()
		return p.work(context.Background(), rec, p.sink)
	}()
	if err != nil {
		s.log.Error().Err(err).Str("model", p.model).Msg("request failed")
	}
	p.resolve(err)
}

// prune drops requests whose client has disconnected before execution
// started. Pruned requests resolve silently; the HTTP layer already tore
// the connection down.
func (s *Scheduler) prune() {
	s.mu.Lock()
	var pruned []*pending
	kept := s.queue[:0]
	for _, p := range s.queue {
		if p.sink.Disconnected() {
			pruned = append(pruned, p)
			continue
		}
		kept = append(kept, p)
	}
	s.queue = kept
	queueDepthGauge.Set(float64(len(s.queue)))
	s.mu.Unlock()

	for _, p := range pruned {
		p.stopHeartbeat()
		p.resolve(nil)
	}
}

// pickNext applies the fair-batching policy: prefer models that are already
// resident, then the highest pending count, then the earliest arrival.
func (s *Scheduler) pickNext() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	type tally struct {
		count    int
		earliest time.Time
	}
	stats := make(map[string]*tally)
	for _, p := range s.queue {
		st, ok := stats[p.model]
		if !ok {
			stats[p.model] = &tally{count: 1, earliest: p.queuedAt}
			continue
		}
		st.count++
		if p.queuedAt.Before(st.earliest) {
			st.earliest = p.queuedAt
		}
	}

	better := func(a, b *tally) bool {
		if b == nil {
			return true
		}
		if a.count != b.count {
			return a.count > b.count
		}
		return a.earliest.Before(b.earliest)
	}

	var loadedName, unloadedName string
	var loadedBest, unloadedBest *tally
	for model, st := range stats {
		if s.models.IsLoaded(model) {
			if better(st, loadedBest) {
				loadedName, loadedBest = model, st
			}
		} else if better(st, unloadedBest) {
			unloadedName, unloadedBest = model, st
		}
	}
	if loadedName != "" {
		return loadedName
	}
	return unloadedName
}

// drain removes and returns every queued request for model, in order.
func (s *Scheduler) drain(model string) []*pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	var batch []*pending
	kept := s.queue[:0]
	for _, p := range s.queue {
		if p.model == model {
			batch = append(batch, p)
		} else {
			kept = append(kept, p)
		}
	}
	s.queue = kept
	queueDepthGauge.Set(float64(len(s.queue)))
	return batch
}

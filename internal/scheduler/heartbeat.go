package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llamagate/pkg/types"
)

// HeartbeatInterval is how often a queued native streaming request receives
// an empty assistant frame so the client keeps waiting.
const HeartbeatInterval = 3 * time.Second

// heartbeat keeps one queued streaming request alive. It writes the native
// stream headers immediately and an empty-content assistant frame on every
// tick. A failed write means the client is gone and stops the ticker.
type heartbeat struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func startHeartbeat(model string, sink *Sink, log zerolog.Logger) *heartbeat {
	hb := &heartbeat{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(hb.done)
		sink.SendStreamHeaders("application/x-ndjson")
		ticker := time.NewTicker(HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hb.stop:
				return
			case <-ticker.C:
				frame := types.ChatFrame{
					Model:     model,
					CreatedAt: time.Now().UTC(),
					Message:   types.ChatMessage{Role: "assistant", Content: ""},
					Done:      false,
				}
				if err := sink.WriteJSONLine(frame); err != nil {
					log.Debug().Err(err).Str("model", model).Msg("heartbeat write failed, client gone")
					return
				}
				heartbeatFramesTotal.Inc()
			}
		}
	}()
	return hb
}

// Stop halts the ticker and waits for the heartbeat goroutine to exit, so
// no heartbeat write can interleave with the work closure's output.
func (h *heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

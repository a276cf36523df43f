package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"llamagate/internal/auth"
	"llamagate/internal/chat"
	"llamagate/internal/manager"
	"llamagate/internal/scheduler"
	"llamagate/pkg/types"
)

// authDecision applies per-endpoint auth and writes the rejection if any.
// Returns false when the request has been answered.
func (s *Server) authDecision(w http.ResponseWriter, r *http.Request) (auth.Decision, bool) {
	d := s.filter.Authenticate(r)
	if d.Reject != nil {
		writeError(w, d.Reject.Status, d.Reject.Message)
		return auth.Decision{}, false
	}
	return d, true
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authDecision(w, r)
	if !ok {
		return
	}
	list := s.models.AllModelInfo(d.Allowed)
	if list == nil {
		list = []types.ModelSummary{}
	}
	writeJSON(w, http.StatusOK, types.TagsResponse{Models: list})
}

func (s *Server) handlePs(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authDecision(w, r)
	if !ok {
		return
	}
	list := s.models.RunningModelInfo(d.Allowed)
	if list == nil {
		list = []types.ModelSummary{}
	}
	writeJSON(w, http.StatusOK, types.TagsResponse{Models: list})
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authDecision(w, r)
	if !ok {
		return
	}
	var body struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := body.Name
	if name == "" {
		name = body.Model
	}
	details, found := s.models.ModelDetails(name)
	if !found {
		writeError(w, http.StatusNotFound, "model '"+name+"' not found")
		return
	}
	if !d.Permits(name) {
		writeError(w, http.StatusForbidden, "access to model '"+name+"' is not allowed")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authDecision(w, r)
	if !ok {
		return
	}
	var req types.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	stream := req.Stream == nil || *req.Stream
	s.execute(w, r, d, executeParams{
		model:     req.Model,
		messages:  req.Messages,
		tools:     req.Tools,
		stream:    stream,
		heartbeat: stream,
		wire:      chat.WireNative,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authDecision(w, r)
	if !ok {
		return
	}
	var req types.GenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	stream := req.Stream == nil || *req.Stream
	s.execute(w, r, d, executeParams{
		model:     req.Model,
		messages:  []types.Message{{Role: "user", Content: req.Prompt}},
		stream:    stream,
		heartbeat: stream,
		wire:      chat.WireNative,
	})
}

func (s *Server) handleOpenAIChat(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authDecision(w, r)
	if !ok {
		return
	}
	var req types.OpenAIChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.execute(w, r, d, executeParams{
		model:      req.Model,
		messages:   req.Messages,
		tools:      req.Tools,
		stream:     req.Stream,
		openStream: req.Stream,
		wire:       chat.WireOpenAI,
	})
}

func (s *Server) handleOpenAIModels(w http.ResponseWriter, r *http.Request) {
	d, ok := s.authDecision(w, r)
	if !ok {
		return
	}
	list := types.OpenAIModelList{Object: "list", Data: []types.OpenAIModel{}}
	for _, name := range s.models.Names() {
		if !d.Permits(name) {
			continue
		}
		list.Data = append(list.Data, types.OpenAIModel{
			ID:      name,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "library",
		})
	}
	writeJSON(w, http.StatusOK, list)
}

// executeParams shape one chat execution.
type executeParams struct {
	model    string
	messages []types.Message
	tools    []any
	stream   bool
	// heartbeat keeps queued native streaming clients warm.
	heartbeat bool
	// openStream writes SSE headers before scheduling (OpenAI dialect).
	openStream bool
	wire       chat.Wire
}

// execute validates the model, submits the work closure and waits for the
// scheduler to resolve it. Error paths that already streamed headers end
// silently.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, d auth.Decision, p executeParams) {
	if p.model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if !s.models.Has(p.model) {
		writeError(w, http.StatusNotFound, "model '"+p.model+"' not found")
		return
	}
	if !d.Permits(p.model) {
		writeError(w, http.StatusForbidden, "access to model '"+p.model+"' is not allowed")
		return
	}

	sink := scheduler.NewSink(w, r)
	if p.openStream {
		sink.SendStreamHeaders("text/event-stream")
	}

	work := func(ctx context.Context, rec *manager.LoadedModel, sink *scheduler.Sink) error {
		return chat.Run(ctx, s.log, chat.Params{
			ModelName:    rec.Name,
			Model:        rec.Model,
			Codec:        rec.Codec,
			Tools:        rec.Tools,
			ToolList:     rec.ToolList,
			ToolOverride: p.tools,
			SystemPrompt: rec.Config.SystemPrompt,
			ContextSize:  rec.Config.ContextSize,
			Messages:     p.messages,
			Stream:       p.stream,
			Wire:         p.wire,
		}, sink)
	}

	done := s.sched.Submit(p.model, work, sink, scheduler.SubmitOptions{
		Streaming: p.stream,
		Heartbeat: p.heartbeat,
	})
	if err := <-done; err != nil {
		if sink.HeadersSent() {
			// The stream is already underway; nothing sane can be written.
			s.log.Debug().Err(err).Str("model", p.model).Msg("request failed mid-stream")
			return
		}
		writeError(w, statusFor(err), err.Error())
	}
}

// decodeBody reads a JSON body with the standard size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

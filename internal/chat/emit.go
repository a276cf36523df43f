package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"llamagate/internal/scheduler"
	"llamagate/pkg/types"
)

// emit writes the final response in the request's wire dialect.
func emit(p Params, sink *scheduler.Sink, final string, records []types.ToolCallRecord) error {
	switch p.Wire {
	case WireOpenAI:
		if p.Stream {
			return emitOpenAIStream(p, sink, final)
		}
		return emitOpenAIFull(p, sink, final, records)
	default:
		if p.Stream {
			return emitNativeStream(p, sink, final)
		}
		return emitNativeFull(p, sink, final, records)
	}
}

// splitWords breaks the final text into streamable chunks, every word
// keeping a trailing space except the last.
func splitWords(text string) []string {
	words := strings.Fields(text)
	for i := 0; i < len(words)-1; i++ {
		words[i] += " "
	}
	return words
}

func emitNativeStream(p Params, sink *scheduler.Sink, final string) error {
	sink.SendStreamHeaders("application/x-ndjson")
	now := time.Now().UTC()
	for _, word := range splitWords(final) {
		frame := types.ChatFrame{
			Model:     p.ModelName,
			CreatedAt: now,
			Message:   types.ChatMessage{Role: "assistant", Content: word},
		}
		if err := sink.WriteJSONLine(frame); err != nil {
			return err
		}
	}
	done := types.ChatDoneFrame{
		ChatFrame: types.ChatFrame{
			Model:     p.ModelName,
			CreatedAt: now,
			Message:   types.ChatMessage{Role: "assistant", Content: ""},
			Done:      true,
		},
		DoneReason: "stop",
	}
	return sink.WriteJSONLine(done)
}

func emitNativeFull(p Params, sink *scheduler.Sink, final string, records []types.ToolCallRecord) error {
	resp := types.ChatDoneFrame{
		ChatFrame: types.ChatFrame{
			Model:     p.ModelName,
			CreatedAt: time.Now().UTC(),
			Message: types.ChatMessage{
				Role:      "assistant",
				Content:   final,
				ToolCalls: records,
			},
			Done: true,
		},
		DoneReason: "stop",
	}
	return sink.WriteJSON(200, resp)
}

func emitOpenAIStream(p Params, sink *scheduler.Sink, final string) error {
	sink.SendStreamHeaders("text/event-stream")
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	chunk := func(delta *types.OpenAIDelta, finish *string) types.OpenAICompletion {
		return types.OpenAICompletion{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   p.ModelName,
			Choices: []types.OpenAIChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
	}

	if err := sink.WriteSSE(chunk(&types.OpenAIDelta{Role: "assistant"}, nil)); err != nil {
		return err
	}
	for _, word := range splitWords(final) {
		if err := sink.WriteSSE(chunk(&types.OpenAIDelta{Content: word}, nil)); err != nil {
			return err
		}
	}
	stop := "stop"
	if err := sink.WriteSSE(chunk(&types.OpenAIDelta{}, &stop)); err != nil {
		return err
	}
	return sink.WriteSSEDone()
}

func emitOpenAIFull(p Params, sink *scheduler.Sink, final string, records []types.ToolCallRecord) error {
	stop := "stop"
	resp := types.OpenAICompletion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   p.ModelName,
		Choices: []types.OpenAIChoice{{
			Index: 0,
			Message: &types.OpenAIMessage{
				Role:      "assistant",
				Content:   final,
				ToolCalls: records,
			},
			FinishReason: &stop,
		}},
		Usage: &types.OpenAIUsage{},
	}
	return sink.WriteJSON(200, resp)
}

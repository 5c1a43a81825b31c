package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nodeforge/modelgate/internal/chatmodel"
	"github.com/nodeforge/modelgate/internal/task"
)

func decodeMessage(r *http.Request) (task.Message, error) {
	var message task.Message
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&message); err != nil {
		return task.Message{}, fmt.Errorf("decode message body: %w", err)
	}
	return message, nil
}

// handleChatCompletion is POST /chat/completion: a synchronous
// completion routed directly through the ModelRegistry, bypassing the
// task queue entirely.
func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	message, err := decodeMessage(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	model, err := s.registry.Route(message)
	if err != nil {
		writeErr(w, err)
		return
	}

	completion, err := model.Complete(r.Context(), message, "")
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, completion)
}

// handleChatStream is POST /chat/stream: a text/plain chunked stream
// of content deltas, flushed after every chunk. Reasoning deltas are
// not relayed here: only final-answer content crosses this boundary.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	message, err := decodeMessage(r)
	if err != nil {
		writeRawError(w, err)
		return
	}

	model, err := s.registry.Route(message)
	if err != nil {
		writeRawError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRawError(w, fmt.Errorf("streaming not supported by this response writer"))
		return
	}

	chunks, errCh := model.Stream(r.Context(), message, "")

	// Wait for the stream to open before committing the status line: a
	// provider that fails up front (unreachable, rejected auth, unknown
	// model) still gets a 500 with the error text instead of a 200
	// with an empty body.
	first, ok := <-chunks
	if !ok {
		if err := <-errCh; err != nil {
			writeRawError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	writeChunk := func(chunk chatmodel.StreamChunk) bool {
		if chunk.Content == "" {
			return true
		}
		if _, err := w.Write([]byte(chunk.Content)); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if ok {
		if !writeChunk(first) {
			return
		}
		for chunk := range chunks {
			if !writeChunk(chunk) {
				return
			}
		}
	}
	if err := <-errCh; err != nil {
		s.log.ErrorContext(r.Context(), "chat stream failed mid-response", map[string]interface{}{"error": err.Error()})
	}
}

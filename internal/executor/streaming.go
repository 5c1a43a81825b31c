package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/nodeforge/modelgate/internal/chatmodel"
	"github.com/nodeforge/modelgate/internal/task"
)

// executeStreaming drives model.Stream and encodes the completion as
// chunks arrive, rather than collecting the plain-text response first.
// It writes a stub Task JSON with status Finished and an empty
// completion, truncates the trailing close-brace, and splices the
// streamed reasoning/content text into the right JSON keys as it goes,
// zstd-compressing the whole thing in one pass into an in-memory
// buffer. The compressed record is written to the task store once,
// after the stream ends; readers see no partial output before then.
// On any failure the partial output is discarded and the caller
// persists a Failed task instead.
//
// The embedded-fragment approach only produces valid JSON because
// reasoning and content text is assumed not to contain characters that
// need escaping (quote, backslash, control characters). A provider whose
// output violates this would corrupt the stored record; routing each
// chunk through a JSON string encoder would fix that at the cost of
// buffering per-chunk state, which is the tradeoff this function
// deliberately avoids.
func (e *Executor) executeStreaming(ctx context.Context, t *task.Task, model chatmodel.ChatModel, modelOverride string) error {
	finished := *t
	finished.Status = task.StatusFinished
	finish := task.Now()
	finished.FinishTime = &finish
	finished.Completion = nil

	stub, err := json.Marshal(&finished)
	if err != nil {
		return fmt.Errorf("marshal stub task: %w", err)
	}
	stub = bytes.TrimSuffix(stub, []byte("}"))

	var out bytes.Buffer
	enc, err := zstd.NewWriter(&out)
	if err != nil {
		return fmt.Errorf("build zstd encoder: %w", err)
	}

	write := func(p []byte) error {
		_, writeErr := enc.Write(p)
		return writeErr
	}

	if err := write(stub); err != nil {
		enc.Close()
		return err
	}
	if err := write([]byte(`,"completion":{"reasoning_content":"`)); err != nil {
		enc.Close()
		return err
	}

	chunks, errCh := model.Stream(ctx, t.Message, modelOverride)

	contentStarted := false
	var usage *task.TokenUsage
	var writeErr error
	for chunk := range chunks {
		if writeErr != nil {
			continue
		}
		if chunk.Reasoning != "" {
			writeErr = write([]byte(chunk.Reasoning))
		}
		if writeErr == nil && chunk.Content != "" {
			if !contentStarted {
				if writeErr = write([]byte(`","content":"`)); writeErr == nil {
					contentStarted = true
				}
			}
			if writeErr == nil {
				writeErr = write([]byte(chunk.Content))
			}
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	streamErr := <-errCh
	if writeErr != nil {
		enc.Close()
		return writeErr
	}
	if streamErr != nil {
		enc.Close()
		return fmt.Errorf("stream completion: %w", streamErr)
	}

	if !contentStarted {
		if err := write([]byte(`","content":"`)); err != nil {
			enc.Close()
			return err
		}
	}

	usageJSON := []byte("null")
	if usage != nil {
		if b, err := json.Marshal(usage); err == nil {
			usageJSON = b
		}
	}
	if err := write([]byte(`","usage":`)); err != nil {
		enc.Close()
		return err
	}
	if err := write(usageJSON); err != nil {
		enc.Close()
		return err
	}
	if err := write([]byte("}}")); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize zstd stream: %w", err)
	}

	if err := e.store.SetRaw(ctx, t.ID, out.Bytes()); err != nil {
		return fmt.Errorf("persist streamed completion: %w", err)
	}
	return nil
}

package chatmodel

import (
	"context"
	"fmt"

	"github.com/nodeforge/modelgate/internal/task"
)

// Mock is a deterministic ChatModel used by tests, and wirable as a
// local fallback when no real provider is configured.
type Mock struct {
	// Reply, when set, is returned verbatim regardless of the request.
	Reply *task.Completion
	// Err, when set, is returned instead of Reply.
	Err error
	// Calls records every modelOverride this mock was invoked with.
	Calls []string
}

var _ ChatModel = (*Mock)(nil)

func (m *Mock) Complete(_ context.Context, message task.Message, modelOverride string) (task.Completion, error) {
	m.Calls = append(m.Calls, modelOverride)
	if m.Err != nil {
		return task.Completion{}, m.Err
	}
	if m.Reply != nil {
		return *m.Reply, nil
	}
	return task.Completion{
		Content: fmt.Sprintf("echo: %s", message.Text),
		Usage:   task.TokenUsage{PromptTokens: len(message.Text), TotalTokens: len(message.Text)},
	}, nil
}

func (m *Mock) Stream(ctx context.Context, message task.Message, modelOverride string) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk, 2)
	errCh := make(chan error, 1)

	completion, err := m.Complete(ctx, message, modelOverride)
	if err != nil {
		errCh <- err
		close(chunks)
		close(errCh)
		return chunks, errCh
	}

	if completion.ReasoningContent != "" {
		chunks <- StreamChunk{Reasoning: completion.ReasoningContent}
	}
	usage := completion.Usage
	chunks <- StreamChunk{Content: completion.Content, Usage: &usage}
	close(chunks)
	close(errCh)
	return chunks, errCh
}

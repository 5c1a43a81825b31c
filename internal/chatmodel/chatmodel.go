// Package chatmodel defines the pluggable model contract the executor
// invokes, and the Message -> wire-prompt flattening that sits at the
// boundary between internal/task's domain type and a provider's HTTP
// shape.
package chatmodel

import (
	"context"

	"github.com/nodeforge/modelgate/internal/task"
)

// ChatModel is the pluggable inference capability the executor drives.
// A modelOverride, when non-empty, asks the implementation to use that
// model name for this call only instead of its configured default.
type ChatModel interface {
	Complete(ctx context.Context, message task.Message, modelOverride string) (task.Completion, error)
	// Stream delivers deltas on the returned channel as they arrive,
	// closing it when the response completes; a single error, if any,
	// is sent on errCh before it closes. Both channels are closed by
	// the implementation; callers must drain content until closed to
	// avoid a goroutine leak. Reasoning and content deltas are kept
	// distinct so a caller splicing them into separate JSON fields
	// (internal/executor's streaming persistence) doesn't have to
	// guess which one it received.
	Stream(ctx context.Context, message task.Message, modelOverride string) (chunks <-chan StreamChunk, errCh <-chan error)
}

// StreamChunk is one delta from a streaming completion. At most one
// of Reasoning or Content is non-empty; a chunk carrying only Usage is
// the stream's final token accounting.
type StreamChunk struct {
	Reasoning string
	Content   string
	// Usage is set on the final chunk only, once the provider reports
	// token accounting for the whole response.
	Usage *task.TokenUsage
}

// ContentPart is one element of a multimodal ChatMessage's content
// array, mirroring OpenAI's content-part shape.
type ContentPart struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *ContentURL `json:"image_url,omitempty"`
	VideoURL *ContentURL `json:"video_url,omitempty"`
}

// ContentURL wraps a media URL the way OpenAI's image_url/video_url
// parts do ({"url": "..."}).
type ContentURL struct {
	URL string `json:"url"`
}

// ChatMessage is the wire-level message shape sent to a provider.
// Content is either a plain string (text-only) or a []ContentPart
// (multimodal), matching the OpenAI chat-completions request body.
type ChatMessage struct {
	Role    task.Role   `json:"role"`
	Content interface{} `json:"content"`
}

// ToPrompt flattens a task.Message into the provider-facing message
// list: context messages first, in order, then the message itself.
func ToPrompt(message task.Message) []ChatMessage {
	prompt := make([]ChatMessage, 0, len(message.Context)+1)
	for _, ctxMessage := range message.Context {
		prompt = append(prompt, toChatMessage(ctxMessage))
	}
	prompt = append(prompt, toChatMessage(message))
	return prompt
}

func toChatMessage(message task.Message) ChatMessage {
	if message.OnlyText() {
		return ChatMessage{Role: message.EffectiveRole(), Content: message.Text}
	}

	parts := make([]ContentPart, 0, 1+len(message.Images)+len(message.Videos))
	if message.Text != "" {
		parts = append(parts, ContentPart{Type: "text", Text: message.Text})
	}
	for _, imageURL := range message.Images {
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ContentURL{URL: imageURL}})
	}
	for _, video := range message.Videos {
		if video.Images != nil {
			for _, frame := range video.Images {
				parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ContentURL{URL: frame}})
			}
			continue
		}
		parts = append(parts, ContentPart{Type: "video_url", VideoURL: &ContentURL{URL: video.URL}})
	}

	return ChatMessage{Role: message.EffectiveRole(), Content: parts}
}

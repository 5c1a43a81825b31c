// Package task holds the wire-level data model shared by the executor,
// the task store, and the HTTP API: Message, Video, Task, Status, and
// Completion.
package task

import (
	"encoding/json"
	"fmt"
)

// Role names the author of a Message; only the values the gateway
// actually produces are modeled.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Video is either a single playable URL or an ordered list of
// frame-image URLs. On the wire it is untagged (a bare JSON string or
// a bare JSON array), so Video marshals/unmarshals by inspecting the
// JSON token instead of wrapping values in a discriminant field.
type Video struct {
	URL    string   // set when this Video is a single playable URL
	Images []string // set when this Video is an ordered list of frames
}

// VideoURL constructs a single-URL Video.
func VideoURL(url string) Video { return Video{URL: url} }

// VideoFrames constructs a frame-list Video.
func VideoFrames(images []string) Video { return Video{Images: images} }

func (v Video) MarshalJSON() ([]byte, error) {
	if v.Images != nil {
		return json.Marshal(v.Images)
	}
	return json.Marshal(v.URL)
}

func (v *Video) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		v.URL = asString
		v.Images = nil
		return nil
	}

	var asList []string
	if err := json.Unmarshal(data, &asList); err == nil {
		v.Images = asList
		v.URL = ""
		return nil
	}

	return fmt.Errorf("video must be a URL string or an array of frame URLs")
}

// Message is the user-submitted request.
type Message struct {
	Role    Role      `json:"role,omitempty"`
	Text    string    `json:"text,omitempty"`
	Images  []string  `json:"images,omitempty"`
	Videos  []Video   `json:"videos,omitempty"`
	Context []Message `json:"context,omitempty"`
}

// OnlyText reports whether the message carries no image or video
// media, the signal model routing dispatches on.
func (m Message) OnlyText() bool {
	return len(m.Images) == 0 && len(m.Videos) == 0
}

// EffectiveRole returns m.Role, defaulting to "user" when unset.
func (m Message) EffectiveRole() Role {
	if m.Role == "" {
		return RoleUser
	}
	return m.Role
}

// TokenUsage reports model token accounting.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the model's response, present only on a Finished task.
type Completion struct {
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	Content          string     `json:"content"`
	Usage            TokenUsage `json:"usage"`
}

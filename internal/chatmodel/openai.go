package chatmodel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nodeforge/modelgate/internal/logger"
	"github.com/nodeforge/modelgate/internal/resilience"
	"github.com/nodeforge/modelgate/internal/task"
)

// OpenAIClient is an OpenAI-compatible chat-completions client, the
// concrete ChatModel the gateway wires up for both the "text" and
// "multimodal" model roles.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	log        logger.Logger
}

// NewOpenAIClient builds a client bound to a single default model and
// base URL (one per configured role).
func NewOpenAIClient(baseURL, apiKey, model string, log logger.Logger) *OpenAIClient {
	if log == nil {
		log = logger.Noop
	}
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 180 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		log:        log.With(map[string]interface{}{"component": "chatmodel.openai"}),
	}
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatCompletionChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) effectiveModel(modelOverride string) string {
	if modelOverride != "" {
		return modelOverride
	}
	return c.model
}

func (c *OpenAIClient) newRequest(ctx context.Context, body chatCompletionRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// Complete sends a non-streaming chat-completions request and adapts
// the response into a task.Completion.
func (c *OpenAIClient) Complete(ctx context.Context, message task.Message, modelOverride string) (task.Completion, error) {
	reqBody := chatCompletionRequest{
		Model:    c.effectiveModel(modelOverride),
		Messages: ToPrompt(message),
	}

	var result chatCompletionResponse
	err := resilience.Do(ctx, 3, resilience.LinearSeconds, func() error {
		req, err := c.newRequest(ctx, reqBody)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("send chat completion request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read chat completion response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			c.log.ErrorContext(ctx, "chat completion request failed", map[string]interface{}{
				"status_code": resp.StatusCode,
				"body":        truncate(string(body), 500),
			})
			return fmt.Errorf("chat completion provider returned status %d", resp.StatusCode)
		}

		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("parse chat completion response: %w", err)
		}
		return nil
	})
	if err != nil {
		return task.Completion{}, err
	}

	if len(result.Choices) == 0 {
		return task.Completion{}, fmt.Errorf("chat completion provider returned no choices")
	}

	choice := result.Choices[0]
	return task.Completion{
		ReasoningContent: choice.Message.ReasoningContent,
		Content:          choice.Message.Content,
		Usage: task.TokenUsage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}, nil
}

// Stream sends a streaming chat-completions request and forwards the
// deltas parsed out of the provider's Server-Sent-Events framing.
func (c *OpenAIClient) Stream(ctx context.Context, message task.Message, modelOverride string) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errCh)

		reqBody := chatCompletionRequest{
			Model:    c.effectiveModel(modelOverride),
			Messages: ToPrompt(message),
			Stream:   true,
		}
		req, err := c.newRequest(ctx, reqBody)
		if err != nil {
			errCh <- err
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errCh <- fmt.Errorf("send streaming chat completion request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			c.log.ErrorContext(ctx, "streaming chat completion request failed", map[string]interface{}{
				"status_code": resp.StatusCode,
				"body":        truncate(string(body), 500),
			})
			errCh <- fmt.Errorf("chat completion provider returned status %d", resp.StatusCode)
			return
		}

		reader := bufio.NewReader(resp.Body)
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return
				}
				errCh <- fmt.Errorf("read stream: %w", err)
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if line == "data: [DONE]" {
				return
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				continue
			}

			var usage *task.TokenUsage
			if chunk.Usage != nil {
				usage = &task.TokenUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}

			if len(chunk.Choices) == 0 && usage != nil {
				// Providers that report usage do so in a final chunk
				// with an empty choices array.
				select {
				case chunks <- StreamChunk{Usage: usage}:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
				continue
			}

			for _, choice := range chunk.Choices {
				out := StreamChunk{Content: choice.Delta.Content, Reasoning: choice.Delta.ReasoningContent, Usage: usage}
				if out.Content == "" && out.Reasoning == "" && out.Usage == nil {
					continue
				}
				select {
				case chunks <- out:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
	}()

	return chunks, errCh
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

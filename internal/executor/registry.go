package executor

import (
	"fmt"

	"github.com/nodeforge/modelgate/internal/chatmodel"
	"github.com/nodeforge/modelgate/internal/config"
	"github.com/nodeforge/modelgate/internal/logger"
	"github.com/nodeforge/modelgate/internal/task"
)

// Model roles the registry routes between.
const (
	RoleText       = "text"
	RoleMultimodal = "multimodal"
)

// ModelRegistry holds the constructed ChatModel instances the executor
// routes to, keyed by role. Built once at startup, then shared by
// reference across every worker goroutine.
type ModelRegistry struct {
	models map[string]chatmodel.ChatModel
}

// NewModelRegistry builds a registry from already-constructed models,
// keyed by role ("text", "multimodal", ...).
func NewModelRegistry(models map[string]chatmodel.ChatModel) *ModelRegistry {
	return &ModelRegistry{models: models}
}

// NewModelRegistryFromConfig builds a registry of OpenAIClient
// instances from Config.Models, rejecting any role without a base URL.
// It does not itself check for the "text" and "multimodal" roles;
// Config.Validate enforces those.
func NewModelRegistryFromConfig(cfg map[string]config.ModelConfig, log logger.Logger) (*ModelRegistry, error) {
	models := make(map[string]chatmodel.ChatModel, len(cfg))
	for role, modelCfg := range cfg {
		if modelCfg.BaseURL == "" {
			return nil, fmt.Errorf("model role %q missing base_url", role)
		}
		models[role] = chatmodel.NewOpenAIClient(modelCfg.BaseURL, modelCfg.APIKey, modelCfg.Model, log)
	}
	return NewModelRegistry(models), nil
}

// Route returns the multimodal model iff the message carries images
// or videos, else the text model.
func (r *ModelRegistry) Route(message task.Message) (chatmodel.ChatModel, error) {
	role := RoleText
	if !message.OnlyText() {
		role = RoleMultimodal
	}
	model, ok := r.models[role]
	if !ok {
		return nil, fmt.Errorf("no model configured for role %q", role)
	}
	return model, nil
}

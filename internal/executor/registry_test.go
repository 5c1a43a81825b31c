package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/modelgate/internal/chatmodel"
	"github.com/nodeforge/modelgate/internal/config"
	"github.com/nodeforge/modelgate/internal/task"
)

func TestRouteSendsTextOnlyMessageToTextModel(t *testing.T) {
	textModel := &chatmodel.Mock{}
	multimodalModel := &chatmodel.Mock{}
	registry := NewModelRegistry(map[string]chatmodel.ChatModel{
		RoleText:       textModel,
		RoleMultimodal: multimodalModel,
	})

	model, err := registry.Route(task.Message{Text: "hello"})
	require.NoError(t, err)
	assert.Same(t, textModel, model)
}

func TestRouteSendsMediaMessageToMultimodalModel(t *testing.T) {
	textModel := &chatmodel.Mock{}
	multimodalModel := &chatmodel.Mock{}
	registry := NewModelRegistry(map[string]chatmodel.ChatModel{
		RoleText:       textModel,
		RoleMultimodal: multimodalModel,
	})

	model, err := registry.Route(task.Message{Text: "describe", Images: []string{"a.png"}})
	require.NoError(t, err)
	assert.Same(t, multimodalModel, model)

	model, err = registry.Route(task.Message{Videos: []task.Video{task.VideoURL("clip.mp4")}})
	require.NoError(t, err)
	assert.Same(t, multimodalModel, model)
}

func TestRouteErrorsWhenRoleUnconfigured(t *testing.T) {
	registry := NewModelRegistry(map[string]chatmodel.ChatModel{RoleText: &chatmodel.Mock{}})
	_, err := registry.Route(task.Message{Images: []string{"a.png"}})
	assert.Error(t, err)
}

func TestNewModelRegistryFromConfigRejectsMissingBaseURL(t *testing.T) {
	_, err := NewModelRegistryFromConfig(map[string]config.ModelConfig{
		"text": {Model: "gpt-test"},
	}, nil)
	assert.Error(t, err)
}

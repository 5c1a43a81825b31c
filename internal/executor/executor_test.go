package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/modelgate/internal/chatmodel"
	"github.com/nodeforge/modelgate/internal/config"
	"github.com/nodeforge/modelgate/internal/task"
	"github.com/nodeforge/modelgate/internal/taskstore"
)

func newTestStoreAndExecutor(t *testing.T, models map[string]chatmodel.ChatModel, cfg config.ExecutorConfig) (*taskstore.Store, *Executor) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := taskstore.New(fmt.Sprintf("redis://%s/0", mr.Addr()), "modelgate-test", time.Hour, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := NewModelRegistry(models)
	return store, New(store, registry, cfg, nil)
}

func waitForTerminal(t *testing.T, store *taskstore.Store, id string, timeout time.Duration) *task.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		loaded, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		if loaded != nil && loaded.Terminal() {
			return loaded
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state within %s", id, timeout)
	return nil
}

func TestSubmitPersistsPendingTaskWithoutSpawningWorker(t *testing.T) {
	store, exec := newTestStoreAndExecutor(t, map[string]chatmodel.ChatModel{
		RoleText:       &chatmodel.Mock{},
		RoleMultimodal: &chatmodel.Mock{},
	}, config.ExecutorConfig{NumWorkers: 0, Lifetime: 50 * time.Millisecond, Expiration: time.Hour})

	submitted, err := exec.Submit(context.Background(), task.Message{Text: "hi"}, "")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, submitted.Status)

	loaded, err := store.Get(context.Background(), submitted.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, task.StatusPending, loaded.Status)
}

func TestWorkerProcessesQueuedTaskToFinished(t *testing.T) {
	mock := &chatmodel.Mock{Reply: &task.Completion{Content: "a gateway", Usage: task.TokenUsage{TotalTokens: 3}}}
	store, exec := newTestStoreAndExecutor(t, map[string]chatmodel.ChatModel{
		RoleText:       mock,
		RoleMultimodal: mock,
	}, config.ExecutorConfig{NumWorkers: 2, Lifetime: 100 * time.Millisecond, Expiration: time.Hour})

	submitted, err := exec.Submit(context.Background(), task.Message{Text: "who are you"}, "")
	require.NoError(t, err)

	finished := waitForTerminal(t, store, submitted.ID, 2*time.Second)
	assert.Equal(t, task.StatusFinished, finished.Status)
	require.NotNil(t, finished.Completion)
	assert.Equal(t, "a gateway", finished.Completion.Content)
	assert.Equal(t, 3, finished.Completion.Usage.TotalTokens)
	require.NotNil(t, finished.FinishTime)
}

func TestStreamedReasoningContentIsPersisted(t *testing.T) {
	mock := &chatmodel.Mock{Reply: &task.Completion{ReasoningContent: "thinking it over", Content: "the answer"}}
	store, exec := newTestStoreAndExecutor(t, map[string]chatmodel.ChatModel{
		RoleText:       mock,
		RoleMultimodal: mock,
	}, config.ExecutorConfig{NumWorkers: 1, Lifetime: 100 * time.Millisecond, Expiration: time.Hour})

	submitted, err := exec.Submit(context.Background(), task.Message{Text: "hi"}, "")
	require.NoError(t, err)

	finished := waitForTerminal(t, store, submitted.ID, 2*time.Second)
	require.NotNil(t, finished.Completion)
	assert.Equal(t, "thinking it over", finished.Completion.ReasoningContent)
	assert.Equal(t, "the answer", finished.Completion.Content)
}

func TestWorkerMarksTaskFailedOnModelError(t *testing.T) {
	mock := &chatmodel.Mock{Err: fmt.Errorf("model unavailable")}
	store, exec := newTestStoreAndExecutor(t, map[string]chatmodel.ChatModel{
		RoleText:       mock,
		RoleMultimodal: mock,
	}, config.ExecutorConfig{NumWorkers: 1, Lifetime: 100 * time.Millisecond, Expiration: time.Hour})

	submitted, err := exec.Submit(context.Background(), task.Message{Text: "hi"}, "")
	require.NoError(t, err)

	finished := waitForTerminal(t, store, submitted.ID, 2*time.Second)
	assert.Equal(t, task.StatusFailed, finished.Status)
	assert.Contains(t, finished.ErrMsg, "model unavailable")
}

func TestPerRequestModelOverrideReachesChatModel(t *testing.T) {
	mock := &chatmodel.Mock{}
	store, exec := newTestStoreAndExecutor(t, map[string]chatmodel.ChatModel{
		RoleText:       mock,
		RoleMultimodal: mock,
	}, config.ExecutorConfig{NumWorkers: 1, Lifetime: 100 * time.Millisecond, Expiration: time.Hour})

	submitted, err := exec.Submit(context.Background(), task.Message{Text: "hi"}, "gpt-override")
	require.NoError(t, err)

	waitForTerminal(t, store, submitted.ID, 2*time.Second)
	assert.Contains(t, mock.Calls, "gpt-override")
}

func TestResultErrorsWhenTaskNeverExisted(t *testing.T) {
	_, exec := newTestStoreAndExecutor(t, map[string]chatmodel.ChatModel{
		RoleText:       &chatmodel.Mock{},
		RoleMultimodal: &chatmodel.Mock{},
	}, config.ExecutorConfig{NumWorkers: 1, Lifetime: time.Second, Expiration: time.Hour})

	_, err := exec.Result(context.Background(), "does-not-exist", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Equal(t, "Task 'does-not-exist' not existed", err.Error())
}

// slowModel blocks inside Stream long enough that worker overlap is
// observable, recording the highest number of concurrent invocations.
type slowModel struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (m *slowModel) enter() {
	m.mu.Lock()
	m.active++
	if m.active > m.maxSeen {
		m.maxSeen = m.active
	}
	m.mu.Unlock()
}

func (m *slowModel) leave() {
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

func (m *slowModel) Complete(context.Context, task.Message, string) (task.Completion, error) {
	return task.Completion{Content: "done"}, nil
}

func (m *slowModel) Stream(context.Context, task.Message, string) (<-chan chatmodel.StreamChunk, <-chan error) {
	chunks := make(chan chatmodel.StreamChunk, 1)
	errCh := make(chan error, 1)
	go func() {
		m.enter()
		time.Sleep(20 * time.Millisecond)
		chunks <- chatmodel.StreamChunk{Content: "done"}
		m.leave()
		close(chunks)
		close(errCh)
	}()
	return chunks, errCh
}

func TestWorkerPoolBoundsConcurrentExecutions(t *testing.T) {
	const numWorkers = 4
	const numTasks = 20

	model := &slowModel{}
	store, exec := newTestStoreAndExecutor(t, map[string]chatmodel.ChatModel{
		RoleText:       model,
		RoleMultimodal: model,
	}, config.ExecutorConfig{NumWorkers: numWorkers, Lifetime: 200 * time.Millisecond, Expiration: time.Hour})

	ids := make([]string, 0, numTasks)
	for i := 0; i < numTasks; i++ {
		submitted, err := exec.Submit(context.Background(), task.Message{Text: fmt.Sprintf("task %d", i)}, "")
		require.NoError(t, err)
		ids = append(ids, submitted.ID)
	}

	for _, id := range ids {
		finished := waitForTerminal(t, store, id, 10*time.Second)
		assert.Equal(t, task.StatusFinished, finished.Status)
	}

	model.mu.Lock()
	maxSeen := model.maxSeen
	model.mu.Unlock()
	assert.LessOrEqual(t, maxSeen, numWorkers)
	assert.Greater(t, maxSeen, 0)
}

func TestTaskNotFoundErrorMatchesSentinel(t *testing.T) {
	err := error(&TaskNotFoundError{ID: "abc"})
	assert.True(t, errors.Is(err, ErrTaskNotFound))
	assert.Equal(t, "Task 'abc' not existed", err.Error())
}

func TestResultZeroTimeoutReturnsCurrentState(t *testing.T) {
	store, exec := newTestStoreAndExecutor(t, map[string]chatmodel.ChatModel{
		RoleText:       &chatmodel.Mock{},
		RoleMultimodal: &chatmodel.Mock{},
	}, config.ExecutorConfig{NumWorkers: 0, Lifetime: time.Second, Expiration: time.Hour})

	pending := task.New(task.Message{Text: "still running"})
	require.NoError(t, store.Set(context.Background(), pending))

	result, err := exec.Result(context.Background(), pending.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, result.Status)
}

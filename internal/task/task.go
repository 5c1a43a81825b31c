package task

import "github.com/google/uuid"

// Status is one of the four task states. Transitions are strictly
// Pending -> Running -> {Finished, Failed}; nothing in this package
// exposes a way to move a Task backward.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Task is the persisted unit of work. Its invariants:
//   - status = Finished implies Completion != nil and FinishTime != nil
//   - status = Failed implies ErrMsg != ""
//   - once Finished or Failed, a Task is immutable for the rest of its TTL
type Task struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	Message    Message     `json:"message"`
	Completion *Completion `json:"completion,omitempty"`
	ErrMsg     string      `json:"err_msg,omitempty"`
	CreateTime LocalTime   `json:"create_time"`
	FinishTime *LocalTime  `json:"finish_time,omitempty"`
}

// New creates a Pending task with a fresh v4 id.
func New(message Message) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Status:     StatusPending,
		Message:    message,
		CreateTime: Now(),
	}
}

// MarkRunning transitions a Pending task to Running; on a task in any
// other status it does nothing. Called by the
// worker immediately after a successful dequeue, before model
// invocation.
func (t *Task) MarkRunning() {
	if t.Status != StatusPending {
		return
	}
	t.Status = StatusRunning
}

// MarkFinished records a successful completion and finish time.
func (t *Task) MarkFinished(completion Completion) {
	t.Status = StatusFinished
	t.Completion = &completion
	finish := Now()
	t.FinishTime = &finish
}

// MarkFailed records a model or infrastructure failure. Never
// re-enqueued.
func (t *Task) MarkFailed(err error) {
	t.Status = StatusFailed
	t.ErrMsg = err.Error()
}

// Terminal reports whether the task has reached Finished or Failed.
func (t *Task) Terminal() bool {
	return t.Status == StatusFinished || t.Status == StatusFailed
}

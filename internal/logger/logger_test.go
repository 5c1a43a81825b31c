package logger

import (
	"bytes"
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLogger(buf *bytes.Buffer, level Level) *Standard {
	l := New(level)
	l.out = log.New(buf, "", 0)
	return l
}

func TestStandardRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelWarn)

	l.Info("should not appear", nil)
	assert.Empty(t, buf.String())

	l.Warn("should appear", map[string]interface{}{"k": "v"})
	assert.Contains(t, buf.String(), "should appear")
	assert.Contains(t, buf.String(), "k=v")
}

func TestWithComponentAndFieldsAreSticky(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelDebug)

	child := l.WithComponent("executor").With(map[string]interface{}{"task_id": "abc"})
	child.Info("submitted", nil)

	out := buf.String()
	assert.Contains(t, out, "[executor]")
	assert.Contains(t, out, "task_id=abc")
}

func TestContextRequestIDIsAttached(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelDebug)

	ctx := WithRequestID(context.Background(), "req-1")
	l.InfoContext(ctx, "handled", nil)

	assert.Contains(t, buf.String(), "request_id=req-1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel("Error"))
	assert.Equal(t, LevelInfo, ParseLevel("unknown"))
}

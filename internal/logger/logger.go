// Package logger provides the structured logging contract used across
// modelgate: task execution, object storage, and the HTTP surface all log
// through the same Logger interface so a caller can swap in any
// implementation (or a test spy) without touching call sites.
package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// Logger is the minimal structured logging contract. Fields are opaque
// key/value pairs; implementations decide how to render them.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})

	DebugContext(ctx context.Context, msg string, fields map[string]interface{})
	InfoContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorContext(ctx context.Context, msg string, fields map[string]interface{})

	// With returns a derived logger that always includes fields.
	With(fields map[string]interface{}) Logger
}

// ComponentAwareLogger tags every log line with a component name so logs
// from independent subsystems (executor, taskstore, oss, httpapi) can be
// filtered without per-call-site plumbing.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Level is a log verbosity threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// contextKey carries a request/trace id injected by the caller. Kept
// deliberately tiny: it holds a single correlation id, never a bag of
// context.
type contextKey struct{}

// WithRequestID returns a context carrying a correlation id that
// *Standard.*Context log methods will attach automatically.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func requestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Standard is a leveled logger over the standard library's log.Logger:
// no third-party logging library, hand-rolled leveling and field
// attachment instead.
type Standard struct {
	mu        sync.Mutex
	out       *log.Logger
	level     Level
	component string
	fields    map[string]interface{}
}

var _ ComponentAwareLogger = (*Standard)(nil)

// New creates a Standard logger writing to stderr at the given level.
func New(level Level) *Standard {
	return &Standard{
		out:   log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
		level: level,
	}
}

func (s *Standard) clone() *Standard {
	fields := make(map[string]interface{}, len(s.fields))
	for k, v := range s.fields {
		fields[k] = v
	}
	return &Standard{
		out:       s.out,
		level:     s.level,
		component: s.component,
		fields:    fields,
	}
}

func (s *Standard) With(fields map[string]interface{}) Logger {
	next := s.clone()
	for k, v := range fields {
		next.fields[k] = v
	}
	return next
}

func (s *Standard) WithComponent(component string) Logger {
	next := s.clone()
	next.component = component
	return next
}

func (s *Standard) Debug(msg string, fields map[string]interface{}) { s.log(LevelDebug, msg, fields) }
func (s *Standard) Info(msg string, fields map[string]interface{})  { s.log(LevelInfo, msg, fields) }
func (s *Standard) Warn(msg string, fields map[string]interface{})  { s.log(LevelWarn, msg, fields) }
func (s *Standard) Error(msg string, fields map[string]interface{}) { s.log(LevelError, msg, fields) }

func (s *Standard) DebugContext(ctx context.Context, msg string, fields map[string]interface{}) {
	s.logContext(ctx, LevelDebug, msg, fields)
}
func (s *Standard) InfoContext(ctx context.Context, msg string, fields map[string]interface{}) {
	s.logContext(ctx, LevelInfo, msg, fields)
}
func (s *Standard) WarnContext(ctx context.Context, msg string, fields map[string]interface{}) {
	s.logContext(ctx, LevelWarn, msg, fields)
}
func (s *Standard) ErrorContext(ctx context.Context, msg string, fields map[string]interface{}) {
	s.logContext(ctx, LevelError, msg, fields)
}

func (s *Standard) logContext(ctx context.Context, level Level, msg string, fields map[string]interface{}) {
	if id, ok := requestIDFrom(ctx); ok {
		merged := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			merged[k] = v
		}
		merged["request_id"] = id
		fields = merged
	}
	s.log(level, msg, fields)
}

func (s *Standard) log(level Level, msg string, fields map[string]interface{}) {
	if level < s.level {
		return
	}

	var b strings.Builder
	b.WriteString(levelName(level))
	if s.component != "" {
		b.WriteString(" [")
		b.WriteString(s.component)
		b.WriteString("]")
	}
	b.WriteString(" ")
	b.WriteString(msg)

	all := make(map[string]interface{}, len(s.fields)+len(fields))
	for k, v := range s.fields {
		all[k] = v
	}
	for k, v := range fields {
		all[k] = v
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, all[k])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Println(b.String())
}

func levelName(l Level) string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Noop discards everything; useful where a caller's Logger is optional.
type noop struct{}

var Noop Logger = noop{}

func (noop) Debug(string, map[string]interface{})                         {}
func (noop) Info(string, map[string]interface{})                          {}
func (noop) Warn(string, map[string]interface{})                          {}
func (noop) Error(string, map[string]interface{})                         {}
func (noop) DebugContext(context.Context, string, map[string]interface{}) {}
func (noop) InfoContext(context.Context, string, map[string]interface{})  {}
func (noop) WarnContext(context.Context, string, map[string]interface{})  {}
func (noop) ErrorContext(context.Context, string, map[string]interface{}) {}
func (noop) With(map[string]interface{}) Logger                           { return noop{} }

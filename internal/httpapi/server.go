package httpapi

import (
	"net/http"

	"github.com/nodeforge/modelgate/internal/executor"
	"github.com/nodeforge/modelgate/internal/logger"
	"github.com/nodeforge/modelgate/internal/oss"
)

// Server holds the already-constructed collaborators every handler
// needs: the task Executor (which itself owns the ModelRegistry for
// routing), a ModelRegistry reference for the synchronous /chat/*
// endpoints that bypass the task queue entirely, and the OSS Client
// for upload/download. Collaborators are constructed once at startup
// and passed by reference rather than resolved through a process-wide
// singleton registry.
type Server struct {
	executor *executor.Executor
	registry *executor.ModelRegistry
	oss      *oss.Client
	log      logger.Logger
}

// New builds a Server over already-constructed collaborators.
func New(exec *executor.Executor, registry *executor.ModelRegistry, ossClient *oss.Client, log logger.Logger) *Server {
	if log == nil {
		log = logger.Noop
	}
	return &Server{
		executor: exec,
		registry: registry,
		oss:      ossClient,
		log:      log.With(map[string]interface{}{"component": "httpapi"}),
	}
}

// Handler builds the routed *http.ServeMux. Split from New so tests
// can build a Server once and mount it under different prefixes if
// needed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completion", s.handleChatCompletion)
	mux.HandleFunc("/chat/stream", s.handleChatStream)
	mux.HandleFunc("/task/create", s.handleTaskCreate)
	mux.HandleFunc("/task/query", s.handleTaskQuery)
	mux.HandleFunc("/task/result", s.handleTaskResult)
	mux.HandleFunc("/file/upload", s.handleFileUpload)
	mux.HandleFunc("/file/download/", s.handleFileDownload)
	return mux
}

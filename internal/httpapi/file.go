package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nodeforge/modelgate/internal/oss"
)

// handleFileUpload is POST /file/upload: the raw request body is the
// object, Content-Type/Content-Length describe it.
func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.oss == nil {
		writeErr(w, fmt.Errorf("object storage not configured"))
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		writeErr(w, fmt.Errorf("missing request header 'Content-Type'"))
		return
	}
	if r.ContentLength < 0 {
		writeErr(w, fmt.Errorf("missing request header 'Content-Length'"))
		return
	}

	meta := oss.ObjectMeta{ContentType: contentType, ContentLength: r.ContentLength}
	name, err := s.oss.PutObject(r.Context(), r.Body, meta)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, name)
}

// handleFileDownload is GET /file/download/<name>: relays the OSS
// object's bytes with the Content-Type/Content-Length it was stored
// with.
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.oss == nil {
		writeRawError(w, fmt.Errorf("object storage not configured"))
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/file/download/")
	if name == "" {
		writeRawError(w, fmt.Errorf("missing object name"))
		return
	}

	reader, meta, err := s.oss.GetObject(r.Context(), name)
	if err != nil {
		s.log.ErrorContext(r.Context(), "download failed", map[string]interface{}{"name": name, "error": err.Error()})
		writeRawError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.ContentLength, 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, reader)
}

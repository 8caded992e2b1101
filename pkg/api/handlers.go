package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/harun/iris/internal/tracing"
	"github.com/harun/iris/pkg/analyze"
	"github.com/harun/iris/pkg/vision"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	in := analyze.Input{Method: r.Method}

	if r.Method == http.MethodPost {
		image, fields, err := s.readUpload(w, r)
		if err != nil {
			s.writeAnalyzeError(w, err)
			return
		}
		in.Image = image
		in.Question = fields.question
		in.SessionID = fields.sessionID
	}
	if in.SessionID == "" {
		in.SessionID = sessionFromCookie(r)
	}

	result, err := s.analyzer.Analyze(r.Context(), in)
	if err != nil {
		s.writeAnalyzeError(w, err)
		return
	}

	s.setSessionCookie(w, result.SessionID)
	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Analysis:    result.Analysis,
		SessionID:   result.SessionID,
		MemoryStats: result.Stats,
		MemoryType:  MemoryType,
	})
}

type uploadFields struct {
	question  string
	sessionID string
}

// readUpload parses the multipart body. A missing file is not an error here;
// the analyzer reports it.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*vision.Image, uploadFields, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.options.MaxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, uploadFields{}, &analyze.Error{
				Kind:    analyze.InvalidInput,
				Message: fmt.Sprintf("Image exceeds the %d byte upload limit", s.options.MaxUploadBytes),
				Err:     err,
			}
		}
		return nil, uploadFields{}, &analyze.Error{
			Kind:    analyze.InvalidInput,
			Message: "Request must be multipart/form-data with a file field",
			Err:     err,
		}
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	fields := uploadFields{
		question:  r.FormValue("question"),
		sessionID: strings.TrimSpace(r.FormValue("session_id")),
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, fields, nil
	}
	if err != nil {
		return nil, fields, &analyze.Error{Kind: analyze.InvalidInput, Message: "Invalid file upload", Err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fields, fmt.Errorf("failed to read uploaded file: %w", err)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Debug().
		Str("filename", header.Filename).
		Str("mime_type", mimeType).
		Int("bytes", len(data)).
		Msg("Image received")

	return &vision.Image{Data: data, MIMEType: mimeType}, fields, nil
}

func (s *Server) writeAnalyzeError(w http.ResponseWriter, err error) {
	e := analyze.AsError(err)
	writeJSON(w, e.HTTPStatus(), AnalyzeErrorResponse{
		Error:    e.Message,
		Analysis: failedAnalysis,
	})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	result, err := s.analyzer.Memory(r.Context(), memorySessionID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.setSessionCookie(w, result.SessionID)
	writeJSON(w, http.StatusOK, MemoryResponse{
		SessionID:  result.SessionID,
		Stats:      result.Stats,
		Status:     "active",
		MemoryType: MemoryType,
	})
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	result, err := s.analyzer.ClearMemory(r.Context(), memorySessionID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MemoryResponse{
		SessionID:  result.SessionID,
		Stats:      result.Stats,
		Status:     "cleared",
		MemoryType: MemoryType,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "online",
		Message: healthMessage,
		Version: s.options.Version,
		Uptime:  time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not Found"})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	e := analyze.AsError(err)
	writeJSON(w, e.HTTPStatus(), ErrorResponse{Error: e.Message})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sessionID,
		Path:     s.options.CookiePath,
		MaxAge:   int(s.options.CookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.options.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// memorySessionID picks the session id from the path, then the query, then the cookie
func memorySessionID(r *http.Request) string {
	if id := mux.Vars(r)["session_id"]; id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("session_id")); id != "" {
		return id
	}
	return sessionFromCookie(r)
}

func sessionFromCookie(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stepfunction-inspector/inspector"
)

const requestIDHeader = "X-Request-Id"

const maxRunBody = 1 << 20

type requestIDKey struct{}

// withRequestID tags every request with an id, echoing a caller-supplied
// one, and logs the outcome.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		s.logger.Debug("request served",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("content-type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit, ok := intParam(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	refresh, ok := boolParam(w, q.Get("refresh"), "refresh")
	if !ok {
		return
	}
	resp, err := s.svc.Overview(r.Context(), q.Get("provider"), limit, refresh)
	s.respond(w, r, resp, err, resp.Failed())
}

func (s *Server) handleWorkflowDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit, ok := intParam(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	resp, err := s.svc.WorkflowDetail(r.Context(), q.Get("provider"), q.Get("workflowId"), limit)
	s.respond(w, r, resp, err, resp.Failed())
}

func (s *Server) handleExecutionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	maxEvents, ok := intParam(w, q.Get("maxEvents"), "maxEvents")
	if !ok {
		return
	}
	includeLogs, ok := boolParam(w, q.Get("includeLogs"), "includeLogs")
	if !ok {
		return
	}
	logLimit, ok := intParam(w, q.Get("logLimit"), "logLimit")
	if !ok {
		return
	}
	resp, err := s.svc.ExecutionDetail(r.Context(), q.Get("provider"), q.Get("executionArn"), inspector.ExecutionOptions{
		MaxEvents:   maxEvents,
		IncludeLogs: includeLogs,
		LogLimit:    logLimit,
	})
	s.respond(w, r, resp, err, resp.Failed())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req inspector.RunRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRunBody))
	if err == nil && len(strings.TrimSpace(string(body))) > 0 {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, inspector.RunResponse{Status: inspector.RunFailed, Message: "bad json"})
		return
	}
	resp, err := s.svc.Run(r.Context(), req)
	s.respond(w, r, resp, err, err != nil)
}

// respond maps a service result to a status code. Argument and provider
// errors are the caller's fault, a missing resource is 404, and a response
// whose upstream call failed is 502.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, body any, err error, failed bool) {
	status := http.StatusOK
	switch {
	case errors.Is(err, inspector.ErrUnsupportedProvider), errors.Is(err, inspector.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, inspector.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("request abandoned", zap.String("request_id", requestID(r)), zap.Error(err))
		status = http.StatusServiceUnavailable
	case failed:
		status = http.StatusBadGateway
	}
	writeJSONStatus(w, status, body)
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if strings.TrimSpace(raw) == "" {
		return 0, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": name + " must be an integer"})
		return 0, false
	}
	return n, true
}

func boolParam(w http.ResponseWriter, raw, name string) (bool, bool) {
	if strings.TrimSpace(raw) == "" {
		return false, true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": name + " must be a boolean"})
		return false, false
	}
	return b, true
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

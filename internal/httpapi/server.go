package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/api"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

const maxBodyBytes = 1 << 20

// Server exposes the scheduler façade over HTTP for out-of-process callers.
// Every action is a POST with a JSON parameter bag; the façade envelope is
// passed through verbatim.
type Server struct {
	log logx.Logger
	svc *api.Service
	srv *http.Server
}

func New(addr string, svc *api.Service, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{log: log, svc: svc}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/api/scheduler/{action}", s.handleAction)
	return r
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.Info("http api listening", logx.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the routed handler, for embedding in another mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.Envelope{OK: false, Error: "unreadable body", ErrorCode: api.CodeInvalid})
		return
	}

	env := s.svc.Dispatch(action, body)
	writeJSON(w, statusFor(env), env)
}

// statusFor maps envelope error codes to HTTP statuses. The envelope stays
// the source of truth; the status is a convenience for plain HTTP clients.
func statusFor(env api.Envelope) int {
	if env.OK {
		return http.StatusOK
	}
	switch env.ErrorCode {
	case api.CodeNotFound:
		return http.StatusNotFound
	case api.CodeInvalid:
		return http.StatusBadRequest
	case api.CodeAlreadyRunning:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("dur", time.Since(start)))
	})
}

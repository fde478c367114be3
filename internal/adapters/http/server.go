package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nexusradar/internal/domain"
	"nexusradar/internal/ports"
	"nexusradar/internal/services/reports"
	"nexusradar/internal/workers/reportrunner"
)

const (
	maxBodyBytes   = 10 << 20
	defaultTimeout = 30
	maxTimeout     = 300

	defaultRunPollInterval = 250 * time.Millisecond
)

// Reports is the report service as seen by the HTTP layer.
type Reports interface {
	Enqueue(ctx context.Context, req reports.Request) (domain.ReportRun, error)
	Get(ctx context.Context, runID string) (domain.ReportRun, error)
	Export(ctx context.Context, runID string, w io.Writer) error
	Evaluate(txns []domain.Transaction, basis string) (reports.Evaluation, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	reports   Reports
	rules     ports.RuleBook
	jobs      ports.JobRepository
	processor reportrunner.Processor
	validate  *validator.Validate
	log       *zap.Logger
	gatherer  prometheus.Gatherer
	checks    map[string]HealthCheck

	runPollInterval time.Duration
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithRunPollInterval sets how often a waiting request re-reads a run that a
// background worker is processing.
func WithRunPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.runPollInterval = d
		}
	}
}

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

func New(svc Reports, rules ports.RuleBook, jobs ports.JobRepository, processor reportrunner.Processor, opts ...Option) *Server {
	s := &Server{
		reports:   svc,
		rules:     rules,
		jobs:      jobs,
		processor: processor,
		validate:  newValidator(),
		log:       zap.NewNop(),
		checks:    make(map[string]HealthCheck),

		runPollInterval: defaultRunPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.getHealthz)
	r.Get("/rules", s.getRules)
	r.Get("/rules/{code}", s.getRule)
	r.Post("/evaluate", s.postEvaluate)
	r.Post("/reports", s.postReport)
	r.Get("/reports/{id}", s.getReport)
	r.Get("/reports/{id}/export.csv", s.getReportExport)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rulesResponse{Rules: s.rules.All()})
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	var code string
	if err := runtime.BindStyledParameterWithOptions("simple", "code", chi.URLParam(r, "code"), &code,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, ok := s.rules.Lookup(code)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no rule for jurisdiction %q", code))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) postEvaluate(w http.ResponseWriter, r *http.Request) {
	var body evaluateRequest
	if !s.decode(w, r, &body) {
		return
	}
	eval, err := s.reports.Evaluate(body.Transactions, body.Basis)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{
		Basis:        eval.Basis,
		CountedCount: len(eval.Counted),
		Report:       eval.Report,
	})
}

func (s *Server) postReport(w http.ResponseWriter, r *http.Request) {
	var wait *bool
	var timeout *int
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "wait", q, &wait); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "timeout", q, &timeout); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body reportRequest
	if !s.decode(w, r, &body) {
		return
	}

	run, err := s.reports.Enqueue(r.Context(), reports.Request{
		RealmID: body.RealmID,
		Basis:   body.Basis,
		Range:   body.Range,
		From:    body.From,
		To:      body.To,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	if run.Status == domain.RunCompleted {
		writeJSON(w, http.StatusOK, run)
		return
	}
	if wait == nil || !*wait {
		writeJSON(w, http.StatusAccepted, acceptedResponse{ID: run.ID, Status: run.Status})
		return
	}

	secs := defaultTimeout
	if timeout != nil && *timeout > 0 {
		secs = min(*timeout, maxTimeout)
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(secs)*time.Second)
	defer cancel()
	// same processing path as the background workers; ErrNotFound means a
	// worker claimed the job first
	if err := reportrunner.ProcessInline(ctx, s.jobs, s.processor, run.ID); err != nil && !errors.Is(err, ports.ErrNotFound) {
		s.log.Warn("inline report run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	done, err := s.awaitRun(ctx, run.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !finished(done.Status) {
		writeJSON(w, http.StatusAccepted, acceptedResponse{ID: done.ID, Status: done.Status})
		return
	}
	writeJSON(w, http.StatusOK, done)
}

// awaitRun re-reads the run until it is completed or failed, or ctx ends.
// On expiry the last state read is returned without error.
func (s *Server) awaitRun(ctx context.Context, runID string) (domain.ReportRun, error) {
	ticker := time.NewTicker(s.runPollInterval)
	defer ticker.Stop()
	for {
		run, err := s.reports.Get(context.WithoutCancel(ctx), runID)
		if err != nil || finished(run.Status) {
			return run, err
		}
		select {
		case <-ctx.Done():
			return run, nil
		case <-ticker.C:
		}
	}
}

func finished(status domain.RunStatus) bool {
	return status == domain.RunCompleted || status == domain.RunFailed
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := s.reports.Get(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) getReportExport(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := s.reports.Export(r.Context(), id, &buf); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"nexus-%s.csv\"", id))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	if err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return "", false
	}
	return id, true
}

// decode reads and validates a JSON body, writing the error response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request validation failed", Details: validationDetails(verrs)})
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reports.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "report not found")
	case errors.Is(err, reports.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reports.ErrNoSource):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timed out")
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

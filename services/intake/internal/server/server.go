package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"greenlight/internal/metrics"
	"greenlight/internal/ratelimit"
	"greenlight/internal/util"
	"greenlight/pkg/pdftext"
	"greenlight/services/intake/internal/app"
)

// multipartOverhead is the room left in the request body for the synopsis
// field and multipart framing on top of the file itself.
const multipartOverhead = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AllowedOrigins []string
	TrustedProxies []string

	// Per-client limits; zero disables the limiter.
	UploadRateLimitPerMinute int
	SignupRateLimitPerMinute int
}

// Server exposes the intake API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	metrics        *metrics.Metrics
	trusted        *util.TrustedProxies
	allowedOrigins []string
	maxUploadBytes int64

	uploadLimiter ratelimit.Limiter
	signupLimiter ratelimit.Limiter
}

// New constructs the server with routes configured. Rate limits are shared
// through Redis when the app has a Redis client and kept in memory otherwise.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		metrics:        cfg.App.Metrics(),
		trusted:        trusted,
		allowedOrigins: cfg.AllowedOrigins,
		maxUploadBytes: cfg.App.MaxUploadBytes(),
	}
	if s.uploadLimiter, err = newLimiter(cfg.App.Redis(), "upload", cfg.UploadRateLimitPerMinute); err != nil {
		return nil, err
	}
	if s.signupLimiter, err = newLimiter(cfg.App.Redis(), "signup", cfg.SignupRateLimitPerMinute); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

func newLimiter(client *redis.Client, name string, perMinute int) (ratelimit.Limiter, error) {
	if perMinute <= 0 {
		return nil, nil
	}
	if client != nil {
		return ratelimit.NewRedisFixedWindowLimiter(ratelimit.RedisConfig{
			Client: client,
			Prefix: "greenlight:ratelimit:" + name,
			Limit:  perMinute,
			Window: time.Minute,
		})
	}
	return ratelimit.NewMemoryFixedWindowLimiter(perMinute, time.Minute)
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("intake", util.WithSecurityHeaders(s.trusted, util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.handle("GET /healthz", "healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	// submissions
	s.handle("POST /api/upload", "upload", s.handleUpload)
	s.handle("POST /api/process/{id}", "process", s.handleProcess)
	s.handle("GET /api/results/{id}", "results", s.handleResults)
	s.handle("GET /api/submissions/{id}", "submissions", s.handleResults)
	s.handle("POST /api/signup", "signup", s.handleSignup)

	// lookups
	s.handle("GET /api/book-metadata", "book_metadata", s.handleBookMetadata)
	s.handle("POST /api/book-details", "book_details", s.handleBookDetails)
	s.handle("GET /api/test-connections", "test_connections", s.handleTestConnections)
}

func (s *Server) handle(pattern, route string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.metrics.Instrument(route, h))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.uploadLimiter, "upload", "too many uploads") {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorCode(w, http.StatusBadRequest, codeUploadTooLarge, pdftext.ErrSizeExceeded.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	sub, err := s.app.Submit(r.Context(), app.SubmitInput{
		FileName: header.Filename,
		Data:     data,
		Synopsis: r.FormValue("synopsis"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"submissionId": sub.ID})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Process(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, app.ErrInProgress):
		writeJSON(w, http.StatusAccepted, map[string]string{
			"message": "analysis in progress",
			"status":  string(res.Submission.Status),
		})
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}
	switch res.Outcome {
	case app.OutcomeCompleted:
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  "analysis complete",
			"analysis": res.Submission.Analysis,
		})
	case app.OutcomeFailed:
		writeError(w, http.StatusUnprocessableEntity, res.Submission.Error)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"message": "analysis in progress",
			"status":  string(res.Submission.Status),
		})
	}
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	sub, err := s.app.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type signupRequest struct {
	Email        string `json:"email"`
	SubmissionID string `json:"submissionId"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.signupLimiter, "signup", "too many signup attempts") {
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := s.app.Signup(r.Context(), app.SignupInput{Email: req.Email, SubmissionID: req.SubmissionID}); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleBookMetadata(w http.ResponseWriter, r *http.Request) {
	md, err := s.app.BookMetadata(r.Context(), r.URL.Query().Get("title"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

type detailsRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleBookDetails(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	details, err := s.app.BookDetails(r.Context(), req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleTestConnections(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	report := s.app.CheckConnections(ctx)
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, route, msg string) bool {
	if limiter == nil {
		return true
	}
	decision := limiter.Allow(r.Context(), route+"|"+util.ClientIP(r, s.trusted))
	if decision.Allowed {
		return true
	}
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	s.metrics.RateLimited(route)
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

// fail writes the response for an operation error. Server-side failures are
// logged with the request id and reported with a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err, "status", status)
		msg = publicMessage(status, code)
	case status == http.StatusTooManyRequests && code == codeUpstreamRateLimited:
		util.LoggerFromContext(r.Context()).Warn("upstream rate limited", "err", err)
		msg = "analysis service is rate limited, try again later"
	}
	writeErrorCode(w, status, code, msg)
}

func publicMessage(status int, code string) string {
	switch {
	case status == http.StatusBadGateway:
		return "analysis service error"
	case status == http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case code == codeUpstreamTimeout:
		return "analysis service timed out"
	case code == codeUploadExtraction:
		return "failed to extract text from PDF"
	default:
		return "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, errorCodeFor(status, msg), msg)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: w.Header().Get(util.RequestIDHeader),
	})
}

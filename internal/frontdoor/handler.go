// Package frontdoor exposes the design pipeline and publish orchestrator over
// HTTP.
package frontdoor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/threadsketch/internal/artifact"
	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/metrics"
	"github.com/tjfontaine/threadsketch/internal/publish"
	"github.com/tjfontaine/threadsketch/internal/server"
)

// DefaultMaxUpload is the sketch upload limit.
const DefaultMaxUpload = 10 << 20

// multipartOverhead allows for boundaries and form fields around the image.
const multipartOverhead = 1 << 20

// Pipeline runs the design pipeline for one session.
type Pipeline interface {
	Run(ctx context.Context, session string, raw []byte) (*domain.PipelineResult, error)
}

// Publisher runs publish requests.
type Publisher interface {
	Publish(ctx context.Context, req publish.Request) (*domain.PublishResult, error)
}

// Artifacts serves and releases session artifacts.
type Artifacts interface {
	Open(session string, role domain.Role) (*os.File, error)
	Release(ctx context.Context, session string) error
}

// HandlerRegistration represents a registered HTTP handler.
type HandlerRegistration struct {
	Path    string
	Method  string
	Handler func(http.ResponseWriter, *http.Request)
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxUpload sets the sketch upload limit in bytes.
func WithMaxUpload(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// WithLedger enables GET /api/runs.
func WithLedger(store ports.RunStore) Option {
	return func(h *Handler) {
		h.ledger = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Handler serves the design pipeline, publish, artifact and run ledger
// endpoints.
type Handler struct {
	pipeline  Pipeline
	publisher Publisher
	artifacts Artifacts
	ledger    ports.RunStore
	maxUpload int64
	logger    *slog.Logger
}

// NewHandler creates a Handler. The run ledger route is only registered when
// WithLedger is given.
func NewHandler(pipeline Pipeline, publisher Publisher, artifacts Artifacts, opts ...Option) *Handler {
	h := &Handler{
		pipeline:  pipeline,
		publisher: publisher,
		artifacts: artifacts,
		maxUpload: DefaultMaxUpload,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the handler registrations. publicPrefix is the URL prefix
// artifacts are served under.
func (h *Handler) Routes(publicPrefix string) []HandlerRegistration {
	if publicPrefix == "" {
		publicPrefix = "/uploads"
	}
	publicPrefix = "/" + strings.Trim(publicPrefix, "/")

	routes := []HandlerRegistration{
		{Path: "/api/thread-it", Method: http.MethodPost, Handler: h.HandleThreadIt},
		{Path: "/api/add-product", Method: http.MethodPost, Handler: h.HandleAddProduct},
		{Path: "/add-product", Method: http.MethodPost, Handler: h.HandleAddProduct},
		{Path: publicPrefix + "/{session}/{file}", Method: http.MethodGet, Handler: h.HandleArtifact},
		{Path: "/api/sessions/{session}", Method: http.MethodDelete, Handler: h.HandleReleaseSession},
	}
	if h.ledger != nil {
		routes = append(routes, HandlerRegistration{Path: "/api/runs", Method: http.MethodGet, Handler: h.HandleListRuns})
	}
	return routes
}

// Mount registers every route on r.
func (h *Handler) Mount(r chi.Router, publicPrefix string) {
	for _, reg := range h.Routes(publicPrefix) {
		r.Method(reg.Method, reg.Path, http.HandlerFunc(reg.Handler))
		h.logger.Debug("registered handler",
			slog.String("method", reg.Method),
			slog.String("path", reg.Path))
	}
}

// ThreadItResponse is the design pipeline success body.
type ThreadItResponse struct {
	Success  bool                `json:"success"`
	URL      string              `json:"url"`
	Filename string              `json:"filename"`
	Session  string              `json:"session"`
	RunID    string              `json:"runId"`
	Stages   []domain.StageEntry `json:"stages"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

// HandleThreadIt accepts a multipart sketch in field "image" and runs the
// design pipeline. An optional "session" field selects the session; a new
// one is minted otherwise.
func (h *Handler) HandleThreadIt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, "Image too large",
				fmt.Sprintf("maximum upload size is %d bytes", h.maxUpload), "")
			return
		}
		h.writeError(w, r, http.StatusBadRequest, "No image file provided", err.Error(), "")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "No image file provided", "", "")
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "Image too large",
			fmt.Sprintf("maximum upload size is %d bytes", h.maxUpload), "")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Failed to read upload", err.Error(), "")
		return
	}
	if int64(len(raw)) > h.maxUpload {
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "Image too large",
			fmt.Sprintf("maximum upload size is %d bytes", h.maxUpload), "")
		return
	}
	metrics.UploadSize.Observe(float64(len(raw)))

	session := r.FormValue("session")
	if session == "" {
		session = artifact.NewSession()
	} else if !artifact.ValidSession(session) {
		h.writeError(w, r, http.StatusBadRequest, "Invalid session", session, "")
		return
	}
	server.AddLogField(r.Context(), "session", session)

	result, err := h.pipeline.Run(r.Context(), session, raw)
	if err != nil {
		server.AddError(r.Context(), err)
		de := domain.AsError(err)
		switch de.Kind {
		case domain.KindValidation:
			h.writeError(w, r, de.HTTPStatusCode(), "Invalid image", de.Message, "")
		case domain.KindConfiguration:
			h.writeError(w, r, de.HTTPStatusCode(), "Server configuration error", de.Message, de.Stage)
		default:
			h.writeError(w, r, de.HTTPStatusCode(), "Thread It processing failed", causeMessage(de), de.Stage)
		}
		return
	}
	server.AddLogField(r.Context(), "run_id", result.RunID)

	writeJSON(w, http.StatusOK, ThreadItResponse{
		Success:  true,
		URL:      result.FinalArtifact.URL,
		Filename: result.FinalArtifact.Filename,
		Session:  result.Session,
		RunID:    result.RunID,
		Stages:   result.StageLog,
	})
}

// HandleAddProduct runs a publish request. The body is optional JSON.
func (h *Handler) HandleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req publish.Request
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Failed to read request", err.Error(), "")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.writeError(w, r, http.StatusBadRequest, "Invalid request body", err.Error(), "")
			return
		}
	}
	server.AddLogField(r.Context(), "session", req.Session)

	result, err := h.publisher.Publish(r.Context(), req)
	if err != nil {
		server.AddError(r.Context(), err)
		de := domain.AsError(err)
		switch de.Kind {
		case domain.KindConfiguration:
			h.writeError(w, r, de.HTTPStatusCode(), "Server configuration error", de.Message, "")
		case domain.KindValidation:
			h.writeError(w, r, de.HTTPStatusCode(), "Invalid request", de.Message, "")
		default:
			h.writeError(w, r, de.HTTPStatusCode(), "Product creation failed", causeMessage(de), "")
		}
		return
	}

	server.AddLogField(r.Context(), "run_id", result.RunID)
	server.AddLogField(r.Context(), "product_id", strconv.FormatInt(result.Product.ID, 10))
	writeJSON(w, http.StatusOK, result)
}

// HandleArtifact serves a stored artifact.
func (h *Handler) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	file := chi.URLParam(r, "file")

	role, err := domain.ParseRole(strings.TrimSuffix(file, ".png"))
	if err != nil || !strings.HasSuffix(file, ".png") || !artifact.ValidSession(session) {
		http.NotFound(w, r)
		return
	}

	f, err := h.artifacts.Open(session, role)
	if err != nil {
		if !errors.Is(err, domain.ErrArtifactNotFound) {
			server.AddError(r.Context(), err)
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		server.AddError(r.Context(), err)
		http.Error(w, "artifact unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, file, fi.ModTime(), f)
}

// HandleReleaseSession deletes every artifact of a session.
func (h *Handler) HandleReleaseSession(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	if err := h.artifacts.Release(r.Context(), session); err != nil {
		server.AddError(r.Context(), err)
		de := domain.AsError(err)
		status := http.StatusInternalServerError
		if de.Kind == domain.KindValidation {
			status = http.StatusBadRequest
		}
		h.writeError(w, r, status, "Failed to release session", de.Message, "")
		return
	}
	server.AddLogField(r.Context(), "session", session)
	w.WriteHeader(http.StatusNoContent)
}

// HandleListRuns returns recent ledger entries. Query parameters: session,
// kind (pipeline or publish) and limit (default 50).
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := ports.ListOptions{
		Session: r.URL.Query().Get("session"),
		Kind:    r.URL.Query().Get("kind"),
		Limit:   50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "Invalid limit", v, "")
			return
		}
		opts.Limit = min(n, 500)
	}

	runs, err := h.ledger.ListRuns(r.Context(), opts)
	if err != nil {
		server.AddError(r.Context(), err)
		de := domain.AsError(err)
		status := http.StatusInternalServerError
		if de.Kind == domain.KindValidation {
			status = http.StatusBadRequest
		}
		h.writeError(w, r, status, "Failed to list runs", de.Message, "")
		return
	}
	if runs == nil {
		runs = []*ports.RunSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// causeMessage is the most specific message in an error chain.
func causeMessage(e *domain.Error) string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, msg, details, stage string) {
	if status >= 500 {
		h.logger.Error(msg,
			slog.String("request_id", server.GetRequestID(r.Context())),
			slog.String("details", details),
			slog.String("stage", stage))
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details, Stage: stage})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

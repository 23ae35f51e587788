package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/edocval/internal/adapters/presenter"
	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/usecase"
)

type ctxKey string

const (
	timeFormat                = "2006-01-02T15:04:05.999999999Z07:00"
	clientCtxKey       ctxKey = "client"
	apiActorCtxKey     ctxKey = "api_actor"
	anonymousClient           = "anonymous"
	defaultMaxDocument        = 32 << 20
)

// Validator runs one validation request.
type Validator interface {
	Run(ctx context.Context, req usecase.Request) domain.ValidationOutcome
}

type ReportStore interface {
	Record(ctx context.Context, report domain.Report) (domain.Report, error)
	Get(ctx context.Context, id string) (domain.Report, error)
	List(ctx context.Context, filter domain.ReportFilter) (domain.ReportPage, error)
}

type Handler struct {
	validator   Validator
	profiles    *usecase.ProfileRegistry
	reports     ReportStore
	authService *usecase.AuthService
	logger      *slog.Logger
	maxDocument int64
	tempDir     string
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxDocumentSize caps the accepted request body in bytes.
func WithMaxDocumentSize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxDocument = n
		}
	}
}

// WithTempDir sets where uploaded documents are spooled before validation.
func WithTempDir(dir string) Option {
	return func(h *Handler) {
		h.tempDir = dir
	}
}

// NewHandler wires the API. A nil authService leaves /v1 open and attributes
// every report to the anonymous client; a nil reports store disables the
// report routes.
func NewHandler(validator Validator, profiles *usecase.ProfileRegistry, reports ReportStore, authService *usecase.AuthService, opts ...Option) *Handler {
	h := &Handler{
		validator:   validator,
		profiles:    profiles,
		reports:     reports,
		authService: authService,
		logger:      slog.Default(),
		maxDocument: defaultMaxDocument,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)
		pr.Get("/v1/profiles", h.listProfiles)
		pr.Post("/v1/profiles/{profile}/validate", h.validate)
		pr.Get("/v1/reports", h.listReports)
		pr.Get("/v1/reports/{id}", h.getReport)
	})

	return r
}

type profileResponse struct {
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	Mode            string `json:"mode"`
	RuleSetFile     string `json:"rule_set_file,omitempty"`
	IncludeWarnings bool   `json:"include_warnings"`
}

type recordResponse struct {
	ID       int    `json:"Id"`
	Message  string `json:"Message"`
	Location string `json:"Location,omitempty"`
}

type reportResponse struct {
	ID         string           `json:"id"`
	Client     string           `json:"client"`
	Profile    string           `json:"profile"`
	Document   string           `json:"document"`
	Status     domain.Status    `json:"status"`
	ErrorCount int              `json:"error_count"`
	DurationMS int64            `json:"duration_ms"`
	CreatedAt  string           `json:"created_at"`
	Errors     []recordResponse `json:"errors,omitempty"`
}

type listReportsResponse struct {
	Reports    []reportResponse `json:"reports"`
	NextBefore string           `json:"next_before,omitempty"`
}

func (h *Handler) listProfiles(w http.ResponseWriter, _ *http.Request) {
	profiles := h.profiles.List()
	resp := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		item := profileResponse{
			Name:            p.Name,
			Description:     p.Description,
			Mode:            string(p.Mode),
			IncludeWarnings: p.IncludeWarnings,
		}
		if p.RulesEnabled() {
			item.RuleSetFile = p.RuleSetFile
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": resp})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.Get(chi.URLParam(r, "profile"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	format, err := negotiate(r)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	path, err := h.spool(http.MaxBytesReader(w, r.Body, h.maxDocument))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		h.requestLogger(r.Context()).Error("spool document", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer os.Remove(path)

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "upload.xml"
	}

	started := time.Now()
	outcome := h.validator.Run(r.Context(), usecase.Request{
		Profile:      profile,
		DocumentPath: path,
		SchemaPath:   profile.SchemaPath,
		RuleSetDir:   profile.RuleSetDir,
	})

	if h.reports != nil {
		report, err := h.reports.Record(r.Context(), domain.Report{
			Client:   clientFromContext(r.Context()),
			Profile:  profile.Name,
			Document: name,
			Outcome:  outcome,
			Duration: time.Since(started),
		})
		if err != nil {
			h.requestLogger(r.Context()).Error("record report", slog.String("profile", profile.Name), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.Header().Set("X-Report-Id", report.ID)
	}
	h.writeOutcome(w, outcome, format)
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "reports are not stored")
		return
	}
	q := r.URL.Query()
	filter := domain.ReportFilter{
		Client:  clientFromContext(r.Context()),
		Profile: strings.TrimSpace(q.Get("profile")),
		Status:  domain.Status(strings.TrimSpace(q.Get("status"))),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("before"); raw != "" {
		before, err := domain.ParseReportCursor(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		filter.Before = before
	}

	page, err := h.reports.List(r.Context(), filter)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	resp := listReportsResponse{Reports: make([]reportResponse, 0, len(page.Reports))}
	for _, report := range page.Reports {
		resp.Reports = append(resp.Reports, toReportResponse(report, false))
	}
	if next, ok := page.Next(); ok {
		resp.NextBefore = next.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// getReport answers with the report metadata, or with the stored outcome
// alone when a format is requested explicitly.
func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "reports are not stored")
		return
	}
	report, err := h.reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	if client := clientFromContext(r.Context()); report.Client != client {
		handleDomainError(w, domain.ErrNotFound)
		return
	}

	if raw := r.URL.Query().Get("format"); raw != "" {
		format, err := presenter.ParseFormat(raw)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		h.writeOutcome(w, report.Outcome, format)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(report, true))
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authService == nil {
			ctx := context.WithValue(r.Context(), clientCtxKey, anonymousClient)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		apiKey, err := h.authService.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			h.logger.Error("authenticate", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), clientCtxKey, apiKey.Client)
		ctx = context.WithValue(ctx, apiActorCtxKey, apiKey.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// spool copies body to a temporary file and returns its path.
func (h *Handler) spool(body io.Reader) (string, error) {
	f, err := os.CreateTemp(h.tempDir, "edocval-*.xml")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return filepath.Clean(path), nil
}

func (h *Handler) writeOutcome(w http.ResponseWriter, outcome domain.ValidationOutcome, format presenter.Format) {
	body, err := presenter.Render(outcome, format)
	if err != nil {
		h.logger.Error("render outcome", slog.String("format", string(format)), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("write response", slog.Any("error", err))
	}
}

// negotiate prefers ?format= over the Accept header and falls back to JSON.
func negotiate(r *http.Request) (presenter.Format, error) {
	if raw := r.URL.Query().Get("format"); raw != "" {
		return presenter.ParseFormat(raw)
	}
	if f, ok := presenter.FromAccept(r.Header.Get("Accept")); ok {
		return f, nil
	}
	return presenter.FormatJSON, nil
}

func toReportResponse(report domain.Report, withErrors bool) reportResponse {
	resp := reportResponse{
		ID:         report.ID,
		Client:     report.Client,
		Profile:    report.Profile,
		Document:   report.Document,
		Status:     report.Status(),
		ErrorCount: report.Outcome.Len(),
		DurationMS: report.Duration.Milliseconds(),
		CreatedAt:  report.CreatedAt.UTC().Format(timeFormat),
	}
	if withErrors {
		for _, rec := range report.Outcome.Errors() {
			resp.Errors = append(resp.Errors, recordResponse{ID: rec.ID, Message: rec.Message, Location: rec.Location})
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("encode json response", slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		slog.Warn("write response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidFormat), errors.Is(err, domain.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnknownProfile), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// requestLogger tags log lines with the calling client and API key name.
func (h *Handler) requestLogger(ctx context.Context) *slog.Logger {
	logger := h.logger.With(slog.String("client", clientFromContext(ctx)))
	if actor, _ := ctx.Value(apiActorCtxKey).(string); actor != "" {
		logger = logger.With(slog.String("api_key", actor))
	}
	return logger
}

func clientFromContext(ctx context.Context) string {
	client, _ := ctx.Value(clientCtxKey).(string)
	if client == "" {
		return anonymousClient
	}
	return client
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "edocval",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/profiles": map[string]any{
				"get": map[string]any{"summary": "List validation profiles"},
			},
			"/v1/profiles/{profile}/validate": map[string]any{
				"post": map[string]any{"summary": "Validate an XML document against a profile"},
			},
			"/v1/reports": map[string]any{
				"get": map[string]any{"summary": "List validation reports"},
			},
			"/v1/reports/{id}": map[string]any{
				"get": map[string]any{"summary": "Get a validation report"},
			},
		},
	}
}

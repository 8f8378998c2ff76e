// Package api exposes the transcription engine over HTTP.
//
// Routes are mounted on a standard [http.ServeMux]; the caller decides the
// server, middleware, and listener:
//
//	mux := api.New(eng).Mux()
//	http.ListenAndServe(":8080", mux)
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/engine"
)

// API serves the engine's HTTP surface.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API over an engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Mux returns a mux with all routes registered.
func (a *API) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	a.Register(mux)
	return mux
}

// Register mounts all routes on an existing mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/transcriptions", a.submitTranscription)
	mux.HandleFunc("GET /v1/transcriptions", a.listTranscriptions)
	mux.HandleFunc("GET /v1/transcriptions/{id}", a.getTranscription)
	mux.HandleFunc("GET /v1/transcriptions/{id}/result", a.getResult)
	mux.HandleFunc("GET /v1/workers", a.listWorkers)
	mux.HandleFunc("GET /v1/crons", a.listCrons)
	mux.HandleFunc("GET /v1/stats", a.getStats)
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("write response", slog.Any("error", err))
	}
}

// writeError maps store sentinels onto status codes. Unknown errors become
// opaque 500s; the detail stays in the logs.
func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transcribe.ErrJobNotFound),
		errors.Is(err, transcribe.ErrResultNotFound),
		errors.Is(err, transcribe.ErrCronNotFound):
		a.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, transcribe.ErrInvalidConfig):
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, transcribe.ErrJobAlreadyExists):
		a.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		a.logger.Error("request failed", slog.Any("error", err))
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (a *API) badRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

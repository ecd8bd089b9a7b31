package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/hornwatch/internal/observe"
	"github.com/MrWong99/hornwatch/internal/session"
	"github.com/MrWong99/hornwatch/internal/signature"
)

// defaultHistoryLimit caps GET /api/history without a limit parameter.
const defaultHistoryLimit = 50

// apiError is the JSON body of every failed API call.
type apiError struct {
	Error string `json:"error"`
}

// tuning is the body of POST /api/session/tuning.
type tuning struct {
	Threshold *float64 `json:"threshold"`
	Cooldown  string   `json:"cooldown"`
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/start", a.handleStart)
	mux.HandleFunc("POST /api/session/stop", a.handleStop)
	mux.HandleFunc("GET /api/session", a.handleInfo)
	mux.HandleFunc("POST /api/session/tuning", a.handleTuning)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.Handle("GET /status", a.hub)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.Start(r.Context()); err != nil {
		writeError(w, startStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.ctrl.Info())
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := a.ctrl.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, a.ctrl.Info())
}

func (a *App) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Info())
}

func (a *App) handleTuning(w http.ResponseWriter, r *http.Request) {
	var body tuning
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	t := session.Tuning{Threshold: body.Threshold}
	if body.Cooldown != "" {
		d, err := time.ParseDuration(body.Cooldown)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		t.Cooldown = &d
	}
	if err := a.ctrl.Tune(t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, a.ctrl.Info())
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	eps, err := a.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if eps == nil {
		eps = []session.Episode{}
	}
	writeJSON(w, http.StatusOK, eps)
}

// startStatus maps a Start error to an HTTP status code.
func startStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnsupportedPlatform):
		return http.StatusNotImplemented
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, signature.ErrLoad), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrCapture):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package health serves the liveness and readiness probes of the detector.
//
// /healthz answers 200 while the process can serve HTTP. /readyz runs every
// registered [Check] concurrently and answers 503 when a required check
// fails. Advisory checks are reported as "warn" but never fail readiness.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe outcomes as reported in the JSON body.
const (
	StatusOK   = "ok"
	StatusFail = "fail"
	StatusWarn = "warn"
)

var (
	errNotLoaded = errors.New("reference signature not loaded")
	errInactive  = errors.New("not listening")
)

// Check is one named readiness probe.
type Check struct {
	// Name is the key in the JSON response, e.g. "signature" or "history".
	Name string

	// Probe returns nil when healthy. It must respect ctx.
	Probe func(ctx context.Context) error

	// Advisory checks report "warn" instead of failing readiness.
	Advisory bool
}

// Result is the outcome of one [Check].
type Result struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	TookMS int64  `json:"took_ms"`
}

// Report is the /readyz response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]Result `json:"checks,omitempty"`
}

type liveness struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
}

// Handler serves /healthz and /readyz. The check list is fixed at
// construction.
type Handler struct {
	checks  []Check
	version string
	started time.Time
}

// New returns a Handler evaluating checks on every /readyz request.
func New(version string, checks ...Check) *Handler {
	return &Handler{
		checks:  append([]Check(nil), checks...),
		version: version,
		started: time.Now(),
	}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveness{
		Status:  StatusOK,
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Evaluate runs all checks concurrently and aggregates the results.
func (h *Handler) Evaluate(ctx context.Context) Report {
	results := make([]Result, len(h.checks))
	var g errgroup.Group
	for i, c := range h.checks {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			began := time.Now()
			err := c.Probe(pctx)
			res := Result{Status: StatusOK, TookMS: time.Since(began).Milliseconds()}
			if err != nil {
				res.Status, res.Error = StatusFail, err.Error()
				if c.Advisory {
					res.Status = StatusWarn
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK}
	if len(h.checks) > 0 {
		rep.Checks = make(map[string]Result, len(h.checks))
	}
	for i, c := range h.checks {
		rep.Checks[c.Name] = results[i]
		if results[i].Status == StatusFail {
			rep.Status = StatusFail
		}
	}
	return rep
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// SignatureLoaded fails until loaded reports true.
func SignatureLoaded(loaded func() bool) Check {
	return Check{
		Name: "signature",
		Probe: func(context.Context) error {
			if !loaded() {
				return errNotLoaded
			}
			return nil
		},
	}
}

// Listening warns while the detection session is not capturing audio. It
// is advisory: an idle detector is still ready to be started.
func Listening(active func() bool) Check {
	return Check{
		Name:     "session",
		Advisory: true,
		Probe: func(context.Context) error {
			if !active() {
				return errInactive
			}
			return nil
		},
	}
}

// Store probes a storage backend with ping.
func Store(name string, ping func(ctx context.Context) error) Check {
	return Check{Name: name, Probe: ping}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package health provides HTTP liveness and readiness handlers for the
// readaloud server.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 unless a required [Checker]
//     fails. Failing optional checkers only mark the response "degraded".
//
// Responses are JSON objects with a top-level "status" field ("ok",
// "degraded" or "fail") and a "checks" map containing the result of each
// named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/readaloud/internal/resilience"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Response status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy.
type Checker struct {
	// Name is the key of this check in the JSON response (e.g. "bookmarks").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Optional checks never fail readiness. Reading can go on without the
	// dependency, only worse (e.g. bookmarks not persisted).
	Optional bool
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers liveness and readiness probes. Checkers are fixed by [New].
type Handler struct {
	checkers []Checker
}

// New returns a [Handler] running checkers in order on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// Healthz reports the process alive. It never consults the checkers.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Readyz answers 503 when a required checker fails and 200 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.evaluate(r.Context())
	code := http.StatusOK
	if res.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// evaluate runs each checker under its own [checkTimeout].
func (h *Handler) evaluate(ctx context.Context) result {
	res := result{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()

		if err == nil {
			res.Checks[c.Name] = "ok"
			continue
		}
		if c.Optional {
			res.Checks[c.Name] = "degraded: " + err.Error()
			if res.Status != StatusFail {
				res.Status = StatusDegraded
			}
			continue
		}
		res.Checks[c.Name] = "fail: " + err.Error()
		res.Status = StatusFail
	}
	return res
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ---- checkers ----

// Pinger is implemented by dependencies that can be probed, such as the
// Postgres bookmark store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a checker that calls p.Ping.
func Ping(name string, p Pinger, optional bool) Checker {
	return Checker{Name: name, Check: p.Ping, Optional: optional}
}

// Breakers returns a checker that fails once every circuit breaker reported
// by states is open, i.e. no synthesis endpoint for a language would even be
// tried. A route with at least one closed or half-open endpoint passes.
func Breakers(name string, states func() map[string]resilience.State) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			st := states()
			if len(st) == 0 {
				return errors.New("no endpoints")
			}
			var open []string
			for endpoint, s := range st {
				if s != resilience.StateOpen {
					return nil
				}
				open = append(open, endpoint)
			}
			slices.Sort(open)
			return fmt.Errorf("all circuit breakers open: %s", strings.Join(open, ", "))
		},
	}
}

func writeJSON(w http.ResponseWriter, code int, v result) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

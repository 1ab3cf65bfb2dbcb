// Package health gates stream placement on engine readiness.
//
// The server answers /healthz as a plain liveness signal and /readyz by
// running every registered [Check] — typically the shared recognizer and the
// neural VAD classifier. A 503 from /readyz tells the load balancer to keep
// new audio streams away from an instance whose models are not loaded yet,
// without tearing down streams already in flight.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds one readiness check. Model loads happen at startup and
// session open, so a ready instance answers well inside this.
const checkTimeout = 3 * time.Second

// Check names one readiness dependency. Run returns nil when the dependency
// can serve a new stream and an error describing what is missing otherwise.
type Check struct {
	// Name keys the check in the /readyz response, e.g. "engines".
	Name string

	// Run evaluates the dependency. It must honor ctx cancellation.
	Run func(ctx context.Context) error
}

// checkResult is the per-check section of the /readyz body. Elapsed lets an
// operator spot a check that passes but is close to the timeout.
type checkResult struct {
	Status    string `json:"status"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

// report is the response body for both endpoints.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Endpoints serves /healthz and /readyz. The check list is fixed at
// construction; evaluation happens per request, so Endpoints is safe for
// concurrent use.
type Endpoints struct {
	checks []Check
}

// New returns Endpoints evaluating the given checks, in order, on every
// /readyz request.
func New(checks ...Check) *Endpoints {
	c := make([]Check, len(checks))
	copy(c, checks)
	return &Endpoints{checks: c}
}

// Healthz reports liveness. A process that can still serve HTTP is alive, so
// this always answers 200.
func (e *Endpoints) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every check under a [checkTimeout] deadline derived from the
// request context and answers 503 unless all of them pass.
func (e *Endpoints) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{
		Status: "ok",
		Checks: make(map[string]checkResult, len(e.checks)),
	}
	code := http.StatusOK

	for _, c := range e.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		start := time.Now()
		err := c.Run(ctx)
		cancel()

		res := checkResult{Status: "ok", ElapsedMs: time.Since(start).Milliseconds()}
		if err != nil {
			res.Status = "unavailable"
			res.Error = err.Error()
			rep.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
		rep.Checks[c.Name] = res
	}

	respond(w, code, rep)
}

// Register adds both endpoints to mux.
func (e *Endpoints) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", e.Healthz)
	mux.HandleFunc("GET /readyz", e.Readyz)
}

func respond(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

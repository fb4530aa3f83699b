package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type healthReport struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version,omitempty"`
	Checks  map[string]checkResult `json:"checks"`
}

// runChecks pings the database and, when configured, Redis.
func runChecks(ctx context.Context, deps AppDeps) healthReport {
	report := healthReport{
		Status:  "healthy",
		Service: "intake",
		Version: deps.Version,
		Checks:  make(map[string]checkResult),
	}
	record := func(name string, err error) {
		if err != nil {
			report.Checks[name] = checkResult{Status: "unhealthy", Message: name + " connection failed: " + err.Error()}
			report.Status = "unhealthy"
			return
		}
		report.Checks[name] = checkResult{Status: "healthy", Message: name + " connection successful"}
	}

	if deps.Store != nil {
		record("database", deps.Store.Ping())
	}
	if deps.Redis != nil {
		pctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		record("redis", deps.Redis.Ping(pctx))
		cancel()
	}
	return report
}

func handleHealthDetailed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := runChecks(r.Context(), deps)
		code := http.StatusOK
		if report.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func handleHealthReady(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := runChecks(r.Context(), deps)
		if report.Status != "healthy" {
			var failing []string
			for name, c := range report.Checks {
				if c.Status != "healthy" {
					failing = append(failing, name)
				}
			}
			sort.Strings(failing)
			httpError(w, http.StatusServiceUnavailable, "api_error", "service not ready: %s", strings.Join(failing, ", "))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

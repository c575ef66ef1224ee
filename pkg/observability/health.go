package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Probe checks one dependency of the conversation pipeline. A failing
// critical probe takes the service out of readiness; a failing
// non-critical probe only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Run      func(context.Context) error
}

// StoreProbe reports whether the transcript store accepts writes. The
// store is the system of record, so it is critical: a session served
// while the store is down would lose turns.
func StoreProbe(flush func(context.Context) error) Probe {
	return Probe{Name: "transcript_store", Critical: true, Timeout: 5 * time.Second, Run: flush}
}

// LLMProbe reports whether the language model upstream answers. Not
// critical: the service degrades per request and retries, it does not
// need restarting.
func LLMProbe(name string, ping func(context.Context) error) Probe {
	return Probe{Name: "llm_" + name, Critical: false, Timeout: 10 * time.Second, Run: ping}
}

// CacheProbe reports whether the history cache answers. The cache is an
// optimization over store replay, never critical.
func CacheProbe(ping func(context.Context) error) Probe {
	return Probe{Name: "history_cache", Critical: false, Timeout: 2 * time.Second, Run: ping}
}

// Health runs the registered probes on demand for the health endpoints.
type Health struct {
	probes  []Probe
	started time.Time
}

// NewHealth builds a Health over the service's dependency probes.
func NewHealth(probes ...Probe) *Health {
	return &Health{probes: probes, started: time.Now()}
}

// Overall statuses, ordered by severity.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusDown     = "down"
)

type probeResult struct {
	Status  string `json:"status"`
	Latency string `json:"latency"`
	Error   string `json:"error,omitempty"`
}

type healthReport struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime"`
	Probes map[string]probeResult `json:"probes"`
}

func (h *Health) report(ctx context.Context) healthReport {
	rep := healthReport{
		Status: statusOK,
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Probes: make(map[string]probeResult, len(h.probes)),
	}

	for _, p := range h.probes {
		res := runProbe(ctx, p)
		rep.Probes[p.Name] = res
		if res.Status == statusOK {
			continue
		}
		if p.Critical {
			rep.Status = statusDown
		} else if rep.Status == statusOK {
			rep.Status = statusDegraded
		}
	}
	return rep
}

func runProbe(ctx context.Context, p Probe) probeResult {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.Run(ctx)
	res := probeResult{Status: statusOK, Latency: time.Since(start).Round(time.Millisecond).String()}
	if err != nil {
		res.Status = statusDown
		res.Error = err.Error()
	}
	return res
}

// Handler serves the full health report, 503 when a critical probe fails.
func (h *Health) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := h.report(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if rep.Status == statusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(rep)
	}
}

// ReadyHandler serves a status-only readiness probe.
func (h *Health) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := h.report(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if rep.Status == statusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": rep.Status})
	}
}

package pipeline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/soknadflow/internal/runtime/jsoncodec"
	"github.com/drblury/soknadflow/internal/runtime/lifecycle"
)

// Health surface paths.
const (
	PathAlive   = "/internal/isAlive"
	PathReady   = "/internal/isReady"
	PathStages  = "/internal/stages"
	PathMetrics = "/internal/metrics"
)

type healthResponse struct {
	Status string             `json:"status"`
	Stages []lifecycle.Status `json:"stages,omitempty"`
}

// HealthHandler serves liveness, readiness and stage status for p. Metrics
// are served from gatherer when it is not nil.
func HealthHandler(p *Pipeline, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+PathAlive, func(w http.ResponseWriter, r *http.Request) {
		health := p.Healthy()
		code := http.StatusOK
		if health != lifecycle.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, healthResponse{Status: health.String()})
	})

	mux.HandleFunc("GET "+PathReady, func(w http.ResponseWriter, r *http.Request) {
		ready := p.Ready()
		code := http.StatusOK
		if ready != lifecycle.Ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, healthResponse{Status: ready.String()})
	})

	mux.HandleFunc("GET "+PathStages, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status: p.Healthy().String(),
			Stages: p.Statuses(),
		})
	})

	if gatherer != nil {
		mux.Handle("GET "+PathMetrics, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = jsoncodec.Encode(w, v)
}

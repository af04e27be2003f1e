package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the aggregated system health as JSON. Healthy and
// degraded systems answer 200 so orchestrators keep routing during
// partial degradation; only a fully unhealthy system answers 503.
func Handler(monitor *Monitor, systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := monitor.AggregateHealth(systemName)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}

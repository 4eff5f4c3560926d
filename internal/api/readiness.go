package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// readinessState tracks what /api/ready reports. The daemon flips the
// flags as subsystems come up or drop. An optional dependency that is
// down degrades service but does not make the desk unready.
type readinessState struct {
	mu                sync.RWMutex
	engineReady       bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

var readiness = &readinessState{}

// SetEngineReady marks the execution engine as wired and serving.
func SetEngineReady(ready bool) {
	readiness.mu.Lock()
	readiness.engineReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records broker connectivity. optional marks a desk
// running on the simulator, where the broker is not required.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetPostgresState records database connectivity. optional marks a
// desk running without persistence.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

// CheckResult is one dependency's entry in the readiness response.
type CheckResult struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

// ReadinessResponse is the /api/ready body.
type ReadinessResponse struct {
	Ready       bool                   `json:"ready"`
	Checks      map[string]CheckResult `json:"checks"`
	NotReadyMsg string                 `json:"message,omitempty"`
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	engineReady := readiness.engineReady
	mqttConnected := readiness.mqttConnected
	mqttOptional := readiness.mqttOptional
	postgresConnected := readiness.postgresConnected
	postgresOptional := readiness.postgresOptional
	readiness.mu.RUnlock()

	checks := make(map[string]CheckResult, 3)
	var reasons []string

	if engineReady {
		checks["engine"] = CheckResult{Status: "ok"}
	} else {
		checks["engine"] = CheckResult{Status: "not_ready"}
		reasons = append(reasons, "engine not ready")
	}

	checks["mqtt"] = dependencyCheck(mqttConnected, mqttOptional)
	if !mqttConnected && !mqttOptional {
		reasons = append(reasons, "mqtt not connected")
	}

	checks["postgres"] = dependencyCheck(postgresConnected, postgresOptional)
	if !postgresConnected && !postgresOptional {
		reasons = append(reasons, "postgres not connected")
	}

	resp := ReadinessResponse{
		Ready:  len(reasons) == 0,
		Checks: checks,
	}
	if !resp.Ready {
		resp.NotReadyMsg = strings.Join(reasons, "; ")
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func dependencyCheck(connected, optional bool) CheckResult {
	switch {
	case connected:
		return CheckResult{Status: "ok", Optional: optional}
	case optional:
		return CheckResult{Status: "unavailable", Optional: true}
	default:
		return CheckResult{Status: "not_ready"}
	}
}

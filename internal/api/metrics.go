package api

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/version"
)

// Metrics state
var (
	metricsState = &MetricsState{}
)

// MetricsState holds runtime metrics for the /metrics endpoint. The
// counters are bumped by CountEvent off the engine's event stream.
type MetricsState struct {
	mu              sync.RWMutex
	startTime       time.Time
	deskID          string
	runsStarted     int64
	runsCompleted   int64
	stepsCompleted  int64
	violations      int64
	emergencyPauses int64
}

// InitMetrics initializes the metrics system. Must be called at startup.
func InitMetrics() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
	metricsState.runsStarted = 0
	metricsState.runsCompleted = 0
	metricsState.stepsCompleted = 0
	metricsState.violations = 0
	metricsState.emergencyPauses = 0
}

// SetDeskID sets the desk id for metrics labels.
func SetDeskID(id string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.deskID = id
}

// GetDeskID returns the current desk id.
func GetDeskID() string {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	return metricsState.deskID
}

// CountEvent bumps the run, step and safety counters. The daemon wires
// it as the engine's observer.
func CountEvent(kind string, fields map[string]interface{}) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	switch kind {
	case events.Started:
		metricsState.runsStarted++
	case events.Completed:
		metricsState.runsCompleted++
	case events.StepCompleted:
		metricsState.stepsCompleted++
	case events.SafetyViolation:
		metricsState.violations++
	case events.EmergencyPause:
		metricsState.emergencyPauses++
	}
}

// metricsHandler returns Prometheus-compatible metrics in text format.
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Gather metrics
	metricsState.mu.RLock()
	startTime := metricsState.startTime
	deskID := metricsState.deskID
	runsStarted := metricsState.runsStarted
	runsCompleted := metricsState.runsCompleted
	stepsCompleted := metricsState.stepsCompleted
	violations := metricsState.violations
	emergencyPauses := metricsState.emergencyPauses
	metricsState.mu.RUnlock()

	uptime := time.Since(startTime).Seconds()
	eventsTotal := events.TotalCount()

	readiness.mu.RLock()
	mqttConnected := readiness.mqttConnected
	postgresConnected := readiness.postgresConnected
	readiness.mu.RUnlock()

	wsClients := events.SubscriberCount()

	runActive, runPaused := 0, 0
	if engine != nil {
		st := engine.Status()
		if st.IsRunning {
			runActive = 1
		}
		if st.IsPaused {
			runPaused = 1
		}
	}

	safetyEnabled := 0
	if safetyEngine != nil && safetyEngine.Enabled() {
		safetyEnabled = 1
	}

	programsAvailable := 0
	if library != nil {
		programsAvailable = library.Len()
	}

	mqttConnectedVal := 0
	if mqttConnected {
		mqttConnectedVal = 1
	}

	postgresConnectedVal := 0
	if postgresConnected {
		postgresConnectedVal = 1
	}

	// Get hostname for instance label
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	// Build Prometheus text format response
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper to write metric with optional labels
	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		if labels != "" {
			fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
		} else {
			fmt.Fprintf(w, "%s %v\n", name, value)
		}
	}

	// Common labels
	labels := fmt.Sprintf(`desk="%s",instance="%s",version="%s"`, deskID, hostname, version.Version)

	// Uptime
	writeMetric("desk_uptime_seconds", "gauge",
		"Number of seconds since the desk daemon started", uptime, labels)

	// Run state
	writeMetric("desk_run_active", "gauge",
		"Whether a run is executing (1) or not (0)", runActive, labels)

	writeMetric("desk_run_paused", "gauge",
		"Whether the current run is paused (1) or not (0)", runPaused, labels)

	// Run and step counters
	writeMetric("desk_runs_started_total", "counter",
		"Total number of runs started since startup", runsStarted, labels)

	writeMetric("desk_runs_completed_total", "counter",
		"Total number of runs completed since startup", runsCompleted, labels)

	writeMetric("desk_steps_completed_total", "counter",
		"Total number of steps completed since startup", stepsCompleted, labels)

	// Safety
	writeMetric("desk_safety_enabled", "gauge",
		"Whether safety checking is enabled (1) or not (0)", safetyEnabled, labels)

	writeMetric("desk_safety_violations_total", "counter",
		"Total number of safety violations since startup", violations, labels)

	writeMetric("desk_emergency_pauses_total", "counter",
		"Total number of monitor-triggered emergency pauses since startup", emergencyPauses, labels)

	// Events total
	writeMetric("desk_events_total", "counter",
		"Total number of events emitted since startup", eventsTotal, labels)

	// Program library
	writeMetric("desk_programs_available", "gauge",
		"Number of programs in the library", programsAvailable, labels)

	// MQTT connected
	writeMetric("desk_mqtt_connected", "gauge",
		"Whether the MQTT broker is connected (1) or not (0)", mqttConnectedVal, labels)

	// Postgres connected
	writeMetric("desk_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", postgresConnectedVal, labels)

	// WebSocket clients
	writeMetric("desk_ws_clients", "gauge",
		"Number of active WebSocket client connections", wsClients, labels)
}

// Package api is the desk's control plane: a JSON HTTP surface over
// the execution engine, the program library and the safety system,
// plus a websocket event stream, Prometheus metrics, basic-auth roles
// and optional TLS. The daemon injects its singletons through the Set*
// functions before starting the server.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/config"
	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/executor"
	"github.com/AaronLay10/ScratchDesk/internal/program"
	"github.com/AaronLay10/ScratchDesk/internal/safety"
	"github.com/AaronLay10/ScratchDesk/internal/storage/postgres"
)

var (
	engine       *executor.Engine
	safetyEngine *safety.Engine
	library      *program.Library
	deskCfg      *config.DeskConfig
)

// SetEngine injects the execution engine.
func SetEngine(e *executor.Engine) {
	engine = e
}

// SetSafetyEngine injects the safety rule engine.
func SetSafetyEngine(e *safety.Engine) {
	safetyEngine = e
}

// SetProgramLibrary injects the program library.
func SetProgramLibrary(l *program.Library) {
	library = l
}

// SetConfig injects the desk configuration, used for default paper
// offsets and desk size validation.
func SetConfig(c *config.DeskConfig) {
	deskCfg = c
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "deskd",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// StatusResponse is the combined desk view: execution engine state,
// the safety system's switches and counters, and run totals once any
// steps have executed.
type StatusResponse struct {
	Execution executor.Status   `json:"execution"`
	Safety    safety.Status     `json:"safety"`
	Summary   *executor.Summary `json:"summary,omitempty"`
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if engine == nil || safetyEngine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "engine not wired"})
		return
	}

	resp := StatusResponse{
		Execution: engine.Status(),
		Safety:    safetyEngine.Status(),
		Summary:   engine.Summary(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// ProgramSummary is one library entry in the programs listing.
type ProgramSummary struct {
	ProgramNumber int     `json:"program_number"`
	ProgramName   string  `json:"program_name"`
	ActualWidth   float64 `json:"actual_width"`
	ActualHeight  float64 `json:"actual_height"`
	NumberOfLines int     `json:"number_of_lines"`
	NumberOfPages int     `json:"number_of_pages"`
	Valid         bool    `json:"valid"`
}

func programsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if library == nil || deskCfg == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "program library not wired"})
		return
	}

	programs := library.List()
	out := make([]ProgramSummary, 0, len(programs))
	for _, p := range programs {
		out = append(out, ProgramSummary{
			ProgramNumber: p.ProgramNumber,
			ProgramName:   p.ProgramName,
			ActualWidth:   p.ActualWidth(),
			ActualHeight:  p.ActualHeight(),
			NumberOfLines: p.NumberOfLines,
			NumberOfPages: p.NumberOfPages,
			Valid:         p.Valid(deskCfg.Desk.WidthCM, deskCfg.Desk.HeightCM),
		})
	}
	_ = json.NewEncoder(w).Encode(out)
}

// LoadRequest optionally overrides the configured paper offsets.
type LoadRequest struct {
	XOffset *float64 `json:"x_offset"`
	YOffset *float64 `json:"y_offset"`
}

// LoadResponse reports the outcome of arming the engine with a program.
type LoadResponse struct {
	OK               bool     `json:"ok"`
	Error            string   `json:"error,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
	StepsTotal       int      `json:"steps_total,omitempty"`
}

func programLoadHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if engine == nil || library == nil || deskCfg == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(LoadResponse{Error: "engine not wired"})
		return
	}

	number, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(LoadResponse{Error: "invalid program number"})
		return
	}

	// The offsets body is optional; an empty body keeps the configured
	// paper position.
	var req LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(LoadResponse{Error: "invalid JSON"})
		return
	}

	p, ok := library.Get(number)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(LoadResponse{Error: fmt.Sprintf("program %d not found", number)})
		return
	}

	if errs := p.Validate(deskCfg.Desk.WidthCM, deskCfg.Desk.HeightCM); len(errs) > 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(LoadResponse{
			Error:            "program failed validation",
			ValidationErrors: errs,
		})
		return
	}

	off := program.Offsets{X: deskCfg.Desk.PaperOffsetX, Y: deskCfg.Desk.PaperOffsetY}
	if req.XOffset != nil {
		off.X = *req.XOffset
	}
	if req.YOffset != nil {
		off.Y = *req.YOffset
	}

	if err := engine.LoadProgram(p, off); err != nil {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(LoadResponse{Error: err.Error()})
		return
	}

	_ = json.NewEncoder(w).Encode(LoadResponse{OK: true, StepsTotal: engine.Status().TotalSteps})
}

// OperatorResponse is the stock body for operator command endpoints.
type OperatorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// commandHandler adapts an engine command into a POST endpoint. State
// machine refusals (already running, not paused, ...) come back as 409.
func commandHandler(run func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if engine == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "engine not wired"})
			return
		}
		if err := run(); err != nil {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: true})
	}
}

// GoToRequest targets a step index for manual navigation.
type GoToRequest struct {
	Step *int `json:"step"`
}

func stepGoToHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "engine not wired"})
		return
	}

	var req GoToRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "invalid JSON"})
		return
	}
	if req.Step == nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: "step required"})
		return
	}

	if err := engine.GoToStep(*req.Step); err != nil {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(OperatorResponse{OK: false, Error: err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(OperatorResponse{OK: true})
}

// ExecuteStepResponse carries the result of a manually executed step.
// OK means the request was processed; a safety refusal still comes
// back OK with the violation in the result.
type ExecuteStepResponse struct {
	OK     bool             `json:"ok"`
	Error  string           `json:"error,omitempty"`
	Result *executor.Result `json:"result,omitempty"`
}

func stepExecuteHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(ExecuteStepResponse{Error: "engine not wired"})
		return
	}

	res, err := engine.ExecuteCurrentStep()
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ExecuteStepResponse{Error: err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(ExecuteStepResponse{OK: true, Result: res})
}

func resultsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "engine not wired"})
		return
	}

	results := engine.Results()
	if results == nil {
		results = []executor.StepResult{}
	}
	_ = json.NewEncoder(w).Encode(results)
}

func safetyRulesHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if safetyEngine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "safety engine not wired"})
		return
	}

	doc, err := safetyEngine.Document()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(doc)
}

// ReloadResponse reports the outcome of a forced rules reload.
type ReloadResponse struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	RulesCount int    `json:"rules_count,omitempty"`
}

func safetyReloadHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if safetyEngine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(ReloadResponse{Error: "safety engine not wired"})
		return
	}

	safetyEngine.ReloadRules()
	doc, err := safetyEngine.Document()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ReloadResponse{Error: err.Error()})
		return
	}

	events.Emit("info", events.RulesReloaded, "safety rules reloaded", map[string]interface{}{
		"rules_count": len(doc.Rules),
	})

	_ = json.NewEncoder(w).Encode(ReloadResponse{OK: true, RulesCount: len(doc.Rules)})
}

func safetyViolationsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if safetyEngine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "safety engine not wired"})
		return
	}

	violations := safetyEngine.Violations()
	if violations == nil {
		violations = []safety.LogEntry{}
	}
	_ = json.NewEncoder(w).Encode(violations)
}

func runsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	pg := events.GetPostgresClient()
	if pg == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "run history requires postgres"})
		return
	}

	runs, err := pg.QueryRuns(queryLimit(r, 50))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []postgres.RunRow{}
	}
	_ = json.NewEncoder(w).Encode(runs)
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// A run_id filter reaches past the ring buffer into the persisted
	// stream, so it needs the database.
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		pg := events.GetPostgresClient()
		if pg == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "run event history requires postgres"})
			return
		}
		rows, err := pg.QueryEvents(runID, queryLimit(r, 200))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if rows == nil {
			rows = []postgres.EventRow{}
		}
		_ = json.NewEncoder(w).Encode(rows)
		return
	}

	if limit := queryLimit(r, 0); limit > 0 {
		_ = json.NewEncoder(w).Encode(events.RecentEvents(limit))
		return
	}
	_ = json.NewEncoder(w).Encode(events.Snapshot())
}

// queryLimit parses ?limit=, falling back to def on absent or bad input.
func queryLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// buildMux wires every route. Probes and metrics stay open; everything
// else needs a role once auth is configured.
func buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", healthHandler)
	mux.HandleFunc("GET /api/ready", readyHandler)
	mux.HandleFunc("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /ws/events", wsEventsHandler)

	mux.HandleFunc("GET /api/status", RequireAnyRole(statusHandler))
	mux.HandleFunc("GET /api/events", RequireAnyRole(eventsHandler))

	mux.HandleFunc("GET /api/programs", RequireAnyRole(programsHandler))
	mux.HandleFunc("POST /api/programs/{n}/load", RequireAnyRole(programLoadHandler))

	mux.HandleFunc("POST /api/execution/start", RequireAnyRole(commandHandler(func() error { return engine.Start() })))
	mux.HandleFunc("POST /api/execution/pause", RequireAnyRole(commandHandler(func() error { return engine.Pause() })))
	mux.HandleFunc("POST /api/execution/resume", RequireAnyRole(commandHandler(func() error { return engine.Resume() })))
	mux.HandleFunc("POST /api/execution/stop", RequireAnyRole(commandHandler(func() error { return engine.Stop() })))
	mux.HandleFunc("POST /api/execution/reset", RequireAnyRole(commandHandler(func() error { return engine.Reset() })))

	mux.HandleFunc("POST /api/execution/step/forward", RequireAnyRole(commandHandler(func() error { return engine.StepForward() })))
	mux.HandleFunc("POST /api/execution/step/back", RequireAnyRole(commandHandler(func() error { return engine.StepBackward() })))
	mux.HandleFunc("POST /api/execution/step/goto", RequireAnyRole(stepGoToHandler))
	mux.HandleFunc("POST /api/execution/step/execute", RequireAnyRole(stepExecuteHandler))
	mux.HandleFunc("GET /api/execution/results", RequireAnyRole(resultsHandler))

	mux.HandleFunc("GET /api/safety/rules", RequireAdmin(safetyRulesHandler))
	mux.HandleFunc("POST /api/safety/reload", RequireAdmin(safetyReloadHandler))
	mux.HandleFunc("GET /api/safety/violations", RequireAnyRole(safetyViolationsHandler))

	mux.HandleFunc("GET /api/runs", RequireAnyRole(runsHandler))

	return mux
}

// ListenAndServe starts the API server on the given port, with TLS
// when certificates are configured. It blocks until the server exits.
func ListenAndServe(port int) error {
	mux := buildMux()
	addr := fmt.Sprintf(":%d", port)

	if cfg := LoadTLSConfig(); cfg != nil {
		srv := &http.Server{Addr: addr, Handler: mux, TLSConfig: cfg}
		log.Printf("API listening on %s (TLS)\n", addr)
		return srv.ListenAndServeTLS("", "")
	}

	log.Printf("API listening on %s\n", addr)
	return http.ListenAndServe(addr, mux)
}

// Start starts the API server in a goroutine.
// Errors are logged but do not stop the caller.
func Start(port int) {
	go func() {
		if err := ListenAndServe(port); err != nil {
			log.Printf("api server error: %v", err)
		}
	}()
}

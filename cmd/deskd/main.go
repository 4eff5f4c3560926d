// deskd is the desk controller daemon. It wires the hardware (local
// simulator or MQTT bridge), the safety rule engine, the execution
// engine and the program library, starts the control plane API, and
// runs until signalled.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/api"
	"github.com/AaronLay10/ScratchDesk/internal/config"
	"github.com/AaronLay10/ScratchDesk/internal/events"
	"github.com/AaronLay10/ScratchDesk/internal/executor"
	"github.com/AaronLay10/ScratchDesk/internal/hardware"
	"github.com/AaronLay10/ScratchDesk/internal/mqtt"
	"github.com/AaronLay10/ScratchDesk/internal/program"
	"github.com/AaronLay10/ScratchDesk/internal/safety"
	"github.com/AaronLay10/ScratchDesk/internal/storage/postgres"
	"github.com/AaronLay10/ScratchDesk/internal/version"
)

func main() {
	configPath := flag.String("config", "config/desk.yaml", "path to desk.yaml")
	flag.Parse()

	cfg, err := config.LoadDeskConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load desk.yaml: %v", err)
	}
	log.Printf("deskd %s starting, desk %s (%gx%g cm)",
		version.Version, cfg.Desk.ID, cfg.Desk.WidthCM, cfg.Desk.HeightCM)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres is optional: without PGHOST the desk runs from memory and
	// loses history across restarts.
	var pg *postgres.Client
	if os.Getenv("PGHOST") != "" {
		pg, err = postgres.New(cfg.Desk.ID)
		if err != nil {
			log.Printf("postgres unavailable, running without persistence: %v", err)
			pg = nil
		} else {
			events.SetPostgresClient(pg)
			defer pg.Close()
			log.Printf("postgres connected, desk history enabled")
		}
	}
	api.SetPostgresState(pg != nil, true)

	// Hardware: the MQTT bridge when a remote controller is configured,
	// the in-process simulator otherwise.
	var (
		hw         hardware.Interface
		mqttClient *mqtt.Client
		bridge     *mqtt.Bridge
		monitor    *mqtt.ConnMonitor
		publisher  *mqtt.StatusPublisher
	)
	if cfg.MQTT.Enabled {
		base := cfg.BaseTopic()
		mqttClient = mqtt.NewClient(cfg.Desk.ID, base+"/status/state")
		connected := mqttClient.StartWithRetry()

		bridge = mqtt.NewBridge(mqttClient, base)
		bridge.SensorWaitTimeout = cfg.Timing.SensorWaitTimeout.Std()
		if connected {
			if err := bridge.Start(); err != nil {
				log.Printf("mqtt: bridge subscribe failed: %v", err)
			}
		}
		hw = bridge

		// The monitor re-establishes the bridge's subscriptions after an
		// outage; paho handles the reconnect itself.
		monitor = mqtt.NewConnMonitor(mqttClient, func() {
			if err := bridge.Start(); err != nil {
				log.Printf("mqtt: bridge resubscribe failed: %v", err)
			}
		})
		monitor.Start(5 * time.Second)

		publisher = mqtt.NewStatusPublisher(mqttClient, base)
		publisher.Start()

		api.SetMQTTState(connected, false)
		go func() {
			t := time.NewTicker(5 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					api.SetMQTTState(mqttClient.IsConnected(), false)
				}
			}
		}()
	} else {
		sim := hardware.NewSimulator(cfg.Desk.WidthCM, cfg.Desk.HeightCM)
		sim.SensorWaitTimeout = cfg.Timing.SensorWaitTimeout.Std()
		hw = sim
		api.SetMQTTState(false, true)
		log.Printf("mqtt disabled, driving the simulator")
	}

	// A malformed rules file is fatal here. Running without safety rules
	// is not an option; fix the file (cmd/rulecheck pinpoints the error)
	// and restart.
	ruleEngine, err := safety.New(safety.NewFileStore(cfg.Paths.SafetyRules), hw)
	if err != nil {
		log.Fatalf("failed to load safety rules from %s: %v", cfg.Paths.SafetyRules, err)
	}

	eng := executor.New(hw, ruleEngine, cfg.Timing)
	eng.SetObserver(api.CountEvent)
	if pg != nil {
		eng.SetRunRecorder(pg)
	}

	lib := program.NewLibrary(cfg.Paths.ProgramDir)
	if err := lib.Reload(); err != nil {
		log.Printf("program library: %v", err)
	} else {
		log.Printf("program library: %d programs from %s", lib.Len(), lib.Dir())
	}
	watcher, err := program.NewWatcher(lib, 0)
	if err != nil {
		log.Printf("program watcher disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	api.InitAuth()
	api.InitTLS(cfg.API.TLSCert, cfg.API.TLSKey)
	api.InitMetrics()
	api.SetDeskID(cfg.Desk.ID)
	api.SetEngine(eng)
	api.SetSafetyEngine(ruleEngine)
	api.SetProgramLibrary(lib)
	api.SetConfig(cfg)
	api.SetEngineReady(true)
	api.Start(cfg.APIPort())

	events.Emit("info", events.SystemStartup, "desk daemon started", map[string]interface{}{
		"desk_id": cfg.Desk.ID,
		"version": version.Version,
		"pid":     os.Getpid(),
	})

	<-ctx.Done()
	log.Printf("deskd: shutting down")

	api.SetEngineReady(false)
	if eng.Running() {
		if err := eng.Stop(); err != nil {
			log.Printf("deskd: stop run: %v", err)
		}
	}

	// Emitted before the publisher stops so the shutdown still reaches
	// the status tree.
	events.Emit("info", events.SystemShutdown, "desk daemon stopping", map[string]interface{}{
		"desk_id": cfg.Desk.ID,
	})

	if publisher != nil {
		publisher.Stop()
	}
	if monitor != nil {
		monitor.Stop()
	}
	if bridge != nil {
		bridge.Close()
	}
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	events.CloseAllSubscribers()
}

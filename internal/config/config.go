package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml values like "50ms" decode.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type DeskConfig struct {
	Version int `yaml:"version"`
	Desk    struct {
		ID           string  `yaml:"id"`
		WidthCM      float64 `yaml:"width_cm"`
		HeightCM     float64 `yaml:"height_cm"`
		PaperOffsetX float64 `yaml:"paper_offset_x_cm"`
		PaperOffsetY float64 `yaml:"paper_offset_y_cm"`
	} `yaml:"desk"`
	API struct {
		Port    int    `yaml:"port"`
		TLSCert string `yaml:"tls_cert"`
		TLSKey  string `yaml:"tls_key"`
	} `yaml:"api"`
	MQTT struct {
		Enabled   bool   `yaml:"enabled"`
		BaseTopic string `yaml:"base_topic"`
	} `yaml:"mqtt"`
	Paths struct {
		SafetyRules string `yaml:"safety_rules"`
		ProgramDir  string `yaml:"program_dir"`
	} `yaml:"paths"`
	Timing Timing `yaml:"timing"`
}

// Timing holds the poll intervals and timeouts for the execution and
// safety-monitor loops. Unset fields get stock values in ApplyDefaults
// so a partial timing block stays usable.
type Timing struct {
	ExecutionLoopDelay    Duration `yaml:"execution_loop_delay"`
	SafetyCheckInterval   Duration `yaml:"safety_check_interval"`
	SafetyMaxWait         Duration `yaml:"safety_max_wait"`
	TransitionPoll        Duration `yaml:"transition_poll_interval"`
	TransitionStableDelay Duration `yaml:"transition_stable_delay"`
	SensorWaitTimeout     Duration `yaml:"sensor_wait_timeout"`
	JoinTimeoutExecution  Duration `yaml:"join_timeout_execution"`
	JoinTimeoutMonitor    Duration `yaml:"join_timeout_monitor"`
}

// ApplyDefaults fills any unset timing field with the stock value.
func (t *Timing) ApplyDefaults() {
	if t.ExecutionLoopDelay == 0 {
		t.ExecutionLoopDelay = Duration(50 * time.Millisecond)
	}
	if t.SafetyCheckInterval == 0 {
		t.SafetyCheckInterval = Duration(100 * time.Millisecond)
	}
	if t.SafetyMaxWait == 0 {
		t.SafetyMaxWait = Duration(30 * time.Second)
	}
	if t.TransitionPoll == 0 {
		t.TransitionPoll = Duration(500 * time.Millisecond)
	}
	if t.TransitionStableDelay == 0 {
		t.TransitionStableDelay = Duration(200 * time.Millisecond)
	}
	if t.SensorWaitTimeout == 0 {
		t.SensorWaitTimeout = Duration(5 * time.Minute)
	}
	if t.JoinTimeoutExecution == 0 {
		t.JoinTimeoutExecution = Duration(2 * time.Second)
	}
	if t.JoinTimeoutMonitor == 0 {
		t.JoinTimeoutMonitor = Duration(time.Second)
	}
}

// APIPort returns the configured API port, defaulting to 8090 if not set.
func (c *DeskConfig) APIPort() int {
	if c.API.Port == 0 {
		return 8090
	}
	return c.API.Port
}

// BaseTopic returns the MQTT topic namespace, defaulting to "scratchdesk".
func (c *DeskConfig) BaseTopic() string {
	if c.MQTT.BaseTopic == "" {
		return "scratchdesk"
	}
	return c.MQTT.BaseTopic
}

func LoadDeskConfig(path string) (*DeskConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg DeskConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported desk.yaml version: %d", cfg.Version)
	}

	if cfg.Desk.ID == "" {
		cfg.Desk.ID = "desk-01"
	}
	if cfg.Desk.WidthCM == 0 {
		cfg.Desk.WidthCM = 120
	}
	if cfg.Desk.HeightCM == 0 {
		cfg.Desk.HeightCM = 80
	}
	if cfg.Desk.PaperOffsetX == 0 {
		cfg.Desk.PaperOffsetX = 15
	}
	if cfg.Desk.PaperOffsetY == 0 {
		cfg.Desk.PaperOffsetY = 15
	}
	if cfg.Paths.SafetyRules == "" {
		cfg.Paths.SafetyRules = "config/safety_rules.json"
	}
	if cfg.Paths.ProgramDir == "" {
		cfg.Paths.ProgramDir = "programs"
	}
	cfg.Timing.ApplyDefaults()

	return &cfg, nil
}

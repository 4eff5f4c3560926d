package hardware

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Simulator is an in-process Interface implementation used when no real
// hardware is attached, and by the engine tests. Edge sensors are
// triggered manually (or by test code) through TriggerEdgeSensor.
type Simulator struct {
	mu      sync.Mutex
	x, y    float64
	maxX    float64
	maxY    float64
	pistons map[string]string
	door    string

	triggers map[string]chan struct{}

	// SensorWaitTimeout bounds WaitForEdgeSensor. Zero means the stock
	// 5 minute limit.
	SensorWaitTimeout time.Duration
}

// NewSimulator returns a simulator for a desk of the given dimensions
// with all tools in their rest positions: markers and cutters up, line
// motor piston down, rows door open (switch "up").
func NewSimulator(maxX, maxY float64) *Simulator {
	s := &Simulator{
		maxX: maxX,
		maxY: maxY,
		pistons: map[string]string{
			"line_marker": StateUp,
			"line_cutter": StateUp,
			"line_motor":  StateDown,
			"row_marker":  StateUp,
			"row_cutter":  StateUp,
		},
		door:     StateUp,
		triggers: make(map[string]chan struct{}),
	}
	for _, name := range []string{SensorXLeft, SensorXRight, SensorYTop, SensorYBottom} {
		s.triggers[name] = make(chan struct{}, 1)
	}
	return s
}

func clamp(pos, max float64) float64 {
	if pos < 0 {
		return 0
	}
	if pos > max {
		return max
	}
	return pos
}

func (s *Simulator) MoveX(position float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x = clamp(position, s.maxX)
	return nil
}

func (s *Simulator) MoveY(position float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.y = clamp(position, s.maxY)
	return nil
}

func (s *Simulator) CurrentX() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x
}

func (s *Simulator) CurrentY() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.y
}

func (s *Simulator) setPiston(tool, state string) error {
	key := PistonKey(tool)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pistons[key]; !ok {
		return fmt.Errorf("unknown tool: %s", tool)
	}
	s.pistons[key] = state
	return nil
}

func (s *Simulator) ToolUp(tool string) error {
	return s.setPiston(tool, StateUp)
}

func (s *Simulator) ToolDown(tool string) error {
	return s.setPiston(tool, StateDown)
}

func (s *Simulator) ToolState(tool string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pistons[PistonKey(tool)]
}

func (s *Simulator) LiftLineTools() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pistons["line_marker"] = StateUp
	s.pistons["line_cutter"] = StateUp
	return nil
}

func (s *Simulator) LowerLineTools() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pistons["line_marker"] = StateDown
	s.pistons["line_cutter"] = StateDown
	return nil
}

func (s *Simulator) MoveLineToolsToTop() error {
	if err := s.LiftLineTools(); err != nil {
		return err
	}
	return s.MoveY(s.maxY)
}

func (s *Simulator) DoorSwitch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.door
}

// SetDoorSwitch sets the rows motor door limit switch ("up" or "down").
func (s *Simulator) SetDoorSwitch(state string) {
	s.mu.Lock()
	s.door = state
	s.mu.Unlock()
}

// SetPosition places the head without a motion command (test helper).
func (s *Simulator) SetPosition(x, y float64) {
	s.mu.Lock()
	s.x, s.y = x, y
	s.mu.Unlock()
}

// TriggerEdgeSensor fires the named edge sensor once. A trigger that
// arrives while nothing is waiting stays buffered until consumed or
// flushed.
func (s *Simulator) TriggerEdgeSensor(name string) {
	ch, ok := s.triggers[name]
	if !ok {
		log.Printf("sim: trigger for unknown sensor %s ignored", name)
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Simulator) waitChannels(name string) (first, second chan struct{}, err error) {
	switch name {
	case SensorX:
		return s.triggers[SensorXLeft], s.triggers[SensorXRight], nil
	case SensorY:
		return s.triggers[SensorYTop], s.triggers[SensorYBottom], nil
	case SensorXLeft, SensorXRight, SensorYTop, SensorYBottom:
		return s.triggers[name], nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown sensor: %s", name)
	}
}

func (s *Simulator) WaitForEdgeSensor(name string, ctl WaitControl) error {
	first, second, err := s.waitChannels(name)
	if err != nil {
		return err
	}

	// Drop any trigger that fired before the wait started.
	drain(first)
	drain(second)

	timeout := s.SensorWaitTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		// A nil second channel blocks forever, which is what the
		// single-sensor waits want.
		select {
		case <-ctl.Stopped():
			return ErrWaitStopped
		case <-deadline.C:
			return ErrWaitTimeout
		case <-first:
		case <-second:
		}

		// Stop wins over a trigger that landed in the same instant.
		select {
		case <-ctl.Stopped():
			return ErrWaitStopped
		default:
		}

		if ctl.Paused() {
			// Trigger arrived during a safety pause: discard it and
			// keep waiting.
			log.Printf("sim: %s trigger ignored while paused", name)
			continue
		}
		return nil
	}
}

func drain(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
	}
}

func (s *Simulator) FlushSensorBuffers() {
	for _, ch := range s.triggers {
		drain(ch)
	}
}

func (s *Simulator) SignalAllSensorEvents() {
	for name := range s.triggers {
		s.TriggerEdgeSensor(name)
	}
}

func (s *Simulator) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	pistons := make(map[string]string, len(s.pistons))
	for k, v := range s.pistons {
		pistons[k] = v
	}

	return Snapshot{
		Pistons: pistons,
		Sensors: map[string]interface{}{
			"row_motor_limit_switch": s.door,
		},
		Positions: Position{X: s.x, Y: s.y},
	}
}

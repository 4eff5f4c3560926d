package mqtt

import (
	"log"
	"sync"
	"time"

	"github.com/AaronLay10/ScratchDesk/internal/events"
)

// ConnMonitor watches the broker connection and records transitions.
// Paho reconnects on its own; the monitor's job is to make outages
// visible (log line plus system_error event) and to run the registered
// hook after a reconnect so the hardware bridge can re-establish its
// subscriptions.
type ConnMonitor struct {
	client      *Client
	onReconnect func()

	mu         sync.RWMutex
	connected  bool
	lastChange time.Time
	drops      int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewConnMonitor creates a monitor for the given client. onReconnect
// may be nil.
func NewConnMonitor(client *Client, onReconnect func()) *ConnMonitor {
	return &ConnMonitor{
		client:      client,
		onReconnect: onReconnect,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the background connection check loop.
func (m *ConnMonitor) Start(checkInterval time.Duration) {
	m.mu.Lock()
	m.connected = m.client.IsConnected()
	m.lastChange = time.Now()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.checkLoop(checkInterval)
}

// Stop stops the background connection check loop.
func (m *ConnMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *ConnMonitor) checkLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *ConnMonitor) check() {
	now := m.client.IsConnected()

	m.mu.Lock()
	was := m.connected
	if now != was {
		m.connected = now
		m.lastChange = time.Now()
		if !now {
			m.drops++
		}
	}
	drops := m.drops
	m.mu.Unlock()

	if now == was {
		return
	}

	if now {
		log.Printf("mqtt: broker connection restored")
		if m.onReconnect != nil {
			m.onReconnect()
		}
		return
	}

	log.Printf("mqtt: broker connection lost")
	events.Emit("error", events.SystemError, "mqtt broker connection lost", map[string]interface{}{
		"component": "mqtt",
		"drops":     drops,
	})
}

// Connected reports the last observed connection state.
func (m *ConnMonitor) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Drops returns how many times the connection has dropped since Start.
func (m *ConnMonitor) Drops() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drops
}

// LastChange returns when the connection state last flipped.
func (m *ConnMonitor) LastChange() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChange
}

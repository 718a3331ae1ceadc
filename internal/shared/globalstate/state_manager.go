package globalstate

import (
	"sync"
)

// Simulator lifecycle states, reported as "state" by /api/status.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

// StatusManager guards the process wide lifecycle state.
type StatusManager struct {
	mu     sync.RWMutex
	status string
}

// GlobalStatus is the state of the running simulator.
var GlobalStatus = &StatusManager{status: StateStarting}

func (sm *StatusManager) Set(newStatus string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.status = newStatus
}

func (sm *StatusManager) Get() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.status
}

package app

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tc_eqpsim/internal/shared/logger"
	"tc_eqpsim/internal/shared/types"
)

const defaultExitGrace = 500 * time.Millisecond

// Coordinator decides when the process may exit: every EQP has completed its scenario
// and no PASSIVE connection is still open.
type Coordinator struct {
	total  int
	grace  time.Duration
	onExit func()
	log    zerolog.Logger

	mu          sync.Mutex
	completed   map[string]struct{}
	passiveOpen map[string]struct{}
	exitFired   atomic.Bool
}

var _ types.CompletionTracker = (*Coordinator)(nil)

// NewCoordinator returns a coordinator for total EQPs. total <= 0 disables auto exit.
func NewCoordinator(total int, onExit func()) *Coordinator {
	return &Coordinator{
		total:       total,
		grace:       defaultExitGrace,
		onExit:      onExit,
		log:         logger.WithComponent("lifecycle"),
		completed:   make(map[string]struct{}),
		passiveOpen: make(map[string]struct{}),
	}
}

func (c *Coordinator) MarkScenarioCompleted(eqpID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.completed[eqpID] = struct{}{}
	c.log.Info().Str("event", "scenario_global_progress").
		Str("eqp_id", eqpID).
		Int("completed", len(c.completed)).
		Int("total", c.total).Send()
	c.checkExitLocked()
}

func (c *Coordinator) MarkPassiveOpened(eqpID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.passiveOpen[eqpID] = struct{}{}
	c.log.Info().Str("event", "passive_channel_opened").
		Str("eqp_id", eqpID).
		Int("passive_open", len(c.passiveOpen)).Send()
}

func (c *Coordinator) MarkPassiveClosed(eqpID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.passiveOpen[eqpID]; !ok {
		return
	}
	delete(c.passiveOpen, eqpID)
	c.log.Info().Str("event", "passive_channel_closed").
		Str("eqp_id", eqpID).
		Int("passive_open", len(c.passiveOpen)).Send()
	c.checkExitLocked()
}

func (c *Coordinator) checkExitLocked() {
	if c.total <= 0 || len(c.completed) < c.total {
		return
	}
	if len(c.passiveOpen) > 0 {
		c.log.Info().Str("event", "process_exit_waiting_passive_close").
			Int("passive_open", len(c.passiveOpen)).Send()
		return
	}
	if !c.exitFired.CompareAndSwap(false, true) {
		return
	}
	c.log.Info().Str("event", "process_exit_scheduled").
		Int("completed", len(c.completed)).
		Dur("grace", c.grace).Send()
	go func() {
		time.Sleep(c.grace)
		if c.onExit != nil {
			c.onExit()
		}
	}()
}

func (c *Coordinator) IsCompleted(eqpID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.completed[eqpID]
	return ok
}

func (c *Coordinator) CompletedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.completed)
}

func (c *Coordinator) PassiveOpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.passiveOpen)
}

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tc_eqpsim/internal/core/registry"
	"tc_eqpsim/internal/core/scenario"
	"tc_eqpsim/internal/core/transport"
	"tc_eqpsim/internal/service/web"
	"tc_eqpsim/internal/shared/config"
	"tc_eqpsim/internal/shared/globalstate"
	"tc_eqpsim/internal/shared/logger"
	"tc_eqpsim/internal/shared/metrics"
	"tc_eqpsim/internal/shared/types"
)

const (
	statsInterval   = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Simulator wires configuration, registries, transport and the web monitor together.
type Simulator struct {
	cfg *types.Config

	registry    *registry.Registry
	scenarios   *scenario.Registry
	coordinator *Coordinator
	transport   *transport.Transport

	hub *web.Hub
	web *web.Server

	waitGroup sync.WaitGroup
	quit      chan struct{}
	stopOnce  sync.Once
	exit      chan struct{}
	exitOnce  sync.Once
}

var _ web.StatusProvider = (*Simulator)(nil)

// New loads the topology referenced by cfg and validates it. Nothing is started yet.
func New(cfg *types.Config, configDir string) (*Simulator, error) {
	topoPath := config.ResolvePath(configDir, cfg.SimConf.Topology)
	topo, err := config.LoadTopology(topoPath)
	if err != nil {
		return nil, err
	}
	return NewWithTopology(cfg, topo)
}

// NewWithTopology builds a simulator for an already loaded topology.
func NewWithTopology(cfg *types.Config, topo *types.Topology) (*Simulator, error) {
	reg, err := registry.New(topo, registry.OptionsFromConfig(cfg.SimConf))
	if err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	s := &Simulator{
		cfg:       cfg,
		registry:  reg,
		scenarios: scenario.NewRegistry(topo),
		hub:       web.NewHub(),
		quit:      make(chan struct{}),
		exit:      make(chan struct{}),
	}

	total := 0
	if cfg.SimConf.ExitOnComplete {
		total = reg.TotalEqpCount()
	}
	s.coordinator = NewCoordinator(total, s.requestExit)

	s.transport = transport.New(transport.Options{
		Registry:    reg,
		Plans:       s.scenarios,
		Tracker:     s.coordinator,
		Events:      s.hub,
		RawLogLimit: cfg.SimConf.RawLogMaxPerConn,
	})
	return s, nil
}

// Start binds all endpoints, starts the connectors and the web monitor.
func (s *Simulator) Start(ctx context.Context) error {
	globalstate.GlobalStatus.Set(globalstate.StateStarting)
	logger.Info().Str("event", "simulator_starting").
		Int("eqp_count", s.registry.TotalEqpCount()).
		Int("scenario_count", s.scenarios.Len()).Send()

	go s.hub.Run()

	if err := s.transport.Start(ctx); err != nil {
		s.hub.Stop()
		return err
	}

	srv, err := web.StartServer(&s.waitGroup, s.cfg.WebConf, s, s.hub)
	if err != nil {
		// the monitor is optional; a failure is only logged
		logger.Error().Err(err).Str("event", "web_start_failed").Send()
	}
	s.web = srv

	s.waitGroup.Add(1)
	go s.statsLoop()

	globalstate.GlobalStatus.Set(globalstate.StateRunning)
	logger.Info().Str("event", "simulator_running").Send()
	return nil
}

// Run starts the simulator and blocks until ctx is cancelled or every scenario is done.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		logger.Info().Str("event", "simulator_signal_stop").Send()
	case <-s.exit:
		logger.Info().Str("event", "simulator_all_completed").Send()
	}
	s.Stop()
	return nil
}

// Stop gracefully shuts down the simulator.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() {
		globalstate.GlobalStatus.Set(globalstate.StateStopping)
		close(s.quit)

		s.transport.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.web.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Str("event", "web_shutdown_failed").Send()
		}
		s.hub.Stop()

		s.waitGroup.Wait()
		globalstate.GlobalStatus.Set(globalstate.StateStopped)
		logger.Info().Str("event", "simulator_stopped").Send()
	})
}

func (s *Simulator) requestExit() {
	s.exitOnce.Do(func() { close(s.exit) })
}

// Status implements web.StatusProvider.
func (s *Simulator) Status() *types.SimStatus {
	connected := s.transport.ConnectedEqps()
	rows := make([]types.EqpStatus, 0, s.registry.TotalEqpCount())
	for _, eqp := range s.registry.Eqps() {
		rows = append(rows, types.EqpStatus{
			EqpID:      eqp.ID,
			Mode:       eqp.Mode,
			EndpointID: eqp.EndpointID,
			Address:    eqp.Address.String(),
			ProfileID:  eqp.ProfileID,
			Completed:  s.coordinator.IsCompleted(eqp.ID),
			Connected:  connected[eqp.ID],
		})
	}
	return &types.SimStatus{
		State:            globalstate.GlobalStatus.Get(),
		TotalEqps:        s.registry.TotalEqpCount(),
		CompletedEqps:    s.coordinator.CompletedCount(),
		PassiveOpen:      s.coordinator.PassiveOpenCount(),
		EndpointSessions: s.transport.EndpointSessions(),
		Metrics:          metrics.Snapshot(),
		Eqps:             rows,
	}
}

// statsLoop periodically turns the byte counters into rates and pushes them to the monitor.
func (s *Simulator) statsLoop() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var lastRx, lastTx uint64
	var lastTimestamp time.Time

	for {
		select {
		case <-ticker.C:
			snap := metrics.Snapshot()
			now := time.Now()

			var rxRate, txRate uint64
			if !lastTimestamp.IsZero() {
				if elapsed := now.Sub(lastTimestamp).Seconds(); elapsed > 0 {
					rxRate = uint64(float64(snap.BytesRx-lastRx) / elapsed)
					txRate = uint64(float64(snap.BytesTx-lastTx) / elapsed)
				}
			}
			lastRx, lastTx, lastTimestamp = snap.BytesRx, snap.BytesTx, now

			s.hub.BroadcastDashboardUpdate(&web.DashboardStats{
				Timestamp:      now,
				State:          globalstate.GlobalStatus.Get(),
				ActiveSessions: snap.ActiveSessions,
				CompletedEqps:  s.coordinator.CompletedCount(),
				TotalEqps:      s.registry.TotalEqpCount(),
				RxRate:         rxRate,
				TxRate:         txRate,
			})
		case <-s.quit:
			return
		}
	}
}

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tc_eqpsim/internal/core/registry"
	"tc_eqpsim/internal/core/session"
	"tc_eqpsim/internal/shared"
	"tc_eqpsim/internal/shared/logger"
	"tc_eqpsim/internal/shared/metrics"
	"tc_eqpsim/internal/shared/types"
)

type Options struct {
	Registry    *registry.Registry
	Plans       session.PlanSource
	Tracker     types.CompletionTracker
	Events      types.EventSink
	RawLogLimit int
}

// Transport owns the PASSIVE listeners, the ACTIVE connectors and every live session.
type Transport struct {
	opts Options
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	endpoints  []*passiveEndpoint
	connectors []*activeConnector
	wg         sync.WaitGroup

	mu       sync.Mutex
	stopping bool
	live     map[string]*session.Session
	started  bool
}

func New(opts Options) *Transport {
	if opts.Tracker == nil {
		opts.Tracker = types.NoopTracker
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		opts:   opts,
		log:    logger.WithComponent("transport"),
		ctx:    ctx,
		cancel: cancel,
		live:   make(map[string]*session.Session),
	}
}

// Start binds every used listen endpoint and starts one connector per ACTIVE EQP.
// If any bind fails, nothing is started and the error is returned.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("transport already started")
	}
	t.started = true
	t.mu.Unlock()

	reg := t.opts.Registry
	eps := reg.ListenEndpoints()
	listeners := make([]net.Listener, len(eps))

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range eps {
		i, ep := i, ep
		g.Go(func() error {
			lc := net.ListenConfig{Control: listenControl}
			ln, err := lc.Listen(gctx, "tcp", ep.Bind.String())
			if err != nil {
				return fmt.Errorf("failed to bind listen endpoint %s on %s: %w", ep.ID, ep.Bind, err)
			}
			listeners[i] = ln
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, ln := range listeners {
			if ln != nil {
				ln.Close()
			}
		}
		return err
	}

	for i, ep := range eps {
		pe := newPassiveEndpoint(t, ep, listeners[i])
		t.endpoints = append(t.endpoints, pe)
		t.log.Info().Str("event", "passive_listen_started").
			Str("endpoint_id", ep.ID).
			Str("bind", listeners[i].Addr().String()).
			Int("max_conn", ep.MaxConn).
			Int("eqp_count", reg.AvailablePassive(ep.ID)).Send()
		t.wg.Add(1)
		go pe.acceptLoop()
	}

	for _, eqp := range reg.ActiveEqps() {
		c := newActiveConnector(t, eqp, reg.Backoff())
		t.connectors = append(t.connectors, c)
		t.wg.Add(1)
		go c.run()
	}

	t.log.Info().Str("event", "transport_started").
		Int("listen_endpoint_count", len(t.endpoints)).
		Int("active_connector_count", len(t.connectors)).Send()
	return nil
}

// Stop stops reconnecting, closes the listeners and every live session, then waits for them.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		return
	}
	t.stopping = true
	sessions := make([]*session.Session, 0, len(t.live))
	for _, s := range t.live {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	t.cancel()
	for _, pe := range t.endpoints {
		pe.close()
	}
	for _, s := range sessions {
		s.Close()
	}
	t.wg.Wait()
	t.log.Info().Str("event", "transport_stopped").Send()
}

// EndpointSessions counts the live sessions per endpoint id, listen and connect alike.
func (t *Transport) EndpointSessions() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int)
	for _, s := range t.live {
		out[s.EndpointID()]++
	}
	return out
}

// ConnectedEqps returns the ids of EQPs that currently have a live session.
func (t *Transport) ConnectedEqps() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]bool, len(t.live))
	for _, s := range t.live {
		out[s.Eqp().ID] = true
	}
	return out
}

func (t *Transport) newSession(conn net.Conn, eqp *registry.EqpRuntime, endpointID string, onClose func(*session.Session)) (*session.Session, error) {
	rx, tx := metrics.ByteCounters()
	return session.New(shared.NewCountedConn(conn, rx, tx), session.Options{
		Eqp:         eqp,
		EndpointID:  endpointID,
		Plans:       t.opts.Plans,
		Tracker:     t.opts.Tracker,
		Events:      t.opts.Events,
		RawLogLimit: t.opts.RawLogLimit,
		OnClose:     onClose,
	})
}

// serve runs s to completion. Sessions created while stopping are closed right away,
// so their close hooks still run.
func (t *Transport) serve(s *session.Session) {
	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		s.Close()
	} else {
		t.live[s.ID()] = s
		t.mu.Unlock()
	}

	s.Run()

	t.mu.Lock()
	delete(t.live, s.ID())
	t.mu.Unlock()
}

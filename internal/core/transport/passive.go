package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tc_eqpsim/internal/core/registry"
	"tc_eqpsim/internal/core/session"
	"tc_eqpsim/internal/shared/metrics"
)

const acceptRetryDelay = 50 * time.Millisecond

// passiveEndpoint accepts TC connections on one listen endpoint and hands each one
// the next free EQP of the endpoint pool.
type passiveEndpoint struct {
	t         *Transport
	ep        registry.ListenEndpoint
	ln        net.Listener
	open      atomic.Int32
	closeOnce sync.Once
	log       zerolog.Logger
}

func newPassiveEndpoint(t *Transport, ep registry.ListenEndpoint, ln net.Listener) *passiveEndpoint {
	return &passiveEndpoint{
		t:   t,
		ep:  ep,
		ln:  ln,
		log: t.log.With().Str("endpoint_id", ep.ID).Logger(),
	}
}

func (p *passiveEndpoint) acceptLoop() {
	defer p.t.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				p.log.Info().Str("event", "passive_listen_closed").Send()
				return
			}
			p.log.Warn().Err(err).Str("event", "passive_accept_failed").Send()
			time.Sleep(acceptRetryDelay)
			continue
		}
		p.handle(conn)
	}
}

func (p *passiveEndpoint) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	// over maxConn: close right away without touching the EQP pool
	if n := p.open.Add(1); int(n) > p.ep.MaxConn {
		p.open.Add(-1)
		metrics.ConnectionsRejectedTotal.WithLabelValues(p.ep.ID, "max_conn").Inc()
		p.log.Warn().Str("event", "passive_max_conn_reached").
			Str("remote", remote).
			Int("max_conn", p.ep.MaxConn).Send()
		conn.Close()
		return
	}

	reg := p.t.opts.Registry
	eqpID, ok := reg.ReservePassive(p.ep.ID)
	if !ok {
		p.open.Add(-1)
		metrics.ConnectionsRejectedTotal.WithLabelValues(p.ep.ID, "no_eqp_available").Inc()
		p.log.Warn().Str("event", "passive_no_eqp_available").Str("remote", remote).Send()
		conn.Close()
		return
	}
	eqp, _ := reg.Eqp(eqpID)

	tuneAccepted(conn)
	p.log.Info().Str("event", "passive_eqp_assigned").
		Str("eqp_id", eqpID).
		Str("remote", remote).
		Int("available", reg.AvailablePassive(p.ep.ID)).Send()

	s, err := p.t.newSession(conn, eqp, p.ep.ID, p.onSessionClosed)
	if err != nil {
		p.log.Error().Err(err).Str("event", "session_create_failed").Str("eqp_id", eqpID).Send()
		reg.ReleasePassive(p.ep.ID, eqpID)
		p.open.Add(-1)
		conn.Close()
		return
	}

	p.t.wg.Add(1)
	go func() {
		defer p.t.wg.Done()
		p.t.serve(s)
	}()
}

func (p *passiveEndpoint) onSessionClosed(s *session.Session) {
	eqpID := s.Eqp().ID
	p.t.opts.Registry.ReleasePassive(p.ep.ID, eqpID)
	p.open.Add(-1)
	p.log.Info().Str("event", "passive_eqp_released").
		Str("eqp_id", eqpID).
		Str("conn_id", s.ShortID()).Send()
	p.t.opts.Tracker.MarkPassiveClosed(eqpID)
}

func (p *passiveEndpoint) close() {
	p.closeOnce.Do(func() {
		p.ln.Close()
	})
}

package transport

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"tc_eqpsim/internal/core/registry"
	"tc_eqpsim/internal/core/session"
	"tc_eqpsim/internal/shared/metrics"
)

const dialTimeout = 10 * time.Second

// activeConnector keeps one ACTIVE EQP connected to its TC target until the scenario completes.
type activeConnector struct {
	t       *Transport
	eqp     *registry.EqpRuntime
	backoff registry.Backoff
	log     zerolog.Logger
}

func newActiveConnector(t *Transport, eqp *registry.EqpRuntime, backoff registry.Backoff) *activeConnector {
	return &activeConnector{
		t:       t,
		eqp:     eqp,
		backoff: backoff,
		log: t.log.With().
			Str("eqp_id", eqp.ID).
			Str("endpoint_id", eqp.EndpointID).
			Str("target", eqp.Address.String()).Logger(),
	}
}

func (c *activeConnector) run() {
	defer c.t.wg.Done()

	attempt := 0
	for c.t.ctx.Err() == nil {
		conn, err := c.dial()
		if err != nil {
			if c.t.ctx.Err() != nil {
				return
			}
			attempt++
			c.log.Warn().Err(err).Str("event", "active_connect_failed").Int("attempt", attempt).Send()
			if !c.sleep(attempt) {
				return
			}
			continue
		}

		attempt = 0
		c.log.Info().Str("event", "active_connected").
			Str("local", conn.LocalAddr().String()).Send()

		s, err := c.t.newSession(conn, c.eqp, c.eqp.EndpointID, nil)
		if err != nil {
			// registry.New rejects invalid socket types, so a failure here is not transient
			c.log.Error().Err(err).Str("event", "session_create_failed").Send()
			conn.Close()
			return
		}
		c.t.serve(s)

		if s.CloseReason() == session.CloseReasonScenarioCompleted {
			c.log.Info().Str("event", "active_closed_no_reconnect").Send()
			return
		}
		if c.t.ctx.Err() != nil {
			return
		}
		attempt++
		c.log.Info().Str("event", "active_closed").Int("attempt", attempt).Send()
		if !c.sleep(attempt) {
			return
		}
	}
}

func (c *activeConnector) dial() (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout, Control: dialControl}
	return d.DialContext(c.t.ctx, "tcp", c.eqp.Address.String())
}

// sleep waits out the backoff delay of attempt. It returns false when the transport stops first.
func (c *activeConnector) sleep(attempt int) bool {
	delay := c.backoff.Delay(attempt)
	metrics.ReconnectsTotal.Inc()
	c.log.Info().Str("event", "active_reconnect_scheduled").
		Int("attempt", attempt).
		Dur("delay", delay).Send()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.t.ctx.Done():
		return false
	}
}

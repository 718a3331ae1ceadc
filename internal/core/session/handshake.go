package session

import (
	"time"

	"tc_eqpsim/internal/shared/metrics"
	"tc_eqpsim/internal/shared/protocol"
)

const defaultHandshakeTimeout = 60 * time.Second

// handshake waits for CMD=INITIALIZE, answers it and hands the connection over to the scenario runner.
type handshake struct {
	s       *Session
	timer   *Timer
	timeout time.Duration
	done    bool
}

func newHandshake(s *Session) *handshake {
	timeout := s.eqp.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	return &handshake{s: s, timeout: timeout}
}

func (h *handshake) OnActive() {
	s := h.s
	h.timer = s.Schedule(h.timeout, func() {
		if h.done {
			return
		}
		metrics.HandshakesTotal.WithLabelValues("timeout").Inc()
		s.log.Warn().Str("event", "handshake_timeout").Dur("timeout", h.timeout).Send()
		s.publish("handshake_timeout", "", "", "")
		s.Close()
	})
	s.log.Info().Str("event", "handshake_started").
		Str("mode", string(s.eqp.Mode)).
		Dur("timeout", h.timeout).Send()
}

func (h *handshake) OnFrame(frame string) {
	if h.done {
		return
	}
	s := h.s

	cmd, ok := protocol.ExtractCmdUpper(frame)
	s.log.Info().Str("event", "handshake_rx").Str("cmd", cmd).Str("payload", frame).Send()
	s.publish("handshake_rx", cmd, frame, "")
	if !ok || cmd != protocol.CmdInitialize {
		return
	}

	rep := protocol.InitializeReply(s.eqp.ID)
	s.log.Info().Str("event", "handshake_tx").Str("payload", rep).Send()
	s.Send(rep)
	s.publish("handshake_tx", protocol.CmdInitializeRep, rep, "")

	h.done = true
	h.timer.Stop()
	metrics.HandshakesTotal.WithLabelValues("completed").Inc()
	s.log.Info().Str("event", "handshake_completed").Str("mode", string(s.eqp.Mode)).Send()

	if s.eqp.IsPassive() {
		s.tracker.MarkPassiveOpened(s.eqp.ID)
	}

	if s.plans == nil {
		h.planMissing()
		return
	}
	plan, ok := s.plans.PlanByProfile(s.eqp.ProfileID)
	if !ok {
		h.planMissing()
		return
	}

	r := newRunner(s, plan)
	s.setHandler(r)
	r.OnActive()
}

func (h *handshake) planMissing() {
	metrics.HandshakesTotal.WithLabelValues("plan_missing").Inc()
	h.s.log.Error().Str("event", "scenario_plan_missing").Str("profile_id", h.s.eqp.ProfileID).Send()
	h.s.Close()
}

func (h *handshake) OnInactive() {
	h.timer.Stop()
}

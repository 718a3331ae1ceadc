package session

import (
	"sort"
	"strconv"
	"time"

	"tc_eqpsim/internal/core/scenario"
	"tc_eqpsim/internal/shared/metrics"
	"tc_eqpsim/internal/shared/protocol"
)

const (
	defaultWaitTimeout = 60 * time.Second
	completeCloseDelay = 100 * time.Millisecond
)

// runner executes a scenario plan step by step on the session loop.
type runner struct {
	s    *Session
	plan *scenario.Plan

	step           int
	waiting        *scenario.WaitCmd
	waitTimer      *Timer
	loopCounts     map[string]int
	started        bool
	closeScheduled bool
}

func newRunner(s *Session, plan *scenario.Plan) *runner {
	return &runner{s: s, plan: plan, loopCounts: make(map[string]int)}
}

func (r *runner) OnActive() {
	if r.started {
		return
	}
	r.started = true
	r.s.log.Info().Str("event", "scenario_started").
		Str("mode", string(r.s.eqp.Mode)).
		Str("scenario_file", r.plan.SourceFile).
		Int("step_count", len(r.plan.Steps)).Send()
	r.s.publish("scenario_started", "", "", r.plan.SourceFile)
	r.advance()
}

func (r *runner) OnFrame(frame string) {
	s := r.s
	cmd, _ := protocol.ExtractCmdUpper(frame)

	if r.waiting == nil {
		s.log.Info().Str("event", "eqp_rx").Str("cmd", cmd).Str("payload", frame).Bool("unexpected", true).Send()
		s.publish("eqp_rx", cmd, frame, "unexpected")
		return
	}

	matched := cmd != "" && cmd == r.waiting.ExpectedCmd
	s.log.Info().Str("event", "eqp_rx").
		Str("cmd", cmd).
		Str("payload", frame).
		Str("expected", r.waiting.ExpectedCmd).
		Bool("matched", matched).Send()
	if !matched {
		s.publish("eqp_rx", cmd, frame, "expected "+r.waiting.ExpectedCmd)
		return
	}
	s.publish("eqp_rx", cmd, frame, "matched")

	r.waitTimer.Stop()
	r.waitTimer = nil
	r.waiting = nil
	s.log.Info().Str("event", "scenario_wait_matched").Int("step_index", r.step).Str("matched_cmd", cmd).Send()

	r.step++
	r.advance()
}

func (r *runner) OnInactive() {
	r.waitTimer.Stop()
	r.waitTimer = nil
}

// advance runs steps until one of them has to wait for a frame or a timer.
func (r *runner) advance() {
	for !r.s.IsClosed() {
		if r.step >= len(r.plan.Steps) {
			r.completed()
			return
		}

		switch st := r.plan.Steps[r.step].(type) {
		case scenario.WaitCmd:
			r.startWait(st)
			return
		case scenario.Send:
			r.send("SEND", st.Payload)
			r.step++
		case scenario.Emit:
			r.startEmit(st)
			return
		case scenario.Sleep:
			r.s.log.Info().Str("event", "scenario_sleep").Int("step_index", r.step).Dur("sleep", st.Duration).Send()
			r.s.Schedule(st.Duration, r.next)
			return
		case scenario.Label:
			r.step++
		case scenario.Goto:
			if !r.jump(st.Label, "scenario_goto") {
				return
			}
		case scenario.Loop:
			if r.loopCounts[st.Label] < st.Count {
				r.loopCounts[st.Label]++
				r.s.log.Info().Str("event", "scenario_loop").
					Str("label", st.Label).
					Int("iteration", r.loopCounts[st.Label]).
					Int("max_count", st.Count).Send()
				if !r.jump(st.Label, "scenario_loop_jump") {
					return
				}
				continue
			}
			delete(r.loopCounts, st.Label)
			r.s.log.Info().Str("event", "scenario_loop_completed").Str("label", st.Label).Int("completed_count", st.Count).Send()
			r.step++
		case scenario.Fault:
			r.applyFault(st)
			if st.Type == scenario.FaultDisconnect {
				return
			}
			r.step++
		default:
			r.s.log.Error().Str("event", "scenario_unknown_step").Int("step_index", r.step).Str("kind", st.Kind()).Send()
			r.s.Close()
			return
		}
	}
}

// next moves past a step that finished asynchronously.
func (r *runner) next() {
	r.step++
	r.advance()
}

func (r *runner) jump(label, event string) bool {
	idx, ok := r.plan.LabelStep(label)
	if !ok {
		r.s.log.Error().Str("event", "scenario_label_missing").Int("step_index", r.step).Str("label", label).Send()
		r.s.Close()
		return false
	}
	r.s.log.Info().Str("event", event).Int("from_index", r.step).Str("label", label).Int("to_index", idx).Send()
	r.step = idx
	return true
}

func (r *runner) startWait(w scenario.WaitCmd) {
	s := r.s
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = s.eqp.WaitTimeout
	}
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}

	r.waiting = &w
	step := r.step
	s.log.Info().Str("event", "scenario_wait_started").
		Int("step_index", step).
		Str("expected_cmd", w.ExpectedCmd).
		Dur("timeout", timeout).Send()

	r.waitTimer = s.Schedule(timeout, func() {
		metrics.WaitTimeoutsTotal.Inc()
		s.log.Warn().Str("event", "scenario_wait_timeout").
			Int("step_index", step).
			Str("expected_cmd", w.ExpectedCmd).
			Dur("timeout", timeout).Send()
		s.publish("scenario_wait_timeout", w.ExpectedCmd, "", "")
		s.Close()
	})
}

func (r *runner) send(kind, template string) {
	payload := ResolveTemplate(template, r.s.eqp)
	r.s.log.Info().Str("event", "eqp_tx").Str("type", kind).Int("step_index", r.step).Str("payload", payload).Send()
	r.s.Send(payload)
	cmd, _ := protocol.ExtractCmdUpper(payload)
	r.s.publish("eqp_tx", cmd, payload, kind)
}

func (r *runner) startEmit(e scenario.Emit) {
	s := r.s
	count := "forever"
	if !e.Forever {
		count = strconv.Itoa(e.Count)
	}
	s.log.Info().Str("event", "scenario_emit_started").
		Int("step_index", r.step).
		Str("mode", string(e.Mode)).
		Dur("period", e.Period).
		Str("count", count).
		Dur("jitter", e.Jitter).Send()

	switch {
	case e.Forever:
		r.emitForever(e)
	case e.Mode == scenario.EmitInterval:
		r.emitInterval(e, e.Count)
	default:
		r.emitWindow(e)
	}
}

func (r *runner) emitForever(e scenario.Emit) {
	var tick func()
	tick = func() {
		r.send("EMIT", e.Payload)
		r.s.Schedule(e.Period+r.s.randomDuration(e.Jitter), tick)
	}
	r.s.Schedule(e.Period+r.s.randomDuration(e.Jitter), tick)
}

func (r *runner) emitInterval(e scenario.Emit, remaining int) {
	var tick func()
	tick = func() {
		r.send("EMIT", e.Payload)
		remaining--
		if remaining > 0 {
			r.s.Schedule(e.Period+r.s.randomDuration(e.Jitter), tick)
			return
		}
		r.s.log.Info().Str("event", "scenario_emit_completed").
			Int("step_index", r.step).
			Int("total_sent", e.Count).
			Str("mode", string(scenario.EmitInterval)).Send()
		r.next()
	}
	r.s.Schedule(e.Period+r.s.randomDuration(e.Jitter), tick)
}

// emitWindow spreads Count sends over the window at sorted random offsets and advances once,
// after the last one.
func (r *runner) emitWindow(e scenario.Emit) {
	delays := make([]time.Duration, e.Count)
	for i := range delays {
		delays[i] = r.s.randomDuration(e.Period)
	}
	sort.Slice(delays, func(i, j int) bool { return delays[i] < delays[j] })

	done := 0
	for _, d := range delays {
		r.s.Schedule(d, func() {
			r.send("EMIT", e.Payload)
			done++
			if done == e.Count {
				r.s.log.Info().Str("event", "scenario_emit_completed").
					Int("step_index", r.step).
					Int("total_sent", e.Count).
					Str("mode", string(scenario.EmitWindow)).
					Dur("window", e.Period).Send()
				r.next()
			}
		})
	}
}

func (r *runner) applyFault(f scenario.Fault) {
	s := r.s
	metrics.FaultsAppliedTotal.WithLabelValues(string(f.Type)).Inc()
	s.log.Info().Str("event", "scenario_fault_apply").
		Int("step_index", r.step).
		Str("fault_type", string(f.Type)).
		Str("scope", string(f.Scope)).Send()
	s.publish("scenario_fault_apply", "", "", string(f.Type))

	if f.Type != scenario.FaultDisconnect {
		s.faults.Apply(f)
		return
	}

	// down is informational; the ACTIVE backoff decides when the next connection happens
	s.log.Info().Str("event", "scenario_disconnect_scheduled").
		Int("step_index", r.step).
		Dur("after", f.After).
		Dur("down", f.Down).Send()
	s.Schedule(f.After, func() {
		s.log.Info().Str("event", "scenario_disconnect_executing").Dur("down", f.Down).Send()
		s.Close()
	})
}

func (r *runner) completed() {
	s := r.s
	s.log.Info().Str("event", "scenario_completed").
		Str("mode", string(s.eqp.Mode)).
		Str("scenario_file", r.plan.SourceFile).Send()
	s.publish("scenario_completed", "", "", r.plan.SourceFile)
	metrics.ScenariosCompletedTotal.Inc()
	s.tracker.MarkScenarioCompleted(s.eqp.ID)

	if s.eqp.IsPassive() {
		s.log.Info().Str("event", "scenario_passive_keepalive").Send()
		return
	}
	if r.closeScheduled {
		return
	}
	r.closeScheduled = true
	s.SetCloseReason(CloseReasonScenarioCompleted)
	s.log.Info().Str("event", "scenario_close_scheduled").
		Dur("delay", completeCloseDelay).
		Str("close_reason", CloseReasonScenarioCompleted).Send()
	s.Schedule(completeCloseDelay, s.Close)
}

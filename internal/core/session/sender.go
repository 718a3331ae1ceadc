package session

import (
	"time"

	"tc_eqpsim/internal/core/framing"
	"tc_eqpsim/internal/shared/metrics"
)

const corruptMask = 0x5A

// Send frames payload for the EQP socket type and writes it, applying the active faults in the order
// delay, drop, corrupt, fragment. A delayed frame still goes through drop and corrupt when it is due.
// Loop only.
func (s *Session) Send(payload string) {
	if s.IsClosed() {
		return
	}
	b, err := framing.Encode(s.eqp.SocketType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", "frame_encode_failed").Send()
		s.Close()
		return
	}
	metrics.RecordFrameTx()

	if p, ok := s.faults.ActiveDelay(); ok && p.tryConsumeOne() {
		d := p.Delay + s.randomDuration(p.Jitter)
		metrics.FaultEffectsTotal.WithLabelValues("delayed").Inc()
		s.log.Debug().Str("event", "fault_delay").Dur("delay", d).Send()
		s.Schedule(d, func() { s.sendNow(b) })
		return
	}
	s.sendNow(b)
}

func (s *Session) sendNow(b []byte) {
	if s.IsClosed() {
		return
	}

	if p, ok := s.faults.ActiveDrop(); ok && p.tryConsumeOne() && s.rng.Float64() < p.Rate {
		metrics.FaultEffectsTotal.WithLabelValues("dropped").Inc()
		s.log.Debug().Str("event", "fault_drop").Float64("rate", p.Rate).Send()
		return
	}

	if p, ok := s.faults.ActiveCorrupt(); ok && p.tryConsumeOne() && s.rng.Float64() < p.Rate {
		if idx, ok := s.corrupt(b, p.ProtectFraming); ok {
			metrics.FaultEffectsTotal.WithLabelValues("corrupted").Inc()
			s.log.Debug().Str("event", "fault_corrupt").Int("index", idx).Send()
		}
	}

	if p, ok := s.faults.ActiveFragment(); ok && p.tryConsumeOne() {
		parts := p.MinParts + s.rng.Intn(p.MaxParts-p.MinParts+1)
		chunks := s.split(b, parts)
		metrics.FaultEffectsTotal.WithLabelValues("fragmented").Inc()
		s.log.Debug().Str("event", "fault_fragment").Int("parts", len(chunks)).Send()
		for _, c := range chunks {
			if !s.write(c) {
				return
			}
		}
		return
	}

	s.write(b)
}

// corrupt flips one byte with corruptMask. With protectFraming the start/end markers or the line
// ending are left intact.
func (s *Session) corrupt(b []byte, protectFraming bool) (int, bool) {
	from, to := 0, len(b)
	if protectFraming {
		from = min(len(b), s.prefix)
		to = max(from, len(b)-s.suffix)
	}
	if to-from <= 0 {
		return 0, false
	}
	idx := from + s.rng.Intn(to-from)
	b[idx] ^= corruptMask
	return idx, true
}

// split cuts b into parts chunks of near equal size, shuffling neighbouring sizes a little.
func (s *Session) split(b []byte, parts int) [][]byte {
	n := len(b)
	if parts <= 1 || n <= 1 {
		return [][]byte{b}
	}
	parts = min(parts, n)
	base, rem := n/parts, n%parts

	sizes := make([]int, parts)
	for i := range sizes {
		sizes[i] = base
		if i < rem {
			sizes[i]++
		}
	}
	for i := 0; i < len(sizes)-1; i++ {
		if s.rng.Intn(2) == 0 {
			sizes[i], sizes[i+1] = sizes[i+1], sizes[i]
		}
	}

	out := make([][]byte, 0, parts)
	pos := 0
	for _, sz := range sizes {
		out = append(out, b[pos:pos+sz])
		pos += sz
	}
	return out
}

// randomDuration returns a uniform value in [0, upper], at millisecond resolution.
func (s *Session) randomDuration(upper time.Duration) time.Duration {
	ms := upper.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return time.Duration(s.rng.Int63n(ms+1)) * time.Millisecond
}

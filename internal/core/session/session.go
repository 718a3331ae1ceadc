package session

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tc_eqpsim/internal/core/framing"
	"tc_eqpsim/internal/core/registry"
	"tc_eqpsim/internal/core/scenario"
	"tc_eqpsim/internal/shared/logger"
	"tc_eqpsim/internal/shared/metrics"
	"tc_eqpsim/internal/shared/types"
)

// CloseReasonScenarioCompleted tells the ACTIVE connector not to reconnect.
const CloseReasonScenarioCompleted = "SCENARIO_COMPLETED"

const (
	taskQueueSize = 64
	readBufSize   = 4096
	writeTimeout  = 10 * time.Second
)

// Handler is one protocol stage of a connection. Every method runs on the session loop.
type Handler interface {
	OnActive()
	OnFrame(frame string)
	OnInactive()
}

// PlanSource resolves scenario plans by profile id.
type PlanSource interface {
	PlanByProfile(profileID string) (*scenario.Plan, bool)
}

type Options struct {
	Eqp        *registry.EqpRuntime
	EndpointID string
	Plans      PlanSource
	Tracker    types.CompletionTracker
	Events     types.EventSink
	// RawLogLimit is how many reads per connection are logged as raw bytes. <= 0 means 5.
	RawLogLimit int
	// OnClose runs after the handler has seen OnInactive, still before Run returns.
	OnClose func(s *Session)
	Rand    *rand.Rand
}

// Session drives one TC connection. Protocol state is only touched from the session loop,
// which runs posted tasks one at a time, so handlers need no locking.
type Session struct {
	id         string
	conn       net.Conn
	eqp        *registry.EqpRuntime
	endpointID string
	plans      PlanSource
	tracker    types.CompletionTracker
	events     types.EventSink
	faults     *FaultState
	decoder    framing.Decoder
	prefix     int
	suffix     int
	rng        *rand.Rand
	log        zerolog.Logger
	onClose    func(*Session)

	rawLogLimit int
	rawLogged   int

	handler Handler

	tasks     chan func()
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	closeReason string
}

// New wraps conn in a session for opts.Eqp. Run must be called to start it.
func New(conn net.Conn, opts Options) (*Session, error) {
	if opts.Eqp == nil {
		return nil, errors.New("session: eqp runtime is required")
	}
	dec, err := framing.NewDecoder(opts.Eqp.SocketType)
	if err != nil {
		return nil, fmt.Errorf("session: eqp %s: %w", opts.Eqp.ID, err)
	}

	s := &Session{
		id:          uuid.NewString(),
		conn:        conn,
		eqp:         opts.Eqp,
		endpointID:  opts.EndpointID,
		plans:       opts.Plans,
		tracker:     opts.Tracker,
		events:      opts.Events,
		faults:      NewFaultState(),
		decoder:     dec,
		rng:         opts.Rand,
		onClose:     opts.OnClose,
		rawLogLimit: opts.RawLogLimit,
		tasks:       make(chan func(), taskQueueSize),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	if s.tracker == nil {
		s.tracker = types.NoopTracker
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.rawLogLimit <= 0 {
		s.rawLogLimit = 5
	}
	s.prefix, s.suffix = framing.Overhead(opts.Eqp.SocketType)
	s.log = logger.WithComponent("session").With().
		Str("eqp_id", opts.Eqp.ID).
		Str("conn_id", s.ShortID()).
		Str("endpoint_id", opts.EndpointID).
		Logger()
	s.handler = newHandshake(s)
	return s, nil
}

func (s *Session) ID() string { return s.id }

// ShortID is the first 8 characters of the id, used in logs.
func (s *Session) ShortID() string { return s.id[:8] }

func (s *Session) Eqp() *registry.EqpRuntime { return s.eqp }

func (s *Session) EndpointID() string { return s.endpointID }

func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) SetCloseReason(reason string) {
	s.mu.Lock()
	s.closeReason = reason
	s.mu.Unlock()
}

func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

func (s *Session) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
	}
	return false
}

// Close stops the session. Safe to call from any goroutine, any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// Execute posts fn to the session loop. It must not be called from the loop itself.
// Tasks posted after Close are dropped.
func (s *Session) Execute(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.closed:
	}
}

// Run serves the connection until it is closed and then runs the close hooks.
func (s *Session) Run() {
	defer close(s.done)

	metrics.SessionOpened(s.eqp.Mode)
	defer metrics.SessionClosed()

	readerDone := make(chan struct{})
	go s.readLoop(readerDone)

	s.log.Info().Str("event", "session_opened").
		Str("mode", string(s.eqp.Mode)).
		Str("remote", s.conn.RemoteAddr().String()).
		Str("local", s.conn.LocalAddr().String()).Send()
	s.publish("session_opened", "", "", s.conn.RemoteAddr().String())

	s.handler.OnActive()

loop:
	for {
		select {
		case fn := <-s.tasks:
			if s.IsClosed() {
				break loop
			}
			fn()
		case <-s.closed:
			break loop
		}
	}

	s.Close()
	<-readerDone

	s.handler.OnInactive()
	if s.onClose != nil {
		s.onClose(s)
	}

	s.log.Info().Str("event", "session_closed").Str("close_reason", s.CloseReason()).Send()
	s.publish("session_closed", "", "", s.CloseReason())
}

// setHandler swaps the active protocol stage. Loop only.
func (s *Session) setHandler(h Handler) {
	s.handler = h
}

func (s *Session) readLoop(done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, readBufSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			s.logRaw(chunk)

			frames, decErr := s.decoder.Decode(chunk)
			for _, f := range frames {
				frame := string(f)
				s.Execute(func() { s.dispatch(frame) })
			}
			if decErr != nil {
				s.log.Error().Err(decErr).Str("event", "frame_decode_failed").Send()
				s.Close()
				return
			}
		}
		if err != nil {
			if !s.IsClosed() && !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Str("event", "read_failed").Send()
			}
			s.Close()
			return
		}
	}
}

func (s *Session) dispatch(frame string) {
	metrics.RecordFrameRx()
	s.handler.OnFrame(frame)
}

// Timer is a cancellable callback scheduled onto the session loop.
type Timer struct {
	t       *time.Timer
	stopped bool
}

// Schedule runs fn on the loop after d unless the timer is stopped or the session closes first.
func (s *Session) Schedule(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		s.Execute(func() {
			if tm.stopped {
				return
			}
			tm.stopped = true
			fn()
		})
	})
	return tm
}

// Stop cancels the timer. Loop only; nil timers are ignored.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.stopped = true
	t.t.Stop()
}

func (s *Session) write(b []byte) bool {
	if s.IsClosed() {
		return false
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.conn.Write(b); err != nil {
		if !s.IsClosed() {
			s.log.Warn().Err(err).Str("event", "write_failed").Send()
		}
		s.Close()
		return false
	}
	return true
}

func (s *Session) publish(event, cmd, payload, detail string) {
	if s.events == nil {
		return
	}
	s.events.PublishEqpEvent(&types.EqpEvent{
		Timestamp: time.Now(),
		Event:     event,
		EqpID:     s.eqp.ID,
		ConnID:    s.ShortID(),
		Cmd:       cmd,
		Payload:   payload,
		Detail:    detail,
	})
}

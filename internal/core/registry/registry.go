package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eapache/queue"

	"tc_eqpsim/internal/core/framing"
	"tc_eqpsim/internal/shared/logger"
	"tc_eqpsim/internal/shared/types"
)

const (
	defaultTimeoutSec = 60
	defaultMaxConn    = 20
	defaultConnCount  = 20
)

// Options carries the process level defaults from eqpsim.ini.
// Non-zero values in the topology file take precedence.
type Options struct {
	DefaultWaitTimeoutSec      int64
	DefaultHandshakeTimeoutSec int64
	Backoff                    Backoff
}

// OptionsFromConfig maps the [sim] ini section onto registry options.
func OptionsFromConfig(sim types.SimConf) Options {
	return Options{
		DefaultWaitTimeoutSec:      sim.DefaultWaitTimeoutSec,
		DefaultHandshakeTimeoutSec: sim.DefaultHandshakeTimeoutSec,
		Backoff: Backoff{
			InitialSec: sim.BackoffInitialSec,
			MaxSec:     sim.BackoffMaxSec,
			Multiplier: sim.BackoffMultiplier,
		},
	}
}

// ListenEndpoint is a resolved PASSIVE bind address.
type ListenEndpoint struct {
	ID      string
	Bind    HostPort
	MaxConn int
}

// Registry validates the topology and owns the PASSIVE EQP pools.
type Registry struct {
	eqps    map[string]*EqpRuntime
	ids     []string
	listen  map[string]ListenEndpoint
	connect map[string]HostPort
	active  []*EqpRuntime
	backoff Backoff

	mu    sync.Mutex
	pools map[string]*queue.Queue // listen endpoint id -> available EQP ids
}

// New validates topo and builds every EqpRuntime. Any broken reference is an error.
func New(topo *types.Topology, opts Options) (*Registry, error) {
	log := logger.WithComponent("registry")

	r := &Registry{
		eqps:    make(map[string]*EqpRuntime),
		listen:  make(map[string]ListenEndpoint),
		connect: make(map[string]HostPort),
		pools:   make(map[string]*queue.Queue),
	}

	for id, le := range topo.Endpoints.Listen {
		hp, err := ParseHostPort(le.Bind)
		if err != nil {
			return nil, fmt.Errorf("endpoints.listen.%s.bind: %w", id, err)
		}
		maxConn := le.MaxConn
		if maxConn <= 0 {
			maxConn = defaultMaxConn
		}
		r.listen[id] = ListenEndpoint{ID: id, Bind: hp, MaxConn: maxConn}
	}
	for id, ce := range topo.Endpoints.Connect {
		hp, err := ParseHostPort(ce.Target)
		if err != nil {
			return nil, fmt.Errorf("endpoints.connect.%s.target: %w", id, err)
		}
		r.connect[id] = hp
	}

	r.backoff = opts.Backoff
	if cb := topo.Endpoints.ConnectBackoff; cb != nil {
		r.backoff = Backoff{InitialSec: cb.InitialSec, MaxSec: cb.MaxSec, Multiplier: cb.Multiplier}
	}
	r.backoff = r.backoff.normalized()

	defaultWait := firstPositive(topo.Defaults.DefaultWaitTimeoutSec, opts.DefaultWaitTimeoutSec, defaultTimeoutSec)
	defaultHs := firstPositive(topo.Defaults.DefaultHandshakeTimeoutSec, opts.DefaultHandshakeTimeoutSec, defaultTimeoutSec)

	for id := range topo.Eqps {
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)

	activeByEndpoint := make(map[string]int)
	for _, id := range r.ids {
		def := topo.Eqps[id]
		prefix := "eqps." + id

		switch def.Mode {
		case types.ModePassive, types.ModeActive:
		case "":
			return nil, fmt.Errorf("%s.mode is missing", prefix)
		default:
			return nil, fmt.Errorf("%s.mode must be PASSIVE or ACTIVE, got %q", prefix, def.Mode)
		}
		if err := requireNotBlank(def.Endpoint, prefix+".endpoint"); err != nil {
			return nil, err
		}
		if err := requireNotBlank(def.SocketType, prefix+".socketType"); err != nil {
			return nil, err
		}
		if err := requireNotBlank(def.Profile, prefix+".profile"); err != nil {
			return nil, err
		}

		st, ok := topo.SocketTypes[def.SocketType]
		if !ok {
			return nil, fmt.Errorf("eqp %s references missing socketType: %s", id, def.SocketType)
		}
		if _, err := framing.NewDecoder(st); err != nil {
			return nil, fmt.Errorf("socketTypes.%s: %w", def.SocketType, err)
		}
		profile, ok := topo.Profiles[def.Profile]
		if !ok {
			return nil, fmt.Errorf("eqp %s references missing profile: %s", id, def.Profile)
		}

		rt := newEqpRuntime(id, def)
		rt.SocketType = st
		rt.Profile = profile
		rt.WaitTimeout = time.Duration(firstPositive(def.WaitTimeoutSec, defaultWait)) * time.Second
		rt.HandshakeTimeout = time.Duration(firstPositive(def.HandshakeTimeoutSec, defaultHs)) * time.Second

		if def.Mode == types.ModePassive {
			le, ok := r.listen[def.Endpoint]
			if !ok {
				return nil, fmt.Errorf("PASSIVE eqp %s references missing listen endpoint: %s", id, def.Endpoint)
			}
			rt.Address = le.Bind
			rt.PassiveMaxConn = le.MaxConn
			pool, ok := r.pools[def.Endpoint]
			if !ok {
				pool = queue.New()
				r.pools[def.Endpoint] = pool
			}
			pool.Add(id)
		} else {
			target, ok := r.connect[def.Endpoint]
			if !ok {
				return nil, fmt.Errorf("ACTIVE eqp %s references missing connect endpoint: %s", id, def.Endpoint)
			}
			rt.Address = target
			activeByEndpoint[def.Endpoint]++
			r.active = append(r.active, rt)
		}
		r.eqps[id] = rt
	}

	log.Info().Str("event", "runtime_registry_ready").
		Int("eqp_count", len(r.eqps)).
		Int("passive_endpoint_count", len(r.pools)).
		Int("active_eqp_count", len(r.active)).Send()

	for _, id := range sortedKeys(topo.Endpoints.Connect) {
		configured := topo.Endpoints.Connect[id].ConnCount
		if configured <= 0 {
			configured = defaultConnCount
		}
		if actual := activeByEndpoint[id]; configured != actual {
			log.Warn().Str("event", "connect_endpoint_mismatch").
				Str("endpoint_id", id).
				Int("configured_conn_count", configured).
				Int("active_eqp_ref_count", actual).Send()
		}
	}
	return r, nil
}

// Eqp returns the runtime of one EQP.
func (r *Registry) Eqp(id string) (*EqpRuntime, bool) {
	rt, ok := r.eqps[id]
	return rt, ok
}

// Eqps returns every EQP sorted by id.
func (r *Registry) Eqps() []*EqpRuntime {
	out := make([]*EqpRuntime, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.eqps[id])
	}
	return out
}

// ActiveEqps returns the ACTIVE EQPs sorted by id.
func (r *Registry) ActiveEqps() []*EqpRuntime { return r.active }

// TotalEqpCount is the number of EQPs expected to complete before auto-exit.
func (r *Registry) TotalEqpCount() int { return len(r.eqps) }

// ListenEndpoints returns the listen endpoints that have at least one PASSIVE EQP, sorted by id.
func (r *Registry) ListenEndpoints() []ListenEndpoint {
	out := make([]ListenEndpoint, 0, len(r.pools))
	for _, id := range sortedKeys(r.listen) {
		if _, used := r.pools[id]; used {
			out = append(out, r.listen[id])
		}
	}
	return out
}

func (r *Registry) Backoff() Backoff { return r.backoff }

// ReservePassive takes the next free EQP id of a listen endpoint.
func (r *Registry) ReservePassive(endpointID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[endpointID]
	if !ok || pool.Length() == 0 {
		return "", false
	}
	return pool.Remove().(string), true
}

// ReleasePassive returns an EQP id to its endpoint pool.
func (r *Registry) ReleasePassive(endpointID, eqpID string) {
	if endpointID == "" || eqpID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[endpointID]; ok {
		pool.Add(eqpID)
	}
}

// AvailablePassive reports how many EQP ids are free on a listen endpoint.
func (r *Registry) AvailablePassive(endpointID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[endpointID]; ok {
		return pool.Length()
	}
	return 0
}

func requireNotBlank(v, name string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is blank", name)
	}
	return nil
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

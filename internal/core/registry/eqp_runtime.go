package registry

import (
	"strings"
	"time"

	"tc_eqpsim/internal/shared/types"
)

// EqpRuntime is the resolved, read-only view of one EQP definition.
type EqpRuntime struct {
	ID         string
	Mode       types.EqpMode
	EndpointID string
	Address    HostPort
	// PassiveMaxConn is the maxConn of the listen endpoint; 0 for ACTIVE EQPs.
	PassiveMaxConn int

	SocketType types.SocketType
	ProfileID  string
	Profile    types.Profile

	WaitTimeout      time.Duration
	HandshakeTimeout time.Duration

	vars map[string]string
}

func newEqpRuntime(id string, def types.EqpDefinition) *EqpRuntime {
	rt := &EqpRuntime{
		ID:         id,
		Mode:       def.Mode,
		EndpointID: def.Endpoint,
		ProfileID:  def.Profile,
		vars:       make(map[string]string, len(def.Vars)),
	}
	for k, v := range def.Vars {
		rt.vars[strings.ToLower(k)] = v
	}
	return rt
}

// Var looks up a template variable. Keys are case-insensitive.
func (r *EqpRuntime) Var(key string) (string, bool) {
	v, ok := r.vars[strings.ToLower(key)]
	return v, ok
}

func (r *EqpRuntime) IsPassive() bool { return r.Mode == types.ModePassive }

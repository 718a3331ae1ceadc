package scenario

import (
	"sort"
	"strings"

	"tc_eqpsim/internal/shared/logger"
	"tc_eqpsim/internal/shared/types"
)

// Registry holds the parsed plans of every SCENARIO profile referenced by an EQP.
// Profiles that fail to load are left out; their EQPs get closed right after the handshake.
type Registry struct {
	plans map[string]*Plan
}

// NewRegistry loads the plans referenced by topo. Load errors are logged, never returned.
func NewRegistry(topo *types.Topology) *Registry {
	log := logger.WithComponent("scenario")

	used := make(map[string]struct{})
	for _, eqp := range topo.Eqps {
		if id := strings.TrimSpace(eqp.Profile); id != "" {
			used[id] = struct{}{}
		}
	}
	profileIDs := make([]string, 0, len(used))
	for id := range used {
		profileIDs = append(profileIDs, id)
	}
	sort.Strings(profileIDs)

	r := &Registry{plans: make(map[string]*Plan)}
	byFile := make(map[string]*Plan)

	for _, profileID := range profileIDs {
		profile, ok := topo.Profiles[profileID]
		if !ok {
			log.Warn().Str("event", "scenario_profile_missing").Str("profile_id", profileID).Send()
			continue
		}
		if profile.Type != types.ProfileScenario {
			log.Info().Str("event", "scenario_profile_skip_non_scenario").
				Str("profile_id", profileID).Str("type", string(profile.Type)).Send()
			continue
		}
		file := strings.TrimSpace(profile.ScenarioFile)
		if file == "" {
			log.Warn().Str("event", "scenario_file_blank").Str("profile_id", profileID).Send()
			continue
		}

		plan, cached := byFile[file]
		if !cached {
			var err error
			plan, err = ParseFile(file)
			if err != nil {
				log.Error().Err(err).Str("event", "scenario_load_failed").
					Str("profile_id", profileID).Str("file", file).Send()
				continue
			}
			byFile[file] = plan
			log.Info().Str("event", "scenario_loaded").Str("file", file).Int("step_count", len(plan.Steps)).Send()
		}
		r.plans[profileID] = plan
	}

	log.Info().Str("event", "scenario_registry_ready").
		Int("used_profile_count", len(profileIDs)).
		Int("loaded_plan_count", len(r.plans)).Send()
	return r
}

// PlanByProfile returns the plan loaded for a profile id.
func (r *Registry) PlanByProfile(profileID string) (*Plan, bool) {
	p, ok := r.plans[profileID]
	return p, ok
}

// Len returns the number of loaded plans.
func (r *Registry) Len() int { return len(r.plans) }

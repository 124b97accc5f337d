package analysis

import (
	"sort"

	"github.com/rm4health/dashboard/pkg/instrument"
)

// Registry holds the dashboard's analysis modules keyed by name.
type Registry struct {
	modules map[string]Module
}

// NewRegistry wires up every analysis module against one policy.
func NewRegistry(policy instrument.Policy) *Registry {
	r := &Registry{modules: make(map[string]Module)}
	for _, m := range []Module{
		NewOverviewModule(policy),
		NewLongitudinalModule(policy),
		NewUtilizationModule(policy),
		NewSleepModule(policy),
		NewAdherenceModule(policy),
		NewResidenceModule(policy),
	} {
		r.modules[m.Name()] = m
	}
	return r
}

func (r *Registry) Get(name string) (Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Names lists registered module names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

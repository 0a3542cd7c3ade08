package plugins

import (
	"github.com/kilianp07/roster/core/factory"
	"github.com/kilianp07/roster/core/solver"
)

var refiners = factory.NewRegistry[solver.Refiner]()

// RegisterRefiner adds a refiner factory identified by name. A factory may
// return a nil refiner to disable refinement.
func RegisterRefiner(name string, f factory.Factory[solver.Refiner]) error {
	return refiners.Register(name, f)
}

// DefaultRefiner is used when the configuration names none.
const DefaultRefiner = "exact_lns"

// NewRefiner builds the refiner described by cfg.
func NewRefiner(cfg factory.ModuleConfig) (solver.Refiner, error) {
	if cfg.Type == "" {
		cfg.Type = DefaultRefiner
	}
	return refiners.Create(cfg)
}

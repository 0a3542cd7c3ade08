package plugins

import (
	"github.com/kilianp07/roster/core/refine"
	"github.com/kilianp07/roster/core/solver"
	"github.com/kilianp07/roster/infra/logger"
)

func init() {
	_ = RegisterRefiner("none", func(map[string]any) (solver.Refiner, error) {
		return nil, nil
	})
	_ = RegisterRefiner("exact_lns", func(map[string]any) (solver.Refiner, error) {
		return refine.New(logger.New("refine")), nil
	})
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/roster/app"
	"github.com/kilianp07/roster/core/lifecycle"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/pkg/export"
)

var solveOpts struct {
	seed         int64
	timeBudgetMs int
	refine       bool
	base         string
	lockedBlocks []string
}

var solveCmd = &cobra.Command{
	Use:   "solve <forecast-id>",
	Short: "Solve a forecast version and wait for the plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			cfg := svc.Config().Solver
			if solveOpts.timeBudgetMs > 0 {
				cfg.TimeBudgetMs = solveOpts.timeBudgetMs
			}
			if cmd.Flags().Changed("refine") {
				cfg.Refine.Enabled = solveOpts.refine
			}
			p, err := svc.Manager.Solve(ctx, lifecycle.SolveRequest{
				ForecastID:   args[0],
				Config:       cfg,
				Seed:         solveOpts.seed,
				BaseID:       solveOpts.base,
				LockedBlocks: solveOpts.lockedBlocks,
			})
			if err != nil {
				return err
			}
			if p, err = svc.Manager.Wait(ctx, p.ID); err != nil {
				return err
			}
			return printJSON(cmd, p)
		})
	},
}

var plansForecast string

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List plan versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			ps, err := svc.Manager.Plans(ctx, plansForecast)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, p := range ps {
				fmt.Fprintf(w, "%s\t%s\t%-10s\tdrivers=%d\tuncovered=%d\n",
					p.ID, p.ForecastID, p.Status, p.KPIs.DriversTotal, p.KPIs.Uncovered)
			}
			return nil
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit <plan-id>",
	Short: "Run every audit check against a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			recs, err := svc.Manager.Audit(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, recs)
		})
	},
}

var overrideOpts struct {
	check         string
	actor         string
	justification string
}

var overrideCmd = &cobra.Command{
	Use:   "override <plan-id>",
	Short: "Accept a failed audit check with a justification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		check, err := model.ParseCheck(overrideOpts.check)
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			rec, err := svc.Manager.Override(ctx, args[0], check, model.Override{
				Actor:         overrideOpts.actor,
				Justification: overrideOpts.justification,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		})
	},
}

var lockActor string

var lockCmd = &cobra.Command{
	Use:   "lock <plan-id>",
	Short: "Lock an audited plan for publication",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			p, err := svc.Manager.Lock(ctx, args[0], lockActor)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		})
	},
}

var repairOpts struct {
	event         string
	drivers       []string
	tours         []string
	day           int
	delay         int
	now           string
	actor         string
	justification string
	emergency     bool
}

// disruption builds the disruption described by the repair flags.
func disruption() (model.Disruption, time.Time, error) {
	var d model.Disruption
	var now time.Time
	ev, err := model.ParseEventType(repairOpts.event)
	if err != nil {
		return d, now, err
	}
	d = model.Disruption{
		Type:         ev,
		DriverIDs:    repairOpts.drivers,
		Day:          repairOpts.day,
		DelayMinutes: repairOpts.delay,
	}
	for _, s := range repairOpts.tours {
		k, err := model.ParseTourKey(s)
		if err != nil {
			return d, now, err
		}
		d.Tours = append(d.Tours, k)
	}
	if repairOpts.actor != "" {
		d.Override = &model.Override{
			Actor:         repairOpts.actor,
			Justification: repairOpts.justification,
			Emergency:     repairOpts.emergency,
		}
	}
	if repairOpts.now != "" {
		if now, err = time.Parse(time.RFC3339, repairOpts.now); err != nil {
			return d, now, fmt.Errorf("--now: %w", err)
		}
	}
	return d, now, nil
}

var repairCmd = &cobra.Command{
	Use:   "repair <plan-id>",
	Short: "Derive a repaired plan version from a disruption",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, now, err := disruption()
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			child, err := svc.Manager.Repair(ctx, lifecycle.RepairRequest{PlanID: args[0], Disruption: d, Now: now})
			if err != nil {
				return err
			}
			return printJSON(cmd, child)
		})
	},
}

var exportOpts struct {
	format string
	out    string
}

var exportCmd = &cobra.Command{
	Use:   "export <plan-id>",
	Short: "Write a plan's roster as CSV or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			p, err := svc.Manager.Plan(ctx, args[0])
			if err != nil {
				return err
			}
			as, err := svc.Manager.Assignments(ctx, p.ID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if exportOpts.out != "" {
				fh, err := os.Create(exportOpts.out)
				if err != nil {
					return err
				}
				defer fh.Close()
				w = fh
			}
			switch exportOpts.format {
			case "csv":
				f, err := svc.Manager.Forecast(ctx, p.ForecastID)
				if err != nil {
					return err
				}
				return export.WriteCSV(w, f.WeekAnchor, as)
			case "json":
				return export.WriteJSON(w, as)
			default:
				return fmt.Errorf("unknown format %q", exportOpts.format)
			}
		})
	},
}

func init() {
	solveCmd.Flags().Int64Var(&solveOpts.seed, "seed", 0, "random seed")
	solveCmd.Flags().IntVar(&solveOpts.timeBudgetMs, "time-budget-ms", 0, "override the configured time budget")
	solveCmd.Flags().BoolVar(&solveOpts.refine, "refine", false, "enable the refinement pass")
	solveCmd.Flags().StringVar(&solveOpts.base, "base", "", "plan whose roster drives driver naming and churn")
	solveCmd.Flags().StringSliceVar(&solveOpts.lockedBlocks, "lock-block", nil, "block ids of the base plan to keep unchanged")

	plansCmd.Flags().StringVar(&plansForecast, "forecast", "", "only plans of this forecast")

	overrideCmd.Flags().StringVar(&overrideOpts.check, "check", "", "audit check name, e.g. COVERAGE")
	overrideCmd.Flags().StringVar(&overrideOpts.actor, "actor", "", "who accepts the violation")
	overrideCmd.Flags().StringVar(&overrideOpts.justification, "justification", "", "why the violation is acceptable")
	_ = overrideCmd.MarkFlagRequired("check")

	lockCmd.Flags().StringVar(&lockActor, "actor", "", "who locks the plan")
	_ = lockCmd.MarkFlagRequired("actor")

	repairCmd.Flags().StringVar(&repairOpts.event, "event", "", "NO_SHOW, DELAY, VEHICLE_DOWN or MANUAL")
	repairCmd.Flags().StringSliceVar(&repairOpts.drivers, "driver", nil, "affected driver ids")
	repairCmd.Flags().StringSliceVar(&repairOpts.tours, "tour", nil, "affected tours as fingerprint:instance")
	repairCmd.Flags().IntVar(&repairOpts.day, "day", 0, "restrict a no-show to one day (1-7)")
	repairCmd.Flags().IntVar(&repairOpts.delay, "delay", 0, "delay in minutes")
	repairCmd.Flags().StringVar(&repairOpts.now, "now", "", "reference time for the freeze window (RFC3339)")
	repairCmd.Flags().StringVar(&repairOpts.actor, "override-actor", "", "approve changes inside the freeze window")
	repairCmd.Flags().StringVar(&repairOpts.justification, "justification", "", "override justification")
	repairCmd.Flags().BoolVar(&repairOpts.emergency, "emergency", false, "emergency override for frozen tours")
	_ = repairCmd.MarkFlagRequired("event")

	exportCmd.Flags().StringVar(&exportOpts.format, "format", "csv", "csv or json")
	exportCmd.Flags().StringVarP(&exportOpts.out, "output", "o", "", "output file (default stdout)")

	rootCmd.AddCommand(solveCmd, plansCmd, auditCmd, overrideCmd, lockCmd, repairCmd, exportCmd)
}

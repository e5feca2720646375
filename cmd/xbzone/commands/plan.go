package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/xbzone/pkg/config"
	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/exportmask"
	"github.com/openfroyo/xbzone/pkg/placement"
	"github.com/openfroyo/xbzone/pkg/policy"
)

// arrayPlan is the placement plan and policy verdict for one array.
type arrayPlan struct {
	ArrayID string          `json:"array_id"`
	Plan    *placement.Plan `json:"plan"`
	Policy  *policy.Result  `json:"policy"`
	MaskID  string          `json:"mask_id,omitempty"`
}

// planReport is the outcome of planning a topology file.
type planReport struct {
	Topology string      `json:"topology"`
	Arrays   []arrayPlan `json:"arrays"`
}

// Allowed reports whether no array plan has a blocking violation.
func (r *planReport) Allowed() bool {
	for _, a := range r.Arrays {
		if !a.Policy.Allowed {
			return false
		}
	}
	return true
}

// planner plans topology files with a fixed orchestrator and policy engine.
type planner struct {
	rt        *runtime
	loader    *config.TopologyLoader
	policies  *policy.Engine
	directors int
}

func newPlanner(ctx context.Context, rt *runtime, policyPaths []string, directors int) (*planner, error) {
	policies, err := policy.NewEngine(rt.logger)
	if err != nil {
		return nil, err
	}
	if len(policyPaths) > 0 {
		if err := policies.LoadPolicies(ctx, policyPaths); err != nil {
			return nil, err
		}
	}
	return &planner{
		rt:        rt,
		loader:    config.NewTopologyLoader(),
		policies:  policies,
		directors: directors,
	}, nil
}

// plan loads the topology and plans every array in it.
func (p *planner) plan(ctx context.Context, path string) (*planReport, *config.Topology, error) {
	ctx = p.rt.withTelemetry(ctx)

	topo, err := p.loader.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}

	directors := p.directors
	if directors == 0 {
		directors = topo.Directors
	}
	if directors == 0 {
		directors = p.rt.cfg.Placement.DirectorCount
	}
	orchestrator := p.rt.orchestrator(directors)

	report := &planReport{Topology: path, Arrays: []arrayPlan{}}
	for _, arrayID := range topo.ArrayIDs() {
		req, err := topo.PlanRequest(arrayID)
		if err != nil {
			return nil, nil, err
		}
		plan, err := orchestrator.Plan(ctx, req)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to plan array %s: %w", arrayID, err)
		}
		result, err := p.policies.EvaluatePlan(ctx, policy.NewPlanInput(arrayID, req, plan))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to evaluate policies for array %s: %w", arrayID, err)
		}
		for _, v := range result.Violations {
			_ = p.rt.tel.Events.PublishPolicyViolation(resourceOr(v.Resource, arrayID), v.Policy, v.Message)
		}
		report.Arrays = append(report.Arrays, arrayPlan{ArrayID: arrayID, Plan: plan, Policy: result})
	}
	return report, topo, nil
}

// save records the topology and creates or updates the export mask of every
// array whose plan is feasible and allowed.
func (p *planner) save(ctx context.Context, topo *config.Topology, report *planReport) error {
	store := p.rt.store
	for _, id := range topo.ArrayIDs() {
		array := topo.Arrays[id]
		if err := store.UpsertStorageSystem(ctx, &array); err != nil {
			return err
		}
	}
	networkIDs := make([]string, 0, len(topo.Networks))
	for id := range topo.Networks {
		networkIDs = append(networkIDs, id)
	}
	sort.Strings(networkIDs)
	for _, id := range networkIDs {
		network := topo.Networks[id]
		if err := store.UpsertNetwork(ctx, &network); err != nil {
			return err
		}
	}
	for i := range topo.Ports {
		if err := store.UpsertStoragePort(ctx, &topo.Ports[i]); err != nil {
			return err
		}
	}
	for i := range topo.Initiators {
		if err := store.UpsertInitiator(ctx, &topo.Initiators[i]); err != nil {
			return err
		}
	}

	for i := range report.Arrays {
		a := &report.Arrays[i]
		if !a.Plan.Feasible() || !a.Policy.Allowed {
			continue
		}
		maskID, err := p.saveMask(ctx, a)
		if err != nil {
			return err
		}
		a.MaskID = maskID
	}
	return nil
}

// maxSaveAttempts bounds how often saveMask re-locks when the mask's
// initiators moved between reading it and taking its keys.
const maxSaveAttempts = 3

// saveMask points the array's export mask at the zoned initiators and the
// selected ports. Exported volumes are kept. The mask is rewritten while the
// keys of both its current and its new initiators are held.
func (p *planner) saveMask(ctx context.Context, a *arrayPlan) (string, error) {
	maskID := maskIDFor(a.ArrayID)
	zoned := a.Plan.Zoning.InitiatorIDs()
	locks := p.rt.lockService()
	holderID := "plan-" + uuid.New().String()

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		mask, err := p.loadMask(ctx, a.ArrayID, maskID)
		if err != nil {
			return "", err
		}
		locked := unionIDs(mask.Initiators, zoned)

		moved := false
		err = exportmask.HoldMaskLocks(ctx, p.rt.store, locks, holderID, a.ArrayID, locked, func(ctx context.Context) error {
			mask, err := p.loadMask(ctx, a.ArrayID, maskID)
			if err != nil {
				return err
			}
			if len(unionIDs(mask.Initiators, locked)) != len(locked) {
				moved = true
				return nil
			}

			mask.Initiators = zoned
			mask.StoragePorts = mask.StoragePorts[:0]
			for _, port := range a.Plan.PortGroup.Ports() {
				mask.StoragePorts = append(mask.StoragePorts, port.ID)
			}
			mask.Inactive = false
			if err := p.rt.store.PersistExportMask(ctx, mask); err != nil {
				return err
			}
			log.Info().Str("array_id", a.ArrayID).Str("mask_id", maskID).Int64("version", mask.Version).Msg("Export mask saved")
			return nil
		})
		if err != nil {
			return "", err
		}
		if !moved {
			return maskID, nil
		}
		log.Debug().Str("mask_id", maskID).Int("attempt", attempt+1).Msg("Export mask initiators changed while locking, retrying")
	}
	return "", engine.NewConflictError("export mask initiators kept changing while saving", nil).
		WithCode(engine.ErrCodeConflict).
		WithResource(maskID)
}

// loadMask returns the stored mask, or a new one when none exists yet.
func (p *planner) loadMask(ctx context.Context, arrayID, maskID string) (*engine.ExportMask, error) {
	mask, err := p.rt.store.GetExportMask(ctx, maskID)
	if engine.IsNotFound(err) {
		return &engine.ExportMask{
			ID:              maskID,
			Label:           "xbzone_" + arrayID,
			StorageSystemID: arrayID,
			Volumes:         engine.VolumeMap{},
		}, nil
	}
	return mask, err
}

// unionIDs returns the sorted distinct ids of both sets.
func unionIDs(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, id := range append(append([]string{}, a...), b...) {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// maskIDFor names the export mask xbzone maintains for an array.
func maskIDFor(arrayID string) string {
	return arrayID + "-mask"
}

func resourceOr(resource, fallback string) string {
	if resource == "" {
		return fallback
	}
	return resource
}

func newPlanCommand() *cobra.Command {
	var (
		topologyPath string
		policyPaths  []string
		directors    int
		save         bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Select port groups and zone directors for every array",
		Long: `Plan the backend connectivity of every array in a topology file.

For each array the plan:
  - Selects a port group spread across enclosures and networks
  - Zones each director's initiators onto the port group
  - Evaluates the built-in and custom Rego policies

With --save the topology is recorded and every feasible, allowed plan updates
the array's export mask ("<array>-mask"). A blocking policy violation makes the
command fail.`,
		Example: `  # Plan a JSON or CUE topology
  xbzone plan --topology fabric.cue

  # Plan with custom policies and record the masks
  xbzone plan --topology fabric.json --policies ./policies --save

  # Machine-readable output
  xbzone plan --topology fabric.json --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log.Info().
				Str("topology", topologyPath).
				Strs("policies", policyPaths).
				Int("directors", directors).
				Bool("save", save).
				Msg("Planning topology")

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			p, err := newPlanner(ctx, rt, policyPaths, directors)
			if err != nil {
				return err
			}
			report, topo, err := p.plan(ctx, topologyPath)
			if err != nil {
				return err
			}
			if save {
				if err := p.save(ctx, topo, report); err != nil {
					return fmt.Errorf("failed to save plan: %w", err)
				}
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printPlanReport(cmd.OutOrStdout(), report)
			}

			if !report.Allowed() {
				return fmt.Errorf("plan rejected by policy")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&topologyPath, "topology", "t", "", "topology file (.json or .cue)")
	cmd.Flags().StringSliceVarP(&policyPaths, "policies", "p", nil, "policy files or directories")
	cmd.Flags().IntVar(&directors, "directors", 0, "number of directors (default: from topology or config)")
	cmd.Flags().BoolVar(&save, "save", false, "record the topology and update export masks")
	cmd.MarkFlagRequired("topology")

	return cmd
}

// printPlanReport renders a report for humans.
func printPlanReport(w io.Writer, report *planReport) {
	for _, a := range report.Arrays {
		plan := a.Plan
		if !plan.Feasible() {
			fmt.Fprintf(w, "Array %s (%s): infeasible, no port group meets the minimum redundancy\n",
				a.ArrayID, plan.SystemType)
		} else {
			fmt.Fprintf(w, "Array %s (%s): %d enclosures, %d directors, %d paths per director\n",
				a.ArrayID, plan.SystemType, plan.EnclosureCount, plan.DirectorCount, plan.PathsPerDirector)

			fmt.Fprintln(w, "  Port group:")
			for _, networkID := range plan.PortGroup.NetworkIDs() {
				for i, set := range plan.PortGroup[networkID] {
					names := make([]string, 0, len(set))
					for _, port := range set {
						names = append(names, port.Name)
					}
					fmt.Fprintf(w, "    %s set %d: %s\n", networkID, i+1, strings.Join(names, ", "))
				}
			}

			fmt.Fprintln(w, "  Zoning:")
			for _, ini := range plan.Zoning.InitiatorIDs() {
				fmt.Fprintf(w, "    %s -> %s\n", ini, strings.Join(plan.Zoning[ini], ", "))
			}
		}

		for _, g := range plan.Gaps {
			fmt.Fprintf(w, "  Gap: initiator %s of director %s on %s: %s\n", g.InitiatorID, g.Director, g.Network.ID, g.Reason)
		}

		verdict := "allowed"
		if !a.Policy.Allowed {
			verdict = "rejected"
		}
		fmt.Fprintf(w, "  Policy: %s (%d violations, %d warnings)\n", verdict, len(a.Policy.Violations), len(a.Policy.Warnings))
		for _, v := range append(append([]policy.Violation{}, a.Policy.Violations...), a.Policy.Warnings...) {
			fmt.Fprintf(w, "    [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
		}
		if a.MaskID != "" {
			fmt.Fprintf(w, "  Export mask: %s\n", a.MaskID)
		}
	}
}

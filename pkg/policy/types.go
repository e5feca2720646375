package policy

import (
	"sort"
	"time"

	"github.com/openfroyo/xbzone/pkg/placement"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for plans that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for plans that must not be applied.
	SeverityError Severity = "error"

	// SeverityCritical is for plans that must not be applied.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects a plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego module. Violations are collected from its deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	Enabled bool     `json:"enabled"`
	Tags    []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the director, network or array the violation is about.
	Resource string `json:"resource,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result represents the result of evaluating a zoning plan.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations and evaluation failures.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// DirectorInput summarizes what one director received from the plan.
type DirectorInput struct {
	Initiators []string `json:"initiators"`

	// Paths is the number of initiator to port assignments of the director.
	Paths int `json:"paths"`
}

// PlanInput is the document policies are evaluated against.
type PlanInput struct {
	ArrayID          string                   `json:"array_id"`
	SystemType       string                   `json:"system_type"`
	Feasible         bool                     `json:"feasible"`
	EnclosureCount   int                      `json:"enclosure_count"`
	DirectorCount    int                      `json:"director_count"`
	PathsPerDirector int                      `json:"paths_per_director"`
	Enclosures       []string                 `json:"enclosures"`
	Networks         []string                 `json:"networks"`
	Directors        map[string]DirectorInput `json:"directors"`
	Gaps             []placement.Gap          `json:"gaps"`
}

// NewPlanInput builds the policy input for a placement plan.
func NewPlanInput(arrayID string, req placement.PlanRequest, plan *placement.Plan) *PlanInput {
	in := &PlanInput{
		ArrayID:          arrayID,
		SystemType:       plan.SystemType,
		Feasible:         plan.Feasible(),
		EnclosureCount:   plan.EnclosureCount,
		DirectorCount:    plan.DirectorCount,
		PathsPerDirector: plan.PathsPerDirector,
		Enclosures:       []string{},
		Networks:         plan.PortGroup.NetworkIDs(),
		Directors:        map[string]DirectorInput{},
		Gaps:             plan.Gaps,
	}
	if in.Gaps == nil {
		in.Gaps = []placement.Gap{}
	}

	enclosures := map[string]struct{}{}
	for _, p := range plan.PortGroup.Ports() {
		enclosures[p.Group.Enclosure] = struct{}{}
	}
	for e := range enclosures {
		in.Enclosures = append(in.Enclosures, e)
	}
	sort.Strings(in.Enclosures)

	for _, director := range req.Initiators.Directors() {
		d := DirectorInput{Initiators: []string{}}
		for _, inis := range req.Initiators[director] {
			for _, ini := range inis {
				d.Initiators = append(d.Initiators, ini.ID)
				d.Paths += len(plan.Zoning[ini.ID])
			}
		}
		sort.Strings(d.Initiators)
		in.Directors[director] = d
	}
	return in
}

// Summary counts violations by severity.
func (r *Result) Summary() map[Severity]int {
	out := map[Severity]int{}
	for _, v := range append(append([]Violation{}, r.Violations...), r.Warnings...) {
		out[v.Severity]++
	}
	return out
}

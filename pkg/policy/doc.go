// Package policy evaluates zoning plans against Rego policies with Open
// Policy Agent.
//
// Every policy is a Rego module whose deny set holds the violations. An
// entry is a message string or an object with message, resource and
// severity keys; the severity defaults to the policy's own. Error and
// critical violations reject the plan, the rest are reported as warnings.
//
// # Input
//
// Policies see a PlanInput built from a placement plan by NewPlanInput:
//
//	{
//	    "array_id": "array-1",
//	    "feasible": true,
//	    "enclosure_count": 2,
//	    "paths_per_director": 4,
//	    "enclosures": ["X1", "X2"],
//	    "networks": ["net-a", "net-b"],
//	    "directors": {"director-1-1-A": {"initiators": ["i1"], "paths": 1}},
//	    "gaps": []
//	}
//
// # Built-in Policies
//
//  1. port-group-feasible - no port group reached the minimum redundancy (error)
//  2. single-enclosure - the port group spans one enclosure only (warning)
//  3. director-paths - a director got no paths (error) or more than its budget (warning)
//  4. assignment-gaps - an initiator was left without a port (warning)
//
// # Custom Policies
//
// Custom policies are loaded from .rego files, named after the file, or
// from JSON policy definitions. A "# severity: error" comment in the
// leading comment block of a .rego file sets its severity:
//
//	# Zoning must use at least three fabrics.
//	# severity: error
//	package custom.networks
//
//	import rego.v1
//
//	deny contains msg if {
//	    count(input.networks) < 3
//	    msg := "at least three networks are required"
//	}
//
// # Hot Reload
//
// Loader.Watch reports changed files after a debounce period; callers
// reload with Engine.LoadPolicies, which keeps the previous set when the
// new one does not compile.
package policy

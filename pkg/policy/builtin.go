package policy

// GetBuiltinPolicies returns all built-in zoning policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		portGroupFeasiblePolicy(),
		singleEnclosurePolicy(),
		directorPathsPolicy(),
		assignmentGapsPolicy(),
	}
}

// portGroupFeasiblePolicy rejects plans without a port group.
func portGroupFeasiblePolicy() Policy {
	return Policy{
		Name:        "port-group-feasible",
		Description: "A port group with at least the minimum redundancy must be selected",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"redundancy"},
		Rego: `package xbzone.policies.feasible

import rego.v1

deny contains violation if {
	not input.feasible
	violation := {
		"message": sprintf("no port group with minimum redundancy on array %s", [input.array_id]),
		"resource": input.array_id,
	}
}
`,
	}
}

// singleEnclosurePolicy warns when every selected port sits in one enclosure.
func singleEnclosurePolicy() Policy {
	return Policy{
		Name:        "single-enclosure",
		Description: "Port groups should span more than one enclosure",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"redundancy", "enclosure"},
		Rego: `package xbzone.policies.enclosure

import rego.v1

deny contains violation if {
	input.feasible
	input.enclosure_count == 1
	violation := {
		"message": sprintf("port group on array %s spans a single enclosure (%s)", [input.array_id, concat(",", input.enclosures)]),
		"resource": input.array_id,
	}
}
`,
	}
}

// directorPathsPolicy rejects plans that leave a director without paths.
func directorPathsPolicy() Policy {
	return Policy{
		Name:        "director-paths",
		Description: "Every director must receive at least one path to the array",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"zoning", "director"},
		Rego: `package xbzone.policies.director

import rego.v1

deny contains violation if {
	input.feasible
	some name, director in input.directors
	director.paths == 0
	violation := {
		"message": sprintf("director %s has no paths to array %s", [name, input.array_id]),
		"resource": name,
	}
}

deny contains violation if {
	input.feasible
	some name, director in input.directors
	director.paths > input.paths_per_director
	violation := {
		"message": sprintf("director %s has %d paths, budget is %d", [name, director.paths, input.paths_per_director]),
		"resource": name,
		"severity": "warning",
	}
}
`,
	}
}

// assignmentGapsPolicy reports initiators that received no port.
func assignmentGapsPolicy() Policy {
	return Policy{
		Name:        "assignment-gaps",
		Description: "Initiators left without a storage port are reported",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"zoning"},
		Rego: `package xbzone.policies.gaps

import rego.v1

deny contains violation if {
	some gap in input.gaps
	violation := {
		"message": sprintf("initiator %s of director %s on network %s: %s", [gap.initiator_id, gap.director, gap.network.id, gap.reason]),
		"resource": gap.initiator_id,
	}
}
`,
	}
}

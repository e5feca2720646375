// Package config loads the xbzone configuration and topology documents.
//
// # Application configuration
//
// AppConfig is read from YAML over DefaultAppConfig and validated with
// struct tags. It holds the store path, the lock backend with its timeout
// classes, placement overrides, dispatcher limits and the telemetry block.
//
//	cfg, err := config.LoadAppConfig("xbzone.yaml")
//	timeouts := cfg.LockTimeouts()
//
// # Topology
//
// A topology lists arrays, networks, array ports and director initiators.
// It may be written in JSON or CUE; either way it is unified with the
// built-in #Topology schema and must be concrete:
//
//	arrays: [{id: "array-1", system_type: "xtremio"}]
//	networks: [{id: "net-a"}, {id: "net-b"}]
//	ports: [
//		{id: "p1", group: "X1-SC1", network: "net-a", array: "array-1"},
//		{id: "p2", group: "X1-SC2", network: "net-b", array: "array-1"},
//	]
//	initiators: [
//		{id: "i1", port: "10:00:00:00:c9:00:00:01", network: "net-a", director: "director-1-1-A"},
//	]
//
// TopologyLoader decodes port group tags, normalizes initiator ports and
// resolves references. Topology.PlanRequest builds the placement input for
// one array.
package config

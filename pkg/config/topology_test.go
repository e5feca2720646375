package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/xbzone/pkg/engine"
)

const testTopologyJSON = `{
  "arrays": [{"id": "array-1", "label": "xio-1", "system_type": "xtremio"}],
  "networks": [{"id": "net-a", "label": "fabric A"}, {"id": "net-b"}, {"id": "net-c"}],
  "ports": [
    {"id": "p1", "name": "X1-SC1-fc1", "group": "X1-SC1", "network": "net-a", "array": "array-1"},
    {"id": "p2", "group": "X1-SC2", "network": "net-b", "array": "array-1"},
    {"id": "p3", "group": "X2-SC1", "network": "net-c", "array": "array-1"}
  ],
  "initiators": [
    {"id": "i1", "port": "10:00:00:00:c9:00:00:01", "host": "host-a", "network": "net-a", "director": "director-1-1-A"},
    {"id": "i2", "port": "10:00:00:00:c9:00:00:02", "network": "net-b", "director": "director-1-1-B"}
  ]
}`

const testTopologyCUE = `
arrays: [{id: "array-1", system_type: "xtremio"}]
networks: [{id: "net-a"}]
ports: [for i in [1, 2] {id: "p\(i)", group: "X1-SC\(i)", network: "net-a", array: "array-1"}]
directors: 2
`

func TestTopologyLoader_JSON(t *testing.T) {
	topo, err := NewTopologyLoader().Load([]byte(testTopologyJSON), "topology.json")
	if err != nil {
		t.Fatalf("failed to load topology: %v", err)
	}

	if len(topo.Arrays) != 1 || topo.Arrays["array-1"].SystemType != "xtremio" {
		t.Errorf("unexpected arrays: %+v", topo.Arrays)
	}
	if topo.Networks["net-b"].Label != "net-b" {
		t.Errorf("expected label to default to ID, got %q", topo.Networks["net-b"].Label)
	}
	if len(topo.Ports) != 3 {
		t.Fatalf("expected 3 ports, got %d", len(topo.Ports))
	}
	if topo.Ports[0].Group != (engine.PortGroupTag{Enclosure: "X1", Controller: "SC1"}) {
		t.Errorf("unexpected port group: %+v", topo.Ports[0].Group)
	}
	if topo.Ports[1].Name != "p2" {
		t.Errorf("expected name to default to ID, got %q", topo.Ports[1].Name)
	}
	if topo.Initiators[0].Port != "10000000C9000001" || topo.Initiators[0].HostName != "host-a" {
		t.Errorf("unexpected initiator: %+v", topo.Initiators[0])
	}
}

func TestTopologyLoader_CUE(t *testing.T) {
	topo, err := NewTopologyLoader().Load([]byte(testTopologyCUE), "topology.cue")
	if err != nil {
		t.Fatalf("failed to load topology: %v", err)
	}
	if len(topo.Ports) != 2 || topo.Ports[1].ID != "p2" {
		t.Errorf("expected comprehension to produce 2 ports, got %+v", topo.Ports)
	}
	if topo.Directors != 2 {
		t.Errorf("expected 2 directors, got %d", topo.Directors)
	}
	if len(topo.Initiators) != 0 {
		t.Errorf("expected no initiators, got %d", len(topo.Initiators))
	}
}

func TestTopologyLoader_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")
	if err := os.WriteFile(path, []byte(testTopologyJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewTopologyLoader().LoadFile(path); err != nil {
		t.Fatalf("failed to load file: %v", err)
	}
	if _, err := NewTopologyLoader().LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTopologyLoader_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		filename string
		contains string
	}{
		{
			name:     "malformed json",
			input:    `{"arrays": [`,
			filename: "t.json",
		},
		{
			name:     "unknown field",
			input:    `{"arrays": [{"id": "a", "system_type": "xtremio"}], "networks": [{"id": "n"}], "extra": 1}`,
			filename: "t.json",
		},
		{
			name:     "malformed group tag",
			input:    `arrays: [{id: "a", system_type: "xtremio"}], networks: [{id: "n"}], ports: [{id: "p", group: "X1", network: "n", array: "a"}]`,
			filename: "t.cue",
		},
		{
			name:     "missing arrays",
			input:    `networks: [{id: "n"}]`,
			filename: "t.cue",
		},
		{
			name:     "unknown network",
			input:    `arrays: [{id: "a", system_type: "xtremio"}], networks: [{id: "n"}], ports: [{id: "p", group: "X1-SC1", network: "m", array: "a"}]`,
			filename: "t.cue",
			contains: "unknown network m",
		},
		{
			name:     "duplicate initiator",
			input:    `arrays: [{id: "a", system_type: "xtremio"}], networks: [{id: "n"}], initiators: [{id: "i", port: "x", network: "n", director: "d"}, {id: "i", port: "y", network: "n", director: "d"}]`,
			filename: "t.cue",
			contains: "duplicate initiator i",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTopologyLoader().Load([]byte(tt.input), tt.filename)
			if err == nil {
				t.Fatal("expected error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("expected %q in %v", tt.contains, err)
			}
		})
	}
}

func TestTopology_PlanRequest(t *testing.T) {
	topo, err := NewTopologyLoader().Load([]byte(testTopologyJSON), "topology.json")
	if err != nil {
		t.Fatalf("failed to load topology: %v", err)
	}

	req, err := topo.PlanRequest("array-1")
	if err != nil {
		t.Fatalf("failed to build plan request: %v", err)
	}
	if req.SystemType != "xtremio" {
		t.Errorf("unexpected system type %s", req.SystemType)
	}
	// net-c has no initiators
	if len(req.Candidates) != 2 || len(req.Candidates["net-c"]) != 0 {
		t.Errorf("expected candidates on net-a and net-b only, got %v", req.Candidates)
	}
	if got := req.Initiators.Directors(); len(got) != 2 || got[0] != "director-1-1-A" {
		t.Errorf("unexpected directors %v", got)
	}
	if len(req.Initiators["director-1-1-B"]["net-b"]) != 1 {
		t.Errorf("expected i2 under director-1-1-B/net-b")
	}

	if _, err := topo.PlanRequest("missing"); !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTopology_ArrayIDs(t *testing.T) {
	topo := &Topology{Arrays: map[string]engine.StorageSystem{"b": {}, "a": {}}}
	ids := topo.ArrayIDs()
	if len(ids) != 2 || ids[0] != "a" {
		t.Errorf("expected sorted IDs, got %v", ids)
	}
}

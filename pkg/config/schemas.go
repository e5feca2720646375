package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// SchemaTopology is the name of the built-in topology schema.
const SchemaTopology = "topology"

// NewSchemaRegistry creates a schema registry with the built-in schemas.
// All values built against the registry must come from ctx.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema(SchemaTopology, builtinTopologySchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Definition returns a definition, e.g. "#Topology", of a registered schema.
func (sr *SchemaRegistry) Definition(name, def string) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}
	v := schema.LookupPath(cue.ParsePath(def))
	if !v.Exists() {
		return cue.Value{}, fmt.Errorf("definition %s not found in schema %s", def, name)
	}
	return v, nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinTopologySchema = `
#Array: {
	id:          string & != ""
	label?:      string
	system_type: string & != ""
	serial?:     string
}

#Network: {
	id:     string & != ""
	label?: string
}

// group is "<enclosure>-<controller>", e.g. "X1-SC2"
#Port: {
	id:               string & != ""
	name?:            string
	group:            string & =~"^[^-]+-.+$"
	network:          string & != ""
	port_network_id?: string
	array:            string & != ""
}

#Initiator: {
	id:       string & != ""
	port:     string & != ""
	node?:    string
	host?:    string
	network:  string & != ""
	director: string & != ""
}

#Topology: {
	arrays: [...#Array]
	networks: [...#Network]
	ports:      *[] | [...#Port]
	initiators: *[] | [...#Initiator]
	directors?: int & >=0
}
`

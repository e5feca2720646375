package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/xbzone/pkg/engine"
)

// TopologyLoader parses topology documents written in JSON or CUE, unifies
// them with the built-in schema and decodes them into engine types.
type TopologyLoader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewTopologyLoader creates a new topology loader.
func NewTopologyLoader() *TopologyLoader {
	ctx := cuecontext.New()
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &TopologyLoader{
		ctx:       ctx,
		schemas:   NewSchemaRegistry(ctx),
		validator: v,
	}
}

// Schemas returns the schema registry.
func (l *TopologyLoader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadFile loads a topology file. Files ending in .json are read as JSON,
// everything else as CUE.
func (l *TopologyLoader) LoadFile(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology %s: %w", path, err)
	}
	return l.Load(data, path)
}

// Load parses, validates and decodes one topology document.
func (l *TopologyLoader) Load(data []byte, filename string) (*Topology, error) {
	doc, err := l.Parse(data, filename)
	if err != nil {
		return nil, err
	}
	return doc.Topology()
}

// Parse parses a topology document and checks it against the schema and
// the struct validation rules.
func (l *TopologyLoader) Parse(data []byte, filename string) (*TopologyDocument, error) {
	val, err := l.compile(data, filename)
	if err != nil {
		return nil, err
	}

	def, err := l.schemas.Definition(SchemaTopology, "#Topology")
	if err != nil {
		return nil, err
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	var doc TopologyDocument
	if err := unified.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode topology: %w", err)
	}

	if err := l.validator.Struct(&doc); err != nil {
		return nil, convertValidatorErrors(err)
	}
	return &doc, nil
}

func (l *TopologyLoader) compile(data []byte, filename string) (cue.Value, error) {
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		expr, err := cuejson.Extract(filename, data)
		if err != nil {
			return cue.Value{}, convertCUEErrors(err)
		}
		val := l.ctx.BuildExpr(expr)
		if err := val.Err(); err != nil {
			return cue.Value{}, convertCUEErrors(err)
		}
		return val, nil
	}

	val := l.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// Topology resolves references and decodes the document into engine types.
// Port group tags are decoded and initiator ports normalized.
func (d *TopologyDocument) Topology() (*Topology, error) {
	var errs ValidationErrors
	fail := func(path, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	topo := &Topology{
		Arrays:    make(map[string]engine.StorageSystem, len(d.Arrays)),
		Networks:  make(map[string]engine.Network, len(d.Networks)),
		Directors: d.Directors,
	}

	for i, a := range d.Arrays {
		if _, dup := topo.Arrays[a.ID]; dup {
			fail(fmt.Sprintf("arrays[%d]", i), "duplicate array %s", a.ID)
			continue
		}
		topo.Arrays[a.ID] = engine.StorageSystem{ID: a.ID, Label: a.Label, SystemType: a.SystemType, Serial: a.Serial}
	}

	for i, n := range d.Networks {
		if _, dup := topo.Networks[n.ID]; dup {
			fail(fmt.Sprintf("networks[%d]", i), "duplicate network %s", n.ID)
			continue
		}
		label := n.Label
		if label == "" {
			label = n.ID
		}
		topo.Networks[n.ID] = engine.Network{ID: n.ID, Label: label}
	}

	seen := map[string]bool{}
	names := map[string]bool{}
	for i, p := range d.Ports {
		path := fmt.Sprintf("ports[%d]", i)
		name := p.Name
		if name == "" {
			name = p.ID
		}
		switch {
		case seen[p.ID]:
			fail(path, "duplicate port %s", p.ID)
			continue
		case names[p.Array+"/"+name]:
			fail(path, "duplicate port name %s on array %s", name, p.Array)
			continue
		}
		seen[p.ID] = true
		names[p.Array+"/"+name] = true

		if _, ok := topo.Arrays[p.Array]; !ok {
			fail(path, "unknown array %s", p.Array)
		}
		if _, ok := topo.Networks[p.Network]; !ok {
			fail(path, "unknown network %s", p.Network)
		}
		tag, err := engine.ParsePortGroupTag(p.Group)
		if err != nil {
			fail(path+".group", "%v", err)
			continue
		}

		topo.Ports = append(topo.Ports, engine.StoragePort{
			ID:              p.ID,
			Name:            name,
			Group:           tag,
			NetworkID:       p.Network,
			PortNetworkID:   p.PortNetworkID,
			StorageSystemID: p.Array,
		})
	}

	seen = map[string]bool{}
	for i, ini := range d.Initiators {
		path := fmt.Sprintf("initiators[%d]", i)
		if seen[ini.ID] {
			fail(path, "duplicate initiator %s", ini.ID)
			continue
		}
		seen[ini.ID] = true
		if _, ok := topo.Networks[ini.Network]; !ok {
			fail(path, "unknown network %s", ini.Network)
		}

		topo.Initiators = append(topo.Initiators, engine.Initiator{
			ID:        ini.ID,
			Port:      engine.NormalizeInitiatorPort(ini.Port),
			Node:      ini.Node,
			HostName:  ini.Host,
			NetworkID: ini.Network,
			Director:  ini.Director,
		})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return topo, nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func convertValidatorErrors(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validation failed: %w", err)
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed on %q rule", fe.Tag()),
		})
	}
	return out
}

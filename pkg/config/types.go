package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/placement"
)

// TopologyDocument is the on-disk topology description, written in JSON or CUE.
type TopologyDocument struct {
	// Arrays are the backend storage systems.
	Arrays []ArrayConfig `json:"arrays" validate:"required,min=1,dive"`

	// Networks are the fabrics shared by array ports and initiators.
	Networks []NetworkConfig `json:"networks" validate:"required,min=1,dive"`

	// Ports are the array target ports.
	Ports []PortConfig `json:"ports" validate:"dive"`

	// Initiators are the front-end director initiators.
	Initiators []InitiatorConfig `json:"initiators" validate:"dive"`

	// Directors overrides the director count derived from the initiators.
	Directors int `json:"directors,omitempty" validate:"gte=0"`
}

// ArrayConfig describes a storage system.
type ArrayConfig struct {
	ID         string `json:"id" validate:"required"`
	Label      string `json:"label,omitempty"`
	SystemType string `json:"system_type" validate:"required"`
	Serial     string `json:"serial,omitempty"`
}

// NetworkConfig describes a network.
type NetworkConfig struct {
	ID    string `json:"id" validate:"required"`
	Label string `json:"label,omitempty"`
}

// PortConfig describes an array port.
type PortConfig struct {
	ID string `json:"id" validate:"required"`

	// Name is the array-unique port name; defaults to ID.
	Name string `json:"name,omitempty"`

	// Group is the "<enclosure>-<controller>" tag reported by the array.
	Group string `json:"group" validate:"required"`

	Network       string `json:"network" validate:"required"`
	PortNetworkID string `json:"port_network_id,omitempty"`
	Array         string `json:"array" validate:"required"`
}

// InitiatorConfig describes a director initiator.
type InitiatorConfig struct {
	ID       string `json:"id" validate:"required"`
	Port     string `json:"port" validate:"required"`
	Node     string `json:"node,omitempty"`
	Host     string `json:"host,omitempty"`
	Network  string `json:"network" validate:"required"`
	Director string `json:"director" validate:"required"`
}

// ValidationError represents a topology validation error.
type ValidationError struct {
	// Path is the field path where the error occurred.
	Path string `json:"path"`

	// Message is the error message.
	Message string `json:"message"`

	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	switch {
	case ve.File != "" && ve.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", ve.File, ve.Line, ve.Column, ve.Message)
	case ve.Path != "":
		return fmt.Sprintf("%s: %s", ve.Path, ve.Message)
	default:
		return ve.Message
	}
}

// ValidationErrors collects every problem found in one topology document.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("invalid topology: %s", strings.Join(msgs, "; "))
}

// Topology is a decoded topology in engine types.
type Topology struct {
	Arrays     map[string]engine.StorageSystem `json:"arrays"`
	Networks   map[string]engine.Network       `json:"networks"`
	Ports      []engine.StoragePort            `json:"ports"`
	Initiators []engine.Initiator              `json:"initiators"`
	Directors  int                             `json:"directors,omitempty"`
}

// ArrayIDs returns the array IDs in sorted order.
func (t *Topology) ArrayIDs() []string {
	ids := make([]string, 0, len(t.Arrays))
	for id := range t.Arrays {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InitiatorGroup groups the initiators by director and network.
func (t *Topology) InitiatorGroup() engine.InitiatorGroup {
	group := engine.InitiatorGroup{}
	for _, ini := range t.Initiators {
		if group[ini.Director] == nil {
			group[ini.Director] = map[string][]engine.Initiator{}
		}
		group[ini.Director][ini.NetworkID] = append(group[ini.Director][ini.NetworkID], ini)
	}
	return group
}

// PlanRequest builds the placement input for one array. Only networks that
// some initiator can reach contribute candidate ports.
func (t *Topology) PlanRequest(arrayID string) (placement.PlanRequest, error) {
	array, ok := t.Arrays[arrayID]
	if !ok {
		return placement.PlanRequest{}, engine.NewNotFoundError("storage system", arrayID)
	}

	reachable := map[string]bool{}
	for _, ini := range t.Initiators {
		reachable[ini.NetworkID] = true
	}

	candidates := map[string][]engine.StoragePort{}
	for _, p := range t.Ports {
		if p.StorageSystemID != arrayID || !reachable[p.NetworkID] {
			continue
		}
		candidates[p.NetworkID] = append(candidates[p.NetworkID], p)
	}

	return placement.PlanRequest{
		SystemType: array.SystemType,
		Candidates: candidates,
		Networks:   t.Networks,
		Initiators: t.InitiatorGroup(),
	}, nil
}

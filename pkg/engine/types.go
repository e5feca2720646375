package engine

import (
	"fmt"
	"sort"
	"strings"
)

// PortGroupTag identifies the fault domain a backend port belongs to.
// Arrays report it as "<enclosure>-<controller>", e.g. "X1-SC2".
type PortGroupTag struct {
	// Enclosure is the physical unit (X-brick) housing the controller.
	Enclosure string `json:"enclosure"`

	// Controller is the storage controller inside the enclosure that owns the port.
	Controller string `json:"controller"`
}

// ParsePortGroupTag decodes an "<enclosure>-<controller>" tag.
// Only the first hyphen separates the two parts, so controller ids may contain hyphens.
func ParsePortGroupTag(tag string) (PortGroupTag, error) {
	enclosure, controller, ok := strings.Cut(tag, "-")
	if !ok || enclosure == "" || controller == "" {
		return PortGroupTag{}, NewPermanentError(
			fmt.Sprintf("malformed port group tag %q, expected <enclosure>-<controller>", tag), nil).
			WithCode(ErrCodeValidation)
	}
	return PortGroupTag{Enclosure: enclosure, Controller: controller}, nil
}

// String returns the tag in array notation.
func (t PortGroupTag) String() string {
	return t.Enclosure + "-" + t.Controller
}

// Network is a logical fabric or addressing domain (FC VSAN, IP network).
type Network struct {
	// ID is the opaque network identifier.
	ID string `json:"id"`

	// Label is the human-readable network name.
	Label string `json:"label"`
}

// StoragePort is a backend array target port.
type StoragePort struct {
	// ID is the persisted identity of the port.
	ID string `json:"id"`

	// Name is the array-unique port name. Selection bookkeeping is keyed by it.
	Name string `json:"name"`

	// Group is the decoded fault-domain tag.
	Group PortGroupTag `json:"group"`

	// NetworkID is the network the port is reachable on.
	NetworkID string `json:"network_id"`

	// PortNetworkID is the network-specific address (WWPN or IQN).
	PortNetworkID string `json:"port_network_id"`

	// StorageSystemID is the owning array.
	StorageSystemID string `json:"storage_system_id,omitempty"`
}

// Initiator is a host-side HBA port.
type Initiator struct {
	// ID is the persisted identity of the initiator.
	ID string `json:"id"`

	// Port is the normalized port identifier (WWPN or IQN).
	Port string `json:"port"`

	// Node is the node name (WWNN), empty for iSCSI.
	Node string `json:"node,omitempty"`

	// HostName is the host the initiator belongs to. Lock keys are derived from it.
	HostName string `json:"host_name"`

	// NetworkID is the only network the initiator is reachable on.
	NetworkID string `json:"network_id"`

	// Director is the front-end director owning the initiator, if any.
	Director string `json:"director,omitempty"`
}

// NormalizeInitiatorPort upper-cases WWNs and drops their colons, and lower-cases IQNs.
func NormalizeInitiatorPort(port string) string {
	if isWWN(port) {
		return strings.ToUpper(strings.ReplaceAll(port, ":", ""))
	}
	if strings.HasPrefix(strings.ToLower(port), "iqn.") {
		return strings.ToLower(port)
	}
	return port
}

func isWWN(port string) bool {
	hex := strings.ReplaceAll(port, ":", "")
	if len(hex) != 16 {
		return false
	}
	for _, c := range hex {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// StorageSystem is a backend array.
type StorageSystem struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	SystemType string `json:"system_type"`
	Serial     string `json:"serial,omitempty"`
}

// VolumeMap maps a volume ID to the host LUN it is exported with.
type VolumeMap map[string]int

// IDs returns the volume IDs in sorted order.
func (v VolumeMap) IDs() []string {
	ids := make([]string, 0, len(v))
	for id := range v {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExportMask is the masking resource that lets a set of initiators see a set
// of volumes through a set of target ports on one array.
type ExportMask struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	StorageSystemID string `json:"storage_system_id"`

	// Initiators are the initiator IDs in the mask.
	Initiators []string `json:"initiators"`

	// StoragePorts are the target port IDs in the mask.
	StoragePorts []string `json:"storage_ports"`

	// Volumes are the volumes exported by this system.
	Volumes VolumeMap `json:"volumes"`

	// ExistingVolumes are volumes found on the array that were not placed there by us.
	ExistingVolumes VolumeMap `json:"existing_volumes,omitempty"`

	// Created is set once the mask exists on the array.
	Created bool `json:"created"`

	// Inactive is set when the mask is deleted, by us or by another process.
	Inactive bool `json:"inactive"`

	// Version increases on every persist.
	Version int64 `json:"version"`
}

// HasAnyVolumes reports whether the mask exports any volume, including out-of-band ones.
func (m *ExportMask) HasAnyVolumes() bool {
	return len(m.Volumes) > 0 || len(m.ExistingVolumes) > 0
}

// AddVolume records volumeID with the given HLU.
func (m *ExportMask) AddVolume(volumeID string, hlu int) {
	if m.Volumes == nil {
		m.Volumes = make(VolumeMap)
	}
	m.Volumes[volumeID] = hlu
}

// RemoveVolume drops volumeID from the user volumes.
func (m *ExportMask) RemoveVolume(volumeID string) {
	delete(m.Volumes, volumeID)
}

// PortSet is the group of ports chosen together in one selection pass for one network.
type PortSet []StoragePort

// PortGroup maps a network ID to the ordered port sets selected for it.
// No port appears in more than one set across the whole group.
type PortGroup map[string][]PortSet

// NetworkIDs returns the networks in the group in sorted order.
func (pg PortGroup) NetworkIDs() []string {
	ids := make([]string, 0, len(pg))
	for id := range pg {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ports returns every port in the group, network by network, set by set.
func (pg PortGroup) Ports() []StoragePort {
	var ports []StoragePort
	for _, id := range pg.NetworkIDs() {
		for _, set := range pg[id] {
			ports = append(ports, set...)
		}
	}
	return ports
}

// EnclosureCount returns the number of distinct enclosures represented in the group.
func (pg PortGroup) EnclosureCount() int {
	enclosures := make(map[string]struct{})
	for _, p := range pg.Ports() {
		enclosures[p.Group.Enclosure] = struct{}{}
	}
	return len(enclosures)
}

// ZoningMap maps an initiator ID to the IDs of the storage ports zoned to it.
type ZoningMap map[string][]string

// Add zones portID to initiatorID, ignoring duplicates.
func (z ZoningMap) Add(initiatorID, portID string) {
	for _, p := range z[initiatorID] {
		if p == portID {
			return
		}
	}
	z[initiatorID] = append(z[initiatorID], portID)
}

// InitiatorIDs returns the zoned initiators in sorted order.
func (z ZoningMap) InitiatorIDs() []string {
	ids := make([]string, 0, len(z))
	for id := range z {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InitiatorGroup maps a director name to its initiators keyed by network ID.
type InitiatorGroup map[string]map[string][]Initiator

// Directors returns director names in sorted order.
func (g InitiatorGroup) Directors() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

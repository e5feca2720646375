package placement

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/openfroyo/xbzone/pkg/engine"
)

const (
	// XtremIOPortGroupCount is the number of port groups built for an XtremIO backend.
	// Each network's port sets inside the single group are spread across directors instead.
	XtremIOPortGroupCount = 1

	// MaxPortsPerSet caps one selection pass. It matches the four-path budget of a director.
	MaxPortsPerSet = 4

	// MinPortsPerSet is the redundancy floor. Masking with fewer paths is not attempted.
	MinPortsPerSet = 2
)

// Selection is the outcome of a port group selection run.
type Selection struct {
	// PortGroups holds the selected groups. It is empty when the minimum
	// redundancy could not be reached.
	PortGroups []engine.PortGroup `json:"port_groups"`

	// EnclosureCount is the number of distinct enclosures across the selected ports.
	EnclosureCount int `json:"enclosure_count"`

	// OrderedNetworks lists the networks in the order they were serviced.
	OrderedNetworks []string `json:"ordered_networks"`
}

// Feasible reports whether at least one port group was produced.
func (s *Selection) Feasible() bool {
	return len(s.PortGroups) > 0 && len(s.PortGroups[0]) > 0
}

// PortGroupSelector builds diversified port groups from candidate ports.
type PortGroupSelector interface {
	SelectPortGroups(candidates map[string][]engine.StoragePort, networks map[string]engine.Network) *Selection
}

// XtremIOSelector picks ports so that each pass spreads across enclosures
// first and controllers second.
type XtremIOSelector struct {
	logger zerolog.Logger

	// MaxRounds bounds the rounds inside one selection pass. Zero means
	// twice the number of candidate ports plus one, enough for a reset
	// round before every pick.
	MaxRounds int
}

// NewXtremIOSelector creates a selector logging through logger.
func NewXtremIOSelector(logger zerolog.Logger) *XtremIOSelector {
	return &XtremIOSelector{
		logger: logger.With().Str("component", "port-group-selector").Logger(),
	}
}

// selectionState is the running bookkeeping of one selection call.
type selectionState struct {
	// used holds names of ports placed in accepted sets.
	used map[string]struct{}

	// enclosureControllers records the controllers picked under each enclosure, across networks.
	enclosureControllers map[string]map[string]struct{}

	// networkEnclosures records the enclosures picked for each network.
	networkEnclosures map[string]map[string]struct{}
}

func newSelectionState() *selectionState {
	return &selectionState{
		used:                 make(map[string]struct{}),
		enclosureControllers: make(map[string]map[string]struct{}),
		networkEnclosures:    make(map[string]map[string]struct{}),
	}
}

// resetDiversity forgets enclosure and controller usage. Used ports are kept.
func (st *selectionState) resetDiversity() {
	st.enclosureControllers = make(map[string]map[string]struct{})
	st.networkEnclosures = make(map[string]map[string]struct{})
}

func (st *selectionState) record(networkID string, tag engine.PortGroupTag) {
	controllers, ok := st.enclosureControllers[tag.Enclosure]
	if !ok {
		controllers = make(map[string]struct{})
		st.enclosureControllers[tag.Enclosure] = controllers
	}
	controllers[tag.Controller] = struct{}{}

	enclosures, ok := st.networkEnclosures[networkID]
	if !ok {
		enclosures = make(map[string]struct{})
		st.networkEnclosures[networkID] = enclosures
	}
	enclosures[tag.Enclosure] = struct{}{}
}

// SelectPortGroups returns one port group for the candidates. Every accepted
// pass becomes one port set per network it picked from.
func (s *XtremIOSelector) SelectPortGroups(
	candidates map[string][]engine.StoragePort,
	networks map[string]engine.Network,
) *Selection {
	ordered := OrderNetworksByPortCount(candidates)

	labels := make([]string, 0, len(ordered))
	for _, id := range ordered {
		labels = append(labels, networkLabel(networks, id))
	}
	s.logger.Info().Strs("networks", labels).Msg("Calculating port groups")

	state := newSelectionState()
	group := make(engine.PortGroup)

	for {
		set, ok := s.selectPortSet(candidates, ordered, state)
		if !ok {
			s.logger.Info().Msg("Minimum ports per set not met, stopping selection")
			break
		}
		for networkID, ports := range set {
			group[networkID] = append(group[networkID], ports)
		}
		if allPortsLooped(candidates, ordered, state.used) {
			break
		}
	}

	selection := &Selection{OrderedNetworks: ordered}
	if len(group) > 0 {
		selection.PortGroups = append(selection.PortGroups, group)
		selection.EnclosureCount = group.EnclosureCount()
	}

	s.logger.Info().
		Int("port_groups", len(selection.PortGroups)).
		Int("enclosures", selection.EnclosureCount).
		Int("ports", len(group.Ports())).
		Msg("Port group selection complete")

	return selection
}

// selectPortSet runs one allocation pass. It returns false when every port has
// been considered and fewer than MinPortsPerSet were picked.
func (s *XtremIOSelector) selectPortSet(
	candidates map[string][]engine.StoragePort,
	ordered []string,
	state *selectionState,
) (map[string]engine.PortSet, bool) {
	set := make(map[string]engine.PortSet)
	picked := make(map[string]struct{})
	considered := make(map[string]struct{}, len(state.used))
	for name := range state.used {
		considered[name] = struct{}{}
	}

	maxRounds := s.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 2*totalPorts(candidates) + 1
	}

	for round := 1; ; round++ {
		before := len(picked)

		for _, networkID := range ordered {
			port, ok := pickPort(networkID, candidates[networkID], considered, state)
			if ok {
				picked[port.Name] = struct{}{}
				considered[port.Name] = struct{}{}
				set[networkID] = append(set[networkID], port)
				s.logger.Debug().
					Str("network", networkID).
					Str("port", port.Name).
					Str("group", port.Group.String()).
					Msg("Port selected")
			}
			if len(picked) == MaxPortsPerSet {
				break
			}
		}

		exhausted := allPortsLooped(candidates, ordered, considered)
		if !exhausted && round >= maxRounds {
			s.logger.Warn().Int("rounds", round).Msg("Selection round limit reached")
			exhausted = true
		}

		if exhausted {
			if len(picked) < MinPortsPerSet {
				return nil, false
			}
			break
		}

		if len(picked) == before {
			// Still ports left but the diversity rules rejected all of them.
			state.resetDiversity()
		}

		if len(picked) >= MaxPortsPerSet {
			break
		}
	}

	for name := range picked {
		state.used[name] = struct{}{}
	}
	return set, true
}

// pickPort chooses a port for networkID from an enclosure no network has used
// yet, falling back to an enclosure this network has not used through a
// controller not yet recorded for that enclosure.
func pickPort(
	networkID string,
	ports []engine.StoragePort,
	considered map[string]struct{},
	state *selectionState,
) (engine.StoragePort, bool) {
	for _, p := range ports {
		if _, taken := considered[p.Name]; taken {
			continue
		}
		if _, seen := state.enclosureControllers[p.Group.Enclosure]; !seen {
			state.record(networkID, p.Group)
			return p, true
		}
	}

	for _, p := range ports {
		if _, taken := considered[p.Name]; taken {
			continue
		}
		if _, seen := state.networkEnclosures[networkID][p.Group.Enclosure]; seen {
			continue
		}
		if _, seen := state.enclosureControllers[p.Group.Enclosure][p.Group.Controller]; seen {
			continue
		}
		state.record(networkID, p.Group)
		return p, true
	}

	return engine.StoragePort{}, false
}

// OrderNetworksByPortCount orders networks from fewest to most candidate ports.
// Networks without candidates are left out. Equal counts are ordered by ID.
func OrderNetworksByPortCount(candidates map[string][]engine.StoragePort) []string {
	buckets := make(map[int][]string)
	maxPorts := 0
	for id, ports := range candidates {
		n := len(ports)
		buckets[n] = append(buckets[n], id)
		if n > maxPorts {
			maxPorts = n
		}
	}

	ordered := make([]string, 0, len(candidates))
	for n := 1; n <= maxPorts; n++ {
		ids := buckets[n]
		sort.Strings(ids)
		ordered = append(ordered, ids...)
	}
	return ordered
}

func allPortsLooped(candidates map[string][]engine.StoragePort, ordered []string, considered map[string]struct{}) bool {
	for _, id := range ordered {
		for _, p := range candidates[id] {
			if _, ok := considered[p.Name]; !ok {
				return false
			}
		}
	}
	return true
}

func totalPorts(candidates map[string][]engine.StoragePort) int {
	n := 0
	for _, ports := range candidates {
		n += len(ports)
	}
	return n
}

func networkLabel(networks map[string]engine.Network, id string) string {
	if n, ok := networks[id]; ok && n.Label != "" {
		return n.Label
	}
	return id
}

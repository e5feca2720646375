package placement

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/openfroyo/xbzone/pkg/engine"
)

// Gap describes an initiator that received no storage port during zoning.
type Gap struct {
	Director    string         `json:"director"`
	Network     engine.Network `json:"network"`
	InitiatorID string         `json:"initiator_id"`
	Reason      string         `json:"reason"`
}

const (
	GapReasonNoPorts    = "no ports in network"
	GapReasonUnassigned = "no port assigned"
)

// ZoningAssigner maps initiators to storage ports of a port group.
type ZoningAssigner interface {
	AssignZoning(group engine.PortGroup, initiators engine.InitiatorGroup, networks map[string]engine.Network) engine.ZoningMap
}

// DirectorZoningAssigner hands out a per-director share of the port group,
// rotating through the port sets of each network by director ordinal.
type DirectorZoningAssigner struct {
	logger   zerolog.Logger
	assigner engine.PortAssigner

	// DirectorCount is the number of front-end directors. Zero means the
	// number of directors in the initiator group.
	DirectorCount int

	// OnGap is called for every initiator left without a port.
	OnGap func(Gap)
}

// NewDirectorZoningAssigner creates a zoning assigner. A nil assigner selects
// the least-used port.
func NewDirectorZoningAssigner(logger zerolog.Logger, assigner engine.PortAssigner) *DirectorZoningAssigner {
	if assigner == nil {
		assigner = LeastUsedAssigner{}
	}
	return &DirectorZoningAssigner{
		logger:   logger.With().Str("component", "zoning-assigner").Logger(),
		assigner: assigner,
	}
}

// PathsPerDirector returns the number of assignments each director may receive.
// Directors conserve paths when enclosures outnumber them.
func PathsPerDirector(directorCount, enclosureCount int) int {
	if directorCount < enclosureCount {
		return 2
	}
	return 4
}

// PortSetForDirector returns the port set the director with the given 1-based
// ordinal draws from. Ordinals wrap around the available sets.
func PortSetForDirector(sets []engine.PortSet, ordinal int) engine.PortSet {
	if len(sets) == 0 || ordinal < 1 {
		return nil
	}
	return sets[(ordinal-1)%len(sets)]
}

// AssignZoning assigns at most PathsPerDirector ports to the initiators of each director.
// Directors, networks and initiators are walked in sorted order.
func (z *DirectorZoningAssigner) AssignZoning(
	group engine.PortGroup,
	initiators engine.InitiatorGroup,
	networks map[string]engine.Network,
) engine.ZoningMap {
	directorCount := z.DirectorCount
	if directorCount <= 0 {
		directorCount = len(initiators)
	}
	enclosureCount := group.EnclosureCount()
	paths := PathsPerDirector(directorCount, enclosureCount)

	z.logger.Info().
		Int("directors", directorCount).
		Int("enclosures", enclosureCount).
		Int("paths_per_director", paths).
		Msg("Assigning zoning")

	zoning := make(engine.ZoningMap)
	usage := make(map[string]int)

	for i, director := range initiators.Directors() {
		ordinal := i + 1
		assigned := 0

		byNetwork := initiators[director]
		networkIDs := make([]string, 0, len(byNetwork))
		for id := range byNetwork {
			networkIDs = append(networkIDs, id)
		}
		sort.Strings(networkIDs)

	networkLoop:
		for _, networkID := range networkIDs {
			network, ok := networks[networkID]
			if !ok {
				network = engine.Network{ID: networkID}
			}

			members := sortedInitiators(byNetwork[networkID])
			sets := group[networkID]
			if len(sets) == 0 {
				z.logger.Info().Str("director", director).Str("network", networkLabel(networks, networkID)).
					Msg("No ports in network, skipping initiators")
				for _, ini := range members {
					z.gap(Gap{Director: director, Network: network, InitiatorID: ini.ID, Reason: GapReasonNoPorts})
				}
				continue
			}

			ports := PortSetForDirector(sets, ordinal)
			for _, ini := range members {
				port, ok := z.assigner.AssignPort(ports, network, ini, usage)
				if ok {
					zoning[ini.ID] = []string{port.ID}
					assigned++
					z.logger.Debug().
						Str("director", director).
						Str("initiator", ini.Port).
						Str("port", port.Name).
						Msg("Initiator zoned")
				} else {
					z.gap(Gap{Director: director, Network: network, InitiatorID: ini.ID, Reason: GapReasonUnassigned})
				}
				if assigned >= paths {
					z.logger.Info().Str("director", director).Int("paths", assigned).
						Msg("Director path budget reached")
					break networkLoop
				}
			}
		}
	}

	return zoning
}

func (z *DirectorZoningAssigner) gap(g Gap) {
	z.logger.Warn().
		Str("director", g.Director).
		Str("network", g.Network.ID).
		Str("initiator", g.InitiatorID).
		Str("reason", g.Reason).
		Msg("Assignment gap")
	if z.OnGap != nil {
		z.OnGap(g)
	}
}

func sortedInitiators(in []engine.Initiator) []engine.Initiator {
	out := make([]engine.Initiator, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

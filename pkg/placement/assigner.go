package placement

import (
	"github.com/openfroyo/xbzone/pkg/engine"
)

// LeastUsedAssigner picks the candidate on the initiator's network with the
// fewest assignments so far. Ties go to the earliest candidate.
type LeastUsedAssigner struct{}

// AssignPort implements engine.PortAssigner.
func (LeastUsedAssigner) AssignPort(
	candidates []engine.StoragePort,
	network engine.Network,
	initiator engine.Initiator,
	usage map[string]int,
) (engine.StoragePort, bool) {
	var (
		best  engine.StoragePort
		found bool
	)
	for _, p := range candidates {
		if p.NetworkID != initiator.NetworkID || p.NetworkID != network.ID {
			continue
		}
		if !found || usage[p.ID] < usage[best.ID] {
			best = p
			found = true
		}
	}
	if !found {
		return engine.StoragePort{}, false
	}
	usage[best.ID]++
	return best, true
}

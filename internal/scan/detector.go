package scan

import (
	"sort"
	"strings"

	"walletscope/internal/model"
)

// DefaultFanOutCeiling is the largest known-address fan-out an external
// counterparty may have and still count as ownership evidence. Above it
// the counterparty is presumed to be an exchange, bridge, or router.
const DefaultFanOutCeiling = 10

// DetectorConfig tunes connection classification.
type DetectorConfig struct {
	FanOutCeiling int
}

// Detector classifies transfer evidence into direct and indirect
// relationships between known addresses. The whole connection set is
// recomputed from the full transfer set on every scan: fan-out and
// direct/indirect status depend on the entire set, so incremental patching
// would be incorrect.
type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.FanOutCeiling <= 0 {
		cfg.FanOutCeiling = DefaultFanOutCeiling
	}
	return &Detector{cfg: cfg}
}

// Detect returns the connection set for the given known addresses and
// transfers. Direct pass: one deduplicated connection per unordered pair
// of known addresses with a transfer between them, first evidence wins.
// Indirect pass: pairs of known addresses sharing an external counterparty
// whose fan-out lies in [2, ceiling].
func (d *Detector) Detect(known []model.DerivedAddress, transfers []model.TransferRecord) []model.ConnectionRecord {
	knownSet := make(map[string]struct{}, len(known))
	for _, address := range known {
		knownSet[NormalizeAddress(address.Address)] = struct{}{}
	}

	var connections []model.ConnectionRecord
	seenDirect := make(map[string]struct{})
	// external counterparty -> set of known addresses it transacted with
	fanOut := make(map[string]map[string]struct{})

	for _, transfer := range transfers {
		from := NormalizeAddress(transfer.From)
		to := NormalizeAddress(transfer.To)
		_, fromKnown := knownSet[from]
		_, toKnown := knownSet[to]

		switch {
		case fromKnown && toKnown:
			if from == to {
				continue
			}
			connection := model.NewConnection(from, to, model.ConnectionDirect, transfer.TxID)
			pair := connection.AddressA + "|" + connection.AddressB
			if _, ok := seenDirect[pair]; ok {
				continue
			}
			seenDirect[pair] = struct{}{}
			connections = append(connections, connection)
		case fromKnown:
			addFanOut(fanOut, to, from)
		case toKnown:
			addFanOut(fanOut, from, to)
		}
	}

	externals := make([]string, 0, len(fanOut))
	for external := range fanOut {
		externals = append(externals, external)
	}
	sort.Strings(externals)

	for _, external := range externals {
		counterparties := fanOut[external]
		if len(counterparties) < 2 || len(counterparties) > d.cfg.FanOutCeiling {
			continue
		}
		members := make([]string, 0, len(counterparties))
		for member := range counterparties {
			members = append(members, member)
		}
		sort.Strings(members)
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				connections = append(connections, model.NewConnection(
					members[i], members[j], model.ConnectionIndirect, external,
				))
			}
		}
	}

	return connections
}

func addFanOut(fanOut map[string]map[string]struct{}, external, known string) {
	set, ok := fanOut[external]
	if !ok {
		set = make(map[string]struct{})
		fanOut[external] = set
	}
	set[known] = struct{}{}
}

// NormalizeAddress case-folds hex addresses; base58 addresses are
// case-sensitive and pass through unchanged.
func NormalizeAddress(address string) string {
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}

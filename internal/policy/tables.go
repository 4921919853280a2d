package policy

// Table names understood by the engine.
const (
	TableFilter = "filter"
	TableNat    = "nat"
	TableMangle = "mangle"
	TableRaw    = "raw"
)

// OwnedChainPrefix marks every chain this engine exclusively manages.
// Extension chains must not use it.
const OwnedChainPrefix = "PALISADE_"

// Tables lists the supported tables in a fixed evaluation order. Iteration
// over owned chains follows this order so bootstrap and apply runs are
// deterministic.
var Tables = []string{TableFilter, TableNat, TableMangle, TableRaw}

// parentChains lists the built-in chains rules may attach to, per table.
var parentChains = map[string][]string{
	TableFilter: {"INPUT", "OUTPUT", "FORWARD"},
	TableNat:    {"PREROUTING", "OUTPUT", "POSTROUTING"},
	TableMangle: {"PREROUTING", "INPUT", "FORWARD", "OUTPUT", "POSTROUTING"},
	TableRaw:    {"PREROUTING", "OUTPUT"},
}

// actions lists the permitted rule actions, per table.
var actions = map[string][]string{
	TableFilter: {"ACCEPT", "DROP", "REJECT", "LOG", "RETURN"},
	TableNat:    {"SNAT", "DNAT", "MASQUERADE", "REDIRECT", "ACCEPT", "RETURN"},
	TableMangle: {"MARK", "TOS", "TTL", "ACCEPT", "RETURN"},
	TableRaw:    {"NOTRACK", "ACCEPT", "RETURN"},
}

// ownedChains maps (table, parent chain) to the engine-owned chain that
// intercepts it. Every user rule lands in one of these; they are flushed
// and repopulated wholesale on each apply. All names stay within the
// 28-character iptables limit.
var ownedChains = map[string]map[string]string{
	TableFilter: {
		"INPUT":   "PALISADE_INPUT",
		"OUTPUT":  "PALISADE_OUTPUT",
		"FORWARD": "PALISADE_FORWARD",
	},
	TableNat: {
		"PREROUTING":  "PALISADE_PREROUTING",
		"OUTPUT":      "PALISADE_OUTPUT_NAT",
		"POSTROUTING": "PALISADE_POSTROUTING",
	},
	TableMangle: {
		"PREROUTING":  "PALISADE_PREROUTING_MANGLE",
		"INPUT":       "PALISADE_INPUT_MANGLE",
		"FORWARD":     "PALISADE_FORWARD_MANGLE",
		"OUTPUT":      "PALISADE_OUTPUT_MANGLE",
		"POSTROUTING": "PALISADE_POSTROUTING_MANGLE",
	},
	TableRaw: {
		"PREROUTING": "PALISADE_PREROUTING_RAW",
		"OUTPUT":     "PALISADE_OUTPUT_RAW",
	},
}

// ValidTable reports whether name is a supported table.
func ValidTable(name string) bool {
	_, ok := parentChains[name]
	return ok
}

// ParentChains returns the built-in chains rules may target in table, in
// evaluation order. Returns nil for an unknown table.
func ParentChains(table string) []string {
	return parentChains[table]
}

// Actions returns the permitted actions for table. Returns nil for an
// unknown table.
func Actions(table string) []string {
	return actions[table]
}

// ValidChain reports whether chain is a permitted parent chain in table.
func ValidChain(table, chain string) bool {
	for _, c := range parentChains[table] {
		if c == chain {
			return true
		}
	}
	return false
}

// ValidAction reports whether action is permitted in table.
func ValidAction(table, action string) bool {
	for _, a := range actions[table] {
		if a == action {
			return true
		}
	}
	return false
}

// OwnedChainFor resolves the engine-owned chain for a (table, parent chain)
// pair. The second return is false when the pair is not in the map.
func OwnedChainFor(table, chain string) (string, bool) {
	m, ok := ownedChains[table]
	if !ok {
		return "", false
	}
	name, ok := m[chain]
	return name, ok
}

// OwnedChainSlot ties an owned chain to its interception point.
type OwnedChainSlot struct {
	Table  string
	Parent string
	Chain  string
}

// OwnedChainSlots returns every (table, parent, owned chain) triple in
// deterministic order: tables as in Tables, parents as declared.
func OwnedChainSlots() []OwnedChainSlot {
	var slots []OwnedChainSlot
	for _, table := range Tables {
		for _, parent := range parentChains[table] {
			slots = append(slots, OwnedChainSlot{
				Table:  table,
				Parent: parent,
				Chain:  ownedChains[table][parent],
			})
		}
	}
	return slots
}

package model

// ConnectionKind classifies the evidence linking two known addresses.
type ConnectionKind string

const (
	// ConnectionDirect means a transfer was observed directly between the
	// two addresses.
	ConnectionDirect ConnectionKind = "direct"
	// ConnectionIndirect means both addresses transacted with the same
	// external counterparty.
	ConnectionIndirect ConnectionKind = "indirect"
)

// ConnectionRecord links two known addresses. AddressA <= AddressB always
// holds; (AddressA, AddressB, Kind, Evidence) is unique.
type ConnectionRecord struct {
	AddressA string         `json:"address_a"`
	AddressB string         `json:"address_b"`
	Kind     ConnectionKind `json:"kind"`
	Evidence string         `json:"evidence"`
}

// NewConnection builds a record with the endpoints in canonical order.
func NewConnection(a, b string, kind ConnectionKind, evidence string) ConnectionRecord {
	if b < a {
		a, b = b, a
	}
	return ConnectionRecord{AddressA: a, AddressB: b, Kind: kind, Evidence: evidence}
}

// Cluster is a derived view over the current connection set: a connected
// component of size >= 2 joined by direct connections, with every connection
// between members attached. Clusters are recomputed on demand, never stored.
type Cluster struct {
	Members     []DerivedAddress   `json:"members"`
	Connections []ConnectionRecord `json:"connections"`
}

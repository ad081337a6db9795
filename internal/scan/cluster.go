package scan

import (
	"sort"

	"walletscope/internal/model"
)

// unionFind is backed by maps because address IDs are arbitrary persisted
// keys, not a dense range.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

func (u *unionFind) add(node string) {
	if _, ok := u.parent[node]; !ok {
		u.parent[node] = node
	}
}

// find with path compression.
func (u *unionFind) find(node string) string {
	root := node
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[node] != root {
		node, u.parent[node] = u.parent[node], root
	}
	return root
}

// union by rank.
func (u *unionFind) union(a, b string) {
	rootA, rootB := u.find(a), u.find(b)
	if rootA == rootB {
		return
	}
	if u.rank[rootA] < u.rank[rootB] {
		rootA, rootB = rootB, rootA
	}
	u.parent[rootB] = rootA
	if u.rank[rootA] == u.rank[rootB] {
		u.rank[rootA]++
	}
}

// BuildClusters groups addresses into connected components. Only direct
// connections merge components; indirect connections are attached as
// supplementary evidence but never influence membership. Components of
// size 1 are dropped, and the result is ordered by descending member
// count.
func BuildClusters(known []model.DerivedAddress, connections []model.ConnectionRecord) []model.Cluster {
	uf := newUnionFind()
	for _, connection := range connections {
		uf.add(connection.AddressA)
		uf.add(connection.AddressB)
		if connection.Kind == model.ConnectionDirect {
			uf.union(connection.AddressA, connection.AddressB)
		}
	}

	groups := make(map[string][]string)
	for node := range uf.parent {
		root := uf.find(node)
		groups[root] = append(groups[root], node)
	}

	byAddress := make(map[string]model.DerivedAddress, len(known))
	for _, address := range known {
		byAddress[NormalizeAddress(address.Address)] = address
	}

	var clusters []model.Cluster
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)

		memberSet := make(map[string]struct{}, len(members))
		cluster := model.Cluster{}
		for _, member := range members {
			memberSet[member] = struct{}{}
			if address, ok := byAddress[member]; ok {
				cluster.Members = append(cluster.Members, address)
			} else {
				cluster.Members = append(cluster.Members, model.DerivedAddress{Address: member})
			}
		}
		for _, connection := range connections {
			_, hasA := memberSet[connection.AddressA]
			_, hasB := memberSet[connection.AddressB]
			if hasA && hasB {
				cluster.Connections = append(cluster.Connections, connection)
			}
		}
		clusters = append(clusters, cluster)
	}

	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i].Members) != len(clusters[j].Members) {
			return len(clusters[i].Members) > len(clusters[j].Members)
		}
		return clusters[i].Members[0].Address < clusters[j].Members[0].Address
	})
	return clusters
}

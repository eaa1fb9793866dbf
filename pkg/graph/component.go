package graph

import "sort"

// UnionFind implements a disjoint-set data structure with path compression
// and union by rank.
type UnionFind struct {
	parent []uint32
	rank   []byte // max rank stays far below 255
	size   []uint32
}

// NewUnionFind creates a UnionFind for n elements.
func NewUnionFind(n uint32) *UnionFind {
	parent := make([]uint32, n)
	size := make([]uint32, n)
	for i := range n {
		parent[i] = i
		size[i] = 1
	}
	return &UnionFind{
		parent: parent,
		rank:   make([]byte, n),
		size:   size,
	}
}

// Find returns the representative of the set containing x, with path halving.
func (uf *UnionFind) Find(x uint32) uint32 {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // path halving
		x = uf.parent[x]
	}
	return x
}

// Union merges the sets containing x and y. Returns false if already same set.
func (uf *UnionFind) Union(x, y uint32) bool {
	rx := uf.Find(x)
	ry := uf.Find(y)
	if rx == ry {
		return false
	}

	// Union by rank.
	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
	return true
}

// Components groups lanelets that are connected through successor or
// neighbor edges, ignoring direction. Each component lists lanelet ids in
// ascending order; components are ordered by size, largest first, then by
// their smallest id.
func (g *Graph) Components() [][]int64 {
	n := g.NumLanelets()
	if n == 0 {
		return nil
	}

	uf := NewUnionFind(n)
	for u := uint32(0); u < n; u++ {
		for _, v := range g.SuccessorsOf(u) {
			uf.Union(u, v)
		}
		if l, ok := g.LeftOfIdx(u); ok {
			uf.Union(u, l)
		}
		if r, ok := g.RightOfIdx(u); ok {
			uf.Union(u, r)
		}
	}

	// Lanelets are stored by ascending id, so appending in index order keeps
	// every component sorted.
	byRoot := make(map[uint32]int)
	var comps [][]int64
	for i := uint32(0); i < n; i++ {
		root := uf.Find(i)
		k, ok := byRoot[root]
		if !ok {
			k = len(comps)
			byRoot[root] = k
			comps = append(comps, make([]int64, 0, uf.size[root]))
		}
		comps[k] = append(comps[k], g.lanelets[i].ID)
	}

	sort.SliceStable(comps, func(i, j int) bool {
		return len(comps[i]) > len(comps[j])
	})
	return comps
}

// LargestComponent returns the lanelet ids of the largest connected
// component.
func (g *Graph) LargestComponent() []int64 {
	comps := g.Components()
	if len(comps) == 0 {
		return nil
	}
	return comps[0]
}

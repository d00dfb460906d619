package dedupe

// unionFind is a disjoint-set forest over integer contact indices,
// with path compression and union by size. Merges are O(1) amortized.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind() *unionFind {
	return &unionFind{}
}

// add registers a new element and returns its index.
func (u *unionFind) add() int {
	i := len(u.parent)
	u.parent = append(u.parent, i)
	u.size = append(u.size, 1)
	return i
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}

func (u *unionFind) len() int {
	return len(u.parent)
}

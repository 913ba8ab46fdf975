package solver

import (
	"sort"

	"github.com/kilianp07/fleetalloc/core/milp"
)

// block is a set of variables linked together by constraints. Blocks share no
// variable and no constraint, so each can be solved on its own.
type block struct {
	vars []int // global variable indices, ascending
	cons []int // global constraint indices, ascending
}

// decomposition splits a model into independent blocks. Variables that appear
// in no constraint and constraints without terms are reported separately.
type decomposition struct {
	blocks []block
	free   []int
	empty  []int
}

type unionFind []int

func newUnionFind(n int) unionFind {
	uf := make(unionFind, n)
	for i := range uf {
		uf[i] = i
	}
	return uf
}

func (uf unionFind) find(i int) int {
	for uf[i] != i {
		uf[i] = uf[uf[i]]
		i = uf[i]
	}
	return i
}

func (uf unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		uf[rb] = ra
	} else {
		uf[ra] = rb
	}
}

func decompose(m *milp.Model) decomposition {
	var d decomposition
	uf := newUnionFind(len(m.Variables))
	used := make([]bool, len(m.Variables))
	for ci, c := range m.Constraints {
		if len(c.Terms) == 0 {
			d.empty = append(d.empty, ci)
			continue
		}
		first := c.Terms[0].Var
		for _, t := range c.Terms {
			used[t.Var] = true
			uf.union(first, t.Var)
		}
	}

	byRoot := make(map[int]*block)
	var roots []int
	for j := range m.Variables {
		if !used[j] {
			d.free = append(d.free, j)
			continue
		}
		r := uf.find(j)
		b, ok := byRoot[r]
		if !ok {
			b = &block{}
			byRoot[r] = b
			roots = append(roots, r)
		}
		b.vars = append(b.vars, j)
	}
	for ci, c := range m.Constraints {
		if len(c.Terms) == 0 {
			continue
		}
		b := byRoot[uf.find(c.Terms[0].Var)]
		b.cons = append(b.cons, ci)
	}
	sort.Ints(roots)
	for _, r := range roots {
		d.blocks = append(d.blocks, *byRoot[r])
	}
	return d
}

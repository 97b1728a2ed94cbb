package hierarchy

import (
	"fmt"
	"math"
	"sort"
)

// Linkage selects the agglomeration criterion.
type Linkage string

const (
	// WardD2 is Ward's minimum variance criterion on unsquared distances.
	WardD2 Linkage = "ward.D2"
	// Single merges on the smallest pairwise distance.
	Single Linkage = "single"
	// Complete merges on the largest pairwise distance.
	Complete Linkage = "complete"
	// Average merges on the mean pairwise distance (UPGMA).
	Average Linkage = "average"
)

// ParseLinkage converts a string into a Linkage.
func ParseLinkage(s string) (Linkage, error) {
	switch Linkage(s) {
	case WardD2, Single, Complete, Average:
		return Linkage(s), nil
	case "", "ward":
		return WardD2, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLinkage, s)
	}
}

// update returns the Lance-Williams dissimilarity between cluster k and the
// union of clusters i and j.
func (l Linkage) update(dki, dkj, dij float64, ni, nj, nk int) float64 {
	switch l {
	case Single:
		return math.Min(dki, dkj)
	case Complete:
		return math.Max(dki, dkj)
	case Average:
		return (float64(ni)*dki + float64(nj)*dkj) / float64(ni+nj)
	default:
		// Ward on squared distances.
		t := float64(ni + nj + nk)
		return (float64(ni+nk)*dki + float64(nj+nk)*dkj - float64(nk)*dij) / t
	}
}

type rawMerge struct {
	a, b   int
	height float64
}

// agglomerate runs the nearest-neighbour chain algorithm on d, which is
// consumed. Merges are returned in discovery order and refer to slot indices:
// slot i always holds the cluster containing leaf i.
func agglomerate(d [][]float64, linkage Linkage) []rawMerge {
	p := len(d)
	if linkage == WardD2 {
		for i := range d {
			for j := range d[i] {
				d[i][j] *= d[i][j]
			}
		}
	}

	size := make([]int, p)
	active := make([]bool, p)
	for i := range size {
		size[i] = 1
		active[i] = true
	}

	merges := make([]rawMerge, 0, p-1)
	chain := make([]int, 0, p)
	next := 0

	for remaining := p; remaining > 1; remaining-- {
		if len(chain) == 0 {
			for !active[next] {
				next++
			}
			chain = append(chain, next)
		}

		for {
			a := chain[len(chain)-1]
			prev := -1
			best := math.Inf(1)
			if len(chain) >= 2 {
				prev = chain[len(chain)-2]
				best = d[a][prev]
			}
			b := prev
			for c := 0; c < p; c++ {
				if !active[c] || c == a {
					continue
				}
				if d[a][c] < best {
					best = d[a][c]
					b = c
				}
			}

			if b == prev {
				chain = chain[:len(chain)-2]
				keep, drop := a, b
				if drop < keep {
					keep, drop = drop, keep
				}
				merges = append(merges, rawMerge{a: keep, b: drop, height: best})
				for c := 0; c < p; c++ {
					if !active[c] || c == keep || c == drop {
						continue
					}
					v := linkage.update(d[keep][c], d[drop][c], best, size[keep], size[drop], size[c])
					d[keep][c] = v
					d[c][keep] = v
				}
				size[keep] += size[drop]
				active[drop] = false
				break
			}
			chain = append(chain, b)
		}
	}

	if linkage == WardD2 {
		for i := range merges {
			merges[i].height = math.Sqrt(math.Max(merges[i].height, 0))
		}
	}
	return merges
}

// label sorts raw merges by height and converts slot indices into node ids:
// leaves are 0..p-1 and the node created by merge s is p+s.
func label(p int, raw []rawMerge) []Merge {
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].height < raw[j].height })

	parent := make([]int, 2*p-1)
	sizes := make([]int, 2*p-1)
	for i := range parent {
		parent[i] = i
		if i < p {
			sizes[i] = 1
		}
	}
	find := func(x int) int {
		root := x
		for parent[root] != root {
			root = parent[root]
		}
		for parent[x] != root {
			parent[x], x = root, parent[x]
		}
		return root
	}

	merges := make([]Merge, len(raw))
	for s, m := range raw {
		x, y := find(m.a), find(m.b)
		if y < x {
			x, y = y, x
		}
		id := p + s
		sizes[id] = sizes[x] + sizes[y]
		parent[x] = id
		parent[y] = id
		merges[s] = Merge{Left: x, Right: y, Height: m.height, Size: sizes[id]}
	}
	return merges
}

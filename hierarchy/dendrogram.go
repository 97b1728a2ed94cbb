package hierarchy

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Config holds configuration for hierarchy construction.
type Config struct {
	// Distance between variables
	Distance Distance `yaml:"distance" json:"distance"`

	// Linkage is the agglomeration criterion
	Linkage Linkage `yaml:"linkage" json:"linkage"`

	// Standardize scales columns to unit variance before euclidean distances
	Standardize bool `yaml:"standardize" json:"standardize"`
}

// DefaultConfig returns a Config with Ward linkage on standardized columns.
func DefaultConfig() Config {
	return Config{
		Distance:    Euclidean,
		Linkage:     WardD2,
		Standardize: true,
	}
}

// Merge is one agglomeration step. Left and Right are node ids: leaves are
// 0..p-1, the node created by merge s is p+s.
type Merge struct {
	Left   int     `json:"left"`
	Right  int     `json:"right"`
	Height float64 `json:"height"`
	Size   int     `json:"size"`
}

// Dendrogram is a binary hierarchy over p variables.
type Dendrogram struct {
	Leaves int      `json:"leaves"`
	Merges []Merge  `json:"merges"`
	Labels []string `json:"labels,omitempty"`

	parent []int
}

// Node is a cluster of the dendrogram.
type Node struct {
	ID      int
	Members []int
	Height  float64
	// Gap is the height difference to the parent cluster; for the root it is
	// the root height.
	Gap float64
}

// Build clusters the columns of X.
func Build(X mat.Matrix, cfg Config) (*Dendrogram, error) {
	cols, err := columns(X)
	if err != nil {
		return nil, err
	}
	if len(cols[0]) < 2 {
		return nil, ErrTooFewObservations
	}
	if cfg.Distance == "" {
		cfg.Distance = Euclidean
	}
	if cfg.Linkage == "" {
		cfg.Linkage = WardD2
	}
	if _, err := ParseLinkage(string(cfg.Linkage)); err != nil {
		return nil, err
	}

	p := len(cols)
	if p == 1 {
		return newDendrogram(1, nil), nil
	}

	if cfg.Distance == Euclidean && cfg.Standardize {
		standardize(cols)
	}
	d, err := distanceMatrix(cols, cfg.Distance)
	if err != nil {
		return nil, err
	}

	return newDendrogram(p, label(p, agglomerate(d, cfg.Linkage))), nil
}

// FromMerges builds a Dendrogram from a precomputed merge list.
func FromMerges(p int, merges []Merge) (*Dendrogram, error) {
	if p < 1 {
		return nil, ErrEmptyMatrix
	}
	if len(merges) != p-1 {
		return nil, fmt.Errorf("%w: expected %d merges, got %d", ErrInvalidMerges, p-1, len(merges))
	}

	used := make([]bool, 2*p-1)
	sizes := make([]int, 2*p-1)
	for i := 0; i < p; i++ {
		sizes[i] = 1
	}
	heights := make([]float64, 2*p-1)
	for s, m := range merges {
		id := p + s
		for _, child := range []int{m.Left, m.Right} {
			if child < 0 || child >= id {
				return nil, fmt.Errorf("%w: merge %d references node %d", ErrInvalidMerges, s, child)
			}
			if used[child] {
				return nil, fmt.Errorf("%w: node %d merged twice", ErrInvalidMerges, child)
			}
			used[child] = true
			if m.Height < heights[child] {
				return nil, fmt.Errorf("%w: merge %d height decreases", ErrInvalidMerges, s)
			}
		}
		if m.Left == m.Right {
			return nil, fmt.Errorf("%w: merge %d joins node %d with itself", ErrInvalidMerges, s, m.Left)
		}
		if math.IsNaN(m.Height) {
			return nil, fmt.Errorf("%w: merge %d has NaN height", ErrInvalidMerges, s)
		}
		// cuts apply merges in list order
		if s > 0 && m.Height < merges[s-1].Height {
			return nil, fmt.Errorf("%w: merge %d is lower than merge %d", ErrInvalidMerges, s, s-1)
		}
		heights[id] = m.Height
		sizes[id] = sizes[m.Left] + sizes[m.Right]
	}

	normalized := make([]Merge, len(merges))
	for s, m := range merges {
		normalized[s] = Merge{Left: m.Left, Right: m.Right, Height: m.Height, Size: sizes[p+s]}
	}
	return newDendrogram(p, normalized), nil
}

func newDendrogram(p int, merges []Merge) *Dendrogram {
	d := &Dendrogram{
		Leaves: p,
		Merges: merges,
		parent: make([]int, 2*p-1),
	}
	for i := range d.parent {
		d.parent[i] = -1
	}
	for s, m := range merges {
		d.parent[m.Left] = p + s
		d.parent[m.Right] = p + s
	}
	return d
}

// SetLabels attaches variable names to the leaves.
func (d *Dendrogram) SetLabels(labels []string) error {
	if labels != nil && len(labels) != d.Leaves {
		return fmt.Errorf("%w: got %d labels for %d variables", ErrLabelCountMismatch, len(labels), d.Leaves)
	}
	d.Labels = labels
	return nil
}

// NumNodes returns the number of nodes (leaves and merges).
func (d *Dendrogram) NumNodes() int {
	return 2*d.Leaves - 1
}

// Root returns the id of the root node.
func (d *Dendrogram) Root() int {
	return d.NumNodes() - 1
}

// Parent returns the parent node id, or -1 for the root.
func (d *Dendrogram) Parent(node int) int {
	if node < 0 || node >= d.NumNodes() {
		return -1
	}
	if d.parent == nil {
		// decoded dendrograms carry no parent index
		return newDendrogram(d.Leaves, d.Merges).parent[node]
	}
	return d.parent[node]
}

// NodeHeight returns the merge height of a node; leaves have height 0.
func (d *Dendrogram) NodeHeight(node int) float64 {
	if node < d.Leaves {
		return 0
	}
	return d.Merges[node-d.Leaves].Height
}

// Members returns the leaves below node in ascending order.
func (d *Dendrogram) Members(node int) ([]int, error) {
	if node < 0 || node >= d.NumNodes() {
		return nil, fmt.Errorf("%w: %d", ErrNodeOutOfRange, node)
	}
	members := make([]int, 0)
	stack := []int{node}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if v < d.Leaves {
			members = append(members, v)
			continue
		}
		m := d.Merges[v-d.Leaves]
		stack = append(stack, m.Left, m.Right)
	}
	sort.Ints(members)
	return members, nil
}

// Cut returns group labels for each variable when the hierarchy is cut into
// k groups. Group ids are ordered by the smallest variable they contain.
func (d *Dendrogram) Cut(k int) ([]int, error) {
	p := d.Leaves
	if k < 1 || k > p {
		return nil, fmt.Errorf("%w: %d (valid 1..%d)", ErrLevelOutOfRange, k, p)
	}

	parent := make([]int, 2*p-1)
	for i := range parent {
		parent[i] = i
	}
	for s := 0; s < p-k; s++ {
		m := d.Merges[s]
		parent[m.Left] = p + s
		parent[m.Right] = p + s
	}
	find := func(x int) int {
		for parent[x] != x {
			x = parent[x]
		}
		return x
	}

	labels := make([]int, p)
	ids := make(map[int]int, k)
	for i := 0; i < p; i++ {
		root := find(i)
		id, ok := ids[root]
		if !ok {
			id = len(ids)
			ids[root] = id
		}
		labels[i] = id
	}
	return labels, nil
}

// Groups returns the members of each group at level k.
func (d *Dendrogram) Groups(k int) ([][]int, error) {
	labels, err := d.Cut(k)
	if err != nil {
		return nil, err
	}
	groups := make([][]int, k)
	for i, g := range labels {
		groups[g] = append(groups[g], i)
	}
	return groups, nil
}

// CandidateLevels returns the levels (numbers of groups) explored by level
// searches: every level when p <= maxLevels, otherwise up to maxLevels levels
// evenly spaced on a log scale, always including 1 and p.
func (d *Dendrogram) CandidateLevels(maxLevels int) []int {
	p := d.Leaves
	if maxLevels <= 0 || p <= maxLevels {
		levels := make([]int, p)
		for i := range levels {
			levels[i] = i + 1
		}
		return levels
	}
	if maxLevels < 2 {
		return []int{1, p}
	}

	seen := make(map[int]bool, maxLevels)
	levels := make([]int, 0, maxLevels)
	step := math.Log(float64(p)) / float64(maxLevels-1)
	for i := 0; i < maxLevels; i++ {
		k := int(math.Round(math.Exp(step * float64(i))))
		if k < 1 {
			k = 1
		}
		if k > p {
			k = p
		}
		if !seen[k] {
			seen[k] = true
			levels = append(levels, k)
		}
	}
	if !seen[p] {
		levels = append(levels, p)
	}
	sort.Ints(levels)
	return levels
}

// Nodes returns every cluster present in at least one of the cuts at levels,
// ordered by node id.
func (d *Dendrogram) Nodes(levels []int) ([]Node, error) {
	p := d.Leaves
	applied := make([]int, 0, len(levels))
	for _, k := range levels {
		if k < 1 || k > p {
			return nil, fmt.Errorf("%w: %d (valid 1..%d)", ErrLevelOutOfRange, k, p)
		}
		applied = append(applied, p-k)
	}

	var nodes []Node
	for id := 0; id < d.NumNodes(); id++ {
		birth := 0
		if id >= p {
			birth = id - p + 1
		}
		death := p
		if par := d.Parent(id); par >= 0 {
			death = par - p + 1
		}

		present := false
		for _, m := range applied {
			if m >= birth && m < death {
				present = true
				break
			}
		}
		if !present {
			continue
		}

		members, err := d.Members(id)
		if err != nil {
			return nil, err
		}
		h := d.NodeHeight(id)
		gap := h
		if par := d.Parent(id); par >= 0 {
			gap = d.NodeHeight(par) - h
		}
		nodes = append(nodes, Node{ID: id, Members: members, Height: h, Gap: gap})
	}
	return nodes, nil
}

// LeafLabel returns the name of variable i, or its index when unnamed.
func (d *Dendrogram) LeafLabel(i int) string {
	if i >= 0 && i < len(d.Labels) {
		return d.Labels[i]
	}
	return fmt.Sprintf("V%d", i+1)
}

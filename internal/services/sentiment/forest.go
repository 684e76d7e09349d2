package sentiment

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// ForestConfig controls random forest training.
type ForestConfig struct {
	Trees    int
	MaxDepth int
	MinLeaf  int
	Seed     int64
	// MaxFeatures per split; 0 means round(sqrt(d)).
	MaxFeatures int
	Workers     int
}

func (c ForestConfig) withDefaults(d int) ForestConfig {
	if c.Trees <= 0 {
		c.Trees = 150
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 10
	}
	if c.MinLeaf <= 0 {
		c.MinLeaf = 2
	}
	if c.MaxFeatures <= 0 || c.MaxFeatures > d {
		c.MaxFeatures = max(1, int(math.Round(math.Sqrt(float64(d)))))
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	leaf      bool
	probs     []float64
}

type tree struct {
	nodes []node
}

func (t *tree) predict(x []float64) []float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.leaf {
			return n.probs
		}
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

// Forest is a bagged ensemble of CART classification trees.
type Forest struct {
	trees      []tree
	classes    int
	importance []float64
}

// FitForest trains on x with class labels y in [0, classes). Each tree sees
// a bootstrap sample and class weights n/(k·n_c), and splits on the best
// Gini decrease among a random subset of features. Trees are seeded from
// cfg.Seed by index so the result does not depend on scheduling.
func FitForest(ctx context.Context, x [][]float64, y []int, classes int, cfg ForestConfig) (*Forest, error) {
	if len(x) == 0 {
		return &Forest{classes: classes}, nil
	}
	d := len(x[0])
	cfg = cfg.withDefaults(d)
	cw := balancedWeights(y, classes)

	f := &Forest{
		trees:      make([]tree, cfg.Trees),
		classes:    classes,
		importance: make([]float64, d),
	}
	perTree := make([][]float64, cfg.Trees)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				b := &builder{
					x: x, y: y, classes: classes, cw: cw, cfg: cfg,
					rng:        rand.New(rand.NewSource(cfg.Seed + int64(t))),
					importance: make([]float64, d),
				}
				f.trees[t] = b.build()
				perTree[t] = b.importance
			}
		}()
	}

	var err error
feed:
	for t := 0; t < cfg.Trees; t++ {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, err
	}

	// sklearn-style: normalize each tree, average, renormalize
	for _, imp := range perTree {
		normalize(imp)
		for j, v := range imp {
			f.importance[j] += v
		}
	}
	normalize(f.importance)
	return f, nil
}

// PredictProba averages the leaf class distributions of all trees.
func (f *Forest) PredictProba(x []float64) []float64 {
	out := make([]float64, f.classes)
	if len(f.trees) == 0 {
		for i := range out {
			out[i] = 1 / float64(f.classes)
		}
		return out
	}
	for i := range f.trees {
		for c, p := range f.trees[i].predict(x) {
			out[c] += p
		}
	}
	for c := range out {
		out[c] /= float64(len(f.trees))
	}
	return out
}

// Predict returns the most probable class and its probability.
func (f *Forest) Predict(x []float64) (int, float64) {
	probs := f.PredictProba(x)
	best := 0
	for c, p := range probs {
		if p > probs[best] {
			best = c
		}
	}
	return best, probs[best]
}

// Importance returns the normalized mean Gini importance per feature.
func (f *Forest) Importance() []float64 {
	return append([]float64(nil), f.importance...)
}

func balancedWeights(y []int, classes int) []float64 {
	counts := make([]float64, classes)
	for _, c := range y {
		counts[c]++
	}
	w := make([]float64, classes)
	for c, n := range counts {
		if n > 0 {
			w[c] = float64(len(y)) / (float64(classes) * n)
		}
	}
	return w
}

func normalize(v []float64) {
	var s float64
	for _, x := range v {
		s += x
	}
	if s <= 0 {
		return
	}
	for i := range v {
		v[i] /= s
	}
}

type builder struct {
	x       [][]float64
	y       []int
	classes int
	cw      []float64
	cfg     ForestConfig
	rng     *rand.Rand

	weight     []float64
	nodes      []node
	importance []float64
}

func (b *builder) build() tree {
	n := len(b.x)
	counts := make([]int, n)
	for i := 0; i < n; i++ {
		counts[b.rng.Intn(n)]++
	}
	b.weight = make([]float64, n)
	idx := make([]int, 0, n)
	for i, k := range counts {
		if k == 0 {
			continue
		}
		b.weight[i] = float64(k) * b.cw[b.y[i]]
		idx = append(idx, i)
	}
	b.grow(idx, 0)
	return tree{nodes: b.nodes}
}

func (b *builder) distribution(idx []int) ([]float64, float64) {
	dist := make([]float64, b.classes)
	var total float64
	for _, i := range idx {
		dist[b.y[i]] += b.weight[i]
		total += b.weight[i]
	}
	return dist, total
}

func gini(dist []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	g := 1.0
	for _, v := range dist {
		p := v / total
		g -= p * p
	}
	return g
}

// grow appends the subtree for idx and returns its node index.
func (b *builder) grow(idx []int, depth int) int {
	dist, total := b.distribution(idx)
	impurity := gini(dist, total)

	at := len(b.nodes)
	b.nodes = append(b.nodes, node{})

	if depth >= b.cfg.MaxDepth || len(idx) < 2*b.cfg.MinLeaf || impurity <= 1e-12 {
		b.nodes[at] = leaf(dist, total)
		return at
	}

	feature, threshold, gain, ok := b.bestSplit(idx, dist, total, impurity)
	if !ok {
		b.nodes[at] = leaf(dist, total)
		return at
	}
	b.importance[feature] += gain

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[at] = node{feature: feature, threshold: threshold, left: l, right: r}
	return at
}

func leaf(dist []float64, total float64) node {
	probs := make([]float64, len(dist))
	for c, v := range dist {
		if total > 0 {
			probs[c] = v / total
		}
	}
	return node{leaf: true, probs: probs}
}

// bestSplit returns the split with the largest weighted impurity decrease
// W·g − W_L·g_L − W_R·g_R over a random feature subset.
func (b *builder) bestSplit(idx []int, dist []float64, total, impurity float64) (int, float64, float64, bool) {
	d := len(b.x[0])
	features := b.rng.Perm(d)[:b.cfg.MaxFeatures]

	sorted := make([]int, len(idx))
	leftDist := make([]float64, b.classes)
	rightDist := make([]float64, b.classes)

	bestGain := 1e-12
	bestFeature, bestThreshold := -1, 0.0

	for _, f := range features {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })
		if b.x[sorted[0]][f] == b.x[sorted[len(sorted)-1]][f] {
			continue
		}

		for c := range leftDist {
			leftDist[c] = 0
			rightDist[c] = dist[c]
		}
		var leftW float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			leftDist[b.y[i]] += b.weight[i]
			rightDist[b.y[i]] -= b.weight[i]
			leftW += b.weight[i]

			nLeft := k + 1
			if nLeft < b.cfg.MinLeaf || len(sorted)-nLeft < b.cfg.MinLeaf {
				continue
			}
			v, next := b.x[i][f], b.x[sorted[k+1]][f]
			if v == next {
				continue
			}
			rightW := total - leftW
			gain := total*impurity - leftW*gini(leftDist, leftW) - rightW*gini(rightDist, rightW)
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = v + (next-v)/2
			}
		}
	}
	return bestFeature, bestThreshold, bestGain, bestFeature >= 0
}

package sentiment

import (
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit shuffles each class with a seeded source and moves
// round(testFraction·n_c) of it to the test set. Classes with at least two
// samples keep one on each side; singletons stay in training.
func StratifiedSplit(y []int, testFraction float64, seed int64) (train, test []int) {
	byClass := map[int][]int{}
	for i, c := range y {
		byClass[c] = append(byClass[c], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTest := int(math.Round(testFraction * float64(len(idx))))
		if len(idx) >= 2 {
			nTest = max(1, min(nTest, len(idx)-1))
		} else {
			nTest = 0
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

package hnsw_test

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	hnsw "github.com/calvinalkan/hnswindex"
	"github.com/calvinalkan/hnswindex/space"
)

// L2, dim=4, capacity=100, M=16, ef_construction=200.
// Insert 100 random vectors with labels 0..99, then knn(vec_i, 1) must return
// label i for every i: recall 1.0 for an exact self-query.
func Test_Knn_SelfQuery_Recall_Is_Perfect(t *testing.T) {
	t.Parallel()

	const n = 100
	const dim = 4

	idx, err := hnsw.New[float64](hnsw.Options{
		Dim:            dim,
		Space:          space.L2,
		Capacity:       n,
		M:              16,
		EfConstruction: 200,
		Seed:           1,
	})
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	vecs := make([][]float64, n)
	for i := 0; i < n; i++ {
		v := make([]float64, dim)
		for j := range v {
			v[j] = rng.Float64()*200 - 100
		}
		vecs[i] = v
		if err := idx.Add(v, uint64(i), false); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		labels, dists, err := idx.Knn(vecs[i], 1, nil)
		if err != nil {
			t.Fatalf("Knn(vec_%d, 1): %v", i, err)
		}
		if len(labels) != 1 || labels[0] != uint64(i) {
			t.Fatalf("Knn(vec_%d, 1) = %v, want [%d]", i, labels, i)
		}
		if dists[0] > 1e-9 {
			t.Fatalf("Knn(vec_%d, 1) distance = %v, want ~0", i, dists[0])
		}
	}
}

// Cosine space, an allow-filter restricted to even labels, verified
// against a brute-force reference restricted to the same filter: every
// result is even,
// distinct, and matches the brute-force top-k among even labels with high
// recall (HNSW is an approximate index, so exact agreement on every one of
// k isn't guaranteed, but near-total agreement is).
func Test_Knn_Cosine_Filtered_To_Even_Labels_Matches_BruteForce(t *testing.T) {
	t.Parallel()

	const n = 2000
	const dim = 16
	const k = 10

	idx, err := hnsw.New[float64](hnsw.Options{
		Dim:            dim,
		Space:          space.InnerProduct,
		Capacity:       n,
		M:              16,
		EfConstruction: 200,
		Seed:           47,
	})
	if err != nil {
		t.Fatalf("New(): %v", err)
	}

	rng := rand.New(rand.NewSource(47))
	vecs := make([][]float64, n)
	for i := 0; i < n; i++ {
		v := make([]float64, dim)
		for j := range v {
			v[j] = rng.NormFloat64()
		}
		vecs[i] = v
		if err := idx.Add(v, uint64(i), false); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}

	query := make([]float64, dim)
	for j := range query {
		query[j] = rng.NormFloat64()
	}

	evenOnly := hnsw.AllowDenyFilter(nil, oddLabels(n))

	gotLabels, _, err := idx.Knn(query, k, evenOnly)
	if err != nil {
		t.Fatalf("Knn(): %v", err)
	}
	if len(gotLabels) != k {
		t.Fatalf("Knn() returned %d labels, want %d", len(gotLabels), k)
	}

	seen := make(map[uint64]bool, k)
	for _, l := range gotLabels {
		if l%2 != 0 {
			t.Fatalf("Knn() with even-only filter returned odd label %d", l)
		}
		if seen[l] {
			t.Fatalf("Knn() returned duplicate label %d", l)
		}
		seen[l] = true
	}

	wantLabels := bruteForceTopKEven(vecs, query, k)
	matches := 0
	wantSet := make(map[uint64]bool, k)
	for _, l := range wantLabels {
		wantSet[l] = true
	}
	for _, l := range gotLabels {
		if wantSet[l] {
			matches++
		}
	}
	if matches < k-2 {
		t.Fatalf("Knn() agreed with brute force on only %d/%d labels: got %v, want (subset of) %v", matches, k, gotLabels, wantLabels)
	}
}

func oddLabels(n int) map[uint64]struct{} {
	deny := make(map[uint64]struct{}, n/2)
	for i := uint64(0); i < uint64(n); i++ {
		if i%2 != 0 {
			deny[i] = struct{}{}
		}
	}
	return deny
}

func bruteForceTopKEven(vecs [][]float64, query []float64, k int) []uint64 {
	type scored struct {
		label uint64
		dist  float64
	}
	var all []scored
	for i, v := range vecs {
		if i%2 != 0 {
			continue
		}
		all = append(all, scored{label: uint64(i), dist: cosineDistance(query, v)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if len(all) > k {
		all = all[:k]
	}
	out := make([]uint64, len(all))
	for i, s := range all {
		out[i] = s.label
	}
	return out
}

func cosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

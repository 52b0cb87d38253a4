package hnsw_test

import (
	"errors"
	"math/rand"
	"testing"

	hnsw "github.com/calvinalkan/hnswindex"
)

func fillIndex(t *testing.T, idx *hnsw.Index[float64], n, dim int, seed int64) [][]float64 {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	vecs := make([][]float64, n)
	for i := 0; i < n; i++ {
		v := randVec(rng, dim)
		vecs[i] = v
		if err := idx.Add(v, uint64(i), false); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	return vecs
}

func Test_MarkDeleted_Unknown_Label_Returns_LabelNotFound(t *testing.T) {
	t.Parallel()

	idx := newTestIndex(t, 4, 10)

	if err := idx.MarkDeleted(42); !errors.Is(err, hnsw.ErrLabelNotFound) {
		t.Fatalf("MarkDeleted(unknown) error = %v, want ErrLabelNotFound", err)
	}
	if err := idx.UnmarkDeleted(42); !errors.Is(err, hnsw.ErrLabelNotFound) {
		t.Fatalf("UnmarkDeleted(unknown) error = %v, want ErrLabelNotFound", err)
	}
}

func Test_MarkDeleted_Is_Idempotent(t *testing.T) {
	t.Parallel()

	idx := newTestIndex(t, 4, 10)
	fillIndex(t, idx, 5, 4, 21)

	if err := idx.MarkDeleted(2); err != nil {
		t.Fatalf("first MarkDeleted(2): %v", err)
	}
	if err := idx.MarkDeleted(2); err != nil {
		t.Fatalf("second MarkDeleted(2) = %v, want nil (no-op)", err)
	}
	if got := idx.Len(); got != 4 {
		t.Fatalf("Len() after double delete = %d, want 4", got)
	}
}

func Test_Get_On_Tombstoned_Label_Returns_LabelDeleted(t *testing.T) {
	t.Parallel()

	idx := newTestIndex(t, 4, 10)
	fillIndex(t, idx, 5, 4, 22)

	if err := idx.MarkDeleted(3); err != nil {
		t.Fatalf("MarkDeleted(3): %v", err)
	}

	if _, err := idx.Get(3); !errors.Is(err, hnsw.ErrLabelDeleted) {
		t.Fatalf("Get(tombstoned) error = %v, want ErrLabelDeleted", err)
	}
}

func Test_Knn_Skips_Tombstoned_Slots(t *testing.T) {
	t.Parallel()

	idx := newTestIndex(t, 4, 10)
	vecs := fillIndex(t, idx, 5, 4, 23)

	if err := idx.MarkDeleted(0); err != nil {
		t.Fatalf("MarkDeleted(0): %v", err)
	}

	labels, _, err := idx.Knn(vecs[0], 5, nil)
	if err != nil {
		t.Fatalf("Knn(): %v", err)
	}
	for _, l := range labels {
		if l == 0 {
			t.Fatalf("Knn() returned tombstoned label 0: %v", labels)
		}
	}
}

// Reversal law: mark-delete then unmark-delete restores the slot's
// visibility; neighbor lists were never touched, so the self-query works
// exactly as before the delete.
func Test_MarkDeleted_Then_UnmarkDeleted_Restores_Visibility(t *testing.T) {
	t.Parallel()

	idx := newTestIndex(t, 4, 10)
	vecs := fillIndex(t, idx, 5, 4, 24)

	if err := idx.MarkDeleted(1); err != nil {
		t.Fatalf("MarkDeleted(1): %v", err)
	}
	if err := idx.UnmarkDeleted(1); err != nil {
		t.Fatalf("UnmarkDeleted(1): %v", err)
	}

	got, err := idx.Get(1)
	if err != nil {
		t.Fatalf("Get(1) after reversal: %v", err)
	}
	for j := range vecs[1] {
		if got[j] != vecs[1][j] {
			t.Fatalf("Get(1) after reversal = %v, want %v", got, vecs[1])
		}
	}

	labels, _, err := idx.Knn(vecs[1], 1, nil)
	if err != nil {
		t.Fatalf("Knn() after reversal: %v", err)
	}
	if len(labels) != 1 || labels[0] != 1 {
		t.Fatalf("Knn(vec_1, 1) after reversal = %v, want [1]", labels)
	}
}

// Deleting every slot, including the entry point, must leave the index
// empty for queries rather than wedged on a tombstoned entry.
func Test_MarkDeleted_All_Slots_Empties_Query_Results(t *testing.T) {
	t.Parallel()

	idx := newTestIndex(t, 4, 10)
	vecs := fillIndex(t, idx, 5, 4, 25)

	for i := 0; i < 5; i++ {
		if err := idx.MarkDeleted(uint64(i)); err != nil {
			t.Fatalf("MarkDeleted(%d): %v", i, err)
		}
	}

	labels, _, err := idx.Knn(vecs[0], 3, nil)
	if err != nil {
		t.Fatalf("Knn() with everything tombstoned: %v", err)
	}
	if len(labels) != 0 {
		t.Fatalf("Knn() with everything tombstoned = %v, want no results", labels)
	}
	if got := idx.Len(); got != 0 {
		t.Fatalf("Len() with everything tombstoned = %d, want 0", got)
	}
}

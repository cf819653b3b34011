package rbtree

import (
	"errors"
	"math/rand"
	"slices"
	"testing"
)

func mustNew(t *testing.T, capacity int) *Tree {
	t.Helper()
	tree, err := New(capacity)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	return tree
}

func TestNewCapacityBounds(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		wantErr  bool
	}{
		{"zero", 0, true},
		{"negative", -4, true},
		{"one", 1, false},
		{"max", MaxCapacity, false},
		{"over max", MaxCapacity + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.capacity)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%d) error = %v, wantErr %v", tt.capacity, err, tt.wantErr)
			}
		})
	}
}

func TestInsertRotatesOnRedRed(t *testing.T) {
	tree := mustNew(t, 3)
	for _, k := range []uint32{10, 20, 30} {
		if ok, err := tree.Insert(k); !ok || err != nil {
			t.Fatalf("Insert(%d) = %v, %v", k, ok, err)
		}
	}

	root := tree.Root()
	if got := tree.Key(root); got != 20 {
		t.Fatalf("root key = %d, want 20", got)
	}
	if tree.IsRed(root) {
		t.Error("root is red")
	}
	left, right := tree.Child(root, 0), tree.Child(root, 1)
	if left == Leaf || right == Leaf {
		t.Fatalf("root children = %d, %d; want two nodes", left, right)
	}
	if tree.Key(left) != 10 || tree.Key(right) != 30 {
		t.Errorf("children keys = %d, %d; want 10, 30", tree.Key(left), tree.Key(right))
	}
	if !tree.IsRed(left) || !tree.IsRed(right) {
		t.Error("leaf children should both be red")
	}
	if err := tree.Validate(); err != nil {
		t.Error(err)
	}
}

func TestInsertDoubleRotation(t *testing.T) {
	// 10, 30, 20 forces the opposite-side case.
	tree := mustNew(t, 8)
	for _, k := range []uint32{10, 30, 20} {
		tree.Insert(k)
	}
	if got := tree.Key(tree.Root()); got != 20 {
		t.Errorf("root key = %d, want 20", got)
	}
	if err := tree.Validate(); err != nil {
		t.Error(err)
	}
}

func TestInsertRecolourPropagates(t *testing.T) {
	// 20, 10, 30 then 5 has a red uncle: recolour only.
	tree := mustNew(t, 8)
	for _, k := range []uint32{20, 10, 30, 5} {
		tree.Insert(k)
	}
	root := tree.Root()
	if tree.Key(root) != 20 {
		t.Fatalf("root key = %d, want 20", tree.Key(root))
	}
	if tree.IsRed(tree.Child(root, 0)) || tree.IsRed(tree.Child(root, 1)) {
		t.Error("parent and uncle should be black after recolouring")
	}
	if err := tree.Validate(); err != nil {
		t.Error(err)
	}
}

func TestInsertDuplicateIsNoop(t *testing.T) {
	tree := mustNew(t, 16)
	for _, k := range []uint32{5, 3, 8, 1, 4} {
		tree.Insert(k)
	}
	before := slices.Clone(tree.nodes[:tree.Len()])
	rootBefore := tree.Root()

	ok, err := tree.Insert(3)
	if ok || err != nil {
		t.Fatalf("Insert(duplicate) = %v, %v; want false, nil", ok, err)
	}
	if tree.Len() != 5 {
		t.Errorf("Len() = %d after duplicate, want 5", tree.Len())
	}
	if tree.Root() != rootBefore || !slices.Equal(before, tree.nodes[:tree.Len()]) {
		t.Error("duplicate insert modified the tree")
	}
}

func TestInsertFull(t *testing.T) {
	tree := mustNew(t, 4)
	for k := uint32(0); k < 4; k++ {
		if _, err := tree.Insert(k); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	before := slices.Clone(tree.nodes)
	if _, err := tree.Insert(99); !errors.Is(err, ErrFull) {
		t.Fatalf("Insert on full tree error = %v, want ErrFull", err)
	}
	if !slices.Equal(before, tree.nodes) || tree.Len() != 4 {
		t.Error("failed insert modified the tree")
	}

	// Existing keys are still reported as duplicates, not as errors.
	if ok, err := tree.Insert(2); ok || err != nil {
		t.Errorf("Insert(existing) on full tree = %v, %v", ok, err)
	}
}

func TestInsertFullEmptyRoot(t *testing.T) {
	tree := mustNew(t, 1)
	tree.Insert(1)
	tree.Reset()
	if ok, err := tree.Insert(2); !ok || err != nil {
		t.Fatalf("Insert after Reset = %v, %v", ok, err)
	}
	if tree.Contains(1) {
		t.Error("Reset tree still contains old key")
	}
}

func TestInsertDepthExhausted(t *testing.T) {
	tree := mustNew(t, 64)
	// Shrink the path stack below what the keys need.
	tree.nodeStack = tree.nodeStack[:3]
	tree.dirStack = tree.dirStack[:3]

	var err error
	for k := uint32(0); k < 64 && err == nil; k++ {
		_, err = tree.Insert(k)
	}
	if !errors.Is(err, ErrDepth) {
		t.Fatalf("error = %v, want ErrDepth", err)
	}
	if verr := tree.Validate(); verr != nil {
		t.Errorf("tree invalid after rejected insert: %v", verr)
	}
}

func TestInsertKeyRange(t *testing.T) {
	tree := mustNew(t, 2)
	if _, err := tree.Insert(MaxKey + 1); !errors.Is(err, ErrKeyRange) {
		t.Errorf("error = %v, want ErrKeyRange", err)
	}
	if ok, err := tree.Insert(MaxKey); !ok || err != nil {
		t.Errorf("Insert(MaxKey) = %v, %v", ok, err)
	}
	if tree.IsRed(tree.Root()) {
		t.Error("MaxKey root coloured red")
	}
}

func TestInsertRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		capacity := 1 + rng.Intn(600)
		tree := mustNew(t, capacity)
		want := make(map[uint32]bool)

		for len(want) < capacity {
			k := uint32(rng.Intn(capacity * 3))
			ok, err := tree.Insert(k)
			if err != nil {
				t.Fatalf("trial %d: Insert(%d): %v", trial, k, err)
			}
			if ok == want[k] {
				t.Fatalf("trial %d: Insert(%d) = %v with key present=%v", trial, k, ok, want[k])
			}
			want[k] = true

			if err := tree.Validate(); err != nil {
				t.Fatalf("trial %d after %d keys: %v", trial, tree.Len(), err)
			}
		}

		keys := tree.Keys(nil)
		if !slices.IsSorted(keys) || len(keys) != len(want) {
			t.Fatalf("trial %d: Keys() not a sorted set of %d keys", trial, len(want))
		}
		for _, k := range keys {
			if !want[k] || !tree.Contains(k) {
				t.Fatalf("trial %d: unexpected key %d", trial, k)
			}
		}
	}
}

func TestInsertAscending(t *testing.T) {
	// Monotone input is the worst case for an unbalanced tree.
	tree := mustNew(t, 2048)
	for k := uint32(0); k < 2048; k++ {
		if _, err := tree.Insert(k); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	if err := tree.Validate(); err != nil {
		t.Fatal(err)
	}
	if h := tree.Height(); h > MaxDepth(2048)-1 {
		t.Errorf("Height() = %d exceeds path stack %d", h, MaxDepth(2048)-1)
	}
}

func TestMaxDepth(t *testing.T) {
	tests := []struct {
		capacity int
		want     int
	}{
		{1, 5},
		{3, 7},
		{2044, 23},
		{MaxCapacity, 33},
	}
	for _, tt := range tests {
		if got := MaxDepth(tt.capacity); got != tt.want {
			t.Errorf("MaxDepth(%d) = %d, want %d", tt.capacity, got, tt.want)
		}
	}
}

func BenchmarkInsert(b *testing.B) {
	tree, _ := New(2048)
	rng := rand.New(rand.NewSource(1))
	keys := make([]uint32, 2048)
	for i := range keys {
		keys[i] = uint32(rng.Int31())
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if tree.Len() == tree.Cap() {
			tree.Reset()
		}
		tree.Insert(keys[i%len(keys)])
	}
}

// Package main stress-tests the per-lane ordered index: random key streams
// are inserted until each tree is full, and every red-black invariant is
// checked along the way.
//
// Usage: go run ./cmd/indexcheck -trials 200 -capacity 4001
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/tracker/rbtree"
)

type result struct {
	inserted   int
	duplicates int
	height     int
}

// trial fills one tree from a seeded stream. Keys are drawn from a range a
// few times the capacity so duplicates occur, as they do when a walk
// revisits a voxel.
func trial(seed int64, capacity int, keyRange uint32, validateEvery int) (result, error) {
	t, err := rbtree.New(capacity)
	if err != nil {
		return result{}, err
	}
	rng := rand.New(rand.NewSource(seed))

	var res result
	for i := 0; ; i++ {
		key := uint32(rng.Int63n(int64(keyRange)))
		added, err := t.Insert(key)
		if errors.Is(err, rbtree.ErrFull) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("seed %d insert %d (key %d): %w", seed, i, key, err)
		}
		if !added {
			res.duplicates++
			continue
		}
		res.inserted++
		if validateEvery > 0 && res.inserted%validateEvery == 0 {
			if err := t.Validate(); err != nil {
				return res, fmt.Errorf("seed %d after %d keys: %w", seed, res.inserted, err)
			}
		}
	}

	if err := t.Validate(); err != nil {
		return res, fmt.Errorf("seed %d full tree: %w", seed, err)
	}
	keys := t.Keys(nil)
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			return res, fmt.Errorf("seed %d: keys out of order at %d", seed, i)
		}
	}
	res.height = t.Height()
	return res, nil
}

func main() {
	trials := flag.Int("trials", 100, "Number of independent trees to fill")
	capacity := flag.Int("capacity", 4001, "Nodes per tree")
	spread := flag.Int("spread", 4, "Key range as a multiple of capacity")
	seed := flag.Int64("seed", 1, "Seed of the first trial")
	every := flag.Int("validate-every", 1, "Validate after every N new keys (0 = only when full)")
	workers := flag.Int("workers", runtime.GOMAXPROCS(0), "Concurrent trials")
	flag.Parse()

	if *capacity < 1 || *capacity > rbtree.MaxCapacity {
		log.Fatalf("capacity must be in [1, %d]", rbtree.MaxCapacity)
	}
	keyRange := uint64(*capacity) * uint64(max(*spread, 1))
	if keyRange > uint64(rbtree.MaxKey) {
		keyRange = uint64(rbtree.MaxKey)
	}

	start := time.Now()
	results := make([]result, *trials)
	var (
		mu   sync.Mutex
		done int
	)

	var g errgroup.Group
	g.SetLimit(max(*workers, 1))
	for i := range results {
		g.Go(func() error {
			res, err := trial(*seed+int64(i), *capacity, uint32(keyRange), *every)
			if err != nil {
				return err
			}
			results[i] = res
			mu.Lock()
			done++
			if done%max(*trials/10, 1) == 0 {
				fmt.Printf("  %d/%d trials\n", done, *trials)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("invariant violated: %v", err)
	}

	heights := make([]float64, len(results))
	dups := make([]float64, len(results))
	for i, r := range results {
		if r.inserted != *capacity {
			log.Fatalf("trial %d stored %d keys, want %d", i, r.inserted, *capacity)
		}
		heights[i] = float64(r.height)
		dups[i] = float64(r.duplicates)
	}

	fmt.Println("=== Ordered index check ===")
	fmt.Printf("Trials:        %d x %d keys (%s)\n", *trials, *capacity, time.Since(start).Round(time.Millisecond))
	fmt.Printf("Depth budget:  %d stack entries\n", rbtree.MaxDepth(*capacity))
	if len(heights) > 0 {
		fmt.Printf("Height:        mean %.2f, std %.2f, bound %d\n",
			stat.Mean(heights, nil), stat.StdDev(heights, nil), rbtree.MaxDepth(*capacity)-1)
		fmt.Printf("Duplicates:    mean %.0f per tree\n", stat.Mean(dups, nil))
	}
	fmt.Println("All invariants held.")
}

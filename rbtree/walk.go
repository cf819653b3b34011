package rbtree

import (
	"fmt"
	"math"
)

// Keys appends every stored key to dst in ascending order and returns the
// extended slice. The walk reuses the tree's path stack and does not recurse.
func (t *Tree) Keys(dst []uint32) []uint32 {
	sp := 0
	cur := t.root
	for cur != Leaf || sp > 0 {
		for cur != Leaf {
			t.nodeStack[sp] = cur
			sp++
			cur = t.nodes[cur].child[0]
		}
		sp--
		cur = t.nodeStack[sp]
		dst = append(dst, t.Key(cur))
		cur = t.nodes[cur].child[1]
	}
	return dst
}

// frame is one pending node in a checked traversal.
type frame struct {
	n      int16
	depth  int
	blacks int
	lo, hi int64 // exclusive key bounds
}

// Height returns the number of nodes on the longest root-to-leaf path.
func (t *Tree) Height() int {
	h := 0
	t.visit(func(f frame) error {
		if f.depth > h {
			h = f.depth
		}
		return nil
	})
	return h
}

// Validate checks ordering, colouring and the height bound, returning the
// first violation found.
func (t *Tree) Validate() error {
	if t.root == Leaf {
		if t.count != 0 {
			return fmt.Errorf("rbtree: empty root with %d nodes", t.count)
		}
		return nil
	}
	if t.IsRed(t.root) {
		return fmt.Errorf("rbtree: root %d is red", t.root)
	}

	seen := 0
	leafBlacks := -1
	height := 0
	err := t.visit(func(f frame) error {
		seen++
		k := int64(t.Key(f.n))
		if k <= f.lo || k >= f.hi {
			return fmt.Errorf("rbtree: node %d key %d outside (%d, %d)", f.n, k, f.lo, f.hi)
		}
		if f.depth > height {
			height = f.depth
		}
		for dir := 0; dir < 2; dir++ {
			c := t.nodes[f.n].child[dir]
			if t.IsRed(f.n) && t.IsRed(c) {
				return fmt.Errorf("rbtree: red node %d has red child %d", f.n, c)
			}
			if c == Leaf {
				if leafBlacks < 0 {
					leafBlacks = f.blacks
				} else if leafBlacks != f.blacks {
					return fmt.Errorf("rbtree: black height %d below node %d, want %d", f.blacks, f.n, leafBlacks)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if seen != t.count {
		return fmt.Errorf("rbtree: reached %d nodes, tree holds %d", seen, t.count)
	}
	if bound := 2 * math.Log2(float64(t.count+1)); float64(height) > bound {
		return fmt.Errorf("rbtree: height %d exceeds bound %.2f for %d keys", height, bound, t.count)
	}
	return nil
}

// visit calls fn for every reachable node, depth first, using an explicit
// stack. Reaching more nodes than have been allocated means a cycle.
func (t *Tree) visit(fn func(frame) error) error {
	if t.root == Leaf {
		return nil
	}
	stack := []frame{{
		n:      t.root,
		depth:  1,
		blacks: 1,
		lo:     -1,
		hi:     int64(MaxKey) + 1,
	}}
	visited := 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visited++
		if visited > t.count {
			return fmt.Errorf("rbtree: cycle detected at node %d", f.n)
		}
		if err := fn(f); err != nil {
			return err
		}

		k := int64(t.Key(f.n))
		for dir := 0; dir < 2; dir++ {
			c := t.nodes[f.n].child[dir]
			if c == Leaf {
				continue
			}
			next := frame{n: c, depth: f.depth + 1, blacks: f.blacks, lo: f.lo, hi: f.hi}
			if !t.IsRed(c) {
				next.blacks++
			}
			if dir == 0 {
				next.hi = k
			} else {
				next.lo = k
			}
			stack = append(stack, next)
		}
	}
	return nil
}

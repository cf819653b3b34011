// Package rbtree implements an insertion-only red-black tree laid out as a flat
// array of nodes.
//
// The tree is addressed by array index instead of pointers, never allocates
// after construction and never recurses, so the same algorithm can run inside a
// compute kernel where heap allocation, pointers and a call stack are not
// available. New nodes are appended to the end of the array; deletion is not
// supported and capacity is fixed when the tree is created.
//
// Recursion is replaced by two explicit stacks recording the path taken during
// descent. Fix-up walks that path backwards restoring the red-black invariants
// in O(log n).
package rbtree

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// Leaf marks an empty child slot.
const Leaf int16 = -1

// MaxCapacity is the largest node count addressable by an int16 child slot.
const MaxCapacity = math.MaxInt16

// MaxKey is the largest storable key. Bit 31 holds the node colour.
const MaxKey uint32 = 1<<31 - 1

const redBit uint32 = 1 << 31

var (
	// ErrFull is returned when an insert needs a node and the array is exhausted.
	ErrFull = errors.New("rbtree: node capacity exhausted")
	// ErrDepth is returned when a descent would overflow the path stack.
	ErrDepth = errors.New("rbtree: path stack exhausted")
	// ErrKeyRange is returned for keys that collide with the colour bit.
	ErrKeyRange = errors.New("rbtree: key out of range")
)

// node packs the key with its colour and holds two child indices.
// child[0] is the lesser side, child[1] the greater.
type node struct {
	data  uint32
	child [2]int16
}

// Tree is a fixed-capacity red-black tree over uint32 keys.
// A Tree is not safe for concurrent use; each kernel lane owns its own.
type Tree struct {
	nodes []node
	count int
	root  int16

	// Scratch path recorded during descent.
	nodeStack []int16
	dirStack  []uint8
}

// MaxDepth returns the path stack size required for a tree of the given
// capacity: the height bound 2*log2(n+1) plus one entry for the new node.
func MaxDepth(capacity int) int {
	return 2*bits.Len(uint(capacity+1)) + 1
}

// New creates an empty tree able to hold capacity keys.
func New(capacity int) (*Tree, error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, fmt.Errorf("rbtree: capacity %d outside [1, %d]", capacity, MaxCapacity)
	}
	depth := MaxDepth(capacity)
	return &Tree{
		nodes:     make([]node, capacity),
		root:      Leaf,
		nodeStack: make([]int16, depth),
		dirStack:  make([]uint8, depth),
	}, nil
}

// Reset empties the tree without releasing its storage.
func (t *Tree) Reset() {
	t.count = 0
	t.root = Leaf
}

// Len returns the number of stored keys.
func (t *Tree) Len() int { return t.count }

// Cap returns the fixed node capacity.
func (t *Tree) Cap() int { return len(t.nodes) }

// Root returns the index of the root node, or Leaf for an empty tree.
func (t *Tree) Root() int16 { return t.root }

// Key returns the key stored at node index n.
func (t *Tree) Key(n int16) uint32 { return t.nodes[n].data &^ redBit }

// Child returns the child index of n on the given side (0 lesser, 1 greater).
func (t *Tree) Child(n int16, dir int) int16 { return t.nodes[n].child[dir] }

// IsRed reports whether n is a red node. Leaf is black.
func (t *Tree) IsRed(n int16) bool {
	return n != Leaf && t.nodes[n].data&redBit != 0
}

func (t *Tree) paintRed(n int16)   { t.nodes[n].data |= redBit }
func (t *Tree) paintBlack(n int16) { t.nodes[n].data &^= redBit }

// mknode appends a red node. Callers check capacity first.
func (t *Tree) mknode(key uint32) int16 {
	n := int16(t.count)
	t.count++
	t.nodes[n] = node{data: key | redBit, child: [2]int16{Leaf, Leaf}}
	return n
}

// Contains reports whether key is stored.
func (t *Tree) Contains(key uint32) bool {
	cur := t.root
	for cur != Leaf {
		k := t.Key(cur)
		if k == key {
			return true
		}
		cur = t.nodes[cur].child[direction(k, key)]
	}
	return false
}

// direction picks the side of a node holding k on which key belongs.
func direction(k, key uint32) uint8 {
	if k < key {
		return 1
	}
	return 0
}

// Insert adds key to the tree. It returns false without error when the key is
// already present. On error the tree is left exactly as it was.
func (t *Tree) Insert(key uint32) (bool, error) {
	if key > MaxKey {
		return false, ErrKeyRange
	}

	if t.root == Leaf {
		if t.count >= len(t.nodes) {
			return false, ErrFull
		}
		t.root = t.mknode(key)
		t.paintBlack(t.root)
		return true, nil
	}

	// Descend, recording each visited node and the branch taken.
	cur := t.root
	var dir uint8
	depth := 0
	for {
		k := t.Key(cur)
		if k == key {
			return false, nil
		}
		dir = direction(k, key)

		// Keep one slot free for the new node.
		if depth+1 >= len(t.nodeStack) {
			return false, ErrDepth
		}
		t.nodeStack[depth] = cur
		t.dirStack[depth] = dir
		depth++

		next := t.nodes[cur].child[dir]
		if next == Leaf {
			break
		}
		cur = next
	}

	if t.count >= len(t.nodes) {
		return false, ErrFull
	}
	n := t.mknode(key)
	t.nodes[cur].child[dir] = n
	t.nodeStack[depth] = n

	t.fixup(depth)
	return true, nil
}

// fixup walks the recorded path upwards from pos, which holds the new node,
// resolving red-red violations.
func (t *Tree) fixup(pos int) {
	for pos >= 2 {
		me := t.nodeStack[pos]
		parent := t.nodeStack[pos-1]
		if !t.IsRed(me) || !t.IsRed(parent) {
			return
		}

		// A red parent is never the root, so the grandparent exists.
		grandparent := t.nodeStack[pos-2]
		gpDir := t.dirStack[pos-2]
		pDir := t.dirStack[pos-1]
		uncle := t.nodes[grandparent].child[1-gpDir]

		if t.IsRed(uncle) {
			t.paintRed(grandparent)
			t.paintBlack(parent)
			t.paintBlack(uncle)
			t.paintBlack(t.root)

			// The grandparent is now red and may clash with its own parent.
			pos -= 2
			continue
		}

		//       GP,B          P,B
		//       / \          /  \
		//     P,R  U,B  => M,R  GP,R
		//    /                    \
		//   M,R                    U,B
		var sub int16
		if pDir == gpDir {
			sub = t.rotateSingle(grandparent, 1-gpDir)
		} else {
			sub = t.rotateDouble(grandparent, 1-gpDir)
		}

		if grandparent == t.root {
			t.root = sub
		} else {
			ggp := t.nodeStack[pos-3]
			t.nodes[ggp].child[t.dirStack[pos-3]] = sub
		}

		// The new subtree root is black; no violation can remain above it.
		return
	}
}

// rotateSingle rotates the subtree at root towards dir and returns the new
// subtree root, coloured black, with the old root coloured red.
//
//	  R <-root in    N <-new root
//	 / \            / \
//	*   N      =>  R   *
//	   / \        / \
//	  *   *      *   *
func (t *Tree) rotateSingle(root int16, dir uint8) int16 {
	saved := t.nodes[root].child[1-dir]

	t.nodes[root].child[1-dir] = t.nodes[saved].child[dir]
	t.nodes[saved].child[dir] = root

	t.paintRed(root)
	t.paintBlack(saved)

	return saved
}

// rotateDouble performs an inner rotation on the child opposite dir followed
// by an outer rotation at root.
//
//	  R <-root in   R              B <-new root
//	/   \          / \           /   \
//	*     A        *   B         R     A
//	     / \    =>    / \   =>  / \   / \
//	    B   *        *   A     *   * *   *
//	   / \              / \
//	  *   *            *   *
func (t *Tree) rotateDouble(root int16, dir uint8) int16 {
	t.nodes[root].child[1-dir] = t.rotateSingle(t.nodes[root].child[1-dir], 1-dir)
	return t.rotateSingle(root, dir)
}

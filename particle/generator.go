package particle

import (
	"math/rand"
)

// DirectionsPerParticle is the number of records seeded for each logical particle.
// Each particle is tracked once forwards and once backwards from its seed voxel.
const DirectionsPerParticle = 2

// Generator produces the full, predetermined set of seeds for a run.
type Generator struct {
	dims  [3]int32
	rng   *rand.Rand
	total int
}

// NewGenerator creates a generator seeding voxels inside a volume of the given dimensions.
func NewGenerator(seed int64, dims [3]int32) *Generator {
	return &Generator{
		dims: dims,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Seeds returns DirectionsPerParticle records for each of n logical particles.
// Records come out Active with no offset; the post-processor assigns one on placement.
func (g *Generator) Seeds(n int) []Record {
	if n <= 0 {
		return nil
	}
	out := make([]Record, 0, n*DirectionsPerParticle)
	for i := 0; i < n; i++ {
		start := [3]int32{
			g.rng.Int31n(max(g.dims[0], 1)),
			g.rng.Int31n(max(g.dims[1], 1)),
			g.rng.Int31n(max(g.dims[2], 1)),
		}
		for _, dir := range [DirectionsPerParticle]int8{1, -1} {
			out = append(out, Record{
				ID:     uint32(i),
				Dir:    dir,
				Start:  start,
				Pos:    start,
				RNG:    g.nextState(),
				Status: Active,
			})
		}
	}
	g.total += len(out)
	return out
}

// Total returns the number of records generated so far.
func (g *Generator) Total() int {
	return g.total
}

// nextState returns a non-zero xorshift state.
func (g *Generator) nextState() uint64 {
	for {
		if s := g.rng.Uint64(); s != 0 {
			return s
		}
	}
}

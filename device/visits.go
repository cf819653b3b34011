package device

// MergeVisits adds src into dst element-wise, growing dst if needed.
func MergeVisits(dst, src []uint32) []uint32 {
	if len(dst) < len(src) {
		grown := make([]uint32, len(src))
		copy(grown, dst)
		dst = grown
	}
	for i, v := range src {
		dst[i] += v
	}
	return dst
}

// Coords converts a linear voxel index back to x, y, z.
func Coords(dims [3]int32, voxel uint32) [3]int32 {
	nx, ny := uint32(dims[0]), uint32(dims[1])
	return [3]int32{
		int32(voxel % nx),
		int32((voxel / nx) % ny),
		int32(voxel / (nx * ny)),
	}
}

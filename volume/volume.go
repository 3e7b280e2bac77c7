// Package volume holds the in-memory representation of an uploaded scan and
// its serialized forms: the NIfTI-1 upload format and the processed binary
// encoding persisted under files/{id}.nii.processed.
package volume

import (
	"errors"
	"fmt"
)

// Volume is one 3-D scan, sliceable along Z. Voxels are stored X-fastest in
// a single float32 slab. A Volume is immutable after creation.
type Volume struct {
	NX, NY, NZ int
	Data       []float32
}

var ErrSliceOutOfRange = errors.New("volume: slice index out of range")

// SliceCount is the number of addressable 2-D slices (zero-indexed Z axis).
func (v *Volume) SliceCount() int { return v.NZ }

// At returns the voxel at (x, y, z) without bounds checking.
func (v *Volume) At(x, y, z int) float32 {
	return v.Data[x+v.NX*(y+v.NY*z)]
}

// Slice extracts the 2-D plane at index z as a freshly allocated Slice.
func (v *Volume) Slice(z int) (*Slice, error) {
	if z < 0 || z >= v.NZ {
		return nil, fmt.Errorf("%w: %d of %d", ErrSliceOutOfRange, z, v.NZ)
	}
	n := v.NX * v.NY
	out := make([]float32, n)
	copy(out, v.Data[z*n:(z+1)*n])
	return &Slice{W: v.NX, H: v.NY, Pix: out}, nil
}

// Slice is one 2-D image extracted from a Volume, row-major.
type Slice struct {
	W, H int
	Pix  []float32
}

func (s *Slice) At(x, y int) float32 { return s.Pix[x+y*s.W] }

// Preprocess clips negative intensities to zero and normalizes by the global
// maximum so every voxel lands in [0, 1]. An all-zero volume stays all-zero.
func (v *Volume) Preprocess() *Volume {
	out := make([]float32, len(v.Data))
	var max float32
	for i, p := range v.Data {
		if p < 0 {
			p = 0
		}
		out[i] = p
		if p > max {
			max = p
		}
	}
	if max > 0 {
		inv := 1 / max
		for i := range out {
			out[i] *= inv
		}
	}
	return &Volume{NX: v.NX, NY: v.NY, NZ: v.NZ, Data: out}
}

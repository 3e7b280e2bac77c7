// Package overlay turns volume slices into the two cacheable artifact kinds:
// contour polygon sets and rendered PNG overlays. The segmentation model
// itself is an external collaborator behind the Segmenter interface; this
// package only consumes its mask output.
package overlay

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/voxserve/volume"
)

// Mask is a binary segmentation result for one slice, row-major.
type Mask struct {
	W, H int
	Bits []bool
}

func (m *Mask) at(x, y int) bool {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return false
	}
	return m.Bits[x+y*m.W]
}

// Segmenter is the opaque inference call: slice in, mask out. Given the same
// slice it must return the same mask, which is what makes redundant
// recomputation under concurrent cache misses harmless.
type Segmenter interface {
	Predict(ctx context.Context, s *volume.Slice) (*Mask, error)
}

var ErrBadInput = errors.New("overlay: segmenter input malformed")

// Threshold is the built-in Segmenter: every normalized voxel above the
// cutoff is foreground. Deterministic and dependency-free, used in dev and
// tests; production wires a real model endpoint behind the same interface.
type Threshold struct {
	Cutoff float32 // 0 => 0.5
}

func (t Threshold) Predict(_ context.Context, s *volume.Slice) (*Mask, error) {
	if s == nil || len(s.Pix) != s.W*s.H || s.W <= 0 || s.H <= 0 {
		return nil, ErrBadInput
	}
	cut := t.Cutoff
	if cut == 0 {
		cut = 0.5
	}
	m := &Mask{W: s.W, H: s.H, Bits: make([]bool, len(s.Pix))}
	for i, p := range s.Pix {
		m.Bits[i] = p > cut
	}
	return m, nil
}

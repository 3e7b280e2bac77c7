package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// NIfTI-1: fixed 348-byte header followed (at vox_offset) by the voxel array.
// Only the fields the pipeline needs are decoded; everything else is carried
// opaquely in the raw upload object.
const (
	niftiHeaderSize = 348
	niftiMagicN1    = "n+1" // single-file .nii
)

// Supported datatype codes from the NIfTI-1 standard.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
)

var ErrMalformedNIfTI = errors.New("volume: malformed NIfTI file")

// ParseNIfTI decodes a single-file NIfTI-1 (.nii) byte stream into a Volume,
// converting voxels to float32. Both byte orders are handled; the header's
// own sizeof_hdr field disambiguates them.
func ParseNIfTI(raw []byte) (*Volume, error) {
	if len(raw) < niftiHeaderSize+4 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedNIfTI, len(raw))
	}

	var order binary.ByteOrder = binary.LittleEndian
	if order.Uint32(raw[0:4]) != niftiHeaderSize {
		order = binary.BigEndian
		if order.Uint32(raw[0:4]) != niftiHeaderSize {
			return nil, fmt.Errorf("%w: bad sizeof_hdr", ErrMalformedNIfTI)
		}
	}

	if string(raw[344:347]) != niftiMagicN1 {
		return nil, fmt.Errorf("%w: missing n+1 magic", ErrMalformedNIfTI)
	}

	// dim[0] is the dimensionality, dim[1..3] the spatial extents. Higher
	// dims of 0/1 are tolerated; real 4-D time series are rejected.
	dim := make([]uint16, 8)
	for i := range dim {
		dim[i] = order.Uint16(raw[40+2*i : 42+2*i])
	}
	nd := int(dim[0])
	if nd < 3 || nd > 7 {
		return nil, fmt.Errorf("%w: dim[0]=%d", ErrMalformedNIfTI, nd)
	}
	for i := 4; i <= nd; i++ {
		if dim[i] > 1 {
			return nil, fmt.Errorf("%w: non-spatial dimension %d has extent %d", ErrMalformedNIfTI, i, dim[i])
		}
	}
	nx, ny, nz := int(dim[1]), int(dim[2]), int(dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("%w: empty extent %dx%dx%d", ErrMalformedNIfTI, nx, ny, nz)
	}

	datatype := int(order.Uint16(raw[70:72]))
	offset := int(math.Float32frombits(order.Uint32(raw[108:112])))
	if offset < niftiHeaderSize {
		offset = niftiHeaderSize + 4 // default single-file layout
	}

	n := nx * ny * nz
	width, ok := dtWidth(datatype)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported datatype %d", ErrMalformedNIfTI, datatype)
	}
	if offset+n*width > len(raw) {
		return nil, fmt.Errorf("%w: voxel data truncated", ErrMalformedNIfTI)
	}

	data := make([]float32, n)
	body := raw[offset:]
	switch datatype {
	case dtUint8:
		for i := 0; i < n; i++ {
			data[i] = float32(body[i])
		}
	case dtInt16:
		for i := 0; i < n; i++ {
			data[i] = float32(int16(order.Uint16(body[2*i : 2*i+2])))
		}
	case dtInt32:
		for i := 0; i < n; i++ {
			data[i] = float32(int32(order.Uint32(body[4*i : 4*i+4])))
		}
	case dtFloat32:
		for i := 0; i < n; i++ {
			data[i] = math.Float32frombits(order.Uint32(body[4*i : 4*i+4]))
		}
	case dtFloat64:
		for i := 0; i < n; i++ {
			data[i] = float32(math.Float64frombits(order.Uint64(body[8*i : 8*i+8])))
		}
	}

	return &Volume{NX: nx, NY: ny, NZ: nz, Data: data}, nil
}

func dtWidth(datatype int) (int, bool) {
	switch datatype {
	case dtUint8:
		return 1, true
	case dtInt16:
		return 2, true
	case dtInt32:
		return 4, true
	case dtFloat32:
		return 4, true
	case dtFloat64:
		return 8, true
	default:
		return 0, false
	}
}

package volume

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(order binary.ByteOrder, nd int, nx, ny, nz int, datatype int, offset float32) []byte {
	raw := make([]byte, 352)
	order.PutUint32(raw[0:4], 348)
	order.PutUint16(raw[40:42], uint16(nd))
	order.PutUint16(raw[42:44], uint16(nx))
	order.PutUint16(raw[44:46], uint16(ny))
	order.PutUint16(raw[46:48], uint16(nz))
	order.PutUint16(raw[70:72], uint16(datatype))
	order.PutUint32(raw[108:112], math.Float32bits(offset))
	copy(raw[344:347], "n+1")
	return raw
}

func TestParseNIfTIUint8(t *testing.T) {
	raw := header(binary.LittleEndian, 3, 2, 2, 2, dtUint8, 352)
	raw = append(raw, 0, 10, 20, 30, 40, 50, 60, 255)

	v, err := ParseNIfTI(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, v.NX)
	assert.Equal(t, 2, v.NY)
	assert.Equal(t, 2, v.NZ)
	assert.Equal(t, float32(0), v.At(0, 0, 0))
	assert.Equal(t, float32(30), v.At(1, 1, 0))
	assert.Equal(t, float32(255), v.At(1, 1, 1))
}

func TestParseNIfTIBigEndianInt16(t *testing.T) {
	be := binary.BigEndian
	raw := header(be, 3, 2, 1, 1, dtInt16, 352)
	body := make([]byte, 4)
	neg := int16(-7)
	be.PutUint16(body[0:2], uint16(neg))
	be.PutUint16(body[2:4], 1000)
	raw = append(raw, body...)

	v, err := ParseNIfTI(raw)
	require.NoError(t, err)
	assert.Equal(t, float32(-7), v.At(0, 0, 0))
	assert.Equal(t, float32(1000), v.At(1, 0, 0))
}

func TestParseNIfTIFloat32(t *testing.T) {
	le := binary.LittleEndian
	raw := header(le, 3, 1, 1, 2, dtFloat32, 352)
	body := make([]byte, 8)
	le.PutUint32(body[0:4], math.Float32bits(0.25))
	le.PutUint32(body[4:8], math.Float32bits(-1.5))
	raw = append(raw, body...)

	v, err := ParseNIfTI(raw)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), v.At(0, 0, 0))
	assert.Equal(t, float32(-1.5), v.At(0, 0, 1))
}

func TestParseNIfTIToleratesDegenerateHigherDims(t *testing.T) {
	le := binary.LittleEndian
	raw := header(le, 4, 2, 1, 1, dtUint8, 352)
	le.PutUint16(raw[48:50], 1) // dim[4] = 1 is a plain 3-D volume
	raw = append(raw, 1, 2)

	v, err := ParseNIfTI(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, v.SliceCount())
}

func TestParseNIfTIRejects(t *testing.T) {
	le := binary.LittleEndian

	cases := map[string][]byte{
		"truncated header": make([]byte, 100),
		"bad magic": func() []byte {
			raw := header(le, 3, 1, 1, 1, dtUint8, 352)
			copy(raw[344:347], "xxx")
			return append(raw, 1)
		}(),
		"bad sizeof_hdr": func() []byte {
			raw := header(le, 3, 1, 1, 1, dtUint8, 352)
			le.PutUint32(raw[0:4], 999)
			return append(raw, 1)
		}(),
		"time series": func() []byte {
			raw := header(le, 4, 1, 1, 1, dtUint8, 352)
			le.PutUint16(raw[48:50], 5) // dim[4] = 5 timepoints
			return append(raw, 1, 2, 3, 4, 5)
		}(),
		"unsupported datatype": func() []byte {
			raw := header(le, 3, 1, 1, 1, 128, 352)
			return append(raw, 1, 1, 1)
		}(),
		"truncated voxels": func() []byte {
			return header(le, 3, 4, 4, 4, dtUint8, 352)
		}(),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseNIfTI(raw)
			assert.ErrorIs(t, err, ErrMalformedNIfTI)
		})
	}
}

func TestPreprocess(t *testing.T) {
	v := &Volume{NX: 2, NY: 2, NZ: 1, Data: []float32{-5, 0, 100, 200}}
	out := v.Preprocess()

	assert.Equal(t, []float32{0, 0, 0.5, 1}, out.Data)
	assert.Equal(t, []float32{-5, 0, 100, 200}, v.Data, "input must be untouched")

	zero := &Volume{NX: 1, NY: 1, NZ: 2, Data: []float32{0, 0}}
	assert.Equal(t, []float32{0, 0}, zero.Preprocess().Data)
}

func TestSlice(t *testing.T) {
	v := &Volume{NX: 2, NY: 2, NZ: 2, Data: []float32{0, 1, 2, 3, 4, 5, 6, 7}}

	s, err := v.Slice(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 6, 7}, s.Pix)
	assert.Equal(t, float32(7), s.At(1, 1))

	_, err = v.Slice(2)
	assert.ErrorIs(t, err, ErrSliceOutOfRange)
	_, err = v.Slice(-1)
	assert.ErrorIs(t, err, ErrSliceOutOfRange)
}

func TestProcessedRoundTrip(t *testing.T) {
	v := &Volume{NX: 3, NY: 2, NZ: 2, Data: []float32{
		0, 0.1, 0.2, 0.3, 0.4, 0.5,
		0.6, 0.7, 0.8, 0.9, 1, float32(math.Pi),
	}}

	b1, err := EncodeProcessed(v)
	require.NoError(t, err)
	b2, err := EncodeProcessed(v)
	require.NoError(t, err)
	assert.Equal(t, b1, b2, "encoding must be deterministic")

	got, err := DecodeProcessed(b1)
	require.NoError(t, err)
	assert.Equal(t, v, got, "float32 values must round-trip exactly")
}

func TestDecodeProcessedRejectsInconsistentShape(t *testing.T) {
	b, err := procEnc.Marshal(processed{NX: 2, NY: 2, NZ: 2, Data: []float32{1, 2}})
	require.NoError(t, err)
	_, err = DecodeProcessed(b)
	assert.Error(t, err)

	_, err = DecodeProcessed([]byte("garbage"))
	assert.Error(t, err)
}

package volume

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// processed is the durable form persisted under files/{id}.nii.processed so
// cold reads skip re-parsing the NIfTI upload. Deterministic CBOR gives a
// byte-stable encoding that round-trips shape and float32 values exactly.
type processed struct {
	NX   int       `cbor:"1,keyasint"`
	NY   int       `cbor:"2,keyasint"`
	NZ   int       `cbor:"3,keyasint"`
	Data []float32 `cbor:"4,keyasint"`
}

var (
	procEnc cbor.EncMode
	procDec cbor.DecMode
)

func init() {
	var err error
	if procEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if procDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// EncodeProcessed serializes v into the stable processed form.
func EncodeProcessed(v *Volume) ([]byte, error) {
	return procEnc.Marshal(processed{NX: v.NX, NY: v.NY, NZ: v.NZ, Data: v.Data})
}

// DecodeProcessed is the exact inverse of EncodeProcessed.
func DecodeProcessed(b []byte) (*Volume, error) {
	var p processed
	if err := procDec.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("volume: decode processed: %w", err)
	}
	if p.NX <= 0 || p.NY <= 0 || p.NZ <= 0 || len(p.Data) != p.NX*p.NY*p.NZ {
		return nil, fmt.Errorf("volume: decode processed: inconsistent shape %dx%dx%d for %d voxels",
			p.NX, p.NY, p.NZ, len(p.Data))
	}
	return &Volume{NX: p.NX, NY: p.NY, NZ: p.NZ, Data: p.Data}, nil
}

// Codec adapts the processed encoding to the cache codec contract so the
// file:{id} namespace stores volumes in the same bytes as the durable tier.
type Codec struct{}

func (Codec) Encode(v *Volume) ([]byte, error) { return EncodeProcessed(v) }
func (Codec) Decode(b []byte) (*Volume, error) { return DecodeProcessed(b) }

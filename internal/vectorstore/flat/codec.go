package flat

import (
	"encoding/binary"
	"math"

	ragerr "docqa/internal/errors"
)

const (
	indexMagic   = "DQVI"
	indexVersion = 1
	headerSize   = 16
)

// encodeIndex stores: magic, version(uint32), dim(uint32), n(uint32), then
// n*dim float32 values row by row. All integers are little-endian.
func encodeIndex(dim int, vectors []float32) []byte {
	n := 0
	if dim > 0 {
		n = len(vectors) / dim
	}
	out := make([]byte, headerSize+4*len(vectors))
	copy(out[0:4], indexMagic)
	binary.LittleEndian.PutUint32(out[4:8], indexVersion)
	binary.LittleEndian.PutUint32(out[8:12], uint32(dim))
	binary.LittleEndian.PutUint32(out[12:16], uint32(n))
	off := headerSize
	for _, v := range vectors {
		binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(v))
		off += 4
	}
	return out
}

func decodeIndex(data []byte) (dim, n int, vectors []float32, err error) {
	if len(data) < headerSize {
		return 0, 0, nil, ragerr.New(ragerr.CodeVectorStoreLoadInvalid, "index artifact is truncated",
			ragerr.Field("bytes", len(data)))
	}
	if string(data[0:4]) != indexMagic {
		return 0, 0, nil, ragerr.New(ragerr.CodeVectorStoreLoadInvalid, "index artifact has an unknown magic")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != indexVersion {
		return 0, 0, nil, ragerr.New(ragerr.CodeVectorStoreLoadInvalid, "unsupported index version",
			ragerr.Field("version", v))
	}
	dim = int(binary.LittleEndian.Uint32(data[8:12]))
	n = int(binary.LittleEndian.Uint32(data[12:16]))
	if dim <= 0 && n > 0 {
		return 0, 0, nil, ragerr.New(ragerr.CodeVectorStoreLoadInvalid, "index artifact has zero dimension",
			ragerr.Field("vectors", n))
	}
	// Bound n by the payload before multiplying so a forged header cannot overflow.
	payload := len(data) - headerSize
	floats := payload / 4
	if payload%4 != 0 || (dim == 0 && payload != 0) || (dim > 0 && (floats%dim != 0 || n != floats/dim)) {
		return 0, 0, nil, ragerr.New(ragerr.CodeVectorStoreLoadInvalid, "index artifact size does not match header",
			ragerr.FieldDimension(dim), ragerr.Field("vectors", n), ragerr.Field("bytes", len(data)))
	}
	vectors = make([]float32, n*dim)
	off := headerSize
	for i := range vectors {
		vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
	}
	return dim, n, vectors, nil
}

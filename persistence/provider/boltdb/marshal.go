package boltdb

import (
	"encoding/binary"
	"fmt"

	"github.com/dogmatiq/attest/internal/x/bboltx"
)

// marshalUint64 marshals a uint64 to a big-endian byte-slice.
func marshalUint64(v uint64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, v)
	return data
}

// unmarshalUint64 unmarshals a uint64 from a big-endian byte-slice.
//
// An empty or nil byte-slice is treated as zero.
func unmarshalUint64(data []byte) uint64 {
	n := len(data)

	if n == 0 {
		return 0
	}

	if n != 8 {
		bboltx.Must(fmt.Errorf("data is corrupt, expected 8 bytes, got %d", n))
	}

	return binary.BigEndian.Uint64(data)
}

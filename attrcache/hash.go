package attrcache

import (
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
)

// fnvHash accumulates a deterministic digest across repeated
// (path, size, mtime) triples for Fingerprint.
type fnvHash struct {
	h fnv.Hash64
}

func (f *fnvHash) init() {
	if f.h == nil {
		f.h = fnv.New64a()
	}
}

func (f *fnvHash) writeString(s string) {
	f.init()
	f.h.Write([]byte(s))
	f.h.Write([]byte{0}) // separator, avoids "ab"+"c" colliding with "a"+"bc"
}

func (f *fnvHash) writeInt64(n int64) {
	f.init()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n))
	f.h.Write(buf[:])
}

func (f *fnvHash) sum() string {
	f.init()
	return hex.EncodeToString(f.h.Sum(nil))
}

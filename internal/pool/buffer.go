package pool

import "sync"

// bufferSize covers a full data block with its framing.
const bufferSize = 512

var buffers = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// GetBuffer returns a byte slice of length n. Slices up to the pooled size come
// from the pool; larger ones are allocated.
func GetBuffer(n int) []byte {
	if n > bufferSize {
		return make([]byte, n)
	}

	bp, _ := buffers.Get().(*[]byte)

	return (*bp)[:n]
}

// PutBuffer returns b to the pool. b must not be used afterwards.
func PutBuffer(b []byte) {
	if cap(b) != bufferSize {
		return
	}

	b = b[:bufferSize]
	buffers.Put(&b)
}

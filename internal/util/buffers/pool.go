// Package buffers provides reusable byte buffers for streaming transport
// reads and writes, reducing GC pressure during sustained download/upload
// (spec §4.2: "transport I/O is chunked").
package buffers

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/sharkoder/sharkoder/internal/constants"
)

var (
	chunkAllocations int64
	chunkReuses      int64
	smallAllocations int64
	smallReuses      int64
)

var (
	// chunkPool provides StreamChunkSize buffers for transport read/write loops.
	chunkPool = &sync.Pool{
		New: func() interface{} {
			allocs := atomic.AddInt64(&chunkAllocations, 1)
			if allocs%10 == 0 {
				reuses := atomic.LoadInt64(&chunkReuses)
				log.Printf("buffer pool: %d chunk allocations, %d reuses (%.1f%% reuse rate)",
					allocs, reuses, float64(reuses)/float64(allocs+reuses)*100)
			}
			buf := make([]byte, constants.StreamChunkSize)
			return &buf
		},
	}

	// smallPool provides SmallBufferSize buffers for line-scanning and
	// checksum scratch space.
	smallPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&smallAllocations, 1)
			buf := make([]byte, constants.SmallBufferSize)
			return &buf
		},
	}
)

// GetChunkBuffer retrieves a StreamChunkSize buffer from the pool. The
// buffer must be returned via PutChunkBuffer when done.
func GetChunkBuffer() *[]byte {
	buf := chunkPool.Get().(*[]byte)
	atomic.AddInt64(&chunkReuses, 1)
	return buf
}

// PutChunkBuffer returns a buffer to the pool for reuse. Only buffers of the
// correct size are pooled.
func PutChunkBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.StreamChunkSize {
		chunkPool.Put(buf)
	}
}

// GetSmallBuffer retrieves a SmallBufferSize buffer from the pool.
func GetSmallBuffer() *[]byte {
	buf := smallPool.Get().(*[]byte)
	atomic.AddInt64(&smallReuses, 1)
	return buf
}

// PutSmallBuffer returns a small buffer to the pool for reuse.
func PutSmallBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.SmallBufferSize {
		smallPool.Put(buf)
	}
}

// Stats reports current buffer pool allocation counters.
type Stats struct {
	ChunkBufferSize  int
	SmallBufferSize  int
	ChunkAllocations int64
	SmallAllocations int64
}

// CurrentStats snapshots the pool counters.
func CurrentStats() Stats {
	return Stats{
		ChunkBufferSize:  constants.StreamChunkSize,
		SmallBufferSize:  constants.SmallBufferSize,
		ChunkAllocations: atomic.LoadInt64(&chunkAllocations),
		SmallAllocations: atomic.LoadInt64(&smallAllocations),
	}
}

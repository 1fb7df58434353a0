package buffers

import (
	"testing"

	"github.com/sharkoder/sharkoder/internal/constants"
)

func TestChunkBufferPool(t *testing.T) {
	buf := GetChunkBuffer()
	if buf == nil {
		t.Fatal("GetChunkBuffer returned nil")
	}
	if len(*buf) != constants.StreamChunkSize {
		t.Errorf("Buffer size = %d, want %d", len(*buf), constants.StreamChunkSize)
	}
	PutChunkBuffer(buf)

	buf2 := GetChunkBuffer()
	if buf2 == nil {
		t.Fatal("GetChunkBuffer returned nil on second call")
	}
	PutChunkBuffer(buf2)
}

func TestSmallBufferPool(t *testing.T) {
	buf := GetSmallBuffer()
	if buf == nil {
		t.Fatal("GetSmallBuffer returned nil")
	}
	if len(*buf) != constants.SmallBufferSize {
		t.Errorf("Buffer size = %d, want %d", len(*buf), constants.SmallBufferSize)
	}
	PutSmallBuffer(buf)

	buf2 := GetSmallBuffer()
	if buf2 == nil {
		t.Fatal("GetSmallBuffer returned nil on second call")
	}
	PutSmallBuffer(buf2)
}

func TestPutChunkBufferWithWrongSize(t *testing.T) {
	wrongSizeBuf := make([]byte, 1024)
	PutChunkBuffer(&wrongSizeBuf)
}

func TestPutSmallBufferWithWrongSize(t *testing.T) {
	wrongSizeBuf := make([]byte, 1024*1024)
	PutSmallBuffer(&wrongSizeBuf)
}

func TestPutNilBuffer(t *testing.T) {
	PutChunkBuffer(nil)
	PutSmallBuffer(nil)
}

func TestConcurrentAccess(t *testing.T) {
	const goroutines = 10
	const iterations = 100

	done := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				buf := GetChunkBuffer()
				(*buf)[0] = byte(j)
				PutChunkBuffer(buf)

				smallBuf := GetSmallBuffer()
				(*smallBuf)[0] = byte(j)
				PutSmallBuffer(smallBuf)
			}
			done <- true
		}()
	}

	for i := 0; i < goroutines; i++ {
		<-done
	}
}

func TestCurrentStats(t *testing.T) {
	stats := CurrentStats()

	if stats.ChunkBufferSize != constants.StreamChunkSize {
		t.Errorf("ChunkBufferSize = %d, want %d", stats.ChunkBufferSize, constants.StreamChunkSize)
	}
	if stats.SmallBufferSize != constants.SmallBufferSize {
		t.Errorf("SmallBufferSize = %d, want %d", stats.SmallBufferSize, constants.SmallBufferSize)
	}
}

func BenchmarkChunkBufferWithPool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetChunkBuffer()
		_ = (*buf)[0]
		PutChunkBuffer(buf)
	}
}

func BenchmarkChunkBufferWithoutPool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := make([]byte, constants.StreamChunkSize)
		_ = buf[0]
	}
}

func BenchmarkSmallBufferWithPool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetSmallBuffer()
		_ = (*buf)[0]
		PutSmallBuffer(buf)
	}
}

func BenchmarkSmallBufferWithoutPool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := make([]byte, constants.SmallBufferSize)
		_ = buf[0]
	}
}

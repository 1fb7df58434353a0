package remotefs

import (
	"context"
	"io"
	"time"

	"github.com/sharkoder/sharkoder/internal/constants"
	"github.com/sharkoder/sharkoder/internal/util/buffers"
)

// ReadStream is a resumable read handle; Close releases the underlying
// connection or file handle.
type ReadStream interface {
	io.ReadCloser
}

// WriteStream is a sink for an upload; Close finalizes the write (for
// adapters that stream to a temp sibling, Close triggers the rename).
type WriteStream interface {
	io.WriteCloser
}

// Adapter is the capability set both transports expose (spec §4.1). Every
// method authenticates lazily and reconnects if the connection is dead.
type Adapter interface {
	// Name identifies the adapter for logging and for the Router's
	// read-only latch bookkeeping.
	Name() string

	List(ctx context.Context, path string) ([]Entry, error)
	Stat(ctx context.Context, path string) (Stat, error)

	// OpenRead opens path for reading starting at offset, enabling
	// resumable downloads by byte offset.
	OpenRead(ctx context.Context, path string, offset int64) (ReadStream, error)

	// OpenWrite opens path for writing. If overwrite is false and path
	// exists, implementations return a Forbidden-kind Error.
	OpenWrite(ctx context.Context, path string, offset int64, overwrite bool) (WriteStream, error)

	Rename(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)

	// Close releases any held connection.
	Close() error
}

// StreamCopier copies from src to dst in chunks, invoking onProgress after
// every chunk. The scheduler's download and upload stages use this for their
// stream-to-stream paths. When chunkSize matches the pool's configured
// chunk size, the copy buffer is borrowed from buffers' sync.Pool instead of
// allocated fresh, since this runs once per downloaded/uploaded/backed-up
// file.
func StreamCopier(ctx context.Context, dst io.Writer, src io.Reader, total int64, chunkSize int, onProgress ProgressFunc) (int64, error) {
	var buf []byte
	if chunkSize == constants.StreamChunkSize {
		pooled := buffers.GetChunkBuffer()
		defer buffers.PutChunkBuffer(pooled)
		buf = *pooled
	} else {
		buf = make([]byte, chunkSize)
	}

	var transferred int64
	start := time.Now()
	lastTick := start
	var emaSpeed float64 // bytes/sec, smoothed (spec §4.1: progress events carry speed/eta)
	for {
		select {
		case <-ctx.Done():
			return transferred, ctx.Err()
		default:
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return transferred, werr
			}
			transferred += int64(n)
			now := time.Now()
			if dt := now.Sub(lastTick).Seconds(); dt > 0 {
				instSpeed := float64(n) / dt
				if emaSpeed == 0 {
					emaSpeed = instSpeed
				} else {
					emaSpeed = constants.SpeedEWMAAlpha*instSpeed + (1-constants.SpeedEWMAAlpha)*emaSpeed
				}
			}
			lastTick = now
			if onProgress != nil {
				onProgress(transferred, total, emaSpeed, etaFor(transferred, total, emaSpeed))
			}
		}
		if rerr == io.EOF {
			return transferred, nil
		}
		if rerr != nil {
			return transferred, rerr
		}
	}
}

// etaFor estimates remaining duration from the smoothed speed. It returns 0
// when total or speed is unknown, matching the teacher's "don't report a
// number you don't trust yet" ETA convention.
func etaFor(transferred, total int64, speed float64) time.Duration {
	if total <= 0 || speed <= 0 || transferred >= total {
		return 0
	}
	remaining := float64(total - transferred)
	eta := time.Duration(remaining / speed * float64(time.Second))
	if eta > constants.MaxETA {
		return constants.MaxETA
	}
	return eta
}

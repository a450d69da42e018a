package glide

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"
)

// BitmapPool supplies and recycles pixel buffers by size and format.
//
// GetDirty returns a buffer whose prior contents are not cleared; it is
// safe only for consumers that overwrite every pixel. Put offers a buffer
// back to the pool and reports whether it was accepted; a rejected buffer
// must be recycled by the caller. Neither call blocks.
type BitmapPool interface {
	GetDirty(width, height int, format Format) *Bitmap
	Put(b *Bitmap) bool
}

type MmapBitmapPoolConfig struct {
	// MaxBytes is the total pixel bytes the pool holds before evicting
	// free bitmaps.
	MaxBytes int
}

func DefaultMmapBitmapPoolConfig() MmapBitmapPoolConfig {
	return MmapBitmapPoolConfig{MaxBytes: 32 * MiB}
}

func (c MmapBitmapPoolConfig) Validate() error {
	if c.MaxBytes <= 0 {
		return fmt.Errorf("invalid config: MaxBytes must be positive, got %d", c.MaxBytes)
	}
	return nil
}

// MmapBitmapPool is a thread-safe bitmap pool whose pixel storage lives
// in anonymous mappings outside the Go heap, keeping large short-lived
// pixel buffers away from the garbage collector. Free bitmaps are kept in
// per-attribute lists keyed by a hash of (width, height, format).
type MmapBitmapPool struct {
	mu        sync.Mutex
	free      map[uint64][]*Bitmap
	freeBytes int
	maxBytes  int
}

// NewMmapBitmapPool creates a new, empty bitmap pool.
// It will panic if the config is invalid.
func NewMmapBitmapPool(config MmapBitmapPoolConfig) *MmapBitmapPool {
	if err := config.Validate(); err != nil {
		panic(err)
	}
	return &MmapBitmapPool{
		free:     make(map[uint64][]*Bitmap),
		maxBytes: config.MaxBytes,
	}
}

// attrKey hashes the attributes a pooled bitmap is looked up by.
func attrKey(width, height int, format Format) uint64 {
	var k [20]byte
	binary.LittleEndian.PutUint64(k[0:8], uint64(width))
	binary.LittleEndian.PutUint64(k[8:16], uint64(height))
	binary.LittleEndian.PutUint32(k[16:20], uint32(format))
	return xxhash.Sum64(k[:])
}

// GetDirty retrieves a bitmap of the exact size and format from the pool,
// allocating a fresh mapping when no free bitmap matches. The returned
// bitmap's pixels are not cleared.
func (p *MmapBitmapPool) GetDirty(width, height int, format Format) *Bitmap {
	key := attrKey(width, height, format)

	p.mu.Lock()
	list := p.free[key]
	for i, b := range list {
		// Guard against a hash collision mapping two attribute sets to
		// the same list.
		if b.Width != width || b.Height != height || b.Format != format {
			continue
		}
		list[i] = list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		p.freeBytes -= b.SizeBytes()
		p.mu.Unlock()
		return b
	}
	p.mu.Unlock()

	return p.alloc(width, height, format)
}

// Put offers a bitmap back to the pool. It returns false, leaving the
// caller to recycle the bitmap, when the bitmap is not pool-backed or is
// larger than half the pool budget. Accepting a bitmap may evict older
// free bitmaps to stay within the byte budget.
func (p *MmapBitmapPool) Put(b *Bitmap) bool {
	if b == nil || b.release == nil || b.Pix == nil {
		return false
	}
	size := b.SizeBytes()
	if size > p.maxBytes/2 {
		return false
	}
	key := attrKey(b.Width, b.Height, b.Format)

	var evicted []*Bitmap
	p.mu.Lock()
	p.free[key] = append(p.free[key], b)
	p.freeBytes += size
	if p.freeBytes > p.maxBytes {
		evicted = p.evictLocked()
	}
	p.mu.Unlock()

	// Unmap outside of the lock to avoid blocking other operations.
	for _, e := range evicted {
		e.Recycle()
	}
	return true
}

// evictLocked trims free lists until the pool is at half its byte budget,
// preventing thrashing around the threshold. The caller holds the mutex.
func (p *MmapBitmapPool) evictLocked() []*Bitmap {
	var evicted []*Bitmap
	target := p.maxBytes / 2
	for key, list := range p.free {
		for len(list) > 0 && p.freeBytes > target {
			b := list[len(list)-1]
			list = list[:len(list)-1]
			p.freeBytes -= b.SizeBytes()
			evicted = append(evicted, b)
		}
		if len(list) == 0 {
			delete(p.free, key)
		} else {
			p.free[key] = list
		}
		if p.freeBytes <= target {
			break
		}
	}
	return evicted
}

// alloc maps a fresh off-heap pixel buffer.
func (p *MmapBitmapPool) alloc(width, height int, format Format) *Bitmap {
	size := width * height * format.BytesPerPixel()
	if size <= 0 {
		return &Bitmap{Width: width, Height: height, Format: format, Pix: []byte{}}
	}

	// Anonymous mappings are page-granular; the bitmap keeps its logical
	// size while the release hook unmaps the full region.
	pageSize := unix.Getpagesize()
	mapSize := (size + pageSize - 1) / pageSize * pageSize
	data, err := unix.Mmap(-1, 0, mapSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		panic(fmt.Errorf("cannot allocate %d bytes via mmap for a %dx%d %s bitmap: %w",
			mapSize, width, height, format, err))
	}

	b := &Bitmap{
		Width:  width,
		Height: height,
		Format: format,
		Pix:    data[:size],
	}
	b.release = func() {
		if err := unix.Munmap(data); err != nil {
			slog.Error("failed to unmap bitmap", "error", err)
		}
	}
	return b
}

// numFree returns the number of free bitmaps for the given attributes.
// It is primarily intended as helper method in tests.
func (p *MmapBitmapPool) numFree(width, height int, format Format) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free[attrKey(width, height, format)])
}

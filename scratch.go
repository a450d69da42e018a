package glide

import "sync"

const (
	KiB = 1024
	MiB = KiB * KiB

	// ScratchSize is the size of the reusable byte arrays handed to pixel
	// decoders as temporary storage.
	ScratchSize = 64 * KiB
)

// ScratchPool is a thread-safe cache of fixed-size byte arrays used as
// decoder temp storage. Get never blocks: an empty pool allocates a fresh
// array instead. Put is best-effort; arrays beyond the keep threshold are
// dropped for the GC to reclaim.
type ScratchPool struct {
	mu   sync.Mutex
	free [][]byte

	// keep is the number of free arrays the pool holds before dropping
	// returned arrays.
	keep int
}

// NewScratchPool creates a scratch pool that retains up to keep arrays.
func NewScratchPool(keep int) *ScratchPool {
	return &ScratchPool{keep: keep}
}

// Get retrieves a scratch array from the pool or allocates a new one.
func (p *ScratchPool) Get() []byte {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return b
	}
	p.mu.Unlock()
	return make([]byte, ScratchSize)
}

// Put returns a scratch array to the pool. Arrays of the wrong size are
// ignored; so are returns beyond the keep threshold.
func (p *ScratchPool) Put(b []byte) {
	if cap(b) != ScratchSize {
		return
	}
	b = b[:ScratchSize]
	p.mu.Lock()
	if len(p.free) < p.keep {
		p.free = append(p.free, b)
	}
	p.mu.Unlock()
}

// numFree returns the number of cached arrays.
// It is primarily intended as helper method in tests.
func (p *ScratchPool) numFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

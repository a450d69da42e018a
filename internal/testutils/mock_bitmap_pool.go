package testutils

import (
	"sync"
	"sync/atomic"

	"github.com/qq1426209678/glide"
)

// MockBitmapPool is a heap-backed BitmapPool that counts calls and can
// be told to reject returns.
type MockBitmapPool struct {
	RejectPuts bool

	getCalls atomic.Int64
	putCalls atomic.Int64

	mu     sync.Mutex
	pooled []*glide.Bitmap
}

func (p *MockBitmapPool) GetDirty(width, height int, format glide.Format) *glide.Bitmap {
	p.getCalls.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, b := range p.pooled {
		if b.Width == width && b.Height == height && b.Format == format {
			p.pooled = append(p.pooled[:i], p.pooled[i+1:]...)
			return b
		}
	}
	return glide.NewBitmap(width, height, format)
}

func (p *MockBitmapPool) Put(b *glide.Bitmap) bool {
	p.putCalls.Add(1)
	if p.RejectPuts {
		return false
	}
	p.mu.Lock()
	p.pooled = append(p.pooled, b)
	p.mu.Unlock()
	return true
}

func (p *MockBitmapPool) GetCalls() int64 {
	return p.getCalls.Load()
}

func (p *MockBitmapPool) PutCalls() int64 {
	return p.putCalls.Load()
}

// Pooled returns the number of bitmaps currently held by the pool.
func (p *MockBitmapPool) Pooled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pooled)
}

// Holds reports whether b is currently reachable from the pool.
func (p *MockBitmapPool) Holds(b *glide.Bitmap) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pb := range p.pooled {
		if pb == b {
			return true
		}
	}
	return false
}

func (p *MockBitmapPool) Reset() {
	p.getCalls.Store(0)
	p.putCalls.Store(0)
	p.mu.Lock()
	p.pooled = nil
	p.mu.Unlock()
}

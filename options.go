package glide

import "sync"

// DecodeOptions is the mutable scratch struct threaded through both
// decode passes. Instances are pooled and reset between requests; they
// are owned exclusively by one decode call at a time and are never
// handed to Decode callers.
type DecodeOptions struct {
	// BoundsOnly asks the decoder to populate only the Out fields
	// without materializing pixels.
	BoundsOnly bool

	// SampleSize is the integer downscale factor. It is always a power
	// of two >= 1 by the time a full decode executes.
	SampleSize int

	// Format is the pixel layout the decode should produce.
	Format Format

	// Density and TargetDensity drive sub-power-of-two scaling after the
	// integer sample-size reduction. Scaled is set when both are positive
	// and unequal.
	Density       int
	TargetDensity int
	Scaled        bool

	// Scratch is pool-supplied temporary storage for the decoder.
	Scratch []byte

	// Reuse, when non-nil, is a pool-supplied bitmap the decoder must
	// write into instead of allocating.
	Reuse *Bitmap

	// Out fields are populated by the decoder.
	OutWidth    int
	OutHeight   int
	OutMimeType string
}

// reset restores the documented defaults, dropping any references from a
// previous decode so pooled instances do not pin buffers.
func (o *DecodeOptions) reset() {
	o.BoundsOnly = false
	o.SampleSize = 1
	o.Format = FormatRGBA8888
	o.Density = 0
	o.TargetDensity = 0
	o.Scaled = false
	o.Scratch = nil
	o.Reuse = nil
	o.OutWidth = 0
	o.OutHeight = 0
	o.OutMimeType = ""
}

// optionsPool represents a pool of reusable DecodeOptions instances.
// A Pool is safe for concurrent use by multiple goroutines.
type optionsPool struct {
	pool sync.Pool
}

func newOptionsPool() *optionsPool {
	return &optionsPool{
		pool: sync.Pool{
			New: func() any {
				return &DecodeOptions{}
			},
		},
	}
}

// Get retrieves an options struct from the pool, or creates a new one,
// reset to known defaults.
func (p *optionsPool) Get() *DecodeOptions {
	o := p.pool.Get().(*DecodeOptions)
	o.reset()
	return o
}

// Put releases any references held by an options struct and returns it
// to the pool for reuse.
func (p *optionsPool) Put(o *DecodeOptions) {
	o.reset()
	p.pool.Put(o)
}

package glide

// Resource hands a decoded bitmap to the caller with exclusive ownership
// over its pooled lifecycle. Exactly one bitmap is reachable through a
// Resource; releasing it offers the bitmap back to the pool and recycles
// it if the pool declines.
type Resource struct {
	bitmap *Bitmap
	pool   BitmapPool
}

func newResource(b *Bitmap, pool BitmapPool) *Resource {
	return &Resource{bitmap: b, pool: pool}
}

// Bitmap returns the decoded bitmap. It returns nil after Release.
func (r *Resource) Bitmap() *Bitmap {
	return r.bitmap
}

// Release returns the bitmap to the pool, or recycles it if the pool
// declines. Releasing more than once is a no-op.
func (r *Resource) Release() {
	b := r.bitmap
	if b == nil {
		return
	}
	r.bitmap = nil
	if r.pool == nil || !r.pool.Put(b) {
		b.Recycle()
	}
}

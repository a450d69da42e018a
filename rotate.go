package glide

import "github.com/qq1426209678/glide/internal/header"

// rotateExif transforms a decoded bitmap to match its EXIF orientation.
// The identity orientations return the same bitmap; every other case
// produces a new bitmap acquired dirty from the pool, leaving the input
// untouched for the caller to reconcile.
func rotateExif(b *Bitmap, pool BitmapPool, o header.Orientation) *Bitmap {
	if b == nil || o <= header.OrientationTopLeft || o > header.OrientationLeftBottom {
		return b
	}

	w, h := b.Width, b.Height
	dstW, dstH := w, h
	if o.Transposed() {
		dstW, dstH = h, w
	}
	dst := pool.GetDirty(dstW, dstH, b.Format)

	// Every destination pixel is written, so a dirty buffer is safe.
	bpp := b.Format.BytesPerPixel()
	srcStride := w * bpp
	dstStride := dstW * bpp
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := mapPixel(o, x, y, w, h)
			si := y*srcStride + x*bpp
			di := dy*dstStride + dx*bpp
			copy(dst.Pix[di:di+bpp], b.Pix[si:si+bpp])
		}
	}
	return dst
}

// mapPixel maps a source pixel position to its display position for the
// given orientation.
func mapPixel(o header.Orientation, x, y, w, h int) (int, int) {
	switch o {
	case header.OrientationTopRight: // Mirror horizontal.
		return w - 1 - x, y
	case header.OrientationBottomRight: // Rotate 180.
		return w - 1 - x, h - 1 - y
	case header.OrientationBottomLeft: // Mirror vertical.
		return x, h - 1 - y
	case header.OrientationLeftTop: // Transpose.
		return y, x
	case header.OrientationRightTop: // Rotate 90 clockwise.
		return h - 1 - y, x
	case header.OrientationRightBottom: // Transverse.
		return h - 1 - y, w - 1 - x
	case header.OrientationLeftBottom: // Rotate 270 clockwise.
		return y, w - 1 - x
	default:
		return x, y
	}
}

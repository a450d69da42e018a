package glide

import "fmt"

// Format selects the in-memory pixel layout of a decoded Bitmap.
type Format int

const (
	// FormatRGBA8888 stores 4 bytes per pixel (R, G, B, A) and supports
	// transparency.
	FormatRGBA8888 Format = iota
	// FormatRGB565 packs each pixel into 2 little-endian bytes
	// (5 bits red, 6 bits green, 5 bits blue) with no alpha channel.
	FormatRGB565
)

// BytesPerPixel returns the storage cost of one pixel in the format.
func (f Format) BytesPerPixel() int {
	if f == FormatRGB565 {
		return 2
	}
	return 4
}

// HasAlpha reports whether the format can represent transparency.
func (f Format) HasAlpha() bool {
	return f == FormatRGBA8888
}

func (f Format) String() string {
	if f == FormatRGB565 {
		return "RGB_565"
	}
	return "RGBA_8888"
}

// Bitmap is a decoded pixel buffer. Pix holds Width*Height pixels in
// row-major order using the layout described by Format.
type Bitmap struct {
	Width  int
	Height int
	Format Format
	Pix    []byte

	// release frees the backing storage when the bitmap leaves the pooled
	// lifecycle. Nil for heap-allocated bitmaps, which the GC reclaims.
	release func()
}

// NewBitmap allocates a heap-backed bitmap of the given size and format.
func NewBitmap(width, height int, format Format) *Bitmap {
	return &Bitmap{
		Width:  width,
		Height: height,
		Format: format,
		Pix:    make([]byte, width*height*format.BytesPerPixel()),
	}
}

// SizeBytes returns the logical size of the pixel data.
func (b *Bitmap) SizeBytes() int {
	return b.Width * b.Height * b.Format.BytesPerPixel()
}

// Recycle releases the bitmap's backing storage. The bitmap must not be
// used afterwards. Recycling twice is a no-op.
func (b *Bitmap) Recycle() {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	b.Pix = nil
}

// String describes the bitmap for diagnostics.
func (b *Bitmap) String() string {
	if b == nil {
		return "<nil>"
	}
	return fmt.Sprintf("[%dx%d] %s (%d bytes)", b.Width, b.Height, b.Format, b.SizeBytes())
}

// packRGB565 packs 8-bit channels into a 5-6-5 pixel.
func packRGB565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// unpackRGB565 expands a 5-6-5 pixel back to 8-bit channels, replicating
// the high bits into the low bits so white stays white.
func unpackRGB565(p uint16) (r, g, b uint8) {
	r = uint8(p>>11) << 3
	g = uint8(p>>5&0x3F) << 2
	b = uint8(p&0x1F) << 3
	r |= r >> 5
	g |= g >> 6
	b |= b >> 5
	return r, g, b
}

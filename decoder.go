package glide

import (
	"io"

	"github.com/qq1426209678/glide/internal/header"
)

// PixelDecoder turns an encoded image stream into a pixel buffer.
//
// With opts.BoundsOnly set, Decode populates opts.OutWidth, OutHeight and
// OutMimeType without materializing pixels and returns a nil bitmap.
// Otherwise it decodes honoring opts.SampleSize, the density fields and
// opts.Format, writing into opts.Reuse when one is attached. A decoder
// handed a reuse target must fail if the target does not fit; it must not
// fall back to a silent allocation of a different shape.
type PixelDecoder interface {
	Decode(r io.Reader, opts *DecodeOptions) (*Bitmap, error)
}

// HeaderInspector extracts metadata from the leading bytes of a stream.
// Each call reads the stream from its current position; the Downsampler
// brackets calls with mark/rewind. Failures are tolerated: the decode
// falls back to conservative defaults.
type HeaderInspector interface {
	Orientation(r io.Reader) (header.Orientation, error)
	HasAlpha(r io.Reader) (bool, error)
	Type(r io.Reader) (header.ImageType, error)
}

// StdInspector is the built-in HeaderInspector backed by the header
// package's magic-byte and EXIF parsers.
type StdInspector struct{}

func (StdInspector) Orientation(r io.Reader) (header.Orientation, error) {
	return header.NewParser(r).Orientation()
}

func (StdInspector) HasAlpha(r io.Reader) (bool, error) {
	return header.NewParser(r).HasAlpha()
}

func (StdInspector) Type(r io.Reader) (header.ImageType, error) {
	return header.NewParser(r).Type()
}

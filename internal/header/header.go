// Package header implements best-effort extraction of image metadata
// (type, alpha support, EXIF orientation) from the leading bytes of an
// encoded image stream.
package header

import (
	"io"
)

// ImageType identifies the container format of an encoded image.
type ImageType int

const (
	Unknown ImageType = iota
	JPEG
	// PNG without an alpha channel.
	PNG
	// PNGA is a PNG whose colour type carries an alpha channel.
	PNGA
	GIF
	// WebP without an alpha channel (lossy VP8).
	WebP
	// WebPA is a WebP with the alpha flag set (VP8X or lossless).
	WebPA
	BMP
)

func (t ImageType) String() string {
	switch t {
	case JPEG:
		return "JPEG"
	case PNG:
		return "PNG"
	case PNGA:
		return "PNG_A"
	case GIF:
		return "GIF"
	case WebP:
		return "WEBP"
	case WebPA:
		return "WEBP_A"
	case BMP:
		return "BMP"
	default:
		return "UNKNOWN"
	}
}

// HasAlpha reports whether the format can carry transparency.
func (t ImageType) HasAlpha() bool {
	switch t {
	case PNGA, GIF, WebPA:
		return true
	default:
		return false
	}
}

// Parser reads image metadata from the leading bytes of a stream.
//
// A Parser consumes bytes from its reader; each probe expects a reader
// positioned at the start of the image data. Probes distinguish between
// I/O failures (returned as errors) and well-formed headers that simply
// lack the requested metadata (returned as zero-value defaults).
type Parser struct {
	r io.Reader
}

func NewParser(r io.Reader) *Parser {
	return &Parser{r: r}
}

// Type sniffs the image container format from its magic bytes.
func (p *Parser) Type() (ImageType, error) {
	var b [32]byte
	n, err := io.ReadFull(p.r, b[:])
	if err != nil && err != io.ErrUnexpectedEOF {
		return Unknown, err
	}
	buf := b[:n]

	switch {
	case len(buf) >= 3 && buf[0] == 0xFF && buf[1] == 0xD8 && buf[2] == 0xFF:
		return JPEG, nil

	case len(buf) >= 8 && string(buf[:8]) == "\x89PNG\r\n\x1a\n":
		// Byte 25 is the colour type of the IHDR chunk; types 4 and 6
		// carry an alpha channel.
		if len(buf) >= 26 && (buf[25] == 4 || buf[25] == 6) {
			return PNGA, nil
		}
		return PNG, nil

	case len(buf) >= 4 && string(buf[:4]) == "GIF8":
		return GIF, nil

	case len(buf) >= 16 && string(buf[:4]) == "RIFF" && string(buf[8:12]) == "WEBP":
		switch string(buf[12:16]) {
		case "VP8X":
			// Alpha is bit 4 of the VP8X feature flags byte.
			if len(buf) >= 21 && buf[20]&0x10 != 0 {
				return WebPA, nil
			}
			return WebP, nil
		case "VP8L":
			// Lossless bitstream: bit 28 of the size/flags word is alpha.
			if len(buf) >= 25 && buf[24]&0x10 != 0 {
				return WebPA, nil
			}
			return WebP, nil
		default:
			return WebP, nil
		}

	case len(buf) >= 2 && buf[0] == 'B' && buf[1] == 'M':
		return BMP, nil
	}
	return Unknown, nil
}

// HasAlpha reports whether the image data can carry transparency.
// Formats without alpha support and unrecognized formats report false.
func (p *Parser) HasAlpha() (bool, error) {
	t, err := p.Type()
	if err != nil {
		return false, err
	}
	return t.HasAlpha(), nil
}

// Orientation extracts the EXIF orientation. Only JPEG streams carry the
// tag here; everything else reports OrientationUndefined without error.
func (p *Parser) Orientation() (Orientation, error) {
	tiff, err := scanJPEGForExif(p.r)
	if err == errNoExif {
		return OrientationUndefined, nil
	}
	if err != nil {
		return OrientationUndefined, err
	}
	return orientationFromTIFF(tiff), nil
}

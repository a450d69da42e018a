package header

import (
	"errors"
	"io"
)

// Orientation is the EXIF orientation tag value (tag 0x0112).
// Zero means the orientation is unknown or was not present.
type Orientation int

const (
	OrientationUndefined Orientation = iota
	OrientationTopLeft
	OrientationTopRight
	OrientationBottomRight
	OrientationBottomLeft
	OrientationLeftTop
	OrientationRightTop
	OrientationRightBottom
	OrientationLeftBottom
)

func (o Orientation) String() string {
	switch o {
	case OrientationTopLeft:
		return "TOP_LEFT"
	case OrientationTopRight:
		return "TOP_RIGHT"
	case OrientationBottomRight:
		return "BOTTOM_RIGHT"
	case OrientationBottomLeft:
		return "BOTTOM_LEFT"
	case OrientationLeftTop:
		return "LEFT_TOP"
	case OrientationRightTop:
		return "RIGHT_TOP"
	case OrientationRightBottom:
		return "RIGHT_BOTTOM"
	case OrientationLeftBottom:
		return "LEFT_BOTTOM"
	default:
		return "UNDEFINED"
	}
}

// Degrees returns the clockwise rotation needed to display the image upright.
func (o Orientation) Degrees() int {
	switch o {
	case OrientationBottomRight, OrientationBottomLeft:
		return 180
	case OrientationLeftTop, OrientationRightTop:
		return 90
	case OrientationRightBottom, OrientationLeftBottom:
		return 270
	default:
		return 0
	}
}

// Mirrored reports whether the transform includes a horizontal flip.
func (o Orientation) Mirrored() bool {
	switch o {
	case OrientationTopRight, OrientationBottomLeft, OrientationLeftTop, OrientationRightBottom:
		return true
	default:
		return false
	}
}

// Transposed reports whether displaying the image swaps width and height.
func (o Orientation) Transposed() bool {
	return o >= OrientationLeftTop && o <= OrientationLeftBottom
}

// EXIF tag and type constants for the orientation scan.
const (
	tagOrientation    = 0x0112
	typeUnsignedShort = 3
)

var errNoExif = errors.New("header: no exif segment found")

// exifReader wraps a TIFF block with endian-aware accessors.
// Reads past the end of the block return zero instead of panicking so a
// truncated segment degrades to "no orientation".
type exifReader struct {
	data         []byte
	littleEndian bool
}

func (r *exifReader) uint16At(offset int) uint16 {
	if offset < 0 || offset+1 >= len(r.data) {
		return 0
	}
	if r.littleEndian {
		return uint16(r.data[offset]) | uint16(r.data[offset+1])<<8
	}
	return uint16(r.data[offset])<<8 | uint16(r.data[offset+1])
}

func (r *exifReader) uint32At(offset int) uint32 {
	if offset < 0 || offset+3 >= len(r.data) {
		return 0
	}
	if r.littleEndian {
		return uint32(r.data[offset]) | uint32(r.data[offset+1])<<8 |
			uint32(r.data[offset+2])<<16 | uint32(r.data[offset+3])<<24
	}
	return uint32(r.data[offset])<<24 | uint32(r.data[offset+1])<<16 |
		uint32(r.data[offset+2])<<8 | uint32(r.data[offset+3])
}

// orientationFromTIFF extracts the orientation tag from a TIFF block
// (the payload of a JPEG APP1 segment after the "Exif\0\0" preamble).
func orientationFromTIFF(data []byte) Orientation {
	if len(data) < 8 {
		return OrientationUndefined
	}
	r := &exifReader{data: data}
	switch {
	case data[0] == 'I' && data[1] == 'I':
		r.littleEndian = true
	case data[0] == 'M' && data[1] == 'M':
		r.littleEndian = false
	default:
		return OrientationUndefined
	}
	if r.uint16At(2) != 42 {
		return OrientationUndefined
	}

	ifdOffset := int(r.uint32At(4))
	count := int(r.uint16At(ifdOffset))
	for i := 0; i < count; i++ {
		entry := ifdOffset + 2 + i*12
		if r.uint16At(entry) != tagOrientation {
			continue
		}
		if r.uint16At(entry+2) != typeUnsignedShort {
			return OrientationUndefined
		}
		v := Orientation(r.uint16At(entry + 8))
		if v < OrientationTopLeft || v > OrientationLeftBottom {
			return OrientationUndefined
		}
		return v
	}
	return OrientationUndefined
}

// scanJPEGForExif walks JPEG segment markers until it finds an APP1 segment
// carrying EXIF data and returns the embedded TIFF block.
func scanJPEGForExif(r io.Reader) ([]byte, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:2]); err != nil {
		return nil, err
	}
	if b[0] != 0xFF || b[1] != 0xD8 {
		return nil, errNoExif
	}
	for {
		if _, err := io.ReadFull(r, b[:2]); err != nil {
			return nil, err
		}
		if b[0] != 0xFF {
			return nil, errNoExif
		}
		marker := b[1]
		// SOS or EOI means the metadata segments are behind us.
		if marker == 0xDA || marker == 0xD9 {
			return nil, errNoExif
		}
		if _, err := io.ReadFull(r, b[:2]); err != nil {
			return nil, err
		}
		segLen := (int(b[0])<<8 | int(b[1])) - 2
		if segLen < 0 {
			return nil, errNoExif
		}
		if marker != 0xE1 {
			if _, err := io.CopyN(io.Discard, r, int64(segLen)); err != nil {
				return nil, err
			}
			continue
		}
		seg := make([]byte, segLen)
		if _, err := io.ReadFull(r, seg); err != nil {
			return nil, err
		}
		if len(seg) >= 6 && string(seg[:6]) == "Exif\x00\x00" {
			return seg[6:], nil
		}
		// An APP1 segment that is not EXIF (e.g. XMP); keep scanning.
	}
}

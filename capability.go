package glide

import (
	"slices"

	"github.com/qq1426209678/glide/internal/header"
)

// Capabilities describes what the underlying pixel decoder supports,
// resolved once at construction instead of branching on platform
// versions throughout the decode path.
type Capabilities struct {
	// SizeFlexibleReuse allows a pooled buffer to be reused for any image
	// of the same pixel format as long as the buffer is large enough.
	// When false, reuse requires an exact size match and SampleSize 1.
	SizeFlexibleReuse bool

	// FixedSizeReuseTypes lists the image types known to decode
	// deterministically into a reusable buffer shape when only
	// exact-size reuse is available. Ignored when SizeFlexibleReuse.
	FixedSizeReuseTypes []header.ImageType

	// UnreliableFormatSwitch marks decoders that mis-render when the
	// pixel format differs from the source; such decoders always get an
	// alpha-capable format.
	UnreliableFormatSwitch bool
}

// DefaultCapabilities describes a modern decoder with size-flexible
// buffer reuse.
func DefaultCapabilities() Capabilities {
	return Capabilities{SizeFlexibleReuse: true}
}

// LegacyCapabilities describes the restricted tier: exact-size reuse
// only, limited to formats with a deterministic decoded shape.
func LegacyCapabilities() Capabilities {
	return Capabilities{
		FixedSizeReuseTypes: []header.ImageType{
			header.JPEG,
			header.PNGA,
			header.PNG,
		},
	}
}

func (c Capabilities) allowsFixedSizeReuse(t header.ImageType) bool {
	return slices.Contains(c.FixedSizeReuseTypes, t)
}

package glide

// Strategy computes the downscale factors applied while decoding an
// image toward a requested size.
//
// Implementations must be pure functions of their arguments: the
// Downsampler predicts post-decode buffer sizes from the same inputs and
// the prediction must stay valid across calls.
//
// SampleSize returns the exact (not necessarily power-of-two) integer
// factor; the Downsampler rounds it down to a power of two before use.
// Density and TargetDensity drive an optional sub-power-of-two scaling
// step; a strategy that returns 0 for either disables it. TargetDensity
// receives the rounded sample size actually in effect.
type Strategy interface {
	SampleSize(srcWidth, srcHeight, dstWidth, dstHeight int) int
	Density(srcWidth, srcHeight, dstWidth, dstHeight int) int
	TargetDensity(srcWidth, srcHeight, dstWidth, dstHeight, sampleSize int) int
}

// DefaultStrategy is used when a decode request does not select one.
var DefaultStrategy Strategy = AtLeast{}

// AtLeast keeps both dimensions greater than or equal to the requested
// size, downscaling by the largest integer factor that does so.
type AtLeast struct{}

func (AtLeast) SampleSize(srcWidth, srcHeight, dstWidth, dstHeight int) int {
	return max(1, min(srcWidth/dstWidth, srcHeight/dstHeight))
}

func (AtLeast) Density(int, int, int, int) int { return 0 }

func (AtLeast) TargetDensity(int, int, int, int, int) int { return 0 }

// AtMost keeps both dimensions less than or equal to the requested size,
// modulo the decoder's power-of-two rounding.
type AtMost struct{}

func (AtMost) SampleSize(srcWidth, srcHeight, dstWidth, dstHeight int) int {
	return max(1, ceilDiv(srcWidth, dstWidth), ceilDiv(srcHeight, dstHeight))
}

func (AtMost) Density(int, int, int, int) int { return 0 }

func (AtMost) TargetDensity(int, int, int, int, int) int { return 0 }

// FitCenter downsamples like AtLeast, then uses density scaling to land
// exactly on the requested width while preserving aspect ratio.
type FitCenter struct{}

func (FitCenter) SampleSize(srcWidth, srcHeight, dstWidth, dstHeight int) int {
	return AtLeast{}.SampleSize(srcWidth, srcHeight, dstWidth, dstHeight)
}

func (FitCenter) Density(srcWidth, _, _, _ int) int {
	return srcWidth
}

// TargetDensity is chosen so that (src/sampleSize) * (target/density)
// equals the requested width. Never exceeds Density: density scaling
// must not upscale.
func (FitCenter) TargetDensity(srcWidth, _, dstWidth, _, sampleSize int) int {
	return min(srcWidth, dstWidth*sampleSize)
}

// None decodes at the source resolution.
type None struct{}

func (None) SampleSize(int, int, int, int) int { return 1 }

func (None) Density(int, int, int, int) int { return 0 }

func (None) TargetDensity(int, int, int, int, int) int { return 0 }

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

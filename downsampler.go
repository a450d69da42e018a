package glide

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/bits"

	"github.com/qq1426209678/glide/internal/header"
)

// Option keys recognized in the options mapping passed to Decode.
const (
	// KeyDecodeFormat selects a DecodeFormat value that, together with
	// the image metadata, determines the pixel Format of the result.
	KeyDecodeFormat = "glide.downsample.DecodeFormat"
	// KeyDownsampleStrategy selects the Strategy used to compute the
	// sample size and densities for the decode.
	KeyDownsampleStrategy = "glide.downsample.Strategy"
)

// SizeOriginal is a sentinel for a requested dimension meaning "use the
// source's own dimension for this axis".
const SizeOriginal = -1

// DecodeFormat is the caller's pixel-format preference.
type DecodeFormat int

const (
	// DecodeFormatDefault picks an alpha-capable format only when the
	// image header reports transparency.
	DecodeFormatDefault DecodeFormat = iota
	// DecodeFormatPreferRGBA8888 forces an alpha-capable format
	// regardless of the image contents.
	DecodeFormatPreferRGBA8888
)

// Options is the per-request options mapping. Unknown keys are ignored.
type Options map[string]any

// DecodeCallbacks lets callers respond to key points during a decode.
type DecodeCallbacks interface {
	// OnObtainBounds fires once, after the bounds pass completes and the
	// stream has been rewound, before any full decode.
	OnObtainBounds()
	// OnDecodeComplete fires once after the full decode, before
	// rotation. A returned error fails the decode.
	OnDecodeComplete(pool BitmapPool, downsampled *Bitmap) error
}

type noopCallbacks struct{}

func (noopCallbacks) OnObtainBounds() {}

func (noopCallbacks) OnDecodeComplete(BitmapPool, *Bitmap) error { return nil }

var emptyCallbacks DecodeCallbacks = noopCallbacks{}

// Config supplies the Downsampler's collaborators. Zero-value fields are
// filled with the built-in implementations.
type Config struct {
	Decoder   PixelDecoder     // Defaults to StdDecoder.
	Inspector HeaderInspector  // Defaults to StdInspector.
	Pool      BitmapPool       // Defaults to a new MmapBitmapPool.
	Scratch   *ScratchPool     // Defaults to a new ScratchPool.
	Caps      *Capabilities    // Defaults to DefaultCapabilities.
	Logger    *slog.Logger     // Defaults to slog.Default.
}

// Downsampler decodes encoded image streams into pixel buffers close to
// a requested size, rotated to match any embedded orientation metadata,
// reusing pooled buffers where the decoder's capabilities allow.
//
// A Downsampler is safe for concurrent use: Decode calls on different
// streams may run on any number of goroutines.
type Downsampler struct {
	decoder   PixelDecoder
	inspector HeaderInspector
	pool      BitmapPool
	scratch   *ScratchPool
	caps      Capabilities
	log       *slog.Logger
	opts      *optionsPool
}

// New creates a Downsampler with the built-in collaborators.
func New() *Downsampler {
	return Custom(Config{})
}

// Custom creates a Downsampler with custom collaborators.
func Custom(config Config) *Downsampler {
	d := &Downsampler{
		decoder:   config.Decoder,
		inspector: config.Inspector,
		pool:      config.Pool,
		scratch:   config.Scratch,
		log:       config.Logger,
		opts:      newOptionsPool(),
	}
	if d.decoder == nil {
		d.decoder = StdDecoder{}
	}
	if d.inspector == nil {
		d.inspector = StdInspector{}
	}
	if d.pool == nil {
		d.pool = NewMmapBitmapPool(DefaultMmapBitmapPoolConfig())
	}
	if d.scratch == nil {
		d.scratch = NewScratchPool(32)
	}
	if config.Caps != nil {
		d.caps = *config.Caps
	} else {
		d.caps = DefaultCapabilities()
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

// Handles reports whether the stream can be decoded. The Downsampler
// claims any stream; unsupported formats surface as decode failures.
func (d *Downsampler) Handles(io.Reader) bool { return true }

// HandlesBytes reports whether the byte slice can be decoded.
func (d *Downsampler) HandlesBytes([]byte) bool { return true }

// Decode decodes r into a bitmap close to the requested size, rotated to
// match any orientation metadata in the stream.
//
// The stream must support rewinding: it must implement Rewinder (see
// NewBufferedStream) or io.ReadSeeker, with a mark limit of at least
// DefaultMarkLimit for non-seekable sources. The stream's position after
// Decode returns is unspecified.
func (d *Downsampler) Decode(r io.Reader, requestedWidth, requestedHeight int, options Options) (*Resource, error) {
	return d.DecodeWithCallbacks(r, requestedWidth, requestedHeight, options, emptyCallbacks)
}

// DecodeBytes decodes an in-memory encoded image.
func (d *Downsampler) DecodeBytes(p []byte, requestedWidth, requestedHeight int, options Options) (*Resource, error) {
	return d.Decode(bytes.NewReader(p), requestedWidth, requestedHeight, options)
}

// DecodeWithCallbacks is Decode with caller hooks at key points.
func (d *Downsampler) DecodeWithCallbacks(r io.Reader, requestedWidth, requestedHeight int,
	options Options, callbacks DecodeCallbacks) (*Resource, error) {

	rw, err := asRewinder(r)
	if err != nil {
		return nil, err
	}
	if callbacks == nil {
		callbacks = emptyCallbacks
	}

	scratch := d.scratch.Get()
	opts := d.opts.Get()
	opts.Scratch = scratch
	defer func() {
		d.opts.Put(opts)
		d.scratch.Put(scratch)
	}()

	strategy := strategyOption(options)
	format := decodeFormatOption(options)

	result, err := d.decodeFromRewinder(rw, opts, strategy, format,
		requestedWidth, requestedHeight, callbacks)
	if err != nil {
		return nil, err
	}
	return newResource(result, d.pool), nil
}

func (d *Downsampler) decodeFromRewinder(rw Rewinder, opts *DecodeOptions,
	strategy Strategy, format DecodeFormat, requestedWidth, requestedHeight int,
	callbacks DecodeCallbacks) (*Bitmap, error) {

	srcWidth, srcHeight, mimeType, err := d.sourceBounds(rw, opts, callbacks)
	if err != nil {
		return nil, err
	}

	orientation, err := d.orientation(rw)
	if err != nil {
		return nil, err
	}
	degreesToRotate := orientation.Degrees()

	opts.Format, err = d.pixelFormat(rw, format)
	if err != nil {
		return nil, err
	}

	targetWidth := requestedWidth
	if targetWidth == SizeOriginal {
		targetWidth = srcWidth
	}
	targetHeight := requestedHeight
	if targetHeight == SizeOriginal {
		targetHeight = srcHeight
	}

	opts.SampleSize = roundedSampleSize(strategy, degreesToRotate,
		srcWidth, srcHeight, targetWidth, targetHeight)
	opts.Density = strategy.Density(srcWidth, srcHeight, targetWidth, targetHeight)
	opts.TargetDensity = strategy.TargetDensity(srcWidth, srcHeight,
		targetWidth, targetHeight, opts.SampleSize)
	if isScaling(opts) {
		opts.Scaled = true
	}

	downsampled, err := d.downsampleWithSize(rw, opts, srcWidth, srcHeight, callbacks)
	if err != nil {
		return nil, err
	}

	if err := callbacks.OnDecodeComplete(d.pool, downsampled); err != nil {
		d.reclaim(downsampled)
		return nil, err
	}

	d.logDecode(srcWidth, srcHeight, mimeType, opts, downsampled,
		requestedWidth, requestedHeight)

	rotated := rotateExif(downsampled, d.pool, orientation)
	if rotated != downsampled {
		d.reclaim(downsampled)
	}
	return rotated, nil
}

// sourceBounds runs the bounds-only pass. It is invoked exactly once per
// decode, before any full decode.
func (d *Downsampler) sourceBounds(rw Rewinder, opts *DecodeOptions,
	callbacks DecodeCallbacks) (width, height int, mimeType string, err error) {

	opts.BoundsOnly = true
	_, err = d.decodeStream(rw, opts, callbacks)
	opts.BoundsOnly = false
	return opts.OutWidth, opts.OutHeight, opts.OutMimeType, err
}

// orientation probes the header for the image orientation. Parse
// failures are non-fatal and fall back to no rotation; only a failure to
// rewind the stream fails the decode.
func (d *Downsampler) orientation(rw Rewinder) (header.Orientation, error) {
	rw.Mark(DefaultMarkLimit)
	o, err := d.inspector.Orientation(rw)
	if err != nil {
		d.log.Debug("cannot determine the image orientation from the header", "error", err)
		o = header.OrientationUndefined
	}
	if err := rw.Rewind(); err != nil {
		return header.OrientationUndefined, err
	}
	return o, nil
}

// pixelFormat selects the pixel format for the decode. The alpha probe
// is best-effort and defaults to no alpha.
func (d *Downsampler) pixelFormat(rw Rewinder, preference DecodeFormat) (Format, error) {
	if preference == DecodeFormatPreferRGBA8888 || d.caps.UnreliableFormatSwitch {
		return FormatRGBA8888, nil
	}

	rw.Mark(DefaultMarkLimit)
	hasAlpha, err := d.inspector.HasAlpha(rw)
	if err != nil {
		d.log.Debug("cannot determine whether the image has alpha from the header",
			"preference", preference, "error", err)
		hasAlpha = false
	}
	if err := rw.Rewind(); err != nil {
		return FormatRGBA8888, err
	}

	if hasAlpha {
		return FormatRGBA8888, nil
	}
	return FormatRGB565, nil
}

// downsampleWithSize negotiates pooled-buffer reuse, attaches a reuse
// target when eligible, and runs the full decode.
func (d *Downsampler) downsampleWithSize(rw Rewinder, opts *DecodeOptions,
	srcWidth, srcHeight int, callbacks DecodeCallbacks) (*Bitmap, error) {

	// Size-flexible reuse works for any sample size; exact-size reuse
	// requires decoding at the source resolution.
	if opts.SampleSize == 1 || d.caps.SizeFlexibleReuse {
		reuse, err := d.shouldReuse(rw)
		if err != nil {
			return nil, err
		}
		if reuse {
			expectedWidth, expectedHeight := expectedSize(srcWidth, srcHeight, opts)
			d.log.Debug("calculated target size for pooled reuse",
				"expectedWidth", expectedWidth,
				"expectedHeight", expectedHeight,
				"sourceWidth", srcWidth,
				"sourceHeight", srcHeight,
				"sampleSize", opts.SampleSize)
			// The decoder overwrites every pixel, so dirty is safe.
			opts.Reuse = d.pool.GetDirty(expectedWidth, expectedHeight, opts.Format)
		}
	}

	downsampled, err := d.decodeStream(rw, opts, callbacks)
	if err != nil {
		if opts.Reuse != nil {
			// The reuse target never reached a result; give it back.
			d.reclaim(opts.Reuse)
			opts.Reuse = nil
		}
		return nil, err
	}
	if opts.Reuse != nil && downsampled != opts.Reuse {
		// Decoder allocated its own buffer despite the target.
		d.reclaim(opts.Reuse)
		opts.Reuse = nil
	}
	return downsampled, nil
}

// shouldReuse decides whether a pooled buffer may be attached as the
// decode target. On the size-flexible tier any buffer of the right
// format qualifies; otherwise the image type must be on the fixed-size
// allow-list, probed best-effort from the header.
func (d *Downsampler) shouldReuse(rw Rewinder) (bool, error) {
	if d.caps.SizeFlexibleReuse {
		return true, nil
	}

	rw.Mark(DefaultMarkLimit)
	t, err := d.inspector.Type(rw)
	if err != nil {
		d.log.Debug("cannot determine the image type from the header", "error", err)
		t = header.Unknown
	}
	if err := rw.Rewind(); err != nil {
		return false, err
	}
	return d.caps.allowsFixedSizeReuse(t), nil
}

// decodeStream invokes the pixel decoder, bracketing bounds-only reads
// with mark/rewind and firing the bounds callback after the rewind.
// Decode failures are wrapped with the source diagnostics captured
// before the read.
func (d *Downsampler) decodeStream(rw Rewinder, opts *DecodeOptions,
	callbacks DecodeCallbacks) (*Bitmap, error) {

	if opts.BoundsOnly {
		rw.Mark(DefaultMarkLimit)
	}
	// Out fields are rewritten by the decoder; capture for diagnostics.
	srcWidth := opts.OutWidth
	srcHeight := opts.OutHeight
	mimeType := opts.OutMimeType

	result, err := d.decoder.Decode(rw, opts)
	if err != nil {
		return nil, &DecodeError{
			Width:    srcWidth,
			Height:   srcHeight,
			MimeType: mimeType,
			Reuse:    opts.Reuse.String(),
			err:      err,
		}
	}

	if opts.BoundsOnly {
		if err := rw.Rewind(); err != nil {
			return nil, err
		}
		// Bounds are known; the caller may clamp the mark limit so the
		// rewind buffer stops growing.
		callbacks.OnObtainBounds()
	}
	return result, nil
}

// reclaim puts a bitmap back in the pool, recycling it if the pool
// declines, so it is never reachable from both the pool and a result.
func (d *Downsampler) reclaim(b *Bitmap) {
	if b != nil && !d.pool.Put(b) {
		b.Recycle()
	}
}

// roundedSampleSize resolves the strategy's exact sample size and rounds
// it down to a power of two.
//
// When the image will be rotated 90 or 270 degrees the source dimensions
// are swapped before consulting the strategy, so the decode shrinks the
// source toward the transposed target.
func roundedSampleSize(strategy Strategy, degreesToRotate int,
	srcWidth, srcHeight, targetWidth, targetHeight int) int {

	var exactSampleSize int
	if degreesToRotate == 90 || degreesToRotate == 270 {
		exactSampleSize = strategy.SampleSize(srcHeight, srcWidth, targetWidth, targetHeight)
	} else {
		exactSampleSize = strategy.SampleSize(srcWidth, srcHeight, targetWidth, targetHeight)
	}

	// Pixel decoders only honor powers of two, rounding down. The pooled
	// buffer size estimate mirrors that rounding, so it must happen here
	// and not inside the decoder alone.
	powerOfTwoSampleSize := 0
	if exactSampleSize > 0 {
		powerOfTwoSampleSize = 1 << (bits.Len(uint(exactSampleSize)) - 1)
	}
	return max(1, powerOfTwoSampleSize)
}

// expectedSize predicts the post-decode dimensions for a pooled reuse
// target. The density multiplier is clamped to 1 so density scaling
// never upscales past the sampled size.
func expectedSize(srcWidth, srcHeight int, opts *DecodeOptions) (int, int) {
	densityMultiplier := 1.0
	if opts.Scaled {
		densityMultiplier = min(float64(opts.TargetDensity)/float64(opts.Density), 1.0)
	}
	downsampledWidth := srcWidth / opts.SampleSize
	downsampledHeight := srcHeight / opts.SampleSize
	expectedWidth := int(math.Ceil(float64(downsampledWidth) * densityMultiplier))
	expectedHeight := int(math.Ceil(float64(downsampledHeight) * densityMultiplier))
	return expectedWidth, expectedHeight
}

func isScaling(opts *DecodeOptions) bool {
	return opts.TargetDensity > 0 && opts.Density > 0 &&
		opts.TargetDensity != opts.Density
}

func strategyOption(options Options) Strategy {
	if s, ok := options[KeyDownsampleStrategy].(Strategy); ok {
		return s
	}
	return DefaultStrategy
}

func decodeFormatOption(options Options) DecodeFormat {
	if f, ok := options[KeyDecodeFormat].(DecodeFormat); ok {
		return f
	}
	return DecodeFormatDefault
}

func (d *Downsampler) logDecode(srcWidth, srcHeight int, mimeType string,
	opts *DecodeOptions, result *Bitmap, requestedWidth, requestedHeight int) {

	d.log.Debug("decoded bitmap",
		"result", result.String(),
		"source", fmt.Sprintf("[%dx%d] %s", srcWidth, srcHeight, mimeType),
		"reuse", opts.Reuse.String(),
		"requestedWidth", requestedWidth,
		"requestedHeight", requestedHeight,
		"sampleSize", opts.SampleSize,
		"density", opts.Density,
		"targetDensity", opts.TargetDensity)
}

package glide

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qq1426209678/glide/internal/header"
)

// fakeDecoder is a scriptable PixelDecoder that snapshots the options it
// was invoked with.
type fakeDecoder struct {
	boundsWidth  int
	boundsHeight int
	mimeType     string
	boundsErr    error
	decodeErr    error

	// produce, when set, is returned from the full decode instead of a
	// fresh allocation (unless a reuse target is attached).
	produce *Bitmap

	boundsCalls int
	fullCalls   int
	lastOpts    DecodeOptions
}

func (f *fakeDecoder) Decode(r io.Reader, opts *DecodeOptions) (*Bitmap, error) {
	if opts.BoundsOnly {
		f.boundsCalls++
		if f.boundsErr != nil {
			return nil, f.boundsErr
		}
		opts.OutWidth = f.boundsWidth
		opts.OutHeight = f.boundsHeight
		opts.OutMimeType = f.mimeType
		return nil, nil
	}
	f.fullCalls++
	f.lastOpts = *opts
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	if opts.Reuse != nil {
		return opts.Reuse, nil
	}
	if f.produce != nil {
		return f.produce, nil
	}
	s := max(1, opts.SampleSize)
	return NewBitmap(max(1, f.boundsWidth/s), max(1, f.boundsHeight/s), opts.Format), nil
}

// fakeInspector returns scripted header metadata.
type fakeInspector struct {
	orientation    header.Orientation
	orientationErr error
	alpha          bool
	alphaErr       error
	imageType      header.ImageType
	imageTypeErr   error

	typeCalls int
}

func (f *fakeInspector) Orientation(io.Reader) (header.Orientation, error) {
	return f.orientation, f.orientationErr
}

func (f *fakeInspector) HasAlpha(io.Reader) (bool, error) {
	return f.alpha, f.alphaErr
}

func (f *fakeInspector) Type(io.Reader) (header.ImageType, error) {
	f.typeCalls++
	return f.imageType, f.imageTypeErr
}

// fakeStrategy returns fixed factors and records the dimensions each
// SampleSize call received.
type fakeStrategy struct {
	sample        int
	density       int
	targetDensity int

	sampleArgs [][4]int
}

func (s *fakeStrategy) SampleSize(srcW, srcH, dstW, dstH int) int {
	s.sampleArgs = append(s.sampleArgs, [4]int{srcW, srcH, dstW, dstH})
	return s.sample
}

func (s *fakeStrategy) Density(int, int, int, int) int { return s.density }

func (s *fakeStrategy) TargetDensity(int, int, int, int, int) int { return s.targetDensity }

// countingPool is a heap-backed BitmapPool recording gets and puts.
type countingPool struct {
	reject bool
	gets   int
	puts   int
	pooled []*Bitmap
}

func (p *countingPool) GetDirty(width, height int, format Format) *Bitmap {
	p.gets++
	return NewBitmap(width, height, format)
}

func (p *countingPool) Put(b *Bitmap) bool {
	p.puts++
	if p.reject {
		return false
	}
	p.pooled = append(p.pooled, b)
	return true
}

func (p *countingPool) holds(b *Bitmap) bool {
	for _, pb := range p.pooled {
		if pb == b {
			return true
		}
	}
	return false
}

type recordingCallbacks struct {
	boundsCalls   int
	completeCalls int
	completeErr   error
	gotPool       BitmapPool
	gotBitmap     *Bitmap
}

func (c *recordingCallbacks) OnObtainBounds() { c.boundsCalls++ }

func (c *recordingCallbacks) OnDecodeComplete(pool BitmapPool, b *Bitmap) error {
	c.completeCalls++
	c.gotPool = pool
	c.gotBitmap = b
	return c.completeErr
}

// newTestDownsampler wires a Downsampler from fakes, filling defaults
// for nil collaborators.
func newTestDownsampler(dec *fakeDecoder, insp *fakeInspector, pool BitmapPool, caps Capabilities) *Downsampler {
	return Custom(Config{
		Decoder:   dec,
		Inspector: insp,
		Pool:      pool,
		Scratch:   NewScratchPool(4),
		Caps:      &caps,
	})
}

func stream() io.Reader {
	return bytes.NewReader([]byte("not really an image"))
}

func TestRoundedSampleSize(t *testing.T) {
	cases := []struct {
		exact, expected int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 4},
		{5, 4},
		{8, 8},
		{9, 8},
		{15, 8},
		{16, 16},
		{1000, 512},
	}
	for _, c := range cases {
		s := &fakeStrategy{sample: c.exact}
		got := roundedSampleSize(s, 0, 1000, 1000, 100, 100)
		if got != c.expected {
			t.Errorf("roundedSampleSize with exact %d should return %d but got %d",
				c.exact, c.expected, got)
		}
	}
}

func TestRoundedSampleSizeSwapsSourceForRotation(t *testing.T) {
	for _, degrees := range []int{90, 270} {
		s := &fakeStrategy{sample: 1}
		roundedSampleSize(s, degrees, 400, 300, 100, 50)
		require.Len(t, s.sampleArgs, 1)
		assert.Equal(t, [4]int{300, 400, 100, 50}, s.sampleArgs[0],
			"rotation by %d degrees must swap source dimensions", degrees)
	}
	for _, degrees := range []int{0, 180} {
		s := &fakeStrategy{sample: 1}
		roundedSampleSize(s, degrees, 400, 300, 100, 50)
		require.Len(t, s.sampleArgs, 1)
		assert.Equal(t, [4]int{400, 300, 100, 50}, s.sampleArgs[0])
	}
}

func TestDecodeRejectsNonRewindableStream(t *testing.T) {
	dec := &fakeDecoder{boundsWidth: 4, boundsHeight: 4}
	d := newTestDownsampler(dec, &fakeInspector{}, &countingPool{}, DefaultCapabilities())

	// strings.Reader is seekable; wrap it so only Read is visible.
	r := io.MultiReader(strings.NewReader("x"))
	_, err := d.Decode(r, 1, 1, nil)
	assert.ErrorIs(t, err, ErrMarkRequired)
	assert.Zero(t, dec.boundsCalls, "no I/O may happen before the precondition check")
}

func TestDecodeResolvesSizeOriginal(t *testing.T) {
	strategy := &fakeStrategy{sample: 1}
	dec := &fakeDecoder{boundsWidth: 640, boundsHeight: 480}
	d := newTestDownsampler(dec, &fakeInspector{}, &countingPool{}, DefaultCapabilities())

	_, err := d.Decode(stream(), SizeOriginal, SizeOriginal, Options{KeyDownsampleStrategy: strategy})
	require.NoError(t, err)
	require.Len(t, strategy.sampleArgs, 1)
	assert.Equal(t, [4]int{640, 480, 640, 480}, strategy.sampleArgs[0])
}

func TestDecodeSwapsSourceDimensionsWhenRotating(t *testing.T) {
	strategy := &fakeStrategy{sample: 1}
	dec := &fakeDecoder{boundsWidth: 400, boundsHeight: 300}
	insp := &fakeInspector{orientation: header.OrientationRightTop} // 90 degrees
	d := newTestDownsampler(dec, insp, &countingPool{}, DefaultCapabilities())

	res, err := d.Decode(stream(), 100, 100, Options{KeyDownsampleStrategy: strategy})
	require.NoError(t, err)
	require.Len(t, strategy.sampleArgs, 1)
	assert.Equal(t, [4]int{300, 400, 100, 100}, strategy.sampleArgs[0])

	// The decoded 400x300 bitmap must come out transposed.
	got := res.Bitmap()
	assert.Equal(t, 300, got.Width)
	assert.Equal(t, 400, got.Height)
}

func TestCorruptHeadersFallBackToDefaults(t *testing.T) {
	headerErr := errors.New("truncated header")
	produced := NewBitmap(8, 8, FormatRGB565)
	dec := &fakeDecoder{boundsWidth: 8, boundsHeight: 8, produce: produced}
	insp := &fakeInspector{
		orientationErr: headerErr,
		alphaErr:       headerErr,
		imageTypeErr:   headerErr,
	}
	pool := &countingPool{}
	d := newTestDownsampler(dec, insp, pool, LegacyCapabilities())

	res, err := d.Decode(stream(), 8, 8, nil)
	require.NoError(t, err, "header parse failures must not fail the decode")

	// Defaults: no rotation, no alpha, no pooled reuse.
	assert.Same(t, produced, res.Bitmap())
	assert.Equal(t, FormatRGB565, dec.lastOpts.Format)
	assert.Nil(t, dec.lastOpts.Reuse)
	assert.Zero(t, pool.gets)
}

func TestPixelFormatSelection(t *testing.T) {
	cases := []struct {
		name     string
		options  Options
		caps     Capabilities
		alpha    bool
		expected Format
	}{
		{"default no alpha", nil, DefaultCapabilities(), false, FormatRGB565},
		{"default with alpha", nil, DefaultCapabilities(), true, FormatRGBA8888},
		{
			"explicit preference overrides header",
			Options{KeyDecodeFormat: DecodeFormatPreferRGBA8888},
			DefaultCapabilities(), false, FormatRGBA8888,
		},
		{
			"unreliable format switch forces alpha",
			nil,
			Capabilities{SizeFlexibleReuse: true, UnreliableFormatSwitch: true},
			false, FormatRGBA8888,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dec := &fakeDecoder{boundsWidth: 4, boundsHeight: 4}
			d := newTestDownsampler(dec, &fakeInspector{alpha: c.alpha}, &countingPool{}, c.caps)
			_, err := d.Decode(stream(), 4, 4, c.options)
			require.NoError(t, err)
			assert.Equal(t, c.expected, dec.lastOpts.Format)
		})
	}
}

func TestFixedSizeReuseAllowList(t *testing.T) {
	cases := []struct {
		imageType header.ImageType
		reuse     bool
	}{
		{header.JPEG, true},
		{header.PNG, true},
		{header.PNGA, true},
		{header.GIF, false},
		{header.WebP, false},
		{header.BMP, false},
		{header.Unknown, false},
	}
	for _, c := range cases {
		t.Run(c.imageType.String(), func(t *testing.T) {
			dec := &fakeDecoder{boundsWidth: 16, boundsHeight: 16}
			insp := &fakeInspector{imageType: c.imageType}
			pool := &countingPool{}
			d := newTestDownsampler(dec, insp, pool, LegacyCapabilities())

			_, err := d.Decode(stream(), 16, 16, nil)
			require.NoError(t, err)
			if c.reuse {
				assert.Equal(t, 1, pool.gets)
				assert.NotNil(t, dec.lastOpts.Reuse)
			} else {
				assert.Zero(t, pool.gets)
				assert.Nil(t, dec.lastOpts.Reuse)
			}
		})
	}
}

func TestFixedSizeReuseRequiresFullResolution(t *testing.T) {
	strategy := &fakeStrategy{sample: 2}
	dec := &fakeDecoder{boundsWidth: 32, boundsHeight: 32}
	insp := &fakeInspector{imageType: header.JPEG}
	pool := &countingPool{}
	d := newTestDownsampler(dec, insp, pool, LegacyCapabilities())

	_, err := d.Decode(stream(), 16, 16, Options{KeyDownsampleStrategy: strategy})
	require.NoError(t, err)
	assert.Zero(t, pool.gets, "downsampled decode must not attempt exact-size reuse")
	assert.Zero(t, insp.typeCalls, "the type probe is skipped when reuse is impossible")
}

func TestSizeFlexibleReuseAnySampleSize(t *testing.T) {
	strategy := &fakeStrategy{sample: 4}
	dec := &fakeDecoder{boundsWidth: 400, boundsHeight: 300}
	insp := &fakeInspector{imageType: header.GIF}
	pool := &countingPool{}
	d := newTestDownsampler(dec, insp, pool, DefaultCapabilities())

	res, err := d.Decode(stream(), 100, 75, Options{KeyDownsampleStrategy: strategy})
	require.NoError(t, err)
	assert.Equal(t, 1, pool.gets)
	assert.Zero(t, insp.typeCalls, "the size-flexible tier needs no type probe")
	assert.Equal(t, 100, res.Bitmap().Width)
	assert.Equal(t, 75, res.Bitmap().Height)
}

func TestExpectedSizeClampsDensityMultiplier(t *testing.T) {
	opts := &DecodeOptions{SampleSize: 2, Scaled: true, Density: 100, TargetDensity: 200}
	w, h := expectedSize(400, 300, opts)
	assert.Equal(t, 200, w, "density scaling must never upscale")
	assert.Equal(t, 150, h)

	opts = &DecodeOptions{SampleSize: 2, Scaled: true, Density: 100, TargetDensity: 55}
	w, h = expectedSize(400, 300, opts)
	assert.Equal(t, 110, w)
	assert.Equal(t, 83, h) // ceil(150 * 0.55)

	opts = &DecodeOptions{SampleSize: 4}
	w, h = expectedSize(400, 300, opts)
	assert.Equal(t, 100, w)
	assert.Equal(t, 75, h)
}

func TestIsScaling(t *testing.T) {
	cases := []struct {
		density, target int
		expected        bool
	}{
		{0, 0, false},
		{100, 0, false},
		{0, 100, false},
		{100, 100, false},
		{100, 50, true},
		{50, 100, true},
	}
	for _, c := range cases {
		opts := &DecodeOptions{Density: c.density, TargetDensity: c.target}
		if got := isScaling(opts); got != c.expected {
			t.Errorf("isScaling(density=%d, target=%d) = %v, want %v",
				c.density, c.target, got, c.expected)
		}
	}
}

func TestDecodeFailureWrapsDiagnostics(t *testing.T) {
	cause := errors.New("reuse assertion failed")
	dec := &fakeDecoder{boundsWidth: 40, boundsHeight: 30, mimeType: "image/jpeg", decodeErr: cause}
	pool := &countingPool{}
	d := newTestDownsampler(dec, &fakeInspector{}, pool, DefaultCapabilities())

	_, err := d.Decode(stream(), 40, 30, nil)
	require.Error(t, err)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 40, de.Width)
	assert.Equal(t, 30, de.Height)
	assert.Equal(t, "image/jpeg", de.MimeType)
	assert.Contains(t, de.Reuse, "40x30")
	assert.ErrorIs(t, err, cause)

	// The attached reuse target must not be dropped silently.
	assert.Equal(t, 1, pool.gets)
	assert.Equal(t, 1, pool.puts)
}

func TestOnDecodeCompleteFailureReclaimsBitmap(t *testing.T) {
	cause := errors.New("transcode hook failed")
	dec := &fakeDecoder{boundsWidth: 8, boundsHeight: 8}
	pool := &countingPool{}
	d := newTestDownsampler(dec, &fakeInspector{}, pool, DefaultCapabilities())
	cb := &recordingCallbacks{completeErr: cause}

	_, err := d.DecodeWithCallbacks(stream(), 8, 8, nil, cb)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, cb.completeCalls)
	assert.Equal(t, 1, pool.puts,
		"the decoded bitmap must be reclaimed on callback failure")
}

func TestCallbacksFireInOrder(t *testing.T) {
	dec := &fakeDecoder{boundsWidth: 8, boundsHeight: 8}
	pool := &countingPool{}
	d := newTestDownsampler(dec, &fakeInspector{}, pool, DefaultCapabilities())
	cb := &recordingCallbacks{}

	res, err := d.DecodeWithCallbacks(stream(), 8, 8, nil, cb)
	require.NoError(t, err)
	assert.Equal(t, 1, cb.boundsCalls)
	assert.Equal(t, 1, cb.completeCalls)
	assert.Same(t, pool, cb.gotPool)
	assert.Same(t, res.Bitmap(), cb.gotBitmap)
}

func TestRotationReturnsSupersededBitmapToPool(t *testing.T) {
	dec := &fakeDecoder{boundsWidth: 6, boundsHeight: 4}
	insp := &fakeInspector{orientation: header.OrientationBottomRight} // 180 degrees
	pool := &countingPool{}
	d := newTestDownsampler(dec, insp, pool, DefaultCapabilities())

	res, err := d.Decode(stream(), 6, 4, nil)
	require.NoError(t, err)

	decoded := dec.lastOpts.Reuse
	require.NotNil(t, decoded)
	assert.NotSame(t, decoded, res.Bitmap(), "rotation must produce a new bitmap")
	assert.True(t, pool.holds(decoded), "the pre-rotation bitmap goes back to the pool")
	assert.False(t, pool.holds(res.Bitmap()), "the result must not stay reachable from the pool")
}

func TestRotationRecyclesWhenPoolDeclines(t *testing.T) {
	recycled := false
	produced := NewBitmap(6, 4, FormatRGB565)
	produced.release = func() { recycled = true }

	dec := &fakeDecoder{boundsWidth: 6, boundsHeight: 4, produce: produced}
	insp := &fakeInspector{
		orientation:  header.OrientationBottomRight,
		imageTypeErr: errors.New("no type"), // disables reuse on the legacy tier
	}
	pool := &countingPool{reject: true}
	d := newTestDownsampler(dec, insp, pool, LegacyCapabilities())

	res, err := d.Decode(stream(), 6, 4, nil)
	require.NoError(t, err)
	assert.NotSame(t, produced, res.Bitmap())
	assert.True(t, recycled, "a declined put must recycle the superseded bitmap")
	assert.False(t, pool.holds(produced))
}

func TestScratchReleasedExactlyOncePerDecode(t *testing.T) {
	scratch := NewScratchPool(4)
	newD := func(dec *fakeDecoder) *Downsampler {
		caps := DefaultCapabilities()
		return Custom(Config{
			Decoder:   dec,
			Inspector: &fakeInspector{},
			Pool:      &countingPool{},
			Scratch:   scratch,
			Caps:      &caps,
		})
	}

	d := newD(&fakeDecoder{boundsWidth: 4, boundsHeight: 4})
	_, err := d.Decode(stream(), 4, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, scratch.numFree(), "successful decode returns its scratch buffer")

	d = newD(&fakeDecoder{boundsErr: errors.New("corrupt")})
	_, err = d.Decode(stream(), 4, 4, nil)
	require.Error(t, err)
	assert.Equal(t, 1, scratch.numFree(), "failed decode still returns its scratch buffer exactly once")
}

func TestHandlesClaimsEverything(t *testing.T) {
	d := New()
	assert.True(t, d.Handles(strings.NewReader("anything")))
	assert.True(t, d.HandlesBytes([]byte{0x00, 0x01}))
}

func TestDecodeBytes(t *testing.T) {
	dec := &fakeDecoder{boundsWidth: 10, boundsHeight: 10}
	d := newTestDownsampler(dec, &fakeInspector{}, &countingPool{}, DefaultCapabilities())

	res, err := d.DecodeBytes([]byte("payload"), 10, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Bitmap().Width)
}

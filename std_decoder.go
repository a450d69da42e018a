package glide

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrReuseMismatch is returned when a reuse target does not match the
// size or format the decode would produce.
var ErrReuseMismatch = errors.New("reuse target does not fit the decoded image")

// StdDecoder is the built-in PixelDecoder. It decodes JPEG, PNG, GIF,
// WebP and BMP streams via the image registry and performs sample-size
// and density scaling with the x/image scalers.
//
// Integer sample sizes are honored exactly as documented: the output is
// srcDim/sampleSize using integer division. Density scaling then applies
// the TargetDensity/Density ratio, rounding dimensions up.
type StdDecoder struct{}

func (StdDecoder) Decode(r io.Reader, opts *DecodeOptions) (*Bitmap, error) {
	if opts.BoundsOnly {
		cfg, name, err := image.DecodeConfig(r)
		if err != nil {
			return nil, err
		}
		opts.OutWidth = cfg.Width
		opts.OutHeight = cfg.Height
		opts.OutMimeType = "image/" + name
		return nil, nil
	}

	// Drain the stream through the pooled scratch buffer before decoding.
	var encoded bytes.Buffer
	if err := drain(&encoded, r, opts.Scratch); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(&encoded)
	if err != nil {
		return nil, err
	}

	srcBounds := img.Bounds()
	outW, outH := targetSize(srcBounds.Dx(), srcBounds.Dy(), opts)

	dst := opts.Reuse
	if dst != nil {
		if dst.Width != outW || dst.Height != outH || dst.Format != opts.Format {
			return nil, fmt.Errorf("%w: target %s, decoded [%dx%d] %s",
				ErrReuseMismatch, dst, outW, outH, opts.Format)
		}
	} else {
		dst = NewBitmap(outW, outH, opts.Format)
	}

	if opts.Format == FormatRGBA8888 {
		// Scale straight into the target's pixel storage.
		view := &image.RGBA{
			Pix:    dst.Pix,
			Stride: 4 * outW,
			Rect:   image.Rect(0, 0, outW, outH),
		}
		scaleInto(view, img)
		return dst, nil
	}

	// RGB565 needs a staging RGBA image before packing.
	staged := image.NewRGBA(image.Rect(0, 0, outW, outH))
	scaleInto(staged, img)
	pix := dst.Pix
	for i, j := 0, 0; i < len(staged.Pix); i, j = i+4, j+2 {
		p := packRGB565(staged.Pix[i], staged.Pix[i+1], staged.Pix[i+2])
		pix[j] = byte(p)
		pix[j+1] = byte(p >> 8)
	}
	return dst, nil
}

// targetSize applies the integer sample size and the density ratio to
// the source dimensions.
func targetSize(srcW, srcH int, opts *DecodeOptions) (int, int) {
	s := max(1, opts.SampleSize)
	outW := max(1, srcW/s)
	outH := max(1, srcH/s)
	if opts.Scaled && opts.Density > 0 && opts.TargetDensity > 0 {
		m := float64(opts.TargetDensity) / float64(opts.Density)
		outW = int(math.Ceil(float64(outW) * m))
		outH = int(math.Ceil(float64(outH) * m))
	}
	return outW, outH
}

func scaleInto(dst draw.Image, src image.Image) {
	b := dst.Bounds()
	if b.Dx() == src.Bounds().Dx() && b.Dy() == src.Bounds().Dy() {
		draw.Draw(dst, b, src, src.Bounds().Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(dst, b, src, src.Bounds(), draw.Src, nil)
}

// drain copies r into w using scratch as the transfer buffer.
func drain(w *bytes.Buffer, r io.Reader, scratch []byte) error {
	if len(scratch) == 0 {
		scratch = make([]byte, 32*KiB)
	}
	for {
		n, err := r.Read(scratch)
		if n > 0 {
			w.Write(scratch[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

package glide

import "fmt"

// DecodeError is a pixel-path decode failure. It carries the source
// dimensions, mime type and reuse-target description known at the time
// of the failure to aid triage; reuse-assertion violations inside the
// decoder surface here with the description of the attached buffer.
type DecodeError struct {
	Width    int
	Height   int
	MimeType string
	Reuse    string
	err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("glide: decoding failed, outWidth: %d, outHeight: %d, outMimeType: %q, reuse: %s: %v",
		e.Width, e.Height, e.MimeType, e.Reuse, e.err)
}

func (e *DecodeError) Unwrap() error {
	return e.err
}

func (f DecodeFormat) String() string {
	if f == DecodeFormatPreferRGBA8888 {
		return "PREFER_RGBA_8888"
	}
	return "DEFAULT"
}

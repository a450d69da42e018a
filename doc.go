// Package glide implements a downsampling image decoder. It decodes
// encoded image streams into pixel buffers that approximate a requested
// size without decoding at full resolution, rotates the result to match
// embedded orientation metadata, and reuses pooled pixel buffers where
// the decoder's capabilities allow.
package glide

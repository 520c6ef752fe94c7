// Package snapshot is a stub for the external snapshot collaborator
// spec.md §6 names as out of scope ("any snapshotting is provided by
// external collaborators via custom sections containing ... compressed
// state blobs"). The core never calls this package itself; it exists so a
// ModuleImage's custom-section reader has somewhere to hand raw bytes for
// an embedder that does implement snapshotting.
package snapshot

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// Compressor wraps a zstd encoder for a state blob destined for a custom
// section. Not used by the core's own execution path.
type Compressor struct {
	enc *zstd.Encoder
}

// NewCompressor constructs a Compressor at the given level.
func NewCompressor(level zstd.EncoderLevel) (*Compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, wrterr.Wrap(wrterr.KindInvalidConfiguration, err, "zstd encoder init failed")
	}
	return &Compressor{enc: enc}, nil
}

// Compress returns raw compressed as a standalone zstd frame.
func (c *Compressor) Compress(raw []byte) []byte {
	return c.enc.EncodeAll(raw, nil)
}

// Close releases the encoder's resources.
func (c *Compressor) Close() error { return c.enc.Close() }

// Decompressor wraps a zstd decoder for a custom section's state blob.
type Decompressor struct {
	dec *zstd.Decoder
}

// NewDecompressor constructs a Decompressor.
func NewDecompressor() (*Decompressor, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, wrterr.Wrap(wrterr.KindInvalidConfiguration, err, "zstd decoder init failed")
	}
	return &Decompressor{dec: dec}, nil
}

// Decompress reverses Compress.
func (d *Decompressor) Decompress(compressed []byte) ([]byte, error) {
	out, err := d.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, wrterr.Wrap(wrterr.KindInvalidFormat, err, "zstd decode failed")
	}
	return out, nil
}

// DecompressStream reverses Compress for a streamed source, used when the
// custom section is read incrementally rather than fully buffered.
func (d *Decompressor) DecompressStream(r io.Reader) ([]byte, error) {
	sr, err := zstd.NewReader(r)
	if err != nil {
		return nil, wrterr.Wrap(wrterr.KindInvalidFormat, err, "zstd stream init failed")
	}
	defer sr.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, sr); err != nil {
		return nil, wrterr.Wrap(wrterr.KindInvalidFormat, err, "zstd stream decode failed")
	}
	return buf.Bytes(), nil
}

// Close releases the decoder's resources.
func (d *Decompressor) Close() error { d.dec.Close(); return nil }

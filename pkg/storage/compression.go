package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Compressor encodes float64 columns for storage: XOR against the previous
// value, then zstd. Smooth signals produce long runs of zero bytes that zstd
// squeezes well.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor. Level ranges from 1 (fastest) to 4 (best).
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// EncodeFloats compresses a run of float64 values
func (c *Compressor) EncodeFloats(values []float64) []byte {
	if len(values) == 0 {
		return nil
	}

	buf := make([]byte, 8*len(values))
	var prevBits uint64
	for i, v := range values {
		bits := math.Float64bits(v)
		binary.LittleEndian.PutUint64(buf[i*8:], bits^prevBits)
		prevBits = bits
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)/2))
}

// DecodeFloats decompresses count values produced by EncodeFloats
func (c *Compressor) DecodeFloats(data []byte, count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, make([]byte, 0, 8*count))
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if len(raw) != 8*count {
		return nil, fmt.Errorf("decoded %d bytes, want %d", len(raw), 8*count)
	}

	values := make([]float64, count)
	var prevBits uint64
	for i := range values {
		bits := binary.LittleEndian.Uint64(raw[i*8:]) ^ prevBits
		values[i] = math.Float64frombits(bits)
		prevBits = bits
	}

	return values, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

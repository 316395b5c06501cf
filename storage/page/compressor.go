package page

import (
	"fmt"

	"github.com/jobala/rdb/util"
	"github.com/klauspost/compress/zstd"
)

const (
	DEFAULT_COMPRESSION_THRESHOLD = 64

	flagRaw  byte = 0
	flagZstd byte = 1
)

// Compressor turns a tuple payload into its stored form: one flag byte
// followed by either the raw payload or its zstd encoding.
type Compressor struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

func NewCompressor(threshold int) (*Compressor, error) {
	if threshold <= 0 {
		threshold = DEFAULT_COMPRESSION_THRESHOLD
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("error creating zstd encoder: %v", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("error creating zstd decoder: %v", err)
	}

	return &Compressor{
		threshold: threshold,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

func (c *Compressor) Threshold() int {
	return c.threshold
}

// Encode keeps the compressed form only when it is strictly shorter.
func (c *Compressor) Encode(payload []byte) []byte {
	if len(payload) > c.threshold {
		compressed := c.encoder.EncodeAll(payload, make([]byte, 1, len(payload)))
		if len(compressed) < len(payload)+1 {
			compressed[0] = flagZstd
			return compressed
		}
	}

	stored := make([]byte, len(payload)+1)
	stored[0] = flagRaw
	copy(stored[1:], payload)
	return stored
}

func (c *Compressor) Decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: empty stored tuple", util.ErrCorruptPage)
	}

	switch stored[0] {
	case flagRaw:
		res := make([]byte, len(stored)-1)
		copy(res, stored[1:])
		return res, nil
	case flagZstd:
		res, err := c.decoder.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrCorruptPage, err)
		}
		return res, nil
	}

	return nil, fmt.Errorf("%w: unknown tuple flag %d", util.ErrCorruptPage, stored[0])
}

func (c *Compressor) Close() {
	c.decoder.Close()
	_ = c.encoder.Close()
}

package page

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor is the one built-in Compressor implementation, grounded
// on Felmond13-novusdb and bobboyms-storage-engine, both of which reach
// for a real compression library rather than hand-rolling one for their
// page/block stores.
type ZstdCompressor struct {
	level zstd.EncoderLevel

	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

// NewZstdCompressor returns a Compressor using the given zstd level
// (zstd.SpeedDefault if level is zero-value).
func NewZstdCompressor(level zstd.EncoderLevel) *ZstdCompressor {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return &ZstdCompressor{level: level}
}

func (z *ZstdCompressor) encoder() (*zstd.Encoder, error) {
	z.encOnce.Do(func() {
		z.enc, z.encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(z.level))
	})
	return z.enc, z.encErr
}

func (z *ZstdCompressor) decoder() (*zstd.Decoder, error) {
	z.decOnce.Do(func() {
		z.dec, z.decErr = zstd.NewReader(nil)
	})
	return z.dec, z.decErr
}

func (z *ZstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	enc, err := z.encoder()
	if err != nil {
		return nil, fmt.Errorf("page: zstd encoder: %w", err)
	}
	return enc.EncodeAll(src, dst), nil
}

func (z *ZstdCompressor) Decompress(dst, src []byte, originalLen int) ([]byte, error) {
	dec, err := z.decoder()
	if err != nil {
		return nil, fmt.Errorf("page: zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("page: zstd decompress: %w", err)
	}
	if originalLen > 0 && len(out)-len(dst) != originalLen {
		return nil, fmt.Errorf("page: zstd decompressed length %d != expected %d", len(out)-len(dst), originalLen)
	}
	return out, nil
}

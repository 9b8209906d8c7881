package fields

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// CodecName is recorded on every series written by this package.
const CodecName = "zstd"

// MaxTileSize bounds the edge of a spatial chunk.
const MaxTileSize = 256

// Codec compresses tile payloads. EncodeAll and DecodeAll on the
// underlying zstd encoder and decoder are safe for concurrent use.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a zstd codec at the given level.
func NewCodec(level zstd.EncoderLevel) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// ParseLevel maps a level name (fastest, default, better, best) to a zstd level.
func ParseLevel(name string) (zstd.EncoderLevel, error) {
	if name == "" {
		return zstd.SpeedDefault, nil
	}
	ok, level := zstd.EncoderLevelFromString(name)
	if !ok {
		return 0, fmt.Errorf("unknown compression level %q", name)
	}
	return level, nil
}

// Encode compresses a raw tile.
func (c *Codec) Encode(raw []byte) []byte {
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4+16))
}

// Decode decompresses a tile produced by Encode.
func (c *Codec) Decode(data []byte) ([]byte, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress tile: %w", err)
	}
	return raw, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() error {
	c.dec.Close()
	return c.enc.Close()
}

// layout describes how one element type maps to bytes and is coerced on append.
type layout[T Element] struct {
	dtype  string
	size   int
	put    func(b []byte, v T)
	get    func(b []byte) T
	coerce func(v T) T
}

var stateLayout = layout[uint8]{
	dtype: "u1",
	size:  1,
	put:   func(b []byte, v uint8) { b[0] = v },
	get:   func(b []byte) uint8 { return b[0] },
	coerce: func(v uint8) uint8 {
		if v != 0 {
			return 1
		}
		return 0
	},
}

var beliefLayout = layout[float32]{
	dtype: "f4",
	size:  4,
	put:   func(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) },
	get:   func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) },
	coerce: func(v float32) float32 {
		switch {
		case math.IsNaN(float64(v)):
			return 0
		case v < 0:
			return 0
		case v > 1:
			return 1
		}
		return v
	},
}

// tileBounds returns the half-open row and column ranges covered by a tile.
func tileBounds(height, width, tileSize, tileRow, tileCol int) (r0, r1, c0, c1 int) {
	r0 = tileRow * tileSize
	c0 = tileCol * tileSize
	r1 = min(r0+tileSize, height)
	c1 = min(c0+tileSize, width)
	return r0, r1, c0, c1
}

func tileCounts(height, width, tileSize int) (rows, cols int) {
	return (height + tileSize - 1) / tileSize, (width + tileSize - 1) / tileSize
}

func (l layout[T]) packTile(g Grid[T], r0, r1, c0, c1 int) []byte {
	buf := make([]byte, (r1-r0)*(c1-c0)*l.size)
	off := 0
	for r := r0; r < r1; r++ {
		row := g.Data[r*g.Width : (r+1)*g.Width]
		for c := c0; c < c1; c++ {
			l.put(buf[off:off+l.size], row[c])
			off += l.size
		}
	}
	return buf
}

func (l layout[T]) unpackTile(g Grid[T], raw []byte, r0, r1, c0, c1 int) error {
	if want := (r1 - r0) * (c1 - c0) * l.size; len(raw) != want {
		return fmt.Errorf("tile holds %d bytes, want %d", len(raw), want)
	}
	off := 0
	for r := r0; r < r1; r++ {
		row := g.Data[r*g.Width : (r+1)*g.Width]
		for c := c0; c < c1; c++ {
			row[c] = l.get(raw[off : off+l.size])
			off += l.size
		}
	}
	return nil
}

// Package compress wraps a storage.Store so that every block is compressed
// on write and decompressed on read. Segment rows and content rows pass
// through unchanged.
package compress

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// Codec is the compression algorithm used for new blocks.
type Codec uint8

const (
	None Codec = 0
	LZ4  Codec = 1
	Zstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// ParseCodec maps a configuration value onto a Codec.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("%w: unknown compression %q", apperrors.ErrInvalidInput, name)
}

// Block layout: [codec uint8][uncompressed size uint32][payload]. A block
// that does not shrink is stored with codec None whatever the store uses.
const headerSize = 5

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode returns data framed and, when it helps, compressed with codec.
func Encode(codec Codec, data []byte) ([]byte, error) {
	var payload []byte
	switch codec {
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		payload = buf[:n]
	case Zstd:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}
	if len(payload) == 0 || len(payload) >= len(data) {
		codec, payload = None, data
	}
	out := make([]byte, headerSize+len(payload))
	out[0] = byte(codec)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	copy(out[headerSize:], payload)
	return out, nil
}

// Decode reverses Encode. The codec is read from the block header.
func Decode(block []byte) ([]byte, error) {
	if len(block) < headerSize {
		return nil, apperrors.Corruptf("compressed block of %d bytes has no header", len(block))
	}
	codec := Codec(block[0])
	size := binary.LittleEndian.Uint32(block[1:])
	payload := block[headerSize:]

	switch codec {
	case None:
		if uint32(len(payload)) != size {
			return nil, apperrors.Corruptf("stored block is %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case LZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, apperrors.Corruptf("lz4 block: %v", err)
		}
		if uint32(n) != size {
			return nil, apperrors.Corruptf("lz4 block decoded to %d bytes, want %d", n, size)
		}
		return out, nil
	case Zstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, apperrors.Corruptf("zstd block: %v", err)
		}
		if uint32(len(out)) != size {
			return nil, apperrors.Corruptf("zstd block decoded to %d bytes, want %d", len(out), size)
		}
		return out, nil
	}
	return nil, apperrors.Corruptf("unknown block codec %d", codec)
}

// Store compresses the blocks of an inner store.
type Store struct {
	inner storage.Store
	codec Codec
}

// Wrap returns inner with block compression.
func Wrap(inner storage.Store, codec Codec) *Store {
	return &Store{inner: inner, codec: codec}
}

func (s *Store) Begin(ctx context.Context, writable bool) (storage.Tx, error) {
	inner, err := s.inner.Begin(ctx, writable)
	if err != nil {
		return nil, err
	}
	return &tx{Tx: inner, codec: s.codec}, nil
}

func (s *Store) Close() error { return s.inner.Close() }

type tx struct {
	storage.Tx
	codec Codec
}

func (t *tx) ReadBlock(ctx context.Context, id storage.BlockID) ([]byte, error) {
	block, err := t.Tx.ReadBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := Decode(block)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", id, err)
	}
	return data, nil
}

func (t *tx) WriteBlock(ctx context.Context, data []byte) (storage.BlockID, error) {
	block, err := Encode(t.codec, data)
	if err != nil {
		return 0, err
	}
	return t.Tx.WriteBlock(ctx, block)
}

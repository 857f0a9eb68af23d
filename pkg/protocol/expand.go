package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// MaxBatchDepth bounds how many zlib batches may be nested inside each other.
// Observed traffic never nests deeper than one.
const MaxBatchDepth = 4

var (
	ErrDecompression          = errors.New("failed to inflate command batch")
	ErrUnsupportedCompression = errors.New("unsupported compression")
	ErrNestingTooDeep         = errors.New("command batches nested too deep")
)

type pending struct {
	frame Frame
	depth int
}

// Expand returns the terminal frames carried by f. A plain frame is returned
// unchanged; a zlib batch is inflated and split again, in wire order.
// On failure the frames recovered before the bad batch are returned with the error.
func Expand(f Frame) ([]Frame, error) {
	if f.Compression.IsPlain() {
		return []Frame{f}, nil
	}

	var out []Frame
	stack := []pending{{frame: f}}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case next.frame.Compression.IsPlain():
			out = append(out, next.frame)
			continue
		case next.frame.Compression != CompressionZlibBatch:
			return out, fmt.Errorf("%w: %s", ErrUnsupportedCompression, next.frame.Compression)
		case next.depth >= MaxBatchDepth:
			return out, ErrNestingTooDeep
		}

		inflated, err := inflate(next.frame.Body)
		if err != nil {
			return out, err
		}
		inner, err := Decode(inflated)
		if err != nil {
			return out, err
		}
		for i := len(inner) - 1; i >= 0; i-- {
			stack = append(stack, pending{frame: inner[i], depth: next.depth + 1})
		}
	}
	return out, nil
}

func inflate(body []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	return data, nil
}

// Compress builds a zlib batch frame of the given operation wrapping frames.
// It is the inverse of Expand and is used by the local broadcast double.
func Compress(op Operation, frames ...Frame) (Frame, error) {
	var raw []byte
	for _, f := range frames {
		raw = f.AppendTo(raw)
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return Frame{}, fmt.Errorf("failed to compress batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return Frame{}, fmt.Errorf("failed to compress batch: %w", err)
	}
	return NewFrame(buf.Bytes(), op, CompressionZlibBatch)
}

// Package protocol implements the wire format of the live broadcast socket:
// the 16-byte frame header, zlib command batches and the join/heartbeat bodies.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderLength is the size of every frame header written by this package.
const HeaderLength = 16

// Header field offsets. All integers are big-endian.
const (
	offsetTotalLength  = 0
	offsetHeaderLength = 4
	offsetCompression  = 6
	offsetOperation    = 8
	offsetSequence     = 12
)

var (
	ErrTruncatedHeader    = errors.New("truncated frame header")
	ErrInvalidFrameLength = errors.New("invalid frame length")
	ErrFrameTooLarge      = errors.New("frame body exceeds maximum size")
)

// Operation identifies what a frame carries.
type Operation int32

const (
	OpHeartbeat    Operation = 2
	OpHeartbeatAck Operation = 3
	OpCommandBatch Operation = 5
	OpJoin         Operation = 7
	OpJoinAck      Operation = 8
)

// String returns the string representation of Operation
func (op Operation) String() string {
	switch op {
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpHeartbeatAck:
		return "HEARTBEAT_ACK"
	case OpCommandBatch:
		return "COMMAND_BATCH"
	case OpJoin:
		return "JOIN"
	case OpJoinAck:
		return "JOIN_ACK"
	default:
		return fmt.Sprintf("OP(%d)", int32(op))
	}
}

// Compression is the header field that tells whether a body is a nested batch.
// Outbound frames put the protocol version (1) in the same slot.
type Compression uint16

const (
	CompressionPlain     Compression = 0
	CompressionPlainJSON Compression = 1
	CompressionZlibBatch Compression = 2
)

// String returns the string representation of Compression
func (c Compression) String() string {
	switch c {
	case CompressionPlain, CompressionPlainJSON:
		return "PLAIN"
	case CompressionZlibBatch:
		return "ZLIB_BATCH"
	default:
		return fmt.Sprintf("COMPRESSION(%d)", uint16(c))
	}
}

// IsPlain reports whether the body is used as-is.
func (c Compression) IsPlain() bool {
	return c == CompressionPlain || c == CompressionPlainJSON
}

// Frame is one length-prefixed unit of the wire protocol.
type Frame struct {
	TotalLength  uint32
	HeaderLength uint16
	Compression  Compression
	Operation    Operation
	Sequence     int32
	Body         []byte
}

// NewFrame builds a frame with a consistent header for body.
func NewFrame(body []byte, op Operation, compression Compression) (Frame, error) {
	if len(body) > math.MaxInt32-HeaderLength {
		return Frame{}, ErrFrameTooLarge
	}
	return Frame{
		TotalLength:  uint32(HeaderLength + len(body)),
		HeaderLength: HeaderLength,
		Compression:  compression,
		Operation:    op,
		Sequence:     1,
		Body:         body,
	}, nil
}

// Encode writes the frame header followed by the body.
func (f Frame) Encode() []byte {
	return f.AppendTo(make([]byte, 0, HeaderLength+len(f.Body)))
}

// AppendTo appends the encoded frame to buf and returns the extended slice.
func (f Frame) AppendTo(buf []byte) []byte {
	var header [HeaderLength]byte
	binary.BigEndian.PutUint32(header[offsetTotalLength:], uint32(HeaderLength+len(f.Body)))
	binary.BigEndian.PutUint16(header[offsetHeaderLength:], HeaderLength)
	binary.BigEndian.PutUint16(header[offsetCompression:], uint16(f.Compression))
	binary.BigEndian.PutUint32(header[offsetOperation:], uint32(f.Operation))
	binary.BigEndian.PutUint32(header[offsetSequence:], uint32(f.Sequence))
	buf = append(buf, header[:]...)
	return append(buf, f.Body...)
}

// Encode prepends the outbound header {total, 16, version 1, op, sequence 1} to body.
func Encode(body []byte, op Operation) ([]byte, error) {
	f, err := NewFrame(body, op, CompressionPlainJSON)
	if err != nil {
		return nil, err
	}
	return f.Encode(), nil
}

// ReadLength returns the total_length field of the header at the start of buf.
// Stream transports use it to know how many bytes make up the next frame.
func ReadLength(buf []byte) (int, error) {
	if len(buf) < HeaderLength {
		return 0, ErrTruncatedHeader
	}
	total := binary.BigEndian.Uint32(buf[offsetTotalLength:])
	header := binary.BigEndian.Uint16(buf[offsetHeaderLength:])
	if header < HeaderLength || total < uint32(header) {
		return 0, ErrInvalidFrameLength
	}
	return int(total), nil
}

// Decode splits buf into consecutive frames starting at offset 0.
// On a malformed boundary it returns the frames read so far together with
// ErrTruncatedHeader or ErrInvalidFrameLength.
func Decode(buf []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0
	for offset < len(buf) {
		if len(buf)-offset < HeaderLength {
			return frames, fmt.Errorf("%w: %d bytes left at offset %d", ErrTruncatedHeader, len(buf)-offset, offset)
		}
		h := buf[offset : offset+HeaderLength]
		total := binary.BigEndian.Uint32(h[offsetTotalLength:])
		headerLen := binary.BigEndian.Uint16(h[offsetHeaderLength:])
		if headerLen < HeaderLength || total < uint32(headerLen) {
			return frames, fmt.Errorf("%w: total %d, header %d at offset %d", ErrInvalidFrameLength, total, headerLen, offset)
		}
		if uint64(total) > uint64(len(buf)-offset) {
			return frames, fmt.Errorf("%w: frame of %d bytes overruns buffer at offset %d", ErrInvalidFrameLength, total, offset)
		}
		end := offset + int(total)
		frames = append(frames, Frame{
			TotalLength:  total,
			HeaderLength: headerLen,
			Compression:  Compression(binary.BigEndian.Uint16(h[offsetCompression:])),
			Operation:    Operation(int32(binary.BigEndian.Uint32(h[offsetOperation:]))),
			Sequence:     int32(binary.BigEndian.Uint32(h[offsetSequence:])),
			Body:         buf[offset+int(headerLen) : end],
		})
		offset = end
	}
	return frames, nil
}

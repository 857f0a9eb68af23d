package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fplust/bilibili-live-danmu/pkg/protocol"
)

func TestEncode_Header(t *testing.T) {
	data, err := protocol.Encode([]byte("abc"), protocol.OpJoin)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := []byte{
		0, 0, 0, 19, // total length
		0, 16, // header length
		0, 1, // protocol version
		0, 0, 0, 7, // operation
		0, 0, 0, 1, // sequence
		'a', 'b', 'c',
	}
	if !bytes.Equal(data, want) {
		t.Errorf("Encode() = %v, want %v", data, want)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		op   protocol.Operation
	}{
		{name: "join", body: []byte(`{"uid":0,"roomid":1}`), op: protocol.OpJoin},
		{name: "heartbeat", body: protocol.HeartbeatBody, op: protocol.OpHeartbeat},
		{name: "empty body", body: []byte{}, op: protocol.OpHeartbeatAck},
		{name: "command", body: []byte(`{"cmd":"ROOM_RANK"}`), op: protocol.OpCommandBatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := protocol.Encode(tt.body, tt.op)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			frames, err := protocol.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(frames) != 1 {
				t.Fatalf("Decode() returned %d frames, want 1", len(frames))
			}
			f := frames[0]
			if f.Operation != tt.op {
				t.Errorf("Operation = %v, want %v", f.Operation, tt.op)
			}
			if !bytes.Equal(f.Body, tt.body) {
				t.Errorf("Body = %q, want %q", f.Body, tt.body)
			}
			if f.HeaderLength != protocol.HeaderLength {
				t.Errorf("HeaderLength = %d, want %d", f.HeaderLength, protocol.HeaderLength)
			}
			if int(f.TotalLength) != len(data) {
				t.Errorf("TotalLength = %d, want %d", f.TotalLength, len(data))
			}
		})
	}
}

func TestDecode_Concatenated(t *testing.T) {
	bodies := [][]byte{[]byte("first"), []byte("second frame"), {}, []byte("4")}
	ops := []protocol.Operation{protocol.OpCommandBatch, protocol.OpJoinAck, protocol.OpHeartbeatAck, protocol.OpCommandBatch}

	var buf []byte
	for i, body := range bodies {
		data, err := protocol.Encode(body, ops[i])
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		buf = append(buf, data...)
	}

	frames, err := protocol.Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(frames) != len(bodies) {
		t.Fatalf("Decode() returned %d frames, want %d", len(frames), len(bodies))
	}
	for i, f := range frames {
		if !bytes.Equal(f.Body, bodies[i]) {
			t.Errorf("frame %d body = %q, want %q", i, f.Body, bodies[i])
		}
		if f.Operation != ops[i] {
			t.Errorf("frame %d operation = %v, want %v", i, f.Operation, ops[i])
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	valid, _ := protocol.Encode([]byte("ok"), protocol.OpCommandBatch)

	shortTotal := append([]byte(nil), valid...)
	shortTotal[3] = 10 // total_length < header_length

	overrun := append([]byte(nil), valid...)
	overrun[3] = 200

	tests := []struct {
		name       string
		data       []byte
		wantErr    error
		wantFrames int
	}{
		{name: "truncated header", data: valid[:10], wantErr: protocol.ErrTruncatedHeader},
		{name: "trailing partial header", data: append(append([]byte(nil), valid...), 0, 0, 0), wantErr: protocol.ErrTruncatedHeader, wantFrames: 1},
		{name: "total shorter than header", data: shortTotal, wantErr: protocol.ErrInvalidFrameLength},
		{name: "total overruns buffer", data: overrun, wantErr: protocol.ErrInvalidFrameLength},
		{name: "empty buffer", data: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := protocol.Decode(tt.data)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Decode() error = %v, want nil", err)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if len(frames) != tt.wantFrames {
				t.Errorf("Decode() returned %d frames, want %d", len(frames), tt.wantFrames)
			}
		})
	}
}

func TestReadLength(t *testing.T) {
	data, _ := protocol.Encode([]byte("hello"), protocol.OpCommandBatch)

	n, err := protocol.ReadLength(data)
	if err != nil {
		t.Fatalf("ReadLength() error = %v", err)
	}
	if n != len(data) {
		t.Errorf("ReadLength() = %d, want %d", n, len(data))
	}

	if _, err := protocol.ReadLength(data[:8]); !errors.Is(err, protocol.ErrTruncatedHeader) {
		t.Errorf("ReadLength() on short buffer error = %v, want %v", err, protocol.ErrTruncatedHeader)
	}
}

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   protocol.Operation
		want string
	}{
		{protocol.OpHeartbeat, "HEARTBEAT"},
		{protocol.OpHeartbeatAck, "HEARTBEAT_ACK"},
		{protocol.OpCommandBatch, "COMMAND_BATCH"},
		{protocol.OpJoin, "JOIN"},
		{protocol.OpJoinAck, "JOIN_ACK"},
		{protocol.Operation(42), "OP(42)"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Operation(%d).String() = %q, want %q", int32(tt.op), got, tt.want)
		}
	}
}

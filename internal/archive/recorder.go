package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fplust/bilibili-live-danmu/internal/dispatch"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

// MaxRecordSize bounds one recorded message when reading back.
const MaxRecordSize = 4 << 20

// Recorder appends events to a stream of size-prefixed protobuf Struct
// messages, one per event.
type Recorder struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	now    func() time.Time
}

// NewRecorder writes to w. Call Flush or Close to push buffered records.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{w: bufio.NewWriter(w), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// CreateRecorder opens path for appending.
func CreateRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	return NewRecorder(f), nil
}

// Write appends rec.
func (r *Recorder) Write(rec Record) error {
	msg, err := toStruct(rec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := protodelim.MarshalTo(r.w, msg); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Handle implements dispatch.Sink.
func (r *Recorder) Handle(ctx context.Context, ev event.Event) error {
	origin, _ := dispatch.OriginFrom(ctx)
	rec, err := NewRecord(origin.RoomID, origin.SessionID, ev, r.now())
	if err != nil {
		return fmt.Errorf("failed to flatten event: %w", err)
	}
	return r.Write(rec)
}

// Flush writes buffered records to the underlying writer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.Flush()
}

// Close flushes and closes the underlying writer if it is an io.Closer.
func (r *Recorder) Close() error {
	err := r.Flush()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
	}
	return err
}

// ReadRecords decodes every record in rd.
func ReadRecords(rd io.Reader) ([]Record, error) {
	br := bufio.NewReader(rd)
	opts := protodelim.UnmarshalOptions{MaxSize: MaxRecordSize}

	var records []Record
	for {
		msg := &structpb.Struct{}
		if err := opts.UnmarshalFrom(br, msg); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("failed to read record %d: %w", len(records), err)
		}
		rec, err := fromStruct(msg)
		if err != nil {
			return records, fmt.Errorf("failed to decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}

func toStruct(rec Record) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(map[string]any{
		"room_id":     rec.RoomID,
		"session_id":  rec.SessionID,
		"kind":        rec.Kind,
		"cmd":         rec.Cmd,
		"user_id":     rec.UserID,
		"username":    rec.Username,
		"text":        rec.Text,
		"amount":      rec.Amount,
		"value":       rec.Value,
		"timestamp":   rec.Timestamp,
		"received_at": rec.ReceivedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build record: %w", err)
	}
	if len(rec.Payload) > 0 {
		payload := &structpb.Value{}
		if err := payload.UnmarshalJSON(rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to convert payload: %w", err)
		}
		msg.Fields["payload"] = payload
	}
	return msg, nil
}

func fromStruct(msg *structpb.Struct) (Record, error) {
	f := msg.GetFields()
	num := func(k string) int64 { return int64(f[k].GetNumberValue()) }
	str := func(k string) string { return f[k].GetStringValue() }

	rec := Record{
		RoomID:    num("room_id"),
		SessionID: str("session_id"),
		Kind:      str("kind"),
		Cmd:       str("cmd"),
		UserID:    num("user_id"),
		Username:  str("username"),
		Text:      str("text"),
		Amount:    num("amount"),
		Value:     num("value"),
		Timestamp: num("timestamp"),
	}
	if s := str("received_at"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Record{}, err
		}
		rec.ReceivedAt = t
	}
	if p, ok := f["payload"]; ok {
		b, err := p.MarshalJSON()
		if err != nil {
			return Record{}, err
		}
		rec.Payload = b
	}
	return rec, nil
}

// Package archive persists classified events: a SQLite store for querying
// and a length-delimited protobuf file for replay.
package archive

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

// Record is the flattened, storable form of an event.
type Record struct {
	ID         int64     `json:"id"`
	RoomID     int64     `json:"room_id"`
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	Cmd        string    `json:"cmd"`
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	Text       string    `json:"text"`
	Amount     int64     `json:"amount"`
	Value      int64     `json:"value"`
	Timestamp  int64     `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
	// Payload is the event as JSON. Generic commands keep their raw envelope.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewRecord flattens ev. Text holds the chat or super chat message, or the
// gift name; Amount is the gift count; Value is the gift value or super chat price.
func NewRecord(roomID int64, sessionID string, ev event.Event, receivedAt time.Time) (Record, error) {
	rec := Record{
		RoomID:     roomID,
		SessionID:  sessionID,
		Kind:       ev.Kind().String(),
		Cmd:        ev.Command(),
		ReceivedAt: receivedAt.UTC(),
	}

	switch e := ev.(type) {
	case event.Chat:
		rec.UserID, rec.Username, rec.Text = e.UserID, e.Username, e.Text
		rec.Timestamp = e.Timestamp
	case event.Gift:
		rec.UserID, rec.Username, rec.Text = e.UserID, e.Username, e.GiftName
		rec.Amount, rec.Value = e.Amount, e.CoinValue
	case event.SuperChat:
		rec.UserID, rec.Username, rec.Text = e.UserID, e.Username, e.Message
		rec.Value = e.Price
	case event.Generic:
		if json.Valid(e.Raw) {
			rec.Payload = json.RawMessage(e.Raw)
		}
		if s, ok := e.RankDescription(); ok {
			rec.Text = s
		}
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = rec.ReceivedAt.Unix()
	}

	if rec.Payload == nil {
		if _, generic := ev.(event.Generic); !generic {
			payload, err := json.Marshal(ev)
			if err != nil {
				return Record{}, err
			}
			rec.Payload = payload
		}
	}
	return rec, nil
}

package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fplust/bilibili-live-danmu/internal/dispatch"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

func TestRecorder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(&buf)
	at := time.Date(2024, 2, 3, 4, 5, 6, 7000, time.UTC)

	generic := event.Generic{
		Cmd: "ONLINE_RANK_COUNT",
		Raw: []byte(`{"cmd":"ONLINE_RANK_COUNT","data":{"count":12345678901}}`),
	}
	var want []Record
	for _, ev := range []event.Event{
		event.Chat{UserID: 1, Username: "alice", Text: "你好", Timestamp: 1700000000},
		event.Gift{Cmd: event.CmdGuardBuy, UserID: 2, Username: "bob", Action: event.ActionPurchased, GiftName: "舰长", Amount: 1, CoinValue: 198, GuardType: 3},
		generic,
	} {
		rec, err := NewRecord(5440, "sess", ev, at)
		require.NoError(t, err)
		require.NoError(t, r.Write(rec))
		want = append(want, rec)
	}
	require.NoError(t, r.Flush())

	got, err := ReadRecords(&buf)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	for i := range want {
		assert.JSONEq(t, string(want[i].Payload), string(got[i].Payload), "record %d payload", i)
		want[i].Payload, got[i].Payload = nil, nil
		assert.True(t, want[i].ReceivedAt.Equal(got[i].ReceivedAt), "record %d received_at", i)
		want[i].ReceivedAt, got[i].ReceivedAt = time.Time{}, time.Time{}
		assert.Equal(t, want[i], got[i])
	}
}

func TestRecorder_Handle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.pb")
	r, err := CreateRecorder(path)
	require.NoError(t, err)

	ctx := dispatch.WithOrigin(context.Background(), dispatch.Origin{RoomID: 3, SessionID: "x"})
	require.NoError(t, r.Handle(ctx, event.SuperChat{Username: "carol", Message: "hi", Price: 30}))
	require.NoError(t, r.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	recs, err := ReadRecords(f)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "superchat", recs[0].Kind)
	assert.Equal(t, int64(3), recs[0].RoomID)
	assert.Equal(t, int64(30), recs[0].Value)
}

func TestReadRecords_Truncated(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(&buf)
	rec, err := NewRecord(1, "s", event.Chat{Text: "x"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, r.Write(rec))
	require.NoError(t, r.Write(rec))
	require.NoError(t, r.Flush())

	data := buf.Bytes()
	got, err := ReadRecords(bytes.NewReader(data[:len(data)-3]))
	assert.Error(t, err)
	assert.Len(t, got, 1)
}

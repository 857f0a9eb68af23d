package api

import (
	"sync"
	"time"

	"github.com/fplust/bilibili-live-danmu/internal/live"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
	"github.com/fplust/bilibili-live-danmu/pkg/protocol"
)

// SessionStatus is a point-in-time view of the current live session.
type SessionStatus struct {
	RoomID            int64            `json:"room_id"`
	SessionID         string           `json:"session_id,omitempty"`
	Connected         bool             `json:"connected"`
	JoinAcknowledged  bool             `json:"join_acknowledged"`
	OpenedAt          *time.Time       `json:"opened_at,omitempty"`
	LastHeartbeat     *time.Time       `json:"last_heartbeat,omitempty"`
	HeartbeatFailures int64            `json:"heartbeat_failures"`
	Popularity        uint32           `json:"popularity"`
	Sessions          int64            `json:"sessions"`
	Messages          int64            `json:"messages"`
	Events            map[string]int64 `json:"events"`
	DecodeErrors      int64            `json:"decode_errors"`
}

// Tracker implements live.Observer and keeps the latest SessionStatus.
type Tracker struct {
	mu     sync.RWMutex
	status SessionStatus
	now    func() time.Time
}

var _ live.Observer = (*Tracker)(nil)

func NewTracker() *Tracker {
	return &Tracker{
		status: SessionStatus{Events: make(map[string]int64)},
		now:    time.Now,
	}
}

// Status returns a copy of the current status.
func (t *Tracker) Status() SessionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.status
	s.Events = make(map[string]int64, len(t.status.Events))
	for k, v := range t.status.Events {
		s.Events[k] = v
	}
	return s
}

func (t *Tracker) SessionOpened(roomID int64, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.status.RoomID = roomID
	t.status.SessionID = sessionID
	t.status.Connected = true
	t.status.JoinAcknowledged = false
	t.status.OpenedAt = &now
	t.status.Sessions++
}

func (t *Tracker) SessionClosed(roomID int64, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// a reconnect may already have opened the next session
	if t.status.SessionID == sessionID {
		t.status.Connected = false
	}
}

func (t *Tracker) MessageReceived(int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Messages++
}

func (t *Tracker) FrameDecoded(protocol.Operation) {}

func (t *Tracker) EventClassified(ev event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Events[ev.Kind().String()]++
}

func (t *Tracker) DecodeFailed(live.Stage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.DecodeErrors++
}

func (t *Tracker) HeartbeatSent(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.status.HeartbeatFailures++
		return
	}
	now := t.now()
	t.status.LastHeartbeat = &now
}

func (t *Tracker) JoinAcknowledged() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.JoinAcknowledged = true
}

func (t *Tracker) PopularityUpdated(n uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Popularity = n
}

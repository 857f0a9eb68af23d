package live

import (
	"github.com/fplust/bilibili-live-danmu/pkg/event"
	"github.com/fplust/bilibili-live-danmu/pkg/protocol"
)

// Observer receives session activity that is not part of the event stream.
// Implementations must be safe for concurrent use: heartbeat callbacks run on
// their own goroutine.
type Observer interface {
	SessionOpened(roomID int64, sessionID string)
	SessionClosed(roomID int64, sessionID string)
	MessageReceived(size int)
	FrameDecoded(op protocol.Operation)
	EventClassified(ev event.Event)
	DecodeFailed(stage Stage, err error)
	HeartbeatSent(err error)
	JoinAcknowledged()
	PopularityUpdated(n uint32)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) SessionOpened(int64, string) {}
func (NopObserver) SessionClosed(int64, string) {}
func (NopObserver) MessageReceived(int) {}
func (NopObserver) FrameDecoded(protocol.Operation) {}
func (NopObserver) EventClassified(event.Event) {}
func (NopObserver) DecodeFailed(Stage, error) {}
func (NopObserver) HeartbeatSent(error) {}
func (NopObserver) JoinAcknowledged() {}
func (NopObserver) PopularityUpdated(uint32) {}

// Observers fans every callback out to each of obs in order.
func Observers(obs ...Observer) Observer {
	return multiObserver(obs)
}

type multiObserver []Observer

func (m multiObserver) SessionOpened(roomID int64, id string) {
	for _, o := range m {
		o.SessionOpened(roomID, id)
	}
}

func (m multiObserver) SessionClosed(roomID int64, id string) {
	for _, o := range m {
		o.SessionClosed(roomID, id)
	}
}

func (m multiObserver) MessageReceived(size int) {
	for _, o := range m {
		o.MessageReceived(size)
	}
}

func (m multiObserver) FrameDecoded(op protocol.Operation) {
	for _, o := range m {
		o.FrameDecoded(op)
	}
}

func (m multiObserver) EventClassified(ev event.Event) {
	for _, o := range m {
		o.EventClassified(ev)
	}
}

func (m multiObserver) DecodeFailed(stage Stage, err error) {
	for _, o := range m {
		o.DecodeFailed(stage, err)
	}
}

func (m multiObserver) HeartbeatSent(err error) {
	for _, o := range m {
		o.HeartbeatSent(err)
	}
}

func (m multiObserver) JoinAcknowledged() {
	for _, o := range m {
		o.JoinAcknowledged()
	}
}

func (m multiObserver) PopularityUpdated(n uint32) {
	for _, o := range m {
		o.PopularityUpdated(n)
	}
}

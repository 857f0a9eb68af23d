// Package event turns decoded live-room commands into a closed set of typed events.
package event

import "time"

// Command names with a dedicated event variant.
const (
	CmdDanmaku   = "DANMU_MSG"
	CmdSendGift  = "SEND_GIFT"
	CmdGuardBuy  = "GUARD_BUY"
	CmdSuperChat = "SUPER_CHAT_MESSAGE"
	CmdRoomRank  = "ROOM_RANK"
)

// ActionPurchased is the action label of gifts synthesized from guard purchases.
const ActionPurchased = "购买"

// Kind identifies an event variant.
type Kind int

const (
	KindGeneric Kind = iota
	KindChat
	KindGift
	KindSuperChat
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindGift:
		return "gift"
	case KindSuperChat:
		return "superchat"
	case KindGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for _, k := range []Kind{KindGeneric, KindChat, KindGift, KindSuperChat} {
		if k.String() == s {
			return k, true
		}
	}
	return KindGeneric, false
}

// Event is implemented by Chat, Gift, SuperChat and Generic only.
type Event interface {
	Kind() Kind
	// Command is the cmd value the event was classified from.
	Command() string
	isEvent()
}

// Chat is a viewer chat message.
type Chat struct {
	UserID          int64
	Username        string
	Text            string
	GuardLevel      int
	IsAdmin         bool
	IsGiftTriggered bool
	Timestamp       int64
	UserLevel       int
}

func (Chat) Kind() Kind { return KindChat }
func (Chat) Command() string { return CmdDanmaku }
func (Chat) isEvent() {}
func (c Chat) Time() time.Time { return time.Unix(c.Timestamp, 0) }

// Gift is a gift sent to the room, or a guard membership purchase.
type Gift struct {
	Cmd       string
	UserID    int64
	Username  string
	Action    string
	GiftName  string
	Amount    int64
	CoinValue int64
	GuardType int
}

func (Gift) Kind() Kind { return KindGift }
func (g Gift) Command() string { return g.Cmd }
func (Gift) isEvent() {}

// SuperChat is a paid, highlighted chat message. Price is in yuan.
type SuperChat struct {
	UserID            int64
	Username          string
	Message           string
	TranslatedMessage string
	Price             int64
}

func (SuperChat) Kind() Kind { return KindSuperChat }
func (SuperChat) Command() string { return CmdSuperChat }
func (SuperChat) isEvent() {}

// Generic carries any command without a dedicated variant.
type Generic struct {
	Cmd  string
	Data map[string]any
	Info []any
	// Raw is the undecoded JSON envelope.
	Raw []byte
}

func (Generic) Kind() Kind { return KindGeneric }
func (g Generic) Command() string { return g.Cmd }
func (Generic) isEvent() {}

// RankDescription returns data.rank_desc of a ROOM_RANK command.
func (g Generic) RankDescription() (string, bool) {
	if g.Cmd != CmdRoomRank || g.Data == nil {
		return "", false
	}
	s, ok := g.Data["rank_desc"].(string)
	return s, ok
}

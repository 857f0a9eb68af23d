package mockserver

import (
	"time"

	"github.com/goccy/go-json"
)

// Command builders for the JSON bodies the live server pushes. Field
// layouts follow the real broadcast, trimmed to what clients read.

// Danmaku builds a DANMU_MSG command.
func Danmaku(uid int64, uname, text string, at time.Time) []byte {
	return mustMarshal(map[string]any{
		"cmd": "DANMU_MSG",
		"info": []any{
			[]any{0, 1, 25, 16777215, at.UnixMilli(), 0, 0, "", 0, 0, 0, ""},
			text,
			[]any{uid, uname, 0, 0, 0, 10000, 1, ""},
			[]any{},
			[]any{1, 0, 9868950, ">50000", 0},
			[]any{"", ""},
			0,
			0,
			nil,
			map[string]any{"ts": at.Unix(), "ct": "0"},
		},
	})
}

// SendGift builds a SEND_GIFT command. totalCoin is in the server's
// thousandths of a yuan; coinType is "gold" or "silver".
func SendGift(uid int64, uname, action, giftName string, num, totalCoin int64, coinType string) []byte {
	return mustMarshal(map[string]any{
		"cmd": "SEND_GIFT",
		"data": map[string]any{
			"uid":        uid,
			"uname":      uname,
			"action":     action,
			"giftName":   giftName,
			"num":        num,
			"total_coin": totalCoin,
			"coin_type":  coinType,
			"timestamp":  time.Now().Unix(),
		},
	})
}

// GuardBuy builds a GUARD_BUY command. price is in thousandths of a yuan.
func GuardBuy(uid int64, username, giftName string, num, price int64, guardLevel int) []byte {
	return mustMarshal(map[string]any{
		"cmd": "GUARD_BUY",
		"data": map[string]any{
			"uid":         uid,
			"username":    username,
			"gift_name":   giftName,
			"num":         num,
			"price":       price,
			"guard_level": guardLevel,
		},
	})
}

// SuperChat builds a SUPER_CHAT_MESSAGE command. price is in yuan.
func SuperChat(uid int64, uname, message, translated string, price int64) []byte {
	return mustMarshal(map[string]any{
		"cmd": "SUPER_CHAT_MESSAGE",
		"data": map[string]any{
			"uid":           uid,
			"message":       message,
			"message_trans": translated,
			"price":         price,
			"user_info":     map[string]any{"uname": uname},
		},
	})
}

// RoomRank builds a ROOM_RANK command.
func RoomRank(roomID int64, desc string) []byte {
	return mustMarshal(map[string]any{
		"cmd": "ROOM_RANK",
		"data": map[string]any{
			"roomid":    roomID,
			"rank_desc": desc,
			"timestamp": time.Now().Unix(),
		},
	})
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

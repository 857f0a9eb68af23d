package event

import (
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
)

// Classify maps env to its event variant. Unknown commands become Generic.
func Classify(env Envelope) (Event, error) {
	switch env.Cmd {
	case CmdDanmaku:
		return classifyDanmaku(env)
	case CmdSendGift:
		return classifySendGift(env)
	case CmdGuardBuy:
		return classifyGuardBuy(env)
	case CmdSuperChat:
		return classifySuperChat(env)
	default:
		g := Generic{Cmd: env.Cmd, Raw: env.Raw}
		g.Data, _ = env.Data.(map[string]any)
		g.Info, _ = env.Info.([]any)
		return g, nil
	}
}

func classifyDanmaku(env Envelope) (Event, error) {
	info, ok := env.Info.([]any)
	if !ok || len(info) == 0 {
		return nil, &MalformedCommandError{Cmd: env.Cmd, Field: "info"}
	}
	r := fields{cmd: env.Cmd}

	chat := Chat{
		Text:            r.str(at(info, 1), "info[1]"),
		UserID:          r.int(at(info, 2, 0), "info[2][0]"),
		Username:        r.str(at(info, 2, 1), "info[2][1]"),
		IsAdmin:         r.flag(at(info, 2, 2), "info[2][2]"),
		UserLevel:       int(r.int(at(info, 4, 0), "info[4][0]")),
		GuardLevel:      int(r.int(at(info, 7), "info[7]")),
		IsGiftTriggered: r.int(at(info, 0, 9), "info[0][9]") > 0,
	}
	last, _ := info[len(info)-1].(map[string]any)
	chat.Timestamp = r.int(key(last, "ts"), "info[-1].ts")

	if r.err != nil {
		return nil, r.err
	}
	return chat, nil
}

func classifySendGift(env Envelope) (Event, error) {
	data, ok := env.Data.(map[string]any)
	if !ok {
		return nil, &MalformedCommandError{Cmd: env.Cmd, Field: "data"}
	}
	r := fields{cmd: env.Cmd}

	gift := Gift{
		Cmd:      env.Cmd,
		UserID:   r.int(key(data, "uid"), "uid"),
		Username: r.str(key(data, "uname"), "uname"),
		Action:   r.str(key(data, "action"), "action"),
		GiftName: r.str(key(data, "giftName"), "giftName"),
		Amount:   r.int(key(data, "num"), "num"),
	}
	totalCoin := r.int(key(data, "total_coin"), "total_coin")
	coinType := r.str(key(data, "coin_type"), "coin_type")
	if r.err != nil {
		return nil, r.err
	}

	// Silver and free gifts carry no economic value.
	if coinType == "gold" {
		gift.CoinValue = totalCoin / 1000
	}
	return gift, nil
}

func classifyGuardBuy(env Envelope) (Event, error) {
	data, ok := env.Data.(map[string]any)
	if !ok {
		return nil, &MalformedCommandError{Cmd: env.Cmd, Field: "data"}
	}
	r := fields{cmd: env.Cmd}

	gift := Gift{
		Cmd:       env.Cmd,
		Action:    ActionPurchased,
		UserID:    r.int(key(data, "uid"), "uid"),
		Username:  r.str(key(data, "username"), "username"),
		GiftName:  r.str(key(data, "gift_name"), "gift_name"),
		Amount:    r.int(key(data, "num"), "num"),
		CoinValue: r.int(key(data, "price"), "price") / 1000,
		GuardType: int(r.int(key(data, "guard_level"), "guard_level")),
	}
	if r.err != nil {
		return nil, r.err
	}
	return gift, nil
}

// translationKeys lists the translated-message field across protocol revisions, newest first.
var translationKeys = []string{"message_trans", "message_jpn"}

func classifySuperChat(env Envelope) (Event, error) {
	data, ok := env.Data.(map[string]any)
	if !ok {
		return nil, &MalformedCommandError{Cmd: env.Cmd, Field: "data"}
	}
	r := fields{cmd: env.Cmd}

	userInfo, _ := key(data, "user_info").(map[string]any)
	sc := SuperChat{
		UserID:   r.int(key(data, "uid"), "uid"),
		Username: r.str(key(userInfo, "uname"), "user_info.uname"),
		Message:  r.str(key(data, "message"), "message"),
		Price:    r.int(key(data, "price"), "price"),
	}
	for _, k := range translationKeys {
		if s, ok := key(data, k).(string); ok {
			sc.TranslatedMessage = s
			break
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return sc, nil
}

// fields reads typed values out of decoded JSON, keeping the first failure.
type fields struct {
	cmd string
	err error
}

func (r *fields) fail(field string) {
	if r.err == nil {
		r.err = &MalformedCommandError{Cmd: r.cmd, Field: field}
	}
}

func (r *fields) str(v any, field string) string {
	s, ok := v.(string)
	if !ok {
		r.fail(field)
	}
	return s
}

func (r *fields) int(v any, field string) int64 {
	n, ok := toInt(v)
	if !ok {
		r.fail(field)
	}
	return n
}

// flag accepts 1 or "1" as true and 0 or "0" as false.
func (r *fields) flag(v any, field string) bool {
	if s, ok := v.(string); ok {
		switch strings.TrimSpace(s) {
		case "1":
			return true
		case "0", "":
			return false
		}
		r.fail(field)
		return false
	}
	n, ok := toInt(v)
	if !ok {
		r.fail(field)
	}
	return n == 1
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// at walks nested arrays; it returns nil when any index is out of range.
func at(v any, path ...int) any {
	for _, i := range path {
		arr, ok := v.([]any)
		if !ok || i < 0 || i >= len(arr) {
			return nil
		}
		v = arr[i]
	}
	return v
}

func key(m map[string]any, k string) any {
	if m == nil {
		return nil
	}
	return m[k]
}

// String is used in log lines.
func String(ev Event) string {
	switch e := ev.(type) {
	case Chat:
		return fmt.Sprintf("chat %s(%d): %s", e.Username, e.UserID, e.Text)
	case Gift:
		return fmt.Sprintf("gift %s(%d): %s %d %s", e.Username, e.UserID, e.Action, e.Amount, e.GiftName)
	case SuperChat:
		return fmt.Sprintf("superchat %s(%d): %d %s", e.Username, e.UserID, e.Price, e.Message)
	case Generic:
		return "generic " + e.Cmd
	default:
		return "unknown event"
	}
}

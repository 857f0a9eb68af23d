package event_test

import (
	"errors"
	"testing"

	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

func decode(t *testing.T, body string) (event.Event, error) {
	t.Helper()
	return event.Decode([]byte(body))
}

func TestClassify_Danmaku(t *testing.T) {
	tests := []struct {
		name string
		body string
		want event.Chat
	}{
		{
			name: "plain viewer with guard",
			body: `{"cmd":"DANMU_MSG","info":[[0,1,25,16777215,1700000000000,0,0,"",0,0],"hello",[12345,"alice",0,0,0,10000,1,""],0,[10],0,0,3,{"ts":1700000000,"ct":"ABC"}]}`,
			want: event.Chat{
				UserID:          12345,
				Username:        "alice",
				Text:            "hello",
				GuardLevel:      3,
				IsAdmin:         false,
				IsGiftTriggered: false,
				Timestamp:       1700000000,
				UserLevel:       10,
			},
		},
		{
			name: "admin flag as string and gift triggered",
			body: `{"cmd":"DANMU_MSG","info":[[0,1,25,16777215,0,0,0,"",0,2],"gift!",[7,"bob","1"],0,[3],0,0,0,0,{"ts":1600000000}]}`,
			want: event.Chat{
				UserID:          7,
				Username:        "bob",
				Text:            "gift!",
				IsAdmin:         true,
				IsGiftTriggered: true,
				Timestamp:       1600000000,
				UserLevel:       3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decode(t, tt.body)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			got, ok := ev.(event.Chat)
			if !ok {
				t.Fatalf("Decode() = %T, want event.Chat", ev)
			}
			if got != tt.want {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
			if got.Kind() != event.KindChat || got.Command() != event.CmdDanmaku {
				t.Errorf("Kind/Command = %v/%s", got.Kind(), got.Command())
			}
		})
	}
}

func TestClassify_SendGift(t *testing.T) {
	tests := []struct {
		name      string
		coinType  string
		wantValue int64
	}{
		{name: "silver gift has no value", coinType: "silver", wantValue: 0},
		{name: "gold gift value in yuan", coinType: "gold", wantValue: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"cmd":"SEND_GIFT","data":{"uid":1,"uname":"bob","action":"赠送","giftName":"flower","num":2,"total_coin":2000,"coin_type":"` + tt.coinType + `"}}`
			ev, err := decode(t, body)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			want := event.Gift{
				Cmd:       event.CmdSendGift,
				UserID:    1,
				Username:  "bob",
				Action:    "赠送",
				GiftName:  "flower",
				Amount:    2,
				CoinValue: tt.wantValue,
				GuardType: 0,
			}
			if ev != want {
				t.Errorf("Decode() = %+v, want %+v", ev, want)
			}
		})
	}
}

func TestClassify_GuardBuy(t *testing.T) {
	ev, err := decode(t, `{"cmd":"GUARD_BUY","data":{"uid":99,"username":"carol","gift_name":"舰长","num":1,"price":198000,"guard_level":3}}`)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := event.Gift{
		Cmd:       event.CmdGuardBuy,
		UserID:    99,
		Username:  "carol",
		Action:    event.ActionPurchased,
		GiftName:  "舰长",
		Amount:    1,
		CoinValue: 198,
		GuardType: 3,
	}
	if ev != want {
		t.Errorf("Decode() = %+v, want %+v", ev, want)
	}
}

func TestClassify_SuperChat(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		wantTranslated string
	}{
		{
			name:           "current translation key",
			body:           `{"cmd":"SUPER_CHAT_MESSAGE","data":{"uid":5,"user_info":{"uname":"dave","face":""},"message":"hi","message_trans":"こんにちは","price":30}}`,
			wantTranslated: "こんにちは",
		},
		{
			name:           "legacy translation key",
			body:           `{"cmd":"SUPER_CHAT_MESSAGE","data":{"uid":5,"user_info":{"uname":"dave"},"message":"hi","message_jpn":"やあ","price":30}}`,
			wantTranslated: "やあ",
		},
		{
			name:           "no translation",
			body:           `{"cmd":"SUPER_CHAT_MESSAGE","data":{"uid":5,"user_info":{"uname":"dave"},"message":"hi","price":30}}`,
			wantTranslated: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decode(t, tt.body)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			want := event.SuperChat{
				UserID:            5,
				Username:          "dave",
				Message:           "hi",
				TranslatedMessage: tt.wantTranslated,
				Price:             30,
			}
			if ev != want {
				t.Errorf("Decode() = %+v, want %+v", ev, want)
			}
		})
	}
}

func TestClassify_Generic(t *testing.T) {
	ev, err := decode(t, `{"cmd":"ROOM_RANK","data":{"roomid":1,"rank_desc":"小时榜 12"}}`)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	g, ok := ev.(event.Generic)
	if !ok {
		t.Fatalf("Decode() = %T, want event.Generic", ev)
	}
	if g.Cmd != "ROOM_RANK" || g.Kind() != event.KindGeneric {
		t.Errorf("Generic = %+v", g)
	}
	if desc, ok := g.RankDescription(); !ok || desc != "小时榜 12" {
		t.Errorf("RankDescription() = %q, %v", desc, ok)
	}
	if len(g.Raw) == 0 {
		t.Error("Generic.Raw is empty")
	}

	// Command names are matched exactly.
	ev, err = decode(t, `{"cmd":"danmu_msg","info":"whatever"}`)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if ev.Kind() != event.KindGeneric {
		t.Errorf("Decode() kind = %v, want generic", ev.Kind())
	}
}

func TestClassify_Malformed(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   error
		wantField string
	}{
		{name: "not json", body: `{"cmd":`, wantErr: event.ErrInvalidEnvelope},
		{name: "missing cmd", body: `{"data":{}}`, wantErr: event.ErrInvalidEnvelope},
		{name: "danmaku without info", body: `{"cmd":"DANMU_MSG"}`, wantErr: event.ErrMalformedCommand, wantField: "info"},
		{name: "danmaku short info", body: `{"cmd":"DANMU_MSG","info":[[0],"x"]}`, wantErr: event.ErrMalformedCommand, wantField: "info[2][0]"},
		{name: "danmaku uid is string", body: `{"cmd":"DANMU_MSG","info":[[0,0,0,0,0,0,0,0,0,0],"x",["1","n",0],0,[1],0,0,0,{"ts":1}]}`, wantErr: event.ErrMalformedCommand, wantField: "info[2][0]"},
		{name: "danmaku without ts", body: `{"cmd":"DANMU_MSG","info":[[0,0,0,0,0,0,0,0,0,0],"x",[1,"n",0],0,[1],0,0,0,{}]}`, wantErr: event.ErrMalformedCommand, wantField: "info[-1].ts"},
		{name: "gift without coin type", body: `{"cmd":"SEND_GIFT","data":{"uid":1,"uname":"b","action":"a","giftName":"g","num":1,"total_coin":1}}`, wantErr: event.ErrMalformedCommand, wantField: "coin_type"},
		{name: "gift amount overflows int64", body: `{"cmd":"SEND_GIFT","data":{"uid":1,"uname":"b","action":"a","giftName":"g","num":9223372036854775808,"total_coin":1,"coin_type":"gold"}}`, wantErr: event.ErrMalformedCommand, wantField: "num"},
		{name: "gift amount in exponent form overflows int64", body: `{"cmd":"SEND_GIFT","data":{"uid":1,"uname":"b","action":"a","giftName":"g","num":9.223372036854775808e18,"total_coin":1,"coin_type":"gold"}}`, wantErr: event.ErrMalformedCommand, wantField: "num"},
		{name: "gift data not object", body: `{"cmd":"SEND_GIFT","data":[1]}`, wantErr: event.ErrMalformedCommand, wantField: "data"},
		{name: "guard without price", body: `{"cmd":"GUARD_BUY","data":{"uid":1,"username":"c","gift_name":"g","num":1,"guard_level":3}}`, wantErr: event.ErrMalformedCommand, wantField: "price"},
		{name: "superchat without user info", body: `{"cmd":"SUPER_CHAT_MESSAGE","data":{"uid":1,"message":"m","price":1}}`, wantErr: event.ErrMalformedCommand, wantField: "user_info.uname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decode(t, tt.body)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if ev != nil {
				t.Errorf("Decode() event = %+v, want nil", ev)
			}
			if tt.wantField != "" {
				var mce *event.MalformedCommandError
				if !errors.As(err, &mce) {
					t.Fatalf("error %v is not a MalformedCommandError", err)
				}
				if mce.Field != tt.wantField {
					t.Errorf("Field = %q, want %q", mce.Field, tt.wantField)
				}
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	for _, k := range []event.Kind{event.KindChat, event.KindGift, event.KindSuperChat, event.KindGeneric} {
		got, ok := event.ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if _, ok := event.ParseKind("bogus"); ok {
		t.Error("ParseKind(bogus) reported ok")
	}
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

const timeLayout = "2006-01-02 15:04:05"

// formatEvent returns the terminal line for ev, or false when ev is not shown.
// Chat triggered by a gift is hidden since the gift itself is shown.
func formatEvent(ev event.Event, loc *time.Location) (string, bool) {
	switch e := ev.(type) {
	case event.Chat:
		if e.IsGiftTriggered {
			return "", false
		}
		return fmt.Sprintf("[%s] %s: %s", e.Time().In(loc).Format(timeLayout), e.Username, e.Text), true
	case event.Gift:
		return fmt.Sprintf("%s: %s%d%s", e.Username, e.Action, e.Amount, e.GiftName), true
	case event.SuperChat:
		return fmt.Sprintf("%s: %d元 %s", e.Username, e.Price, e.Message), true
	case event.Generic:
		if desc, ok := e.RankDescription(); ok {
			return desc, true
		}
	}
	return "", false
}

type renderer struct {
	w   io.Writer
	loc *time.Location
}

func (r *renderer) render(ev event.Event) error {
	line, ok := formatEvent(ev, r.loc)
	if !ok {
		return nil
	}
	_, err := fmt.Fprintln(r.w, line)
	return err
}

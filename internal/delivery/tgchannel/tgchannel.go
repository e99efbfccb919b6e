// Package tgchannel delivers news cards through the Telegram adapter.
package tgchannel

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"newsbot/internal/delivery"
	"newsbot/internal/transport"
	"newsbot/pkg/tgui"
)

// CallbackPrefix namespaces callback data as "news:<action>".
const CallbackPrefix = "news"

const maxLabelRunes = 40

type Channel struct {
	ad transport.Adapter
}

func New(ad transport.Adapter) *Channel { return &Channel{ad: ad} }

func (c *Channel) SendTo(ctx context.Context, subscriberID int64, msg delivery.Message) error {
	_, err := Render(msg).Send(ctx, c.ad, transport.ChatTarget{ChatID: subscriberID})
	return err
}

// Render converts msg into a tgui message with an inline keyboard.
func Render(msg delivery.Message) tgui.Message {
	return tgui.Message{
		Text: msg.Text,
		Opt: &transport.SendOptions{
			ParseMode:          msg.ParseMode,
			DisablePreview:     true,
			ReplyMarkupAdapter: Keyboard(msg.Actions),
		},
	}
}

// Keyboard lays URL actions out one per row and groups callback actions on a
// final row. It returns nil when there are no actions.
func Keyboard(actions []delivery.Action) *tele.ReplyMarkup {
	if len(actions) == 0 {
		return nil
	}
	kb := tgui.NewInline()
	var tail []tele.Btn
	for _, a := range actions {
		label := tgui.TruncRunes(a.Label, maxLabelRunes)
		switch {
		case a.URL != "":
			kb.Row(tgui.URLBtn(label, a.URL))
		case a.Data != "":
			data := tgui.Data(CallbackPrefix, a.Data, "")
			if tgui.CheckData(data) != nil {
				continue
			}
			tail = append(tail, tgui.Btn(label, data))
		}
	}
	if len(tail) > 0 {
		kb.Row(tail...)
	}
	return kb.Markup()
}

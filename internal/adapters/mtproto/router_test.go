package mtproto

import (
	"testing"

	"github.com/gotd/td/tg"
)

func keyboardMessage() *tg.Message {
	msg := &tg.Message{
		ID:      5,
		Message: "今日签到",
		PeerID:  &tg.PeerUser{UserID: 9},
	}
	msg.SetReplyMarkup(&tg.ReplyInlineMarkup{Rows: []tg.KeyboardButtonRow{
		{Buttons: []tg.KeyboardButtonClass{
			&tg.KeyboardButtonCallback{Text: "12", Data: []byte("a")},
			&tg.KeyboardButtonCallback{Text: "7", Data: []byte("b")},
		}},
		{Buttons: []tg.KeyboardButtonClass{
			&tg.KeyboardButtonCallback{Text: "签到", Data: []byte("c")},
		}},
	}})
	return msg
}

func TestConvertMessageKeepsKeyboardRows(t *testing.T) {
	in := convertMessage(keyboardMessage())

	if in.MsgID != 5 || in.PeerID != 9 || in.Text != "今日签到" {
		t.Fatalf("сообщение = %+v", in)
	}
	if len(in.Buttons) != 2 {
		t.Fatalf("рядов %d, ожидалось 2", len(in.Buttons))
	}
	if len(in.Buttons[0]) != 2 || len(in.Buttons[1]) != 1 {
		t.Fatalf("разбивка по рядам = %d/%d", len(in.Buttons[0]), len(in.Buttons[1]))
	}
	if in.Buttons[1][0].Label != "签到" || string(in.Buttons[1][0].Data) != "c" {
		t.Fatalf("кнопка второго ряда = %+v", in.Buttons[1][0])
	}
}

func TestConvertMessageSkipsNonCallbackRows(t *testing.T) {
	msg := &tg.Message{ID: 6, PeerID: &tg.PeerUser{UserID: 9}}
	msg.SetReplyMarkup(&tg.ReplyInlineMarkup{Rows: []tg.KeyboardButtonRow{
		{Buttons: []tg.KeyboardButtonClass{
			&tg.KeyboardButtonURL{Text: "сайт", URL: "https://example.com"},
		}},
		{Buttons: []tg.KeyboardButtonClass{
			&tg.KeyboardButtonCallback{Text: "签到", Data: []byte("c")},
		}},
	}})

	in := convertMessage(msg)
	if len(in.Buttons) != 1 {
		t.Fatalf("рядов %d, ожидался 1 (ряд без callback-кнопок пропускается)", len(in.Buttons))
	}
	if !in.HasButtons() {
		t.Fatal("клавиатура с callback-кнопкой должна быть видна")
	}
}

func TestRouterDeliversOnlyToMatchingPeer(t *testing.T) {
	r := newRouter()
	want, unsubWant := r.Subscribe(9)
	defer unsubWant()
	other, unsubOther := r.Subscribe(10)
	defer unsubOther()

	r.deliver(keyboardMessage())

	select {
	case in := <-want:
		if in.PeerID != 9 || len(in.Buttons) != 2 {
			t.Fatalf("доставлено = %+v", in)
		}
	default:
		t.Fatal("подписчик пира 9 не получил сообщение")
	}
	select {
	case in := <-other:
		t.Fatalf("чужой подписчик получил %+v", in)
	default:
	}
}

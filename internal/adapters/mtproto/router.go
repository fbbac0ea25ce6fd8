package mtproto

import (
	"context"
	"sync"

	"github.com/gotd/td/tg"

	"tg-checkin-bot/internal/domain"
)

// router раздаёт входящие и отредактированные сообщения подписчикам по
// идентификатору пира. Редактирование доставляется как обычное событие:
// боты часто дописывают кнопки в уже отправленное сообщение.
type router struct {
	mu   sync.Mutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	peerID int64
	ch     chan domain.IncomingMessage
}

func newRouter() *router {
	return &router{subs: make(map[int]subscriber)}
}

func (r *router) bind(d *tg.UpdateDispatcher) {
	d.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		r.deliver(u.Message)
		return nil
	})
	d.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		r.deliver(u.Message)
		return nil
	})
	d.OnEditMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
		r.deliver(u.Message)
		return nil
	})
	d.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
		r.deliver(u.Message)
		return nil
	})
}

// Subscribe возвращает канал событий выбранного пира и функцию отписки.
// Канал не закрывается: после отписки он просто перестаёт пополняться.
func (r *router) Subscribe(peerID int64) (<-chan domain.IncomingMessage, func()) {
	ch := make(chan domain.IncomingMessage, 16)
	r.mu.Lock()
	token := r.next
	r.next++
	r.subs[token] = subscriber{peerID: peerID, ch: ch}
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		delete(r.subs, token)
		r.mu.Unlock()
	}
}

func (r *router) deliver(raw tg.MessageClass) {
	msg, ok := raw.(*tg.Message)
	if !ok {
		return
	}
	in := convertMessage(msg)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.peerID != in.PeerID {
			continue
		}
		select {
		case sub.ch <- in:
		default:
			// Медленный подписчик теряет событие, блокировать цикл
			// обновлений нельзя.
		}
	}
}

func convertMessage(msg *tg.Message) domain.IncomingMessage {
	in := domain.IncomingMessage{
		MsgID:    int64(msg.ID),
		PeerID:   peerIDOf(msg.PeerID),
		Outgoing: msg.Out,
		Text:     msg.Message,
	}
	if markup, ok := msg.GetReplyMarkup(); ok {
		if inline, ok := markup.(*tg.ReplyInlineMarkup); ok {
			for _, row := range inline.Rows {
				buttons := make([]domain.Button, 0, len(row.Buttons))
				for _, btn := range row.Buttons {
					if cb, ok := btn.(*tg.KeyboardButtonCallback); ok {
						buttons = append(buttons, domain.Button{Label: cb.Text, Data: cb.Data})
					}
				}
				if len(buttons) > 0 {
					in.Buttons = append(in.Buttons, buttons)
				}
			}
		}
	}
	return in
}

func peerIDOf(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	}
	return 0
}

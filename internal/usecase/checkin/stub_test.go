package checkin

import (
	"context"
	"sync"
	"sync/atomic"

	"tg-checkin-bot/internal/domain"
)

// stubHandle — ручной стаб domain.SessionHandle для тестов стратегий.
type stubHandle struct {
	mu       sync.Mutex
	sent     []string
	incoming chan domain.IncomingMessage

	clicks    int32
	lastClick atomic.Value // []byte

	alerts   []string // ответы на последовательные нажатия
	clickErr error

	refetch  map[int64]domain.IncomingMessage
	latest   domain.IncomingMessage
	latestOK bool

	sendErr error
}

func newStubHandle() *stubHandle {
	return &stubHandle{incoming: make(chan domain.IncomingMessage, 8)}
}

func (h *stubHandle) ResolvePeer(ctx context.Context, target domain.TargetRef) (domain.Peer, error) {
	return domain.Peer{Kind: domain.PeerUser, ID: 100, Title: target.Identifier()}, nil
}

func (h *stubHandle) SendMessage(ctx context.Context, peer domain.Peer, text string) error {
	h.mu.Lock()
	h.sent = append(h.sent, text)
	h.mu.Unlock()
	return h.sendErr
}

func (h *stubHandle) SubscribeMessages(peerID int64) (<-chan domain.IncomingMessage, func()) {
	return h.incoming, func() {}
}

func (h *stubHandle) ClickButton(ctx context.Context, peer domain.Peer, msgID int64, data []byte) (string, error) {
	n := atomic.AddInt32(&h.clicks, 1)
	h.lastClick.Store(append([]byte(nil), data...))
	if h.clickErr != nil {
		return "", h.clickErr
	}
	if int(n) <= len(h.alerts) {
		return h.alerts[n-1], nil
	}
	return "", nil
}

func (h *stubHandle) GetMessage(ctx context.Context, peer domain.Peer, msgID int64) (domain.IncomingMessage, error) {
	if msg, ok := h.refetch[msgID]; ok {
		return msg, nil
	}
	return domain.IncomingMessage{}, domain.ErrTargetNotFound
}

func (h *stubHandle) LatestMessage(ctx context.Context, peer domain.Peer) (domain.IncomingMessage, bool, error) {
	return h.latest, h.latestOK, nil
}

func (h *stubHandle) Probe(ctx context.Context) error { return nil }
func (h *stubHandle) Close() error                    { return nil }

func (h *stubHandle) clickCount() int {
	return int(atomic.LoadInt32(&h.clicks))
}

func (h *stubHandle) lastClickData() []byte {
	if v := h.lastClick.Load(); v != nil {
		return v.([]byte)
	}
	return nil
}

// stubProvider выдаёт один и тот же хэндл под любым именем из карты.
type stubProvider struct {
	handles map[string]domain.SessionHandle
}

func (p *stubProvider) Get(name string) (domain.SessionHandle, bool) {
	h, ok := p.handles[name]
	return h, ok
}

func (p *stubProvider) Info(name string) (domain.SessionInfo, bool) {
	if _, ok := p.handles[name]; ok {
		return domain.SessionInfo{Name: name, Nickname: "тестовый", Status: domain.SessionConnected}, true
	}
	return domain.SessionInfo{}, false
}

func checkinMsg(id int64, text string, buttons [][]domain.Button) domain.IncomingMessage {
	return domain.IncomingMessage{MsgID: id, PeerID: 100, Text: text, Buttons: buttons}
}

func keyboard(labels ...string) [][]domain.Button {
	row := make([]domain.Button, 0, len(labels))
	for _, l := range labels {
		row = append(row, domain.Button{Label: l, Data: []byte(l)})
	}
	return [][]domain.Button{row}
}

package checkin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tg-checkin-bot/internal/domain"
)

// buttonClickAlert отправляет команду-триггер, ждёт сообщение с инлайн-
// кнопкой по ключевому слову, нажимает её и классифицирует алерт либо
// последующее сообщение. События от цели могут приходить параллельно
// (новые сообщения и правки), поэтому право первого нажатия разыгрывается
// через одноразовый атомарный флаг: опоздавшие обработчики кнопку не трогают.
type buttonClickAlert struct {
	deps    Deps
	trigger string

	clicked atomic.Bool

	mu      sync.Mutex
	result  domain.Result
	settled bool

	doneOnce sync.Once
	done     chan struct{}

	// Режим капчи: после первого нажатия последующие сообщения уходят
	// решателю, а не общему классификатору.
	solveCaptcha bool
	captchaCh    chan domain.IncomingMessage
}

func newButtonClickAlert(d Deps) *buttonClickAlert {
	return &buttonClickAlert{
		deps:      d,
		trigger:   d.Params.Get("command", "/start"),
		result:    domain.Result{Success: false, Message: "操作过程未启动或未完成"},
		done:      make(chan struct{}),
		captchaCh: make(chan domain.IncomingMessage, 4),
	}
}

func (s *buttonClickAlert) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *buttonClickAlert) setResult(res domain.Result) {
	s.mu.Lock()
	s.result = res
	s.settled = true
	s.mu.Unlock()
}

func (s *buttonClickAlert) snapshot() domain.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *buttonClickAlert) Run(ctx context.Context, h domain.SessionHandle, peer domain.Peer) domain.Result {
	sub, unsubscribe := h.SubscribeMessages(peer.ID)
	defer unsubscribe()

	if err := h.SendMessage(ctx, peer, s.trigger); err != nil {
		return sendFailureResult(err)
	}
	s.deps.Log.Info().Str("nickname", s.deps.Nickname).Str("command", s.trigger).
		Msg("команда-триггер отправлена, ждём ответ")

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go func() {
		for {
			select {
			case <-pumpCtx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				if msg.Outgoing || msg.PeerID != peer.ID {
					continue
				}
				go s.handleEvent(pumpCtx, h, peer, msg)
			}
		}
	}()

	select {
	case <-s.done:
	case <-time.After(s.deps.Timeout):
		s.mu.Lock()
		if !s.settled {
			s.result = domain.Result{Success: false, Message: "等待响应超时（未收到任何可处理消息或按钮点击未完成）"}
		}
		s.mu.Unlock()
	case <-ctx.Done():
		s.mu.Lock()
		if !s.settled {
			s.result = domain.Result{Success: false, Message: "等待响应超时"}
		}
		s.mu.Unlock()
	}
	return s.snapshot()
}

// handleEvent обрабатывает одно входящее сообщение. Ровно один обработчик
// получает право нажать кнопку; остальные лишь уточняют итог по тексту.
func (s *buttonClickAlert) handleEvent(ctx context.Context, h domain.SessionHandle, peer domain.Peer, msg domain.IncomingMessage) {
	select {
	case <-s.done:
		return
	default:
	}

	if s.clicked.CompareAndSwap(false, true) {
		s.handleFirst(ctx, h, peer, msg)
		return
	}

	if s.solveCaptcha {
		// Сообщение может оказаться капчей — оно уходит решателю, а
		// финализировать по нераспознанному тексту здесь нельзя.
		select {
		case s.captchaCh <- msg:
		default:
		}
	}

	res, v := classifyReply(msg.Text)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case v == verdictSuccess:
		s.result = res
		s.settled = true
		s.finish()
	case v == verdictDuplicate && !s.settled:
		s.result = res
		s.settled = true
		s.finish()
	case v == verdictUnknown && !s.settled && !s.solveCaptcha:
		s.result = res
		s.settled = true
		s.finish()
	}
}

func (s *buttonClickAlert) handleFirst(ctx context.Context, h domain.SessionHandle, peer domain.Peer, msg domain.IncomingMessage) {
	btn, found := findButtonByKeyword(msg.Buttons, s.deps.Keyword)
	if !found {
		s.deps.Log.Info().Str("nickname", s.deps.Nickname).
			Msg("в первом сообщении нет кнопки чек-ина, разбираем его текст")
		res, _ := classifyReply(msg.Text)
		s.setResult(res)
		s.finish()
		return
	}

	s.deps.Log.Info().Str("nickname", s.deps.Nickname).Str("button", btn.Label).Msg("нажимаем кнопку чек-ина")
	alert, err := h.ClickButton(ctx, peer, msg.MsgID, btn.Data)
	if err != nil {
		s.setResult(domain.Result{Success: false, Message: fmt.Sprintf("点击签到按钮失败: %v", err)})
		s.finish()
		return
	}

	res, needsFollowUp := s.classifyAlert(alert)
	if !needsFollowUp {
		s.setResult(res)
		s.finish()
		return
	}

	if s.solveCaptcha {
		s.setResult(s.runCaptchaFollowUp(ctx, h, peer))
	} else {
		s.setResult(s.plainFollowUp(ctx, h, peer))
	}
	s.finish()
}

// classifyAlert разбирает текст алерта после нажатия. Возвращает
// промежуточный итог и признак «нужно дочитать следующее сообщение».
func (s *buttonClickAlert) classifyAlert(alert string) (domain.Result, bool) {
	if alert == "" {
		s.deps.Log.Info().Str("nickname", s.deps.Nickname).Msg("алерта нет, проверим последующее сообщение")
		return domain.Result{Success: false, Message: "按钮已点击，等待后续聊天消息"}, true
	}

	res, v := classifyReply(alert)
	switch v {
	case verdictSuccess, verdictDuplicate:
		return res, false
	case verdictPending:
		return res, true
	default:
		return domain.Result{Success: false, Message: alert + " (弹框内容未知)"}, false
	}
}

// plainFollowUp выдерживает паузу и классифицирует последнее сообщение
// диалога — ответ бота, пришедший уже после нажатия.
func (s *buttonClickAlert) plainFollowUp(ctx context.Context, h domain.SessionHandle, peer domain.Peer) domain.Result {
	select {
	case <-time.After(s.deps.Grace):
	case <-ctx.Done():
		return domain.Result{Success: false, Message: "等待响应超时"}
	}

	msg, ok, err := h.LatestMessage(ctx, peer)
	if err != nil || !ok {
		return domain.Result{Success: false, Message: "按钮已点击，但未收到机器人后续响应（弹框或聊天消息）"}
	}
	if msg.Outgoing {
		return domain.Result{Success: false, Message: "收到的最新消息并非来自目标机器人"}
	}
	res, _ := classifyReply(msg.Text)
	return res
}

func findButtonByKeyword(rows [][]domain.Button, keyword string) (domain.Button, bool) {
	for _, row := range rows {
		for _, b := range row {
			if strings.Contains(b.Label, keyword) {
				return b, true
			}
		}
	}
	return domain.Button{}, false
}

func sendFailureResult(err error) domain.Result {
	return domain.Result{Success: false, Message: fmt.Sprintf("发送命令失败: %v", err)}
}

package checkin

import (
	"context"
	"time"

	"tg-checkin-bot/internal/domain"
)

// textCommand — ограниченный по времени обмен «команда → первый ответ».
type textCommand struct {
	deps    Deps
	command string
}

func newTextCommand(d Deps) *textCommand {
	return &textCommand{deps: d, command: d.Params.Get("command", "/checkin")}
}

func (s *textCommand) Run(ctx context.Context, h domain.SessionHandle, peer domain.Peer) domain.Result {
	sub, unsubscribe := h.SubscribeMessages(peer.ID)
	defer unsubscribe()

	if err := h.SendMessage(ctx, peer, s.command); err != nil {
		return sendFailureResult(err)
	}
	s.deps.Log.Info().Str("nickname", s.deps.Nickname).Str("command", s.command).
		Msg("команда отправлена, ждём первый ответ")

	timeout := time.NewTimer(s.deps.Timeout)
	defer timeout.Stop()

	for {
		select {
		case msg, ok := <-sub:
			if !ok {
				return domain.Result{Success: false, Message: "与目标对话失败或响应超时"}
			}
			if msg.Outgoing || msg.PeerID != peer.ID {
				continue
			}
			res, _ := classifyReply(msg.Text)
			return res
		case <-timeout.C:
			return domain.Result{Success: false, Message: "等待响应超时"}
		case <-ctx.Done():
			return domain.Result{Success: false, Message: "等待响应超时"}
		}
	}
}

package checkin

import (
	"context"
	"errors"
	"fmt"

	"tg-checkin-bot/internal/domain"
)

// sendMessage отправляет настроенный текст в целевой чат без ожидания ответа.
type sendMessage struct {
	deps Deps
}

func newSendMessage(d Deps) *sendMessage {
	return &sendMessage{deps: d}
}

func (s *sendMessage) Run(ctx context.Context, h domain.SessionHandle, peer domain.Peer) domain.Result {
	content := s.deps.Params.Get("message_content", "")
	if content == "" {
		return domain.Result{Success: false, Message: "消息内容未在任务中配置"}
	}

	if err := h.SendMessage(ctx, peer, content); err != nil {
		if errors.Is(err, domain.ErrWriteForbidden) {
			return domain.Result{Success: false, Message: fmt.Sprintf("没有权限向 %s 发送消息", peer.Title)}
		}
		return domain.Result{Success: false, Message: fmt.Sprintf("发送消息时发生错误: %v", err)}
	}

	s.deps.Log.Info().Str("nickname", s.deps.Nickname).Str("target", peer.Title).Msg("сообщение отправлено")
	return domain.Result{Success: true, Message: fmt.Sprintf("消息已成功发送到 %s", peer.Title)}
}

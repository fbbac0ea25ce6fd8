package notifier

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/infra/metrics"
)

// Telegram шлёт оператору служебные уведомления через Bot API. Отправка
// асинхронная: сбой уведомления не трогает выполнение чек-ина.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// New создаёт нотификатор. Пустой токен или chat id выключает отправку:
// возвращается nil, вызывающие стороны обязаны это переносить.
func New(token string, chatID int64, log zerolog.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		log.Info().Msg("нотификатор оператора выключен")
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("нотификатор: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// NotifyFailure сообщает о неуспешном чек-ине.
func (t *Telegram) NotifyFailure(entry domain.CheckinLogEntry) {
	text := fmt.Sprintf("❌ Чек-ин не прошёл\nАккаунт: %s\nЦель: %s\nСтратегия: %s\nОтвет: %s",
		entry.UserNickname, entry.TargetName, entry.Strategy, entry.Message)
	t.send(text)
}

// NotifyDailyPlan отправляет план заданий на день.
func (t *Telegram) NotifyDailyPlan(lines []string) {
	if len(lines) == 0 {
		return
	}
	t.send("📅 План чек-инов на сегодня:\n" + strings.Join(lines, "\n"))
}

func (t *Telegram) send(text string) {
	go func() {
		start := time.Now()
		_, err := t.api.Send(tgbotapi.NewMessage(t.chatID, text))
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", fmt.Sprintf("%d", t.chatID), start, err)
		if err != nil {
			t.log.Warn().Err(err).Msg("уведомление оператору не доставлено")
		}
	}()
}

package checkin

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
)

func testDeps() Deps {
	return Deps{
		Params:   nil,
		Nickname: "тестовый",
		Keyword:  "签到",
		Timeout:  500 * time.Millisecond,
		Grace:    10 * time.Millisecond,
		Log:      zerolog.Nop(),
	}
}

func TestButtonClickAlertSuccess(t *testing.T) {
	h := newStubHandle()
	h.alerts = []string{"签到成功，您获得了10积分"}
	h.incoming <- checkinMsg(1, "欢迎", keyboard("每日签到"))

	s := newButtonClickAlert(testDeps())
	res := s.Run(context.Background(), h, domain.Peer{ID: 100})

	if !res.Success {
		t.Fatalf("ожидали успех, получили: %+v", res)
	}
	if h.clickCount() != 1 {
		t.Fatalf("ожидали одно нажатие, было %d", h.clickCount())
	}
	if len(h.sent) != 1 || h.sent[0] != "/start" {
		t.Fatalf("ожидали отправку /start, было: %v", h.sent)
	}
}

func TestButtonClickAlertExactlyOneClickOnRacingEvents(t *testing.T) {
	h := newStubHandle()
	h.alerts = []string{"签到成功"}
	// Два события в одном окне выполнения: нажатие должно случиться один раз.
	h.incoming <- checkinMsg(1, "сообщение", keyboard("签到"))
	h.incoming <- checkinMsg(2, "правка", keyboard("签到"))

	s := newButtonClickAlert(testDeps())
	res := s.Run(context.Background(), h, domain.Peer{ID: 100})

	if !res.Success {
		t.Fatalf("ожидали успех, получили: %+v", res)
	}
	if h.clickCount() != 1 {
		t.Fatalf("ожидали ровно одно нажатие, было %d", h.clickCount())
	}
}

func TestButtonClickAlertDuplicate(t *testing.T) {
	h := newStubHandle()
	h.alerts = []string{"已经签到过了"}
	h.incoming <- checkinMsg(1, "", keyboard("签到"))

	s := newButtonClickAlert(testDeps())
	res := s.Run(context.Background(), h, domain.Peer{ID: 100})

	if res.Success {
		t.Fatalf("повтор не должен считаться успехом: %+v", res)
	}
	if want := "(重复签到)"; !contains(res.Message, want) {
		t.Fatalf("ожидали пометку %q в сообщении %q", want, res.Message)
	}
}

func TestButtonClickAlertPendingAlertTriggersFollowUp(t *testing.T) {
	h := newStubHandle()
	h.alerts = []string{"Done"}
	h.latest = checkinMsg(5, "签到成功，您获得了5积分", nil)
	h.latestOK = true
	h.incoming <- checkinMsg(1, "", keyboard("签到"))

	s := newButtonClickAlert(testDeps())
	res := s.Run(context.Background(), h, domain.Peer{ID: 100})

	if !res.Success {
		t.Fatalf("ожидали успех после дочитывания, получили: %+v", res)
	}
}

func TestButtonClickAlertNoButtonParsesText(t *testing.T) {
	h := newStubHandle()
	h.incoming <- checkinMsg(1, "已签到", nil)

	s := newButtonClickAlert(testDeps())
	res := s.Run(context.Background(), h, domain.Peer{ID: 100})

	if res.Success {
		t.Fatalf("ожидали отрицательный итог: %+v", res)
	}
	if h.clickCount() != 0 {
		t.Fatalf("нажатий быть не должно, было %d", h.clickCount())
	}
}

func TestButtonClickAlertTimeout(t *testing.T) {
	h := newStubHandle()

	s := newButtonClickAlert(testDeps())
	res := s.Run(context.Background(), h, domain.Peer{ID: 100})

	if res.Success {
		t.Fatalf("таймаут не должен быть успехом: %+v", res)
	}
}

func TestTextCommandClassifiesFirstReply(t *testing.T) {
	h := newStubHandle()
	h.incoming <- checkinMsg(1, "签到成功", nil)

	s := newTextCommand(testDeps())
	res := s.Run(context.Background(), h, domain.Peer{ID: 100})

	if !res.Success {
		t.Fatalf("ожидали успех, получили: %+v", res)
	}
	if len(h.sent) != 1 || h.sent[0] != "/checkin" {
		t.Fatalf("ожидали отправку /checkin, было: %v", h.sent)
	}
}

func TestSendMessageRequiresContent(t *testing.T) {
	h := newStubHandle()
	s := newSendMessage(testDeps())
	res := s.Run(context.Background(), h, domain.Peer{ID: 100, Title: "чат"})
	if res.Success {
		t.Fatalf("без message_content успех невозможен: %+v", res)
	}
}

func TestSendMessageWriteForbidden(t *testing.T) {
	h := newStubHandle()
	h.sendErr = domain.ErrWriteForbidden
	d := testDeps()
	d.Params = domain.StrategyParams{"message_content": "привет"}
	s := newSendMessage(d)
	res := s.Run(context.Background(), h, domain.Peer{ID: 100, Title: "чат"})
	if res.Success {
		t.Fatalf("запрет записи не должен быть успехом: %+v", res)
	}
	if !contains(res.Message, "没有权限") {
		t.Fatalf("ожидали сообщение о правах, получили %q", res.Message)
	}
}

func TestEngineUnknownStrategy(t *testing.T) {
	provider := &stubProvider{handles: map[string]domain.SessionHandle{"session_1": newStubHandle()}}
	engine, err := NewEngine(provider, Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	res := engine.Execute(context.Background(), "session_1", domain.TargetRef{Kind: domain.TargetBot, BotUsername: "bot"}, "nope", nil)
	if res.Success {
		t.Fatalf("неизвестная стратегия не должна выполняться: %+v", res)
	}
}

func TestEngineMissingSession(t *testing.T) {
	provider := &stubProvider{handles: map[string]domain.SessionHandle{}}
	engine, err := NewEngine(provider, Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	res := engine.Execute(context.Background(), "ghost", domain.TargetRef{Kind: domain.TargetBot, BotUsername: "bot"}, StrategyTextCommand, nil)
	if res.Success {
		t.Fatalf("недоступная сессия не должна давать успех: %+v", res)
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}

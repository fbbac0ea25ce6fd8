package tgclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
)

func TestExecutePostsRequestAndReturnsResult(t *testing.T) {
	var got ExecuteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actions/execute" || r.Method != http.MethodPost {
			t.Errorf("неожиданный запрос: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(domain.Result{Success: true, Message: "签到成功"})
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	res := c.Execute(context.Background(), "session_1",
		domain.TargetRef{Kind: domain.TargetBot, BotUsername: "alpha_bot"},
		"checkin_text", domain.StrategyParams{"command": "/sign"})

	if !res.Success || res.Message != "签到成功" {
		t.Fatalf("результат = %+v", res)
	}
	if got.SessionName != "session_1" || got.BotUsername != "alpha_bot" || got.StrategyID != "checkin_text" {
		t.Fatalf("тело запроса = %+v", got)
	}
	if got.Params["command"] != "/sign" {
		t.Fatalf("параметры = %+v", got.Params)
	}
}

func TestExecuteTurnsTransportErrorIntoFailedResult(t *testing.T) {
	c := New("http://127.0.0.1:1", zerolog.Nop())
	res := c.Execute(context.Background(), "session_1",
		domain.TargetRef{Kind: domain.TargetBot, BotUsername: "alpha_bot"}, "checkin_text", nil)
	if res.Success {
		t.Fatal("сетевой сбой должен давать неуспешный Result")
	}
}

func TestConnectedSessionsFiltersByStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/manage" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"sessions":[
			{"name":"session_1","status":"connected"},
			{"name":"session_2","status":"auth_failed"},
			{"name":"session_3","status":"connected"}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	connected, err := c.ConnectedSessions(context.Background())
	if err != nil {
		t.Fatalf("ConnectedSessions: %v", err)
	}
	if len(connected) != 2 {
		t.Fatalf("подключено %d, ожидалось 2", len(connected))
	}
	if _, ok := connected["session_2"]; ok {
		t.Fatal("auth_failed сессия не должна считаться подключённой")
	}
}

package tgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/infra/metrics"
)

// Client ходит в HTTP API tgservice. Планировщик живёт в отдельном
// процессе и выполняет стратегии через этот клиент.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// New создаёт клиент tgservice.
func New(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 90 * time.Second},
		log:     log,
	}
}

// ExecuteRequest — тело запроса выполнения стратегии.
type ExecuteRequest struct {
	SessionName string                `json:"session_name"`
	TargetKind  domain.TargetKind     `json:"target_kind"`
	BotUsername string                `json:"bot_username,omitempty"`
	ChatID      int64                 `json:"chat_id,omitempty"`
	StrategyID  string                `json:"strategy_id"`
	Params      domain.StrategyParams `json:"params,omitempty"`
}

// Execute реализует domain.Executor поверх POST /actions/execute.
// Сетевая ошибка выражается неуспешным Result: у планировщика нет иного
// канала исхода.
func (c *Client) Execute(ctx context.Context, sessionName string, target domain.TargetRef, strategyID string, params domain.StrategyParams) domain.Result {
	req := ExecuteRequest{
		SessionName: sessionName,
		TargetKind:  target.Kind,
		BotUsername: target.BotUsername,
		ChatID:      target.ChatID,
		StrategyID:  strategyID,
		Params:      params,
	}
	var res domain.Result
	if err := c.post(ctx, "/actions/execute", req, &res); err != nil {
		c.log.Error().Err(err).Str("session", sessionName).Msg("tgservice недоступен")
		return domain.Result{Success: false, Message: fmt.Sprintf("签到服务不可用: %v", err)}
	}
	return res
}

type sessionsResponse struct {
	Sessions []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"sessions"`
}

// ConnectedSessions возвращает имена подключённых сессий.
func (c *Client) ConnectedSessions(ctx context.Context) (map[string]struct{}, error) {
	var resp sessionsResponse
	if err := c.get(ctx, "/sessions/manage", &resp); err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(resp.Sessions))
	for _, s := range resp.Sessions {
		if s.Status == string(domain.SessionConnected) {
			out[s.Name] = struct{}{}
		}
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal запроса: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("tgservice", req.Method, path, start, err)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tgservice %s: статус %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

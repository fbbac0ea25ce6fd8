package checkin

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/infra/metrics"
)

// Идентификаторы стратегий. Набор закрытый: реестр собирается на старте и
// неизвестный id — ошибка конфигурации, а не сюрприз во время выполнения.
const (
	StrategyButtonClickAlert = "start_button_alert"
	StrategyTextCommand      = "checkin_text"
	StrategySendMessage      = "send_custom_message"
	StrategyMathCaptcha      = "math_button_captcha"
)

// Strategy — одна схема взаимодействия с целью. Run всегда завершается
// (все ожидания ограничены) и возвращает единый Result.
type Strategy interface {
	Run(ctx context.Context, h domain.SessionHandle, peer domain.Peer) domain.Result
}

// Deps — всё, что нужно стратегии на одно выполнение.
type Deps struct {
	Params   domain.StrategyParams
	Nickname string
	Keyword  string
	Timeout  time.Duration
	Grace    time.Duration
	Log      zerolog.Logger
}

// Factory строит экземпляр стратегии на одно выполнение.
type Factory func(deps Deps) Strategy

// StrategyInfo — отображаемое описание стратегии для внешнего слоя.
type StrategyInfo struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	TargetKind domain.TargetKind `json:"target_kind"`
}

func builtinRegistry() map[string]Factory {
	return map[string]Factory{
		StrategyButtonClickAlert: func(d Deps) Strategy { return newButtonClickAlert(d) },
		StrategyTextCommand:      func(d Deps) Strategy { return newTextCommand(d) },
		StrategySendMessage:      func(d Deps) Strategy { return newSendMessage(d) },
		StrategyMathCaptcha:      func(d Deps) Strategy { return newMathCaptcha(d) },
	}
}

var strategyInfos = []StrategyInfo{
	{ID: StrategyButtonClickAlert, Name: "/start+签到按钮", TargetKind: domain.TargetBot},
	{ID: StrategyTextCommand, Name: "/checkin直接签到", TargetKind: domain.TargetBot},
	{ID: StrategySendMessage, Name: "发送自定义消息", TargetKind: domain.TargetChat},
	{ID: StrategyMathCaptcha, Name: "/start+算术验证签到", TargetKind: domain.TargetBot},
}

// Describe возвращает описания всех зарегистрированных стратегий.
func Describe() []StrategyInfo {
	out := make([]StrategyInfo, len(strategyInfos))
	copy(out, strategyInfos)
	return out
}

// Config — параметры движка по умолчанию.
type Config struct {
	Timeout time.Duration
	Grace   time.Duration
	Keyword string
}

// Engine выполняет стратегии через хэндлы, выдаваемые менеджером сессий.
type Engine struct {
	sessions domain.SessionProvider
	registry map[string]Factory
	cfg      Config
	log      zerolog.Logger
}

// NewEngine собирает движок и проверяет целостность реестра: каждая
// описанная стратегия обязана иметь фабрику и наоборот.
func NewEngine(sessions domain.SessionProvider, cfg Config, log zerolog.Logger) (*Engine, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2500 * time.Millisecond
	}
	if cfg.Keyword == "" {
		cfg.Keyword = "签到"
	}

	registry := builtinRegistry()
	if len(registry) != len(strategyInfos) {
		return nil, fmt.Errorf("%w: реестр и описания стратегий расходятся", domain.ErrStrategyConfig)
	}
	for _, info := range strategyInfos {
		if _, ok := registry[info.ID]; !ok {
			return nil, fmt.Errorf("%w: нет фабрики для стратегии %q", domain.ErrStrategyConfig, info.ID)
		}
	}

	return &Engine{sessions: sessions, registry: registry, cfg: cfg, log: log}, nil
}

var _ domain.Executor = (*Engine)(nil)

// Execute выполняет одну стратегию. Никогда не возвращает панику или
// ошибку наружу: любой сбой превращается в отрицательный Result.
func (e *Engine) Execute(ctx context.Context, sessionName string, target domain.TargetRef, strategyID string, params domain.StrategyParams) (res domain.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("session", sessionName).Str("strategy", strategyID).
				Msg("неожиданный сбой при выполнении стратегии")
			res = domain.Result{Success: false, Message: fmt.Sprintf("内部错误: %v", r)}
		}
		metrics.ObserveExecution(strategyID, start, res.Success)
	}()

	factory, ok := e.registry[strategyID]
	if !ok {
		return domain.Result{Success: false, Message: fmt.Sprintf("未知的策略ID: %s", strategyID)}
	}

	handle, ok := e.sessions.Get(sessionName)
	if !ok {
		return domain.Result{Success: false, Message: fmt.Sprintf("会话 %s 不存在或未连接", sessionName)}
	}

	// Верхняя граница на всё выполнение: основное ожидание, пауза перед
	// дочитыванием и ещё одно ожидание капчи.
	ctx, cancel := context.WithTimeout(ctx, 3*e.cfg.Timeout+e.cfg.Grace)
	defer cancel()

	peer, err := handle.ResolvePeer(ctx, target)
	if err != nil {
		e.log.Warn().Err(err).Str("session", sessionName).Str("target", target.Identifier()).
			Msg("не удалось разрешить цель")
		return domain.Result{Success: false, Message: fmt.Sprintf("无法解析目标 %s: %v", target.Identifier(), err)}
	}

	nickname := sessionName
	if infoProvider, ok := e.sessions.(interface {
		Info(string) (domain.SessionInfo, bool)
	}); ok {
		if info, ok := infoProvider.Info(sessionName); ok && info.Nickname != "" {
			nickname = info.Nickname
		}
	}

	strat := factory(Deps{
		Params:   params,
		Nickname: nickname,
		Keyword:  e.cfg.Keyword,
		Timeout:  e.cfg.Timeout,
		Grace:    e.cfg.Grace,
		Log:      e.log.With().Str("session", sessionName).Str("strategy", strategyID).Logger(),
	})
	return strat.Run(ctx, handle, peer)
}

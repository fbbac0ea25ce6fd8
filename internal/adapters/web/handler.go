package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/usecase/checkin"
	"tg-checkin-bot/internal/usecase/sessions"
)

// Handler обслуживает HTTP API tgservice: выполнение стратегий,
// управление сессиями, вход по коду и разрешение целей.
type Handler struct {
	sessions *sessions.Manager
	engine   *checkin.Engine
	users    domain.UserRepo
	checkins domain.CheckinLog
	queue    domain.RunNowQueue
	log      zerolog.Logger
}

// NewHandler создаёт обработчик API.
func NewHandler(mgr *sessions.Manager, engine *checkin.Engine, users domain.UserRepo, checkins domain.CheckinLog, queue domain.RunNowQueue, log zerolog.Logger) *Handler {
	return &Handler{sessions: mgr, engine: engine, users: users, checkins: checkins, queue: queue, log: log}
}

// Routes регистрирует маршруты API.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/actions/execute", h.execute)
	r.Post("/actions/run_now", h.runNow)
	r.Get("/sessions/manage", h.listSessions)
	r.Post("/sessions/manage", h.manageSession)
	r.Post("/login/send_code", h.sendCode)
	r.Post("/login/signin", h.signIn)
	r.Post("/entities/resolve", h.resolveEntity)
	r.Get("/strategies", h.strategies)
	r.Get("/checkins/recent", h.recentCheckins)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": h.sessions.ActiveCount(),
	})
}

type executeRequest struct {
	SessionName string                `json:"session_name"`
	TargetKind  domain.TargetKind     `json:"target_kind"`
	BotUsername string                `json:"bot_username"`
	ChatID      int64                 `json:"chat_id"`
	StrategyID  string                `json:"strategy_id"`
	Params      domain.StrategyParams `json:"params"`
}

func (req executeRequest) target() domain.TargetRef {
	return domain.TargetRef{Kind: req.TargetKind, BotUsername: req.BotUsername, ChatID: req.ChatID}
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decode(w, r, &req) {
		return
	}
	res := h.engine.Execute(r.Context(), req.SessionName, req.target(), req.StrategyID, req.Params)
	writeJSON(w, http.StatusOK, res)
}

type runNowRequest struct {
	UserTelegramID int64                 `json:"user_telegram_id"`
	TargetKind     domain.TargetKind     `json:"target_kind"`
	BotUsername    string                `json:"bot_username"`
	ChatID         int64                 `json:"chat_id"`
	StrategyID     string                `json:"strategy_id"`
	Params         domain.StrategyParams `json:"params"`
}

func (h *Handler) runNow(w http.ResponseWriter, r *http.Request) {
	var req runNowRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.queue.Enqueue(r.Context(), domain.RunNowRequest{
		UserTelegramID: req.UserTelegramID,
		Target:         domain.TargetRef{Kind: req.TargetKind, BotUsername: req.BotUsername, ChatID: req.ChatID},
		StrategyID:     req.StrategyID,
		Params:         req.Params,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("очередь ручных запусков недоступна")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "очередь недоступна"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

type sessionView struct {
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
	Status   string `json:"status"`
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	infos := h.sessions.StatusAll()
	views := make([]sessionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, sessionView{Name: info.Name, Nickname: info.Nickname, Status: string(info.Status)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

type manageRequest struct {
	Action      string `json:"action"`
	SessionName string `json:"session_name"`
	Nickname    string `json:"nickname"`
}

func (h *Handler) manageSession(w http.ResponseWriter, r *http.Request) {
	var req manageRequest
	if !decode(w, r, &req) {
		return
	}
	switch req.Action {
	case "add":
		if err := h.sessions.AddOrUpdate(r.Context(), req.SessionName, req.Nickname); err != nil {
			info, _ := h.sessions.Info(req.SessionName)
			writeJSON(w, http.StatusOK, map[string]any{"status": string(info.Status), "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.SessionConnected)})
	case "remove":
		removed := h.sessions.Remove(r.Context(), req.SessionName)
		writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "неизвестное действие"})
	}
}

type sendCodeRequest struct {
	Phone string `json:"phone"`
}

func (h *Handler) sendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if !decode(w, r, &req) {
		return
	}
	hash, err := h.sessions.SendCode(r.Context(), req.Phone)
	if err != nil {
		h.log.Error().Err(err).Str("phone", req.Phone).Msg("запрос кода не удался")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phone_code_hash": hash})
}

type signInRequest struct {
	Phone         string `json:"phone"`
	Code          string `json:"code"`
	PhoneCodeHash string `json:"phone_code_hash"`
	Password      string `json:"password"`
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.sessions.CompleteSignIn(r.Context(), req.Phone, req.Code, req.PhoneCodeHash, req.Password)
	if errors.Is(err, domain.ErrLoginNotStarted) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "вход не был начат, запросите код"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("phone", req.Phone).Msg("вход не удался")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if out.Status == sessions.SignInOK {
		if _, err := h.users.UpsertUser(r.Context(), domain.User{
			TelegramID:  out.User.TelegramID,
			Nickname:    out.User.Nickname,
			Phone:       req.Phone,
			Status:      domain.UserLoggedIn,
			SessionName: out.SessionName,
		}); err != nil {
			h.log.Error().Err(err).Msg("пользователь не сохранён после входа")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       out.Status,
		"session_name": out.SessionName,
		"telegram_id":  out.User.TelegramID,
		"nickname":     out.User.Nickname,
	})
}

type resolveRequest struct {
	SessionName string            `json:"session_name"`
	TargetKind  domain.TargetKind `json:"target_kind"`
	BotUsername string            `json:"bot_username"`
	ChatID      int64             `json:"chat_id"`
}

func (h *Handler) resolveEntity(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	handle, ok := h.sessions.Get(req.SessionName)
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "сессия не подключена"})
		return
	}
	peer, err := handle.ResolvePeer(r.Context(), domain.TargetRef{Kind: req.TargetKind, BotUsername: req.BotUsername, ChatID: req.ChatID})
	if errors.Is(err, domain.ErrTargetNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "цель не найдена"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":  string(peer.Kind),
		"id":    peer.ID,
		"title": peer.Title,
	})
}

func (h *Handler) strategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": checkin.Describe()})
}

func (h *Handler) recentCheckins(w http.ResponseWriter, r *http.Request) {
	entries, err := h.checkins.ListRecentCheckins(r.Context(), 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "журнал недоступен"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkins": entries})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "некорректный JSON"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package domain

import (
	"fmt"
	"time"
)

// SessionStatus описывает состояние MTProto-сессии в реестре.
type SessionStatus string

const (
	SessionDisconnected  SessionStatus = "disconnected"
	SessionConnecting    SessionStatus = "connecting"
	SessionConnected     SessionStatus = "connected"
	SessionReconnecting  SessionStatus = "reconnecting"
	SessionAuthFailed    SessionStatus = "auth_failed"
	SessionConnectFailed SessionStatus = "connect_failed"
)

// SessionInfo — снимок состояния одной сессии для статусных ответов.
type SessionInfo struct {
	Name     string
	Nickname string
	Status   SessionStatus
}

// User описывает аккаунт Telegram, от имени которого выполняются задачи.
type User struct {
	ID          int64
	TelegramID  int64
	Nickname    string
	Phone       string
	Status      string
	SessionName string
}

// UserLoggedIn — статус пользователя с действующей сессией.
const UserLoggedIn = "logged_in"

// TargetKind различает ботов и групповые чаты.
type TargetKind string

const (
	TargetBot  TargetKind = "bot"
	TargetChat TargetKind = "chat"
)

// TargetRef указывает на бота (по username) или чат (по id).
type TargetRef struct {
	Kind        TargetKind
	BotUsername string
	ChatID      int64
}

// Identifier возвращает строковый идентификатор цели для job id и логов.
func (t TargetRef) Identifier() string {
	if t.Kind == TargetBot {
		return t.BotUsername
	}
	return fmt.Sprintf("%d", t.ChatID)
}

// TimeSlot — дневное окно времени, задаваемое администратором.
// Окно может переходить через полночь (start >= end).
type TimeSlot struct {
	ID          int64
	Name        string
	StartHour   int
	StartMinute int
	StartSecond int
	EndHour     int
	EndMinute   int
	EndSecond   int
}

// StartSeconds возвращает начало окна в секундах от полуночи.
func (s TimeSlot) StartSeconds() int {
	return s.StartHour*3600 + s.StartMinute*60 + s.StartSecond
}

// EndSeconds возвращает конец окна в секундах от полуночи.
func (s TimeSlot) EndSeconds() int {
	return s.EndHour*3600 + s.EndMinute*60 + s.EndSecond
}

// Wraps сообщает, переходит ли окно через полночь.
func (s TimeSlot) Wraps() bool {
	return s.StartSeconds() >= s.EndSeconds()
}

// StrategyParams — произвольные параметры стратегии из конфигурации задачи.
type StrategyParams map[string]string

// Get возвращает параметр либо значение по умолчанию.
func (p StrategyParams) Get(key, fallback string) string {
	if p == nil {
		return fallback
	}
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Task — одна задача чек-ина. Идентичность задачи: (пользователь, цель).
type Task struct {
	ID                  int64
	UserTelegramID      int64
	Target              TargetRef
	StrategyID          string
	Params              StrategyParams
	SelectedTimeSlotID  int64
	LastStatus          string
	LastRunAt           *time.Time
	LastScheduledHour   int
	LastScheduledMinute int
	LastScheduledSecond int
	LastScheduledDate   string
}

// JobID строит детерминированный идентификатор задания для задачи.
func (t Task) JobID() string {
	return JobID(t.UserTelegramID, t.Target)
}

// JobID строит идентификатор задания по владельцу и цели.
func JobID(userTelegramID int64, target TargetRef) string {
	return fmt.Sprintf("checkin_job_%d_%s", userTelegramID, target.Identifier())
}

// ScheduledJob — персистентная запись установленного задания.
// Хранится, чтобы рестарт процесса не терял случайное время текущего дня.
type ScheduledJob struct {
	JobID  string
	Hour   int
	Minute int
	Second int
	Date   string
}

// TriggerSpec возвращает cron-выражение с секундным разрешением.
func (j ScheduledJob) TriggerSpec() string {
	return fmt.Sprintf("%d %d %d * * *", j.Second, j.Minute, j.Hour)
}

// Result — единый исход выполнения одной стратегии. Движок никогда не
// возвращает ошибку наружу: любой сбой выражается этим значением.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CheckinLogEntry — запись журнала выполнений, видимая оператору.
type CheckinLogEntry struct {
	At           time.Time `json:"at"`
	UserNickname string    `json:"user_nickname"`
	TargetName   string    `json:"target_name"`
	Strategy     string    `json:"strategy"`
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
}

package domain

import (
	"context"
	"time"
)

// PeerKind — вид разрешённого пира Telegram.
type PeerKind string

const (
	PeerUser    PeerKind = "user"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

// Peer — разрешённая цель с доступом к API (id + access hash).
type Peer struct {
	Kind       PeerKind
	ID         int64
	AccessHash int64
	Title      string
}

// Button — инлайн-кнопка входящего сообщения.
type Button struct {
	Label string
	Data  []byte
}

// IncomingMessage — входящее сообщение от цели, как его видит стратегия.
type IncomingMessage struct {
	MsgID    int64
	PeerID   int64
	Outgoing bool
	Text     string
	Buttons  [][]Button
}

// HasButtons сообщает, несёт ли сообщение инлайн-клавиатуру.
func (m IncomingMessage) HasButtons() bool {
	for _, row := range m.Buttons {
		if len(row) > 0 {
			return true
		}
	}
	return false
}

// SessionHandle — эксклюзивно принадлежащее менеджеру сессий соединение.
// Стратегии получают его на время одного выполнения; закрывает его только
// менеджер.
type SessionHandle interface {
	// ResolvePeer разрешает цель задачи в пир с access hash.
	ResolvePeer(ctx context.Context, target TargetRef) (Peer, error)
	// SendMessage отправляет текст пиру.
	SendMessage(ctx context.Context, peer Peer, text string) error
	// SubscribeMessages подписывает на новые/изменённые сообщения пира.
	// Возвращённая функция снимает подписку; её вызов идемпотентен.
	SubscribeMessages(peerID int64) (<-chan IncomingMessage, func())
	// ClickButton нажимает callback-кнопку и возвращает текст алерта
	// (пустая строка, если бот не ответил алертом).
	ClickButton(ctx context.Context, peer Peer, msgID int64, data []byte) (string, error)
	// GetMessage перечитывает сообщение по id. Нужна, когда событие пришло
	// без кнопок и их надо добрать свежим запросом.
	GetMessage(ctx context.Context, peer Peer, msgID int64) (IncomingMessage, error)
	// LatestMessage возвращает последнее сообщение диалога с пиром.
	LatestMessage(ctx context.Context, peer Peer) (IncomingMessage, bool, error)
	// Probe — дешёвая проверка живости соединения.
	Probe(ctx context.Context) error
	// Close разрывает соединение. Вызывается только менеджером сессий.
	Close() error
}

// LoginUser — данные аккаунта после успешного входа.
type LoginUser struct {
	TelegramID int64
	Nickname   string
}

// LoginSession — эфемерное неавторизованное соединение для OTP-входа.
type LoginSession interface {
	// SendCode запрашивает код подтверждения и возвращает корреляционный
	// токен (phone code hash).
	SendCode(ctx context.Context, phone string) (string, error)
	// SignIn завершает вход. Возвращает ErrTwoFactorRequired, если нужен
	// пароль 2FA и он не передан, ErrInvalidCode/ErrExpiredCode по коду.
	SignIn(ctx context.Context, phone, code, codeHash, password string) (LoginUser, error)
	// SessionName — имя учётной записи, под которым хранится блоб.
	SessionName() string
	Close() error
}

// SessionDialer устанавливает соединения по сохранённым учётным записям.
type SessionDialer interface {
	Dial(ctx context.Context, sessionName string) (SessionHandle, error)
	DialForLogin(ctx context.Context, sessionName string) (LoginSession, error)
}

// SessionProvider отдаёт хэндл подключённой сессии. none означает
// «цель недоступна», вызывающий не должен блокироваться в ожидании.
type SessionProvider interface {
	Get(sessionName string) (SessionHandle, bool)
}

// Executor — вид движка стратегий со стороны планировщика: один вызов,
// всегда завершающийся единым Result.
type Executor interface {
	Execute(ctx context.Context, sessionName string, target TargetRef, strategyID string, params StrategyParams) Result
}

// UserRepo читает пользователей и пишет обратно их статус.
type UserRepo interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (User, error)
	UpsertUser(ctx context.Context, user User) (User, error)
	UpdateUserStatus(ctx context.Context, telegramID int64, status string) error
}

// TaskRepo читает задачи и пишет обратно поля статуса и расписания.
// Создание/удаление задач принадлежит внешнему административному слою.
type TaskRepo interface {
	ListTasks(ctx context.Context) ([]Task, error)
	FindTask(ctx context.Context, userTelegramID int64, identifier string) (Task, error)
	UpdateTaskRun(ctx context.Context, taskID int64, status string, at time.Time) error
	UpdateTaskSchedule(ctx context.Context, taskID int64, hour, minute, second int, date string) error
}

// SlotRepo читает окна времени. Порядок стабилен (по id).
type SlotRepo interface {
	ListTimeSlots(ctx context.Context) ([]TimeSlot, error)
}

// SessionBlobRepo хранит байты MTProto-сессий. Rename реализует миграцию
// временной учётной записи в постоянную без пересоздания ключа.
type SessionBlobRepo interface {
	LoadSessionBlob(ctx context.Context, name string) ([]byte, error)
	StoreSessionBlob(ctx context.Context, name string, data []byte) error
	DeleteSessionBlob(ctx context.Context, name string) error
	RenameSessionBlob(ctx context.Context, oldName, newName string) error
}

// JobStore — долговечное хранилище установленных заданий, переживающее
// рестарт процесса.
type JobStore interface {
	ListJobs(ctx context.Context, date string) ([]ScheduledJob, error)
	SaveJob(ctx context.Context, job ScheduledJob) error
	DeleteJob(ctx context.Context, jobID string) error
	DeleteAllJobs(ctx context.Context) error
}

// CheckinLog записывает каждый исход выполнения: сбои видимы, не молчаливы.
type CheckinLog interface {
	AppendCheckinLog(ctx context.Context, entry CheckinLogEntry) error
	ListRecentCheckins(ctx context.Context, limit int) ([]CheckinLogEntry, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

// Notifier шлёт оператору уведомления о сбоях и дневном плане.
// Реализация не должна блокировать или ронять выполнение.
type Notifier interface {
	NotifyFailure(entry CheckinLogEntry)
	NotifyDailyPlan(lines []string)
}

// RunNowQueue — очередь запросов «выполнить сейчас» от внешнего слоя.
type RunNowQueue interface {
	Enqueue(ctx context.Context, req RunNowRequest) error
	Pop(ctx context.Context) (RunNowRequest, error)
}

// RunNowRequest — разовый запуск задачи вне расписания.
type RunNowRequest struct {
	UserTelegramID int64          `json:"user_telegram_id"`
	Target         TargetRef      `json:"target"`
	StrategyID     string         `json:"strategy_id"`
	Params         StrategyParams `json:"params,omitempty"`
}

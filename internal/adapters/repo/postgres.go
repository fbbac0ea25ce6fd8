package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo        = (*Postgres)(nil)
	_ domain.TaskRepo        = (*Postgres)(nil)
	_ domain.SlotRepo        = (*Postgres)(nil)
	_ domain.SessionBlobRepo = (*Postgres)(nil)
	_ domain.JobStore        = (*Postgres)(nil)
	_ domain.CheckinLog      = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// ListUsers возвращает всех пользователей.
func (p *Postgres) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, telegram_id, nickname, phone, status, session_name
FROM users
ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "users_list", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.TelegramID, &u.Nickname, &u.Phone, &u.Status, &u.SessionName); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUserByTelegramID возвращает пользователя по telegram id.
func (p *Postgres) GetUserByTelegramID(ctx context.Context, telegramID int64) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var u domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, telegram_id, nickname, phone, status, session_name
FROM users
WHERE telegram_id = $1
`, telegramID).Scan(&u.ID, &u.TelegramID, &u.Nickname, &u.Phone, &u.Status, &u.SessionName)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_tgid", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("пользователь %d не найден", telegramID)
	}
	return u, err
}

// UpsertUser создаёт или обновляет пользователя по telegram id.
func (p *Postgres) UpsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (telegram_id, nickname, phone, status, session_name)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (telegram_id) DO UPDATE SET
    nickname = EXCLUDED.nickname,
    phone = EXCLUDED.phone,
    status = EXCLUDED.status,
    session_name = EXCLUDED.session_name,
    updated_at = now()
RETURNING id
`, user.TelegramID, user.Nickname, user.Phone, user.Status, user.SessionName).Scan(&user.ID)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	return user, err
}

// UpdateUserStatus пишет статус пользователя.
func (p *Postgres) UpdateUserStatus(ctx context.Context, telegramID int64, status string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE users SET status = $2, updated_at = now() WHERE telegram_id = $1
`, telegramID, status)
	metrics.ObserveNetworkRequest("postgres", "users_update_status", "users", start, err)
	return err
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		t         domain.Task
		kind      string
		botName   string
		chatID    int64
		params    []byte
		lastRunAt *time.Time
	)
	err := row.Scan(
		&t.ID, &t.UserTelegramID, &kind, &botName, &chatID,
		&t.StrategyID, &params, &t.SelectedTimeSlotID,
		&t.LastStatus, &lastRunAt,
		&t.LastScheduledHour, &t.LastScheduledMinute, &t.LastScheduledSecond, &t.LastScheduledDate,
	)
	if err != nil {
		return domain.Task{}, err
	}
	t.Target = domain.TargetRef{Kind: domain.TargetKind(kind), BotUsername: botName, ChatID: chatID}
	t.LastRunAt = lastRunAt
	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Params); err != nil {
			return domain.Task{}, fmt.Errorf("параметры задачи %d: %w", t.ID, err)
		}
	}
	return t, nil
}

const taskColumns = `
id, user_telegram_id, target_kind, bot_username, chat_id,
strategy_id, params, selected_time_slot_id,
last_status, last_run_at,
last_scheduled_hour, last_scheduled_minute, last_scheduled_second, last_scheduled_date
`

// ListTasks возвращает все задачи чек-ина.
func (p *Postgres) ListTasks(ctx context.Context) ([]domain.Task, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+taskColumns+` FROM checkin_tasks ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "tasks_list", "checkin_tasks", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FindTask находит задачу по владельцу и идентификатору цели.
func (p *Postgres) FindTask(ctx context.Context, userTelegramID int64, identifier string) (domain.Task, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT `+taskColumns+`
FROM checkin_tasks
WHERE user_telegram_id = $1
  AND ((target_kind = 'bot' AND bot_username = $2) OR (target_kind = 'chat' AND chat_id::text = $2))
`, userTelegramID, identifier)
	t, err := scanTask(row)
	metrics.ObserveNetworkRequest("postgres", "tasks_find", "checkin_tasks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("задача %d/%s: %w", userTelegramID, identifier, domain.ErrTargetNotFound)
	}
	return t, err
}

// UpdateTaskRun пишет исход последнего выполнения.
func (p *Postgres) UpdateTaskRun(ctx context.Context, taskID int64, status string, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE checkin_tasks SET last_status = $2, last_run_at = $3, updated_at = now() WHERE id = $1
`, taskID, status, at)
	metrics.ObserveNetworkRequest("postgres", "tasks_update_run", "checkin_tasks", start, err)
	return err
}

// UpdateTaskSchedule пишет запланированное на день случайное время.
func (p *Postgres) UpdateTaskSchedule(ctx context.Context, taskID int64, hour, minute, second int, date string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE checkin_tasks SET
    last_scheduled_hour = $2,
    last_scheduled_minute = $3,
    last_scheduled_second = $4,
    last_scheduled_date = $5,
    updated_at = now()
WHERE id = $1
`, taskID, hour, minute, second, date)
	metrics.ObserveNetworkRequest("postgres", "tasks_update_schedule", "checkin_tasks", start, err)
	return err
}

// ListTimeSlots возвращает окна времени в стабильном порядке по id.
func (p *Postgres) ListTimeSlots(ctx context.Context) ([]domain.TimeSlot, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, start_hour, start_minute, start_second, end_hour, end_minute, end_second
FROM time_slots
ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "time_slots_list", "time_slots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []domain.TimeSlot
	for rows.Next() {
		var s domain.TimeSlot
		if err := rows.Scan(&s.ID, &s.Name, &s.StartHour, &s.StartMinute, &s.StartSecond, &s.EndHour, &s.EndMinute, &s.EndSecond); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// LoadSessionBlob загружает сохранённую MTProto-сессию. Отсутствие строки
// выражается session.ErrNotFound: gotd трактует его как чистый старт.
func (p *Postgres) LoadSessionBlob(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, nil
}

// StoreSessionBlob сохраняет MTProto-сессию.
func (p *Postgres) StoreSessionBlob(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	tmp := make([]byte, len(data))
	copy(tmp, data)

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, tmp)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}

// DeleteSessionBlob удаляет MTProto-сессию.
func (p *Postgres) DeleteSessionBlob(ctx context.Context, name string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM mtproto_sessions WHERE name = $1`, name)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_delete", "mtproto_sessions", start, err)
	return err
}

// RenameSessionBlob переносит сессию под новое имя. Существующая сессия
// с новым именем замещается: повторный вход тем же аккаунтом выдаёт
// свежие ключи.
func (p *Postgres) RenameSessionBlob(ctx context.Context, oldName, newName string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start := time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM mtproto_sessions WHERE name = $1`, newName)
	if err == nil {
		var tag int64
		err = tx.QueryRow(ctx, `
UPDATE mtproto_sessions SET name = $2, updated_at = now() WHERE name = $1 RETURNING id
`, oldName, newName).Scan(&tag)
		if errors.Is(err, pgx.ErrNoRows) {
			err = session.ErrNotFound
		}
	}
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_rename", "mtproto_sessions", start, err)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListJobs возвращает сохранённые задания на дату.
func (p *Postgres) ListJobs(ctx context.Context, date string) ([]domain.ScheduledJob, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT job_id, hour, minute, second, scheduled_date
FROM scheduled_jobs
WHERE scheduled_date = $1
ORDER BY job_id
`, date)
	metrics.ObserveNetworkRequest("postgres", "scheduled_jobs_list", "scheduled_jobs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.ScheduledJob
	for rows.Next() {
		var j domain.ScheduledJob
		if err := rows.Scan(&j.JobID, &j.Hour, &j.Minute, &j.Second, &j.Date); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// SaveJob сохраняет (или обновляет) установленное задание.
func (p *Postgres) SaveJob(ctx context.Context, job domain.ScheduledJob) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO scheduled_jobs (job_id, hour, minute, second, scheduled_date)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id) DO UPDATE SET
    hour = EXCLUDED.hour,
    minute = EXCLUDED.minute,
    second = EXCLUDED.second,
    scheduled_date = EXCLUDED.scheduled_date
`, job.JobID, job.Hour, job.Minute, job.Second, job.Date)
	metrics.ObserveNetworkRequest("postgres", "scheduled_jobs_save", "scheduled_jobs", start, err)
	return err
}

// DeleteJob удаляет запись задания.
func (p *Postgres) DeleteJob(ctx context.Context, jobID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM scheduled_jobs WHERE job_id = $1`, jobID)
	metrics.ObserveNetworkRequest("postgres", "scheduled_jobs_delete", "scheduled_jobs", start, err)
	return err
}

// DeleteAllJobs очищает хранилище заданий перед дневным пересчётом.
func (p *Postgres) DeleteAllJobs(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM scheduled_jobs`)
	metrics.ObserveNetworkRequest("postgres", "scheduled_jobs_delete_all", "scheduled_jobs", start, err)
	return err
}

// AppendCheckinLog пишет запись журнала выполнений.
func (p *Postgres) AppendCheckinLog(ctx context.Context, entry domain.CheckinLogEntry) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO checkin_log (at, user_nickname, target_name, strategy, success, message)
VALUES ($1, $2, $3, $4, $5, $6)
`, entry.At, entry.UserNickname, entry.TargetName, entry.Strategy, entry.Success, entry.Message)
	metrics.ObserveNetworkRequest("postgres", "checkin_log_append", "checkin_log", start, err)
	return err
}

// ListRecentCheckins возвращает последние записи журнала.
func (p *Postgres) ListRecentCheckins(ctx context.Context, limit int) ([]domain.CheckinLogEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT at, user_nickname, target_name, strategy, success, message
FROM checkin_log
ORDER BY at DESC
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "checkin_log_list", "checkin_log", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CheckinLogEntry
	for rows.Next() {
		var e domain.CheckinLogEntry
		if err := rows.Scan(&e.At, &e.UserNickname, &e.TargetName, &e.Strategy, &e.Success, &e.Message); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

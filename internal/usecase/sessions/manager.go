package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/infra/metrics"
)

// Manager держит реестр подключённых MTProto-сессий. Один аккаунт — одна
// запись, ключ — имя сессии (session_<telegram_id>).
type Manager struct {
	dialer domain.SessionDialer
	blobs  domain.SessionBlobRepo
	users  domain.UserRepo
	log    zerolog.Logger

	healthInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*entry
	logins   map[string]*pendingLogin
}

type entry struct {
	nickname string
	status   domain.SessionStatus
	handle   domain.SessionHandle
}

// NewManager создаёт пустой реестр сессий.
func NewManager(dialer domain.SessionDialer, blobs domain.SessionBlobRepo, users domain.UserRepo, healthInterval time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		dialer:         dialer,
		blobs:          blobs,
		users:          users,
		log:            log,
		healthInterval: healthInterval,
		sessions:       make(map[string]*entry),
		logins:         make(map[string]*pendingLogin),
	}
}

// AddOrUpdate подключает сессию или переподключает существующую.
// Повторный вызов для живой сессии — no-op. Ошибка подключения не
// удаляет запись: статус фиксируется для статусных ответов и следующего
// health-цикла.
func (m *Manager) AddOrUpdate(ctx context.Context, sessionName, nickname string) error {
	m.mu.Lock()
	e := m.sessions[sessionName]
	if e != nil && e.status == domain.SessionConnected && e.handle != nil {
		if nickname != "" {
			e.nickname = nickname
		}
		m.mu.Unlock()
		return nil
	}
	var stale domain.SessionHandle
	if e == nil {
		e = &entry{}
		m.sessions[sessionName] = e
	}
	if nickname != "" {
		e.nickname = nickname
	}
	stale = e.handle
	e.handle = nil
	e.status = domain.SessionConnecting
	m.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}

	handle, err := m.dialer.Dial(ctx, sessionName)

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[sessionName]
	if !ok {
		// Сессию удалили, пока шло подключение.
		if handle != nil {
			_ = handle.Close()
		}
		return nil
	}
	switch {
	case err == nil:
		if cur.handle != nil && cur.handle != handle {
			// Параллельный AddOrUpdate уже подключил сессию: её хэндл мог
			// быть выдан наружу, лишнее соединение закрывается.
			_ = handle.Close()
			return nil
		}
		cur.handle = handle
		cur.status = domain.SessionConnected
		m.log.Info().Str("session", sessionName).Msg("сессия подключена")
	case errors.Is(err, domain.ErrNotAuthorized):
		cur.status = domain.SessionAuthFailed
		m.log.Warn().Str("session", sessionName).Msg("сессия не авторизована, нужен повторный вход")
	default:
		cur.status = domain.SessionConnectFailed
		m.log.Error().Err(err).Str("session", sessionName).Msg("не удалось подключить сессию")
	}
	m.updateConnectedGauge()
	return err
}

// Remove отключает сессию и удаляет её блоб. Возвращает false, если
// сессии не было.
func (m *Manager) Remove(ctx context.Context, sessionName string) bool {
	m.mu.Lock()
	e, ok := m.sessions[sessionName]
	delete(m.sessions, sessionName)
	m.updateConnectedGauge()
	m.mu.Unlock()
	if !ok {
		return false
	}
	if e.handle != nil {
		_ = e.handle.Close()
	}
	if err := m.blobs.DeleteSessionBlob(ctx, sessionName); err != nil {
		m.log.Warn().Err(err).Str("session", sessionName).Msg("не удалось удалить блоб сессии")
	}
	return true
}

// Get отдаёт хэндл подключённой сессии.
func (m *Manager) Get(sessionName string) (domain.SessionHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionName]
	if !ok || e.status != domain.SessionConnected || e.handle == nil {
		return nil, false
	}
	return e.handle, true
}

// Info возвращает снимок состояния одной сессии.
func (m *Manager) Info(sessionName string) (domain.SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionName]
	if !ok {
		return domain.SessionInfo{}, false
	}
	return domain.SessionInfo{Name: sessionName, Nickname: e.nickname, Status: e.status}, true
}

// StatusAll возвращает снимок всех сессий реестра.
func (m *Manager) StatusAll() []domain.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SessionInfo, 0, len(m.sessions))
	for name, e := range m.sessions {
		out = append(out, domain.SessionInfo{Name: name, Nickname: e.nickname, Status: e.status})
	}
	return out
}

// ActiveCount — число подключённых сессий.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.sessions {
		if e.status == domain.SessionConnected {
			n++
		}
	}
	return n
}

// InitializeAll поднимает сессии всех авторизованных пользователей из БД.
// Ошибки отдельных сессий не прерывают остальных.
func (m *Manager) InitializeAll(ctx context.Context) error {
	users, err := m.users.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.Status != domain.UserLoggedIn || u.SessionName == "" {
			continue
		}
		if err := m.AddOrUpdate(ctx, u.SessionName, u.Nickname); err != nil {
			m.log.Warn().Err(err).Str("session", u.SessionName).Msg("сессия не поднялась при старте")
		}
	}
	return nil
}

// DisconnectAll закрывает все соединения. Записи остаются, чтобы статусы
// были видны до конца остановки.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	handles := make([]domain.SessionHandle, 0, len(m.sessions))
	for _, e := range m.sessions {
		if e.handle != nil {
			handles = append(handles, e.handle)
			e.handle = nil
			e.status = domain.SessionDisconnected
		}
	}
	m.updateConnectedGauge()
	m.mu.Unlock()
	for _, h := range handles {
		_ = h.Close()
	}
}

// HealthCheckAll пробует каждую сессию и переподключает отвалившиеся.
// Сессии никогда не удаляются health-циклом, только переподключаются.
func (m *Manager) HealthCheckAll(ctx context.Context) {
	type probe struct {
		name     string
		nickname string
		handle   domain.SessionHandle
	}
	m.mu.Lock()
	probes := make([]probe, 0, len(m.sessions))
	for name, e := range m.sessions {
		probes = append(probes, probe{name: name, nickname: e.nickname, handle: e.handle})
	}
	m.mu.Unlock()

	for _, p := range probes {
		alive := false
		if p.handle != nil {
			if err := p.handle.Probe(ctx); err == nil {
				alive = true
			} else {
				m.log.Warn().Err(err).Str("session", p.name).Msg("сессия не отвечает")
			}
		}
		if alive {
			continue
		}
		metrics.SessionHealthFailures.Inc()
		m.mu.Lock()
		if e, ok := m.sessions[p.name]; ok {
			e.status = domain.SessionReconnecting
		}
		m.mu.Unlock()
		if err := m.AddOrUpdate(ctx, p.name, p.nickname); err != nil {
			m.log.Warn().Err(err).Str("session", p.name).Msg("переподключение не удалось")
		}
	}
}

// RunHealthLoop гоняет health-проверку с заданным интервалом до отмены
// контекста.
func (m *Manager) RunHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.HealthCheckAll(ctx)
		}
	}
}

func (m *Manager) updateConnectedGauge() {
	n := 0
	for _, e := range m.sessions {
		if e.status == domain.SessionConnected {
			n++
		}
	}
	metrics.SessionsConnected.Set(float64(n))
}

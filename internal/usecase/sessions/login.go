package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tg-checkin-bot/internal/domain"
)

// Статусы исхода входа для внешнего слоя.
const (
	SignInOK          = "logged_in"
	SignInNeeds2FA    = "2fa_required"
	SignInInvalidCode = "invalid_code"
	SignInExpiredCode = "expired_code"
)

// SignInOutcome — результат завершения входа.
type SignInOutcome struct {
	Status      string
	SessionName string
	User        domain.LoginUser
}

type pendingLogin struct {
	client domain.LoginSession
}

// SendCode начинает (или переиспользует) процесс входа для телефона и
// запрашивает код подтверждения. Возвращает phone code hash.
func (m *Manager) SendCode(ctx context.Context, phone string) (string, error) {
	login, err := m.ensureLogin(ctx, phone)
	if err != nil {
		return "", err
	}
	hash, err := login.client.SendCode(ctx, phone)
	if err != nil {
		m.teardownLogin(ctx, phone)
		return "", err
	}
	return hash, nil
}

// CompleteSignIn завершает вход по коду. Эфемерная учётная запись
// сворачивается при любом исходе: успех мигрирует блоб в постоянное имя,
// остальное удаляет его.
func (m *Manager) CompleteSignIn(ctx context.Context, phone, code, codeHash, password string) (SignInOutcome, error) {
	m.mu.Lock()
	login, ok := m.logins[phone]
	m.mu.Unlock()
	if !ok {
		return SignInOutcome{}, domain.ErrLoginNotStarted
	}

	user, err := login.client.SignIn(ctx, phone, code, codeHash, password)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrTwoFactorRequired):
		m.teardownLogin(ctx, phone)
		return SignInOutcome{Status: SignInNeeds2FA}, nil
	case errors.Is(err, domain.ErrInvalidCode):
		m.teardownLogin(ctx, phone)
		return SignInOutcome{Status: SignInInvalidCode}, nil
	case errors.Is(err, domain.ErrExpiredCode):
		m.teardownLogin(ctx, phone)
		return SignInOutcome{Status: SignInExpiredCode}, nil
	default:
		m.teardownLogin(ctx, phone)
		return SignInOutcome{}, err
	}

	tempName := login.client.SessionName()
	permName := fmt.Sprintf("session_%d", user.TelegramID)

	// Блоб переезжает под постоянное имя, поэтому teardown здесь без
	// удаления: соединение закрывается, запись о входе снимается.
	_ = login.client.Close()
	m.mu.Lock()
	delete(m.logins, phone)
	m.mu.Unlock()

	if err := m.blobs.RenameSessionBlob(ctx, tempName, permName); err != nil {
		return SignInOutcome{}, fmt.Errorf("миграция сессии %s: %w", permName, err)
	}
	if err := m.AddOrUpdate(ctx, permName, user.Nickname); err != nil {
		return SignInOutcome{}, err
	}
	return SignInOutcome{Status: SignInOK, SessionName: permName, User: user}, nil
}

func (m *Manager) ensureLogin(ctx context.Context, phone string) (*pendingLogin, error) {
	m.mu.Lock()
	if login, ok := m.logins[phone]; ok {
		m.mu.Unlock()
		return login, nil
	}
	m.mu.Unlock()

	name := tempLoginName(phone)
	client, err := m.dialer.DialForLogin(ctx, name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if racing, ok := m.logins[phone]; ok {
		// Параллельный запрос успел раньше, лишнее соединение закрываем.
		_ = client.Close()
		go m.deleteBlobQuietly(name)
		return racing, nil
	}
	login := &pendingLogin{client: client}
	m.logins[phone] = login
	return login, nil
}

// teardownLogin закрывает эфемерное соединение и удаляет его блоб.
func (m *Manager) teardownLogin(ctx context.Context, phone string) {
	m.mu.Lock()
	login, ok := m.logins[phone]
	delete(m.logins, phone)
	m.mu.Unlock()
	if !ok {
		return
	}
	name := login.client.SessionName()
	_ = login.client.Close()
	if err := m.blobs.DeleteSessionBlob(ctx, name); err != nil {
		m.log.Warn().Err(err).Str("session", name).Msg("не удалось удалить временный блоб входа")
	}
}

func (m *Manager) deleteBlobQuietly(name string) {
	if err := m.blobs.DeleteSessionBlob(context.Background(), name); err != nil {
		m.log.Warn().Err(err).Str("session", name).Msg("не удалось удалить временный блоб входа")
	}
}

func tempLoginName(phone string) string {
	clean := strings.TrimPrefix(phone, "+")
	return fmt.Sprintf("temp_login_%s_%s", clean, uuid.NewString()[:8])
}

package mtproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
)

// DialForLogin поднимает неавторизованный клиент для интерактивного входа
// по коду. Блоб пишется под временным именем, переименование делает
// вызывающая сторона после успеха.
func (d *Dialer) DialForLogin(ctx context.Context, sessionName string) (domain.LoginSession, error) {
	tc := telegram.NewClient(d.opts.APIID, d.opts.APIHash, telegram.Options{
		SessionStorage: &blobStorage{repo: d.opts.Blobs, name: sessionName},
	})

	l := &LoginSession{
		name:   sessionName,
		client: tc,
		log:    d.opts.Log.With().Str("login_session", sessionName).Logger(),
	}

	runCtx, stop := context.WithCancel(context.Background())
	l.stop = stop
	ready := make(chan error, 1)
	go func() {
		err := tc.Run(runCtx, func(ctx context.Context) error {
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && runCtx.Err() == nil {
			l.log.Warn().Err(err).Msg("login-соединение завершилось")
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			stop()
			return nil, err
		}
	case <-ctx.Done():
		stop()
		return nil, ctx.Err()
	case <-time.After(dialTimeout):
		stop()
		return nil, fmt.Errorf("login-подключение %s: %w", sessionName, domain.ErrTimeout)
	}
	return l, nil
}

// LoginSession — эфемерный клиент процесса входа.
type LoginSession struct {
	name   string
	client *telegram.Client
	stop   context.CancelFunc
	log    zerolog.Logger
}

// SessionName возвращает временное имя блоба.
func (l *LoginSession) SessionName() string { return l.name }

// Close разрывает соединение.
func (l *LoginSession) Close() error {
	l.stop()
	return nil
}

// SendCode запрашивает код подтверждения на телефон.
func (l *LoginSession) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := l.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", err
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", fmt.Errorf("неожиданный ответ на запрос кода: %T", sent)
	}
	return code.PhoneCodeHash, nil
}

// SignIn завершает вход по коду, при необходимости доводя 2FA-паролем.
func (l *LoginSession) SignIn(ctx context.Context, phone, code, codeHash, password string) (domain.LoginUser, error) {
	_, err := l.client.Auth().SignIn(ctx, phone, code, codeHash)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrPasswordAuthNeeded), tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
		if password == "" {
			return domain.LoginUser{}, domain.ErrTwoFactorRequired
		}
		if _, err = l.client.Auth().Password(ctx, password); err != nil {
			return domain.LoginUser{}, err
		}
	case tgerr.Is(err, "PHONE_CODE_INVALID"):
		return domain.LoginUser{}, domain.ErrInvalidCode
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return domain.LoginUser{}, domain.ErrExpiredCode
	default:
		return domain.LoginUser{}, err
	}

	self, err := l.client.Self(ctx)
	if err != nil {
		return domain.LoginUser{}, err
	}
	nickname := self.FirstName
	if nickname == "" {
		nickname = self.Username
	}
	return domain.LoginUser{TelegramID: self.ID, Nickname: nickname}, nil
}

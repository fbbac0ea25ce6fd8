package domain

import "errors"

// Классификация ошибок. Ошибки не покидают границы компонентов: движок
// стратегий и менеджер сессий переводят их в Result/статусы, ошибки нужны
// для ветвления внутри и для тестов.
var (
	// ErrNotAuthorized — сессия подключилась, но не авторизована (нужен
	// повторный вход оператора, в отличие от сетевого сбоя).
	ErrNotAuthorized = errors.New("session is not authorized")

	// ErrSessionNotFound — сессия отсутствует в реестре или не подключена.
	ErrSessionNotFound = errors.New("session not found or not connected")

	// ErrTargetNotFound — цель (бот/чат) не удалось разрешить.
	ErrTargetNotFound = errors.New("target entity not found")

	// ErrTimeout — в отведённое окно не пришло подходящего ответа.
	ErrTimeout = errors.New("no qualifying response within timeout")

	// ErrStrategyConfig — неизвестная стратегия или отсутствует
	// обязательный параметр задачи.
	ErrStrategyConfig = errors.New("invalid strategy configuration")

	// ErrWriteForbidden — целевой чат запрещает отправку сообщений.
	ErrWriteForbidden = errors.New("writing to target is forbidden")

	// ErrCaptchaParse — выражение капчи не разобрано или нет кнопки с
	// вычисленным ответом.
	ErrCaptchaParse = errors.New("unparseable captcha")

	// ErrLoginNotStarted — нет активного процесса входа для телефона.
	ErrLoginNotStarted = errors.New("no active login process for phone")

	// ErrTwoFactorRequired — аккаунт защищён облачным паролем, пароль не
	// передан.
	ErrTwoFactorRequired = errors.New("two-factor password required")

	// ErrInvalidCode — оператор ввёл неверный код подтверждения.
	ErrInvalidCode = errors.New("invalid confirmation code")

	// ErrExpiredCode — код подтверждения истёк, нужен новый запрос.
	ErrExpiredCode = errors.New("confirmation code expired")
)

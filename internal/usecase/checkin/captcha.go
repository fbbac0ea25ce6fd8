package checkin

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"tg-checkin-bot/internal/domain"
)

// newMathCaptcha — вариант buttonClickAlert для ботов, которые после
// нажатия присылают арифметическую задачу с кнопками-ответами.
func newMathCaptcha(d Deps) Strategy {
	s := newButtonClickAlert(d)
	s.solveCaptcha = true
	return s
}

var captchaExprRe = regexp.MustCompile(`(\d+)\s*([-+*/×÷xX])\s*(\d+)\s*=\s*[?？]`)

// runCaptchaFollowUp ждёт сообщение с капчей и нажимает кнопку с
// вычисленным ответом. Все ожидания ограничены общим таймаутом стратегии.
func (s *buttonClickAlert) runCaptchaFollowUp(ctx context.Context, h domain.SessionHandle, peer domain.Peer) domain.Result {
	deadline := time.NewTimer(s.deps.Timeout)
	defer deadline.Stop()

	for {
		select {
		case msg := <-s.captchaCh:
			if res, handled := s.trySolveCaptcha(ctx, h, peer, msg); handled {
				return res
			}
		case <-deadline.C:
			return domain.Result{Success: false, Message: "等待验证消息超时"}
		case <-ctx.Done():
			return domain.Result{Success: false, Message: "等待验证消息超时"}
		}
	}
}

// trySolveCaptcha пытается распознать и решить капчу в сообщении.
// handled=false означает «это не капча, ждём дальше».
func (s *buttonClickAlert) trySolveCaptcha(ctx context.Context, h domain.SessionHandle, peer domain.Peer, msg domain.IncomingMessage) (domain.Result, bool) {
	exprMatch := captchaExprRe.FindStringSubmatch(msg.Text)

	// Кнопки могли не приехать вместе с событием — перечитываем сообщение
	// по id, прежде чем судить о клавиатуре.
	if !msg.HasButtons() {
		fresh, err := h.GetMessage(ctx, peer, msg.MsgID)
		if err == nil {
			msg.Buttons = fresh.Buttons
		}
	}

	numeric := numericButtonCount(msg.Buttons)
	if exprMatch == nil && numeric < 2 {
		return domain.Result{}, false
	}

	if exprMatch == nil {
		return domain.Result{Success: false, Message: "验证消息中未找到算术表达式"}, true
	}

	answer, err := evalCaptchaExpr(exprMatch[1], exprMatch[2], exprMatch[3])
	if err != nil {
		return domain.Result{Success: false, Message: fmt.Sprintf("无法解析验证表达式: %v", err)}, true
	}

	want := strconv.Itoa(answer)
	btn, found := findButtonByExactLabel(msg.Buttons, want)
	if !found {
		return domain.Result{Success: false, Message: fmt.Sprintf("未找到答案为 %s 的按钮", want)}, true
	}

	s.deps.Log.Info().Str("nickname", s.deps.Nickname).Str("answer", want).Msg("нажимаем кнопку с ответом капчи")
	alert, err := h.ClickButton(ctx, peer, msg.MsgID, btn.Data)
	if err != nil {
		return domain.Result{Success: false, Message: fmt.Sprintf("点击验证按钮失败: %v", err)}, true
	}

	res, needsFollowUp := s.classifyAlert(alert)
	if needsFollowUp {
		return s.plainFollowUp(ctx, h, peer), true
	}
	return res, true
}

// evalCaptchaExpr вычисляет целочисленное значение выражения N op M.
func evalCaptchaExpr(left, op, right string) (int, error) {
	a, err := strconv.Atoi(left)
	if err != nil {
		return 0, err
	}
	b, err := strconv.Atoi(right)
	if err != nil {
		return 0, err
	}
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*", "×", "x", "X":
		return a * b, nil
	case "/", "÷":
		if b == 0 {
			return 0, fmt.Errorf("%w: деление на ноль", domain.ErrCaptchaParse)
		}
		return a / b, nil
	default:
		return 0, fmt.Errorf("%w: оператор %q", domain.ErrCaptchaParse, op)
	}
}

func numericButtonCount(rows [][]domain.Button) int {
	n := 0
	for _, row := range rows {
		for _, b := range row {
			if _, err := strconv.Atoi(b.Label); err == nil {
				n++
			}
		}
	}
	return n
}

// findButtonByExactLabel ищет кнопку с точным совпадением подписи —
// подстрочное совпадение здесь опасно ("1" нашлось бы в "17").
func findButtonByExactLabel(rows [][]domain.Button, label string) (domain.Button, bool) {
	for _, row := range rows {
		for _, b := range row {
			if b.Label == label {
				return b, true
			}
		}
	}
	return domain.Button{}, false
}

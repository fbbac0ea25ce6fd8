package checkin

import (
	"strings"

	"tg-checkin-bot/internal/domain"
)

// verdict — исход разбора текста ответа бота.
type verdict int

const (
	// verdictUnknown — текст не распознан, итог отрицательный.
	verdictUnknown verdict = iota
	// verdictSuccess — явный маркер успешного чек-ина.
	verdictSuccess
	// verdictDuplicate — уже отмечались сегодня, итог отрицательный.
	verdictDuplicate
	// verdictPending — неоднозначный ответ ("Done" и т.п.), требуется
	// дождаться следующего сообщения.
	verdictPending
)

var (
	successMarkers   = []string{"签到成功", "您获得了"}
	duplicateMarkers = []string{"已经签到", "已签到", "重复签到", "请明天再来"}
	pendingMarkers   = []string{"Done", "开始签到验证"}
)

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// classifyReply разбирает текст ответа по таблице маркеров. Приоритет:
// успех > дубликат > неоднозначно > неизвестно.
func classifyReply(text string) (domain.Result, verdict) {
	processed := strings.TrimSpace(text)

	if containsAny(processed, successMarkers) {
		return domain.Result{Success: true, Message: processed}, verdictSuccess
	}
	if containsAny(processed, duplicateMarkers) {
		return domain.Result{Success: false, Message: processed + " (重复签到)"}, verdictDuplicate
	}
	if containsAny(processed, pendingMarkers) {
		return domain.Result{Success: false, Message: processed + " (待判断)"}, verdictPending
	}
	return domain.Result{Success: false, Message: processed + " (未知情况)"}, verdictUnknown
}
